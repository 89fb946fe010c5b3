package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/josinaldojr/smart-mrag/internal/app"
	"github.com/josinaldojr/smart-mrag/internal/config"
	"github.com/josinaldojr/smart-mrag/internal/loader"
	"github.com/josinaldojr/smart-mrag/internal/logging"
	"github.com/josinaldojr/smart-mrag/internal/rag"
)

func main() {
	pathFlag := flag.String("path", "", "arquivo ou diretório com .pdf/.md/.txt/.html")
	fromURL := flag.Bool("from-url", false, "importar via crawl HTTP")
	baseURLFlag := flag.String("base-url", "", "URL base para crawl (ex: https://docs.example.com/guide)")
	maxPagesFlag := flag.Int("max-pages", 50, "limite de páginas para crawl HTTP")
	collectionFlag := flag.String("collection", "", "coleção de destino (default: COLLECTION)")
	resetFlag := flag.Bool("reset", false, "apaga a coleção antes de importar")
	flag.Parse()

	if *pathFlag == "" && !*fromURL {
		log.Fatal("use pelo menos um modo: --path ou --from-url")
	}
	if *fromURL && *baseURLFlag == "" {
		log.Fatal("--base-url é obrigatório com --from-url")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *collectionFlag != "" {
		cfg.Collection = *collectionFlag
	}
	if cfg.Store == config.StoreMemory {
		log.Fatal("STORE=memory não persiste nada; use postgres ou milvus para importar")
	}

	logger, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: "text", File: cfg.LogFile})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logCloser.Close()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("erro ao montar sessão: %v", err)
	}
	defer a.Close()
	svc := a.Service

	if *resetFlag {
		if err := svc.Reset(ctx); err != nil {
			log.Fatalf("erro apagando coleção: %v", err)
		}
		logger.Info("collection reset", "collection", svc.Collection())
	}

	if *pathFlag != "" {
		if err := importPath(ctx, svc, *pathFlag); err != nil {
			log.Fatalf("erro importando arquivos: %v", err)
		}
	}

	if *fromURL {
		client := &http.Client{Timeout: 30 * time.Second}
		err := loader.Crawl(ctx, client, *baseURLFlag, *maxPagesFlag, func(ctx context.Context, pageURL string, c *loader.Content) error {
			if _, err := svc.IngestContent(ctx, pageURL, c); err != nil {
				// página sem texto útil não derruba o crawl
				logger.Warn("skipping page", "url", pageURL, "err", err)
			}
			return nil
		})
		if err != nil {
			log.Fatalf("erro importando HTTP: %v", err)
		}
	}

	total := 0
	for _, d := range svc.Documents() {
		total += d.Chunks
	}
	log.Printf("✅ Importação concluída: %d documentos, %d chunks em %q.", len(svc.Documents()), total, svc.Collection())
}

func importPath(ctx context.Context, svc *rag.Service, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		_, err := svc.ProcessDocuments(ctx, path)
		return err
	}
	_, err = svc.LoadDocument(ctx, path)
	return err
}
