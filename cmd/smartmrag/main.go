package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/josinaldojr/smart-mrag/internal/app"
	"github.com/josinaldojr/smart-mrag/internal/config"
	"github.com/josinaldojr/smart-mrag/internal/logging"
	"github.com/josinaldojr/smart-mrag/internal/rag"
)

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func main() {
	llmFlag := flag.String("llm", "", "modelo de chat (default: LLM_MODEL)")
	embFlag := flag.String("embedding", "", "modelo de embedding (default: EMBEDDING_MODEL)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "uso: %s [flags] <arquivo.pdf>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *llmFlag != "" {
		cfg.Model.LLMModel = *llmFlag
	}
	if *embFlag != "" {
		cfg.Model.EmbeddingModel = *embFlag
	}

	// com LOG_FILE os logs vão só para o arquivo; sem ele, só erros no stderr
	level := cfg.LogLevel
	if cfg.LogFile == "" {
		level = "error"
	}
	logger, logCloser, err := logging.New(logging.Options{Level: level, Format: "text", File: cfg.LogFile, FileOnly: true})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logCloser.Close()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("erro ao montar sessão: %v", err)
	}
	defer a.Close()

	fmt.Println(mutedStyle.Render("Loading " + flag.Arg(0) + "..."))
	doc, err := a.Service.LoadDocument(ctx, flag.Arg(0))
	if err != nil {
		log.Fatalf("erro carregando documento: %v", err)
	}
	fmt.Println(mutedStyle.Render(fmt.Sprintf("%s: %d chunks. Model %s. Type :switch <provider> or quit.",
		doc.Title, doc.Chunks, a.Service.Config().LLMModel)))

	run(ctx, a.Service, newRenderer())
}

func newRenderer() *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return nil
	}
	return r
}

func render(r *glamour.TermRenderer, text string) string {
	if r == nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

func run(ctx context.Context, svc *rag.Service, r *glamour.TermRenderer) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("? "))
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())

		switch {
		case input == "":
			continue
		case input == "quit" || input == "exit":
			return
		case strings.HasPrefix(input, ":switch"):
			provider := strings.TrimSpace(strings.TrimPrefix(input, ":switch"))
			if err := svc.SwitchModel(ctx, provider); err != nil {
				fmt.Println(errorStyle.Render("error: " + err.Error()))
				continue
			}
			fmt.Println(mutedStyle.Render("now using " + svc.Config().LLMModel))
			continue
		}

		resp, err := svc.Ask(ctx, rag.AskRequest{Question: input})
		if err != nil {
			fmt.Println(errorStyle.Render("error: " + err.Error()))
			if ctx.Err() != nil {
				return
			}
			continue
		}
		fmt.Println(render(r, resp.Answer))
		for _, src := range resp.Sources {
			fmt.Println(mutedStyle.Render(fmt.Sprintf("  [%s] %.2f", src.Title, src.Score)))
		}
		fmt.Println()
	}
}
