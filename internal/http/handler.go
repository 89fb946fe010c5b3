package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/josinaldojr/smart-mrag/internal/loader"
	"github.com/josinaldojr/smart-mrag/internal/rag"
)

const (
	askTimeout    = 60 * time.Second
	loadTimeout   = 5 * time.Minute
	maxUploadSize = 32 << 20
	maxTopK       = 100
)

// ErrPathNotAllowed is returned for POST /documents paths outside the
// documents root, or for any path when no root is configured.
var ErrPathNotAllowed = errors.New("path not allowed")

// Session is the part of rag.Service the API exposes.
type Session interface {
	Ask(ctx context.Context, req rag.AskRequest) (*rag.AskResponse, error)
	LoadDocument(ctx context.Context, path string) (*rag.Document, error)
	IngestContent(ctx context.Context, source string, c *loader.Content) (*rag.Document, error)
	Documents() []rag.Document
	SwitchModel(ctx context.Context, provider string) error
	Config() rag.ModelConfig
}

// HistoryReader is optional; without it GET /history answers 404.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]rag.QueryRecord, error)
}

type Handler struct {
	session  Session
	history  HistoryReader
	logger   *slog.Logger
	docsRoot string
}

type HandlerOption func(*Handler)

// WithDocumentsRoot libera POST /documents com {"path": ...} para arquivos
// dentro de dir. Sem root só upload multipart é aceito.
func WithDocumentsRoot(dir string) HandlerOption {
	return func(h *Handler) { h.docsRoot = dir }
}

func NewHandler(session Session, history HistoryReader, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{session: session, history: history, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req rag.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), askTimeout)
	defer cancel()

	if req.Lang == "" {
		req.Lang = "auto"
	}
	req.TopK = min(req.TopK, maxTopK)

	resp, err := h.session.Ask(ctx, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type loadRequest struct {
	Path string `json:"path"`
}

// LoadDocument aceita JSON {"path": "..."} (arquivo já no servidor) ou
// multipart com o campo "file".
func (h *Handler) LoadDocument(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), loadTimeout)
	defer cancel()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		h.upload(ctx, w, r)
		return
	}

	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	path, err := h.resolveDocumentPath(req.Path)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	doc, err := h.session.LoadDocument(ctx, path)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) upload(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	dir, err := os.MkdirTemp("", "smart-mrag-upload-")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer os.RemoveAll(dir)

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	path := filepath.Join(dir, name)

	out, err := os.Create(path)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := out.ReadFrom(file); err != nil {
		out.Close()
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}
	if err := out.Close(); err != nil {
		h.fail(w, r, err)
		return
	}

	// o arquivo temporário some no fim do request; a fonte é o nome enviado
	content, err := loader.Load(path)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.session.IngestContent(ctx, name, content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// resolveDocumentPath devolve o caminho real de p, que precisa estar dentro
// de docsRoot. Caminhos relativos partem do root.
func (h *Handler) resolveDocumentPath(p string) (string, error) {
	if h.docsRoot == "" {
		return "", fmt.Errorf("%w: loading server paths is disabled, upload the file instead", ErrPathNotAllowed)
	}
	absRoot, err := filepath.Abs(h.docsRoot)
	if err != nil {
		return "", err
	}
	root, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("documents root: %w", err)
	}

	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	// checa antes de tocar no disco para não vazar o que existe fora do root
	if clean := filepath.Clean(p); !within(root, clean) && !within(absRoot, clean) {
		return "", fmt.Errorf("%w: %s is outside the documents root", ErrPathNotAllowed, p)
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}
	if !within(root, resolved) {
		return "", fmt.Errorf("%w: %s is outside the documents root", ErrPathNotAllowed, p)
	}
	return resolved, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Documents())
}

type switchRequest struct {
	Provider string `json:"provider"`
}

type modelResponse struct {
	LLMModel       string `json:"llmModel"`
	EmbeddingModel string `json:"embeddingModel"`
}

func (h *Handler) SwitchModel(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.session.SwitchModel(r.Context(), req.Provider); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Model(w, r)
}

func (h *Handler) Model(w http.ResponseWriter, r *http.Request) {
	cfg := h.session.Config()
	writeJSON(w, http.StatusOK, modelResponse{LLMModel: cfg.LLMModel, EmbeddingModel: cfg.EmbeddingModel})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrEmptyQuestion),
		errors.Is(err, rag.ErrQuestionTooLong),
		errors.Is(err, rag.ErrUnknownProvider),
		errors.Is(err, rag.ErrUnknownModel),
		errors.Is(err, rag.ErrMissingModel),
		errors.Is(err, rag.ErrMissingAPIKey),
		errors.Is(err, rag.ErrInvalidEndpoint),
		errors.Is(err, rag.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, ErrPathNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, rag.ErrNoDocuments):
		return http.StatusConflict
	case errors.Is(err, rag.ErrUnsupportedFile):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, rag.ErrEmptyDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
