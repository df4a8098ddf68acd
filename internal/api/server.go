package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kjannette/stockviewer-backend/internal/logger"
	"github.com/kjannette/stockviewer-backend/internal/metrics"
	"github.com/kjannette/stockviewer-backend/internal/models"
	"github.com/kjannette/stockviewer-backend/internal/validator"
)

const maxBodyBytes = 1 << 20

// RecordStore is the persistence surface the handlers need.
// repository.StockRepo is the production implementation.
type RecordStore interface {
	Create(ctx context.Context, rec *models.StockRecord) (*models.StockRecord, error)
	Get(ctx context.Context, key models.RecordKey) (*models.StockRecord, error)
	List(ctx context.Context) ([]models.StockRecord, error)
	Update(ctx context.Context, key models.RecordKey, patch *models.RecordPatch) (*models.StockRecord, error)
	Delete(ctx context.Context, key models.RecordKey) error
}

type Importer interface {
	Run(ctx context.Context) (*models.ImportSummary, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Port            int
	CORSAllowOrigin string
}

type Server struct {
	store      RecordStore
	importer   Importer
	validator  *validator.Validator
	metrics    *metrics.Metrics
	db         Pinger
	handler    http.Handler
	httpServer *http.Server
}

// NewServer wires the routes. importer, m and db may be nil; the import
// route then answers 503 and /metrics is not mounted.
func NewServer(store RecordStore, importer Importer, v *validator.Validator, m *metrics.Metrics, db Pinger, opts Options) *Server {
	if v == nil {
		v = validator.New(validator.Options{})
	}
	s := &Server{
		store:     store,
		importer:  importer,
		validator: v,
		metrics:   m,
		db:        db,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleWelcome)

	// Record routes
	mux.HandleFunc("POST /records", s.handleCreate)
	mux.HandleFunc("GET /records", s.handleList)
	mux.HandleFunc("GET /records/{tradeCode}/{date}", s.handleGet)
	mux.HandleFunc("PUT /records/{tradeCode}/{date}", s.handleUpdate)
	mux.HandleFunc("DELETE /records/{tradeCode}/{date}", s.handleDelete)
	mux.HandleFunc("POST /import", s.handleImport)

	// Paths served by the original frontend
	mux.HandleFunc("POST /api/stock_data", s.handleCreate)
	mux.HandleFunc("GET /api/stock_data", s.handleList)
	mux.HandleFunc("GET /api/stock_data/{tradeCode}/{date}", s.handleGet)
	mux.HandleFunc("PUT /api/stock_data/{tradeCode}/{date}", s.handleUpdate)
	mux.HandleFunc("DELETE /api/stock_data/{tradeCode}/{date}", s.handleDelete)
	mux.HandleFunc("POST /api/add_stock_data_from_json", s.handleImport)

	mux.HandleFunc("GET /health", s.handleHealth)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	s.handler = requestIDMiddleware(s.observeMiddleware(corsMiddleware(mux, opts.CORSAllowOrigin)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	slog.Info("REST API server started",
		"component", "api",
		"url", "http://localhost"+s.httpServer.Addr,
		"health", "http://localhost"+s.httpServer.Addr+"/health")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to Stock Viewer API!"})
}

// --- request helpers ---

// readObject decodes the body as a single JSON object, keeping numbers as
// json.Number so prices are parsed without float rounding.
func readObject(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, models.ErrInvalidJSON
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, models.ErrInvalidJSON
	}
	if payload == nil {
		return nil, models.ErrInvalidJSON
	}
	return payload, nil
}

// --- response helpers ---

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure maps the error taxonomy onto status codes. Store failures
// are logged and reported without driver detail.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *models.ValidationError
		srcErr *models.SourceError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Kind: "validation", Field: verr.Field})
	case errors.Is(err, models.ErrInvalidJSON):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "invalid_json"})
	case errors.As(err, &srcErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: srcErr.Error(), Kind: "source"})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Kind: "not_found"})
	case errors.Is(err, models.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Kind: "conflict"})
	default:
		logger.FromContext(r.Context()).Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal store error", Kind: "store"})
	}
}
