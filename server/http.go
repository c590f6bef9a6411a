// Package server provides the HTTP front end for the media fetch
// service.
package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	mediafetch "github.com/wolfeidau/mediafetch"
	"github.com/wolfeidau/mediafetch/backend"
	"github.com/wolfeidau/mediafetch/cache"
	"github.com/wolfeidau/mediafetch/categorize"
	"github.com/wolfeidau/mediafetch/fetch"
	"github.com/wolfeidau/mediafetch/ledger"
	"github.com/wolfeidau/mediafetch/provider"
	"github.com/wolfeidau/mediafetch/telemetry"
	"github.com/wolfeidau/mediafetch/usage"
)

// Catalog is the upstream media catalog as the server sees it.
type Catalog interface {
	Search(ctx context.Context, query string, page, perPage int) (*provider.SearchPage, error)
	GetVideo(ctx context.Context, id int64) (*mediafetch.Asset, error)
	FetchFile(ctx context.Context, fileURL string) (io.ReadCloser, int64, error)
}

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// DownloadDir is the root directory for fetched files, the ledger,
	// and the usage database.
	DownloadDir string

	// ProviderURL is the upstream media catalog base URL.
	ProviderURL string

	// ProviderAPIKey authenticates catalog requests.
	ProviderAPIKey string

	// SearchTTL is how long search responses are memoized.
	// Default: 1 hour.
	SearchTTL time.Duration

	// CacheSweepInterval is how often expired search entries are swept.
	// Default: 5 minutes.
	CacheSweepInterval time.Duration

	// Concurrency caps parallel transfers within a batch. Default: 3.
	Concurrency int

	// TransferTimeout bounds a single rendition transfer. Default: 60s.
	TransferTimeout time.Duration

	// LedgerSnapshots is how many compressed ledger snapshots to retain
	// across categorization rewrites. Default: 5.
	LedgerSnapshots int

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP front end over the fetch, categorize, and cache
// components.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	// Components
	backend     backend.WriterBackend
	ledger      *ledger.Ledger
	cache       *cache.Cache
	catalog     Catalog
	fetcher     *fetch.Fetcher
	categorizer *categorize.Categorizer
	usage       *usage.Recorder

	searchGroup singleflight.Group
}

// New creates a new server with the given configuration.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "./downloads"
	}
	if cfg.LedgerSnapshots == 0 {
		cfg.LedgerSnapshots = 5
	}

	// Initialize storage backend
	fsBackend, err := backend.NewFilesystem(cfg.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("creating filesystem backend: %w", err)
	}
	instrumented := backend.NewInstrumentedBackend(fsBackend, "filesystem")

	// Load (or start) the metadata ledger
	led, err := ledger.Open(ctx, instrumented,
		ledger.WithLogger(cfg.Logger.With("component", "ledger")),
		ledger.WithSnapshots(cfg.LedgerSnapshots),
	)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	// Search result cache
	searchCache := cache.New(cache.Config{
		TTL:           cfg.SearchTTL,
		SweepInterval: cfg.CacheSweepInterval,
		Logger:        cfg.Logger.With("component", "cache"),
	})

	// Upstream catalog client
	catalogOpts := []provider.Option{}
	if cfg.ProviderURL != "" {
		catalogOpts = append(catalogOpts, provider.WithBaseURL(cfg.ProviderURL))
	}
	if cfg.ProviderAPIKey != "" {
		catalogOpts = append(catalogOpts, provider.WithAPIKey(cfg.ProviderAPIKey))
	}
	catalog := provider.NewClient(catalogOpts...)

	// Download orchestrator
	fetcherOpts := []fetch.Option{
		fetch.WithLogger(cfg.Logger.With("component", "fetch")),
	}
	if cfg.Concurrency > 0 {
		fetcherOpts = append(fetcherOpts, fetch.WithConcurrency(cfg.Concurrency))
	}
	if cfg.TransferTimeout > 0 {
		fetcherOpts = append(fetcherOpts, fetch.WithTransferTimeout(cfg.TransferTimeout))
	}
	fetcher := fetch.New(led, instrumented, catalog, fetcherOpts...)

	// Categorization engine
	categorizer := categorize.New(led, instrumented,
		categorize.WithLogger(cfg.Logger.With("component", "categorize")),
	)

	// Usage recorder, beside the download root
	recorder, err := usage.Open(filepath.Join(cfg.DownloadDir, usage.DefaultFilename),
		usage.WithLogger(cfg.Logger.With("component", "usage")),
	)
	if err != nil {
		return nil, fmt.Errorf("opening usage recorder: %w", err)
	}

	s := &Server{
		config:      cfg,
		logger:      cfg.Logger,
		backend:     instrumented,
		ledger:      led,
		cache:       searchCache,
		catalog:     catalog,
		fetcher:     fetcher,
		categorizer: categorizer,
		usage:       recorder,
	}

	// Build HTTP server
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Batch fetches can run long
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Combined service stats
	mux.HandleFunc("GET /stats", s.handleStats)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	// Catalog
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /videos/{id}", s.handleGetVideo)

	// Fetch orchestration
	mux.HandleFunc("POST /fetch", s.handleFetch)
	mux.HandleFunc("POST /batch", s.handleBatch)
	mux.HandleFunc("GET /downloads", s.handleDownloads)

	// Categorization
	mux.HandleFunc("POST /categorize", s.handleCategorize)
	mux.HandleFunc("POST /categorize/preview", s.handleCategorizePreview)

	// Cache administration
	mux.HandleFunc("DELETE /cache/{key}", s.handleCacheDelete)
	mux.HandleFunc("POST /cache/clear", s.handleCacheClear)
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)

		telemetry.RecordHTTP(r.Context(), r.URL.Path, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the server and the background cache sweep.
func (s *Server) Start() error {
	if err := s.cache.Start(context.Background()); err != nil {
		return fmt.Errorf("starting cache sweep: %w", err)
	}

	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.cache.Stop()

	if err := s.usage.Close(); err != nil {
		s.logger.Warn("closing usage recorder", "error", err)
	}

	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker interfaces for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
