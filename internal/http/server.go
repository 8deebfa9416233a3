package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"quota/internal/config"
	applog "quota/internal/log"
	"quota/internal/services"
	"quota/internal/storage"
)

type Server struct {
	http.Server
	repo        *storage.SQLiteRepository
	processor   *services.RecurringProcessor
	expenses    *services.ExpenseService
	structured  *applog.StructuredLogger
	rateLimiter *rateLimiter
	metrics     *securityMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
// A nil cfg falls back to the rate limiter defaults.
func NewServer(addr string, cfg *config.Config, repo *storage.SQLiteRepository, processor *services.RecurringProcessor, expenses *services.ExpenseService, logger *applog.Logger) *Server {
	mux := http.NewServeMux()

	var limit int
	var cleanup time.Duration
	if cfg != nil {
		limit = cfg.RateLimitPerMinute
		cleanup = cfg.RateLimitCleanup
	}

	s := &Server{
		repo:        repo,
		processor:   processor,
		expenses:    expenses,
		structured:  applog.NewStructuredLogger(logger),
		rateLimiter: newRateLimiter(limit, cleanup),
		metrics:     &securityMetrics{},
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /api/recurring/process", s.withMiddleware(s.handleProcessRecurring))
	mux.HandleFunc("GET /api/recurring", s.withMiddleware(s.handleListTemplates))
	mux.HandleFunc("POST /api/recurring", s.withMiddleware(s.handleCreateTemplate))
	mux.HandleFunc("GET /api/recurring/{id}", s.withMiddleware(s.handleGetTemplate))
	mux.HandleFunc("PUT /api/recurring/{id}", s.withMiddleware(s.handleUpdateTemplate))
	mux.HandleFunc("DELETE /api/recurring/{id}", s.withMiddleware(s.handleDeleteTemplate))

	mux.HandleFunc("GET /api/expenses", s.withMiddleware(s.handleListExpenses))
	mux.HandleFunc("POST /api/expenses", s.withMiddleware(s.handleCreateExpense))

	mux.HandleFunc("GET /api/allowance", s.withMiddleware(s.handleGetAllowance))
	mux.HandleFunc("PUT /api/allowance", s.withMiddleware(s.handlePutAllowance))

	s.Server = http.Server{
		Addr:              addr,
		Handler:           applog.Middleware(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// withMiddleware adds security headers, rate limiting, and request logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		s.structured.LogHTTPStart(ctx, r, clientIP)

		// Rate limit mutating requests only
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP, s.metrics) {
			s.structured.LogRateLimited(ctx, r, clientIP, atomic.LoadInt64(&s.metrics.rateLimitHits))
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		s.structured.LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds(), clientIP)
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
