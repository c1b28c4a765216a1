// Package api exposes duplicate checks, decisions, and statistics over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/yiddoyiddo/emg-crm-dupcheck/internal/duplicate"
)

// UserIDHeader carries the caller identity set by the upstream auth layer.
const UserIDHeader = "X-User-ID"

// Checker runs duplicate checks.
type Checker interface {
	CheckForDuplicates(ctx context.Context, candidate duplicate.CandidateInput, userID string, action duplicate.Action) (*duplicate.CheckResult, error)
}

// Decisions records and reads warning decisions.
type Decisions interface {
	RecordDecision(ctx context.Context, warningID string, decision duplicate.Decision, userID, reason string) (*duplicate.AuditLogEntry, error)
	Warning(ctx context.Context, warningID string) (*duplicate.Warning, []duplicate.AuditLogEntry, error)
	WarningsForRecord(ctx context.Context, recordID string) ([]duplicate.Warning, error)
}

// Statistics summarizes warnings over a date range.
type Statistics interface {
	GetDuplicateStatistics(ctx context.Context, r duplicate.DateRange) (*duplicate.Statistics, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires the router.
type Config struct {
	Checker    Checker
	Decisions  Decisions
	Statistics Statistics
	// Health is optional; when set, /health pings it.
	Health      Pinger
	CORSOrigins []string
	// RequestTimeout bounds each request. Zero means 30s.
	RequestTimeout time.Duration
}

type server struct {
	checker   Checker
	decisions Decisions
	stats     Statistics
	health    Pinger
	now       func() time.Time
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg Config) http.Handler {
	s := &server{
		checker:   cfg.Checker,
		decisions: cfg.Decisions,
		stats:     cfg.Statistics,
		health:    cfg.Health,
		now:       time.Now,
	}
	return s.routes(cfg)
}

func (s *server) routes(cfg Config) *chi.Mux {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(accessLog)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", UserIDHeader, "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/v1/duplicates", func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/check", s.handleCheck)
		r.Get("/statistics", s.handleStatistics)
		r.Get("/warnings/{warningID}", s.handleGetWarning)
		r.Post("/warnings/{warningID}/decision", s.handleDecision)
		r.Get("/records/{recordID}/warnings", s.handleRecordWarnings)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})
	return r
}

type userKey struct{}

// requireUser rejects requests without a caller identity.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserIDHeader+" header", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, id)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}
