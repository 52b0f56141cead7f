package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nomai-core/server/internal/agent"
	"github.com/nomai-core/server/internal/chat"
	"github.com/nomai-core/server/internal/core"
	"github.com/nomai-core/server/internal/nutrition"
	logx "github.com/nomai-core/server/pkg/logger"
)

// Config holds the HTTP listener configuration.
type Config struct {
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port int    `envconfig:"PORT" default:"8000"`
}

// RunDriver is the slice of the agent driver the chat handlers need.
type RunDriver interface {
	Run(ctx context.Context, in agent.RunInput, emit agent.Sink) (*agent.RunResult, error)
}

// NutritionAnalyzer is the slice of the nutrition service the API needs.
type NutritionAnalyzer interface {
	AnalyzeImage(ctx context.Context, in nutrition.InputPayload) (*nutrition.Result, error)
	AnalyzeDescription(ctx context.Context, in nutrition.InputPayload) (*nutrition.Result, error)
}

// Server wires the HTTP surface: the streaming chat endpoints, the history
// read endpoints and the direct nutrition analysis endpoint.
type Server struct {
	repo      chat.HistoryRepository
	driver    RunDriver
	nutrition NutritionAnalyzer
	env       core.Environment
	mux       *http.ServeMux
}

func NewServer(repo chat.HistoryRepository, driver RunDriver, analyzer NutritionAnalyzer, env core.Environment) *Server {
	s := &Server{
		repo:      repo,
		driver:    driver,
		nutrition: analyzer,
		env:       env,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /chat/messages", s.handleChatStream)
	s.mux.HandleFunc("GET /chat/messages", s.handleGetMessages)
	s.mux.HandleFunc("GET /chat/messages/{id}/tools", s.handleMessageTools)
	s.mux.HandleFunc("POST /nutrition/get", s.handleNutrition)
	s.mux.HandleFunc("POST /nutrition/description", s.handleNutritionDescription)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// corsHeaders allows browser clients from any origin; the API carries no
// cookie-based auth so a permissive policy is acceptable here.
func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status
// code for request logging. Flush is forwarded so streaming still works.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logx.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(corsHeaders(s.mux)).ServeHTTP(w, r)
}

// ListenAndServe blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, cfg Config) error {
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     s,
		ReadTimeout: 60 * time.Second,
		// No WriteTimeout: chat responses stream for as long as a run takes;
		// model and tool calls carry their own deadlines.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", srv.Addr).Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
