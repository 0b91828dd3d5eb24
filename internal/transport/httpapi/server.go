// Package httpapi serves the local HTTP surface consumed by the dashboard
// and by scripts. All /api routes require the configured X-API-Key header.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"snipebot/internal/metrics"
	"snipebot/internal/monitor"
	"snipebot/internal/queue"
	"snipebot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	APIKey  string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Core is the application surface the API exposes. Actor identifies the
// caller in the audit trail.
type Core interface {
	SubmitCommandText(ctx context.Context, actor, text string) (SubmitResult, error)

	CreateTask(ctx context.Context, actor, planCode, datacenter string, options []string, retryInterval time.Duration) (queue.Task, error)
	ListTasks() []queue.Task
	GetTask(id string) (queue.Task, bool)
	SetTaskStatus(ctx context.Context, actor, id string, status queue.Status) (queue.Task, error)
	RemoveTask(ctx context.Context, actor, id string) error
	ClearTasks(ctx context.Context, actor string) int

	ListSubscriptions() []monitor.Subscription
	SaveSubscription(ctx context.Context, actor string, spec monitor.Spec) monitor.Subscription
	RemoveSubscription(ctx context.Context, actor, planCode string) error
	ClearSubscriptions(ctx context.Context, actor string) int
	SubscriptionHistory(planCode string) ([]monitor.ChangeEvent, error)
}

// SubmitResult is the outcome of one free-form command submission.
type SubmitResult struct {
	Tasks    []queue.Task `json:"tasks"`
	Warnings []string     `json:"warnings,omitempty"`
}

type Server struct {
	cfg   Config
	log   logx.Logger
	core  Core
	stats *metrics.Set

	srv *http.Server
}

func New(cfg Config, core Core, log logx.Logger, stats *metrics.Set) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:19998"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, core: core, log: log, stats: stats}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	if s.stats != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.stats.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Post("/commands", s.handleSubmitCommands)

		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks", s.handleCreateTask)
		r.Delete("/tasks", s.handleClearTasks)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Patch("/tasks/{id}/status", s.handleSetTaskStatus)
		r.Delete("/tasks/{id}", s.handleRemoveTask)

		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Post("/subscriptions", s.handleSaveSubscription)
		r.Delete("/subscriptions", s.handleClearSubscriptions)
		r.Get("/subscriptions/{planCode}/history", s.handleSubscriptionHistory)
		r.Delete("/subscriptions/{planCode}", s.handleRemoveSubscription)
	})
	return r
}

// requireAPIKey rejects /api requests whose X-API-Key header does not match
// the configured key. An empty configured key locks the API out entirely.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := s.cfg.APIKey
		got := r.Header.Get("X-API-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			w.WriteHeader(http.StatusUnauthorized)
			render.JSON(w, r, errResponse("invalid api key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api failed", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func errResponse(msg string) map[string]string {
	return map[string]string{"status": "error", "error": msg}
}
