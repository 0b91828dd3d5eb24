package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"snipebot/internal/catalog"
	"snipebot/internal/command"
	"snipebot/internal/monitor"
	"snipebot/internal/queue"
	"snipebot/pkg/logx"
)

const apiActor = "api"

func (s *Server) handleSubmitCommands(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "invalid json body")
		return
	}

	res, err := s.core.SubmitCommandText(r.Context(), apiActor, req.Text)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "command submission failed"
		switch {
		case errors.Is(err, command.ErrMalformedCommand):
			status, msg = http.StatusBadRequest, err.Error()
		case errors.Is(err, catalog.ErrNoAvailableTarget):
			status, msg = http.StatusConflict, err.Error()
		default:
			s.log.Error(msg, logx.Err(err))
		}
		// A mid-batch failure leaves earlier lines queued; the response
		// carries them so the caller sees what was created.
		body := map[string]any{"status": "error", "error": msg}
		if len(res.Tasks) > 0 {
			body["tasks"] = res.Tasks
		}
		if len(res.Warnings) > 0 {
			body["warnings"] = res.Warnings
		}
		w.WriteHeader(status)
		render.JSON(w, r, body)
		return
	}
	w.WriteHeader(http.StatusCreated)
	render.JSON(w, r, res)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{"tasks": s.core.ListTasks()})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlanCode      string   `json:"planCode"`
		Datacenter    string   `json:"datacenter"`
		Options       []string `json:"options"`
		RetryInterval string   `json:"retryInterval"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "invalid json body")
		return
	}
	if req.PlanCode == "" {
		badRequest(w, r, "planCode is required")
		return
	}
	var interval time.Duration
	if req.RetryInterval != "" {
		d, err := time.ParseDuration(req.RetryInterval)
		if err != nil {
			badRequest(w, r, "invalid retryInterval")
			return
		}
		interval = d
	}

	task, err := s.core.CreateTask(r.Context(), apiActor, req.PlanCode, req.Datacenter, req.Options, interval)
	if err != nil {
		s.internalError(w, r, "task creation failed", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	render.JSON(w, r, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.core.GetTask(chi.URLParam(r, "id"))
	if !ok {
		notFound(w, r, "task not found")
		return
	}
	render.JSON(w, r, task)
}

func (s *Server) handleSetTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "invalid json body")
		return
	}

	task, err := s.core.SetTaskStatus(r.Context(), apiActor, chi.URLParam(r, "id"), queue.Status(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrNotFound):
			notFound(w, r, "task not found")
		case errors.Is(err, queue.ErrInvalidTransition):
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, errResponse(err.Error()))
		default:
			s.internalError(w, r, "status change failed", err)
		}
		return
	}
	render.JSON(w, r, task)
}

func (s *Server) handleRemoveTask(w http.ResponseWriter, r *http.Request) {
	if err := s.core.RemoveTask(r.Context(), apiActor, chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			notFound(w, r, "task not found")
			return
		}
		s.internalError(w, r, "task removal failed", err)
		return
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) handleClearTasks(w http.ResponseWriter, r *http.Request) {
	n := s.core.ClearTasks(r.Context(), apiActor)
	render.JSON(w, r, map[string]any{"status": "ok", "removed": n})
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{"subscriptions": s.core.ListSubscriptions()})
}

func (s *Server) handleSaveSubscription(w http.ResponseWriter, r *http.Request) {
	var spec monitor.Spec
	if err := render.DecodeJSON(r.Body, &spec); err != nil {
		badRequest(w, r, "invalid json body")
		return
	}
	if spec.PlanCode == "" {
		badRequest(w, r, "planCode is required")
		return
	}
	sub := s.core.SaveSubscription(r.Context(), apiActor, spec)
	w.WriteHeader(http.StatusCreated)
	render.JSON(w, r, sub)
}

func (s *Server) handleRemoveSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.core.RemoveSubscription(r.Context(), apiActor, chi.URLParam(r, "planCode")); err != nil {
		if errors.Is(err, monitor.ErrNotFound) {
			notFound(w, r, "subscription not found")
			return
		}
		s.internalError(w, r, "subscription removal failed", err)
		return
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) handleClearSubscriptions(w http.ResponseWriter, r *http.Request) {
	n := s.core.ClearSubscriptions(r.Context(), apiActor)
	render.JSON(w, r, map[string]any{"status": "ok", "removed": n})
}

func (s *Server) handleSubscriptionHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.core.SubscriptionHistory(chi.URLParam(r, "planCode"))
	if err != nil {
		if errors.Is(err, monitor.ErrNotFound) {
			notFound(w, r, "subscription not found")
			return
		}
		s.internalError(w, r, "history lookup failed", err)
		return
	}
	render.JSON(w, r, map[string]any{"history": hist})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	w.WriteHeader(http.StatusBadRequest)
	render.JSON(w, r, errResponse(msg))
}

func notFound(w http.ResponseWriter, r *http.Request, msg string) {
	w.WriteHeader(http.StatusNotFound)
	render.JSON(w, r, errResponse(msg))
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.log.Error(msg, logx.Err(err))
	w.WriteHeader(http.StatusInternalServerError)
	render.JSON(w, r, errResponse(msg))
}
