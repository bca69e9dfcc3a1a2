// Package admin exposes the operational control surface: health,
// metrics, scheduler control, and the in-app notification feed.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
	"github.com/gridironhq/huddle/internal/metrics"
	"github.com/gridironhq/huddle/internal/monitor"
	"github.com/gridironhq/huddle/internal/scheduler"
)

// Scheduler is the control slice of the task scheduler.
type Scheduler interface {
	Start()
	Stop()
	Running() bool
	Status() []scheduler.TaskStatus
	Trigger(name string) error
}

// NotificationReader serves the in-app feed and read receipts.
type NotificationReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*db.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
}

// Publisher creates notifications through the standard monitor path.
type Publisher interface {
	Publish(ctx context.Context, alert monitor.Alert) (uuid.UUID, error)
}

// HealthChecker reports persistence-layer reachability.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ErrorResponse is the problem+json error body.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for the admin handlers.
type Handler struct {
	logger    *zap.Logger
	sched     Scheduler
	store     NotificationReader
	publisher Publisher
	health    HealthChecker
}

// NewHandler creates the admin handler.
func NewHandler(logger *zap.Logger, sched Scheduler, store NotificationReader, publisher Publisher, health HealthChecker) *Handler {
	return &Handler{
		logger:    logger,
		sched:     sched,
		store:     store,
		publisher: publisher,
		health:    health,
	}
}

// Router builds the admin router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Get("/scheduler/status", h.SchedulerStatus)
		r.Post("/scheduler/start", h.SchedulerStart)
		r.Post("/scheduler/stop", h.SchedulerStop)
		r.Post("/tasks/{name}/trigger", h.TriggerTask)
		r.Post("/notifications/test", h.CreateTestNotification)
	})

	r.Get("/v1/users/{id}/notifications", h.ListUserNotifications)
	r.Post("/v1/notifications/{id}/read", h.MarkRead)

	return r
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.health.Health(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "unhealthy", "Database unreachable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SchedulerStatus handles GET /admin/scheduler/status
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running": h.sched.Running(),
		"tasks":   h.sched.Status(),
	})
}

// SchedulerStart handles POST /admin/scheduler/start
func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	h.logger.Info("scheduler started via admin endpoint")
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// SchedulerStop handles POST /admin/scheduler/stop
func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	h.logger.Info("scheduler stopped via admin endpoint")
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// TriggerTask handles POST /admin/tasks/{name}/trigger. The run is
// synchronous: the response reports the task's actual outcome.
func (h *Handler) TriggerTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.sched.Trigger(name); err != nil {
		if errors.Is(err, scheduler.ErrUnknownTask) {
			h.writeError(w, http.StatusNotFound, "not_found", "Unknown task", err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "task_error", "Task execution failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"task":   name,
		"status": "completed",
	})
}

// TestNotificationRequest is the body for POST /admin/notifications/test.
type TestNotificationRequest struct {
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

// CreateTestNotification handles POST /admin/notifications/test. Test
// notifications bypass per-category opt-outs so operators can exercise
// the full delivery pipeline.
func (h *Handler) CreateTestNotification(w http.ResponseWriter, r *http.Request) {
	var req TestNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	if req.Title == "" {
		req.Title = "Test notification"
	}
	if req.Message == "" {
		req.Message = "If you can read this, delivery works."
	}
	if req.Priority == 0 {
		req.Priority = 3
	}

	id, err := h.publisher.Publish(r.Context(), monitor.Alert{
		UserID:   userID,
		Type:     db.TypeTest,
		Priority: req.Priority,
		Title:    req.Title,
		Message:  req.Message,
	})
	if err != nil {
		h.logger.Error("failed to create test notification",
			zap.Error(err),
			zap.String("user_id", req.UserID),
		)
		h.writeError(w, http.StatusInternalServerError, "publish_error", "Failed to create test notification", "")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

// ListUserNotifications handles GET /v1/users/{id}/notifications?limit=20&offset=0
func (h *Handler) ListUserNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user ID", "ID must be a valid UUID")
		return
	}

	limit, offset := 20, 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	notifications, err := h.store.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":   notifications,
		"limit":  limit,
		"offset": offset,
		"count":  len(notifications),
	})
}

// MarkRead handles POST /v1/notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	if err := h.store.MarkRead(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
			return
		}
		h.logger.Error("failed to mark notification read",
			zap.Error(err),
			zap.String("id", id.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to mark notification read", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id.String(),
		"status": "read",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
