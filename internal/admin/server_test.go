package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
	"github.com/gridironhq/huddle/internal/monitor"
	"github.com/gridironhq/huddle/internal/scheduler"
)

type fakeSched struct {
	running    bool
	statuses   []scheduler.TaskStatus
	triggered  []string
	triggerErr error
}

func (s *fakeSched) Start()                          { s.running = true }
func (s *fakeSched) Stop()                           { s.running = false }
func (s *fakeSched) Running() bool                   { return s.running }
func (s *fakeSched) Status() []scheduler.TaskStatus  { return s.statuses }
func (s *fakeSched) Trigger(name string) error {
	if s.triggerErr != nil {
		return s.triggerErr
	}
	s.triggered = append(s.triggered, name)
	return nil
}

type fakeReader struct {
	notifications []*db.Notification
	listErr       error
	readIDs       []uuid.UUID
	readErr       error
}

func (r *fakeReader) ListByUser(_ context.Context, _ uuid.UUID, _, _ int) ([]*db.Notification, error) {
	return r.notifications, r.listErr
}

func (r *fakeReader) MarkRead(_ context.Context, id uuid.UUID) error {
	if r.readErr != nil {
		return r.readErr
	}
	r.readIDs = append(r.readIDs, id)
	return nil
}

type fakePublisher struct {
	alerts []monitor.Alert
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, alert monitor.Alert) (uuid.UUID, error) {
	if p.err != nil {
		return uuid.Nil, p.err
	}
	p.alerts = append(p.alerts, alert)
	return uuid.New(), nil
}

type fakeHealth struct{ err error }

func (h *fakeHealth) Health(context.Context) error { return h.err }

func newTestHandler() (*Handler, *fakeSched, *fakeReader, *fakePublisher, *fakeHealth) {
	sched := &fakeSched{}
	reader := &fakeReader{}
	publisher := &fakePublisher{}
	health := &fakeHealth{}
	h := NewHandler(zap.NewNop(), sched, reader, publisher, health)
	return h, sched, reader, publisher, health
}

func TestHealthz(t *testing.T) {
	h, _, _, _, health := newTestHandler()
	router := h.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy status = %d, want 200", rec.Code)
	}

	health.err = errors.New("connection refused")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status = %d, want 503", rec.Code)
	}
}

func TestSchedulerStatus(t *testing.T) {
	h, sched, _, _, _ := newTestHandler()
	sched.running = true
	sched.statuses = []scheduler.TaskStatus{
		{Name: "queue_drain", Interval: time.Minute, Enabled: true, Alive: true},
	}

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/scheduler/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Running bool                   `json:"running"`
		Tasks   []scheduler.TaskStatus `json:"tasks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Running || len(body.Tasks) != 1 || body.Tasks[0].Name != "queue_drain" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	h, sched, _, _, _ := newTestHandler()
	router := h.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/scheduler/start", nil))
	if rec.Code != http.StatusOK || !sched.running {
		t.Fatalf("start: code=%d running=%v", rec.Code, sched.running)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/scheduler/stop", nil))
	if rec.Code != http.StatusOK || sched.running {
		t.Fatalf("stop: code=%d running=%v", rec.Code, sched.running)
	}
}

func TestTriggerTask(t *testing.T) {
	h, sched, _, _, _ := newTestHandler()
	router := h.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/tasks/injury_monitor/trigger", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(sched.triggered) != 1 || sched.triggered[0] != "injury_monitor" {
		t.Fatalf("triggered = %v", sched.triggered)
	}
}

func TestTriggerTask_Unknown(t *testing.T) {
	h, sched, _, _, _ := newTestHandler()
	sched.triggerErr = fmt.Errorf("%w: %q", scheduler.ErrUnknownTask, "nope")

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/tasks/nope/trigger", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTriggerTask_ExecutionFailure(t *testing.T) {
	h, sched, _, _, _ := newTestHandler()
	sched.triggerErr = errors.New("feed unavailable")

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/tasks/news_monitor/trigger", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	// Only the sentinel maps to 404; a task error that merely mentions
	// an unknown task in its text is still an execution failure.
	sched.triggerErr = errors.New(`upstream replied "unknown task"`)
	rec = httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/tasks/news_monitor/trigger", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestCreateTestNotification(t *testing.T) {
	h, _, _, publisher, _ := newTestHandler()

	userID := uuid.New()
	body := fmt.Sprintf(`{"user_id": %q, "priority": 5}`, userID)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/notifications/test", strings.NewReader(body))
	h.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if len(publisher.alerts) != 1 {
		t.Fatalf("expected 1 published alert, got %d", len(publisher.alerts))
	}
	alert := publisher.alerts[0]
	if alert.Type != db.TypeTest || alert.UserID != userID || alert.Priority != 5 {
		t.Fatalf("unexpected alert: %+v", alert)
	}
	if alert.Title == "" || alert.Message == "" {
		t.Fatal("defaults must fill title and message")
	}
}

func TestCreateTestNotification_InvalidUser(t *testing.T) {
	h, _, _, _, _ := newTestHandler()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/notifications/test",
		strings.NewReader(`{"user_id": "not-a-uuid"}`))
	h.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListUserNotifications(t *testing.T) {
	h, _, reader, _, _ := newTestHandler()
	reader.notifications = []*db.Notification{
		{ID: uuid.New(), Title: "newest"},
		{ID: uuid.New(), Title: "older"},
	}

	rec := httptest.NewRecorder()
	url := "/v1/users/" + uuid.NewString() + "/notifications?limit=10"
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Count int `json:"count"`
		Limit int `json:"limit"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 2 || body.Limit != 10 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestMarkRead(t *testing.T) {
	h, _, reader, _, _ := newTestHandler()
	id := uuid.New()

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/notifications/"+id.String()+"/read", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(reader.readIDs) != 1 || reader.readIDs[0] != id {
		t.Fatalf("read ids = %v", reader.readIDs)
	}
}

func TestMarkRead_NotFound(t *testing.T) {
	h, _, reader, _, _ := newTestHandler()
	reader.readErr = fmt.Errorf("notification %s: %w", uuid.New(), db.ErrNotFound)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/notifications/"+uuid.NewString()+"/read", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
