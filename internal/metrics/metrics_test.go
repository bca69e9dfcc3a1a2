package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/healthz", 200, 5*time.Millisecond)
	RecordRequest("POST", "/admin/tasks/cleanup/trigger", 200, 120*time.Millisecond)
	RecordRequest("GET", "/v1/users/x/notifications", 400, time.Millisecond)
}

func TestRecordNotificationCreated(t *testing.T) {
	RecordNotificationCreated("injury_update")
	RecordNotificationCreated("breaking_news")
}

func TestRecordDelivery(t *testing.T) {
	RecordDelivery("email", "sent")
	RecordDelivery("push", "retried")
	RecordDelivery("sms", "failed")
}

func TestRecordDeadLetter(t *testing.T) {
	RecordDeadLetter("email")
	RecordDeadLetter("sms")
}

func TestRecordDedupSuppressed(t *testing.T) {
	RecordDedupSuppressed("news")
	RecordDedupSuppressed("injury")
}

func TestRecordTaskRun(t *testing.T) {
	RecordTaskRun("queue_drain", "ok", 40*time.Millisecond)
	RecordTaskRun("news_monitor", "error", 2*time.Second)
}

func TestSetQueueDue(t *testing.T) {
	SetQueueDue(12)
	SetQueueDue(0)
}

func TestRecordSimulatedSend(t *testing.T) {
	RecordSimulatedSend("push")
}

func TestHandlerServesMetrics(t *testing.T) {
	RecordDelivery("email", "sent")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected metrics exposition output")
	}
}
