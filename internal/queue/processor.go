// Package queue drains due delivery entries on the scheduler's cadence
// and applies the retry and dead-letter policy.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
	"github.com/gridironhq/huddle/internal/dispatch"
	"github.com/gridironhq/huddle/internal/events"
	"github.com/gridironhq/huddle/internal/metrics"
)

// Store is the slice of the notification store the processor needs.
type Store interface {
	DueEntries(ctx context.Context, now time.Time, limit int) ([]*db.QueueEntry, error)
	ClaimEntry(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateEntry(ctx context.Context, entry *db.QueueEntry) error
	MarkOutcome(ctx context.Context, notificationID uuid.UUID, channel db.Channel, success bool) error
	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	Preferences(ctx context.Context, userID uuid.UUID) (*db.PreferencesSnapshot, error)
}

// Dispatcher sends one delivery and classifies the outcome.
type Dispatcher interface {
	Send(ctx context.Context, d dispatch.Delivery) dispatch.Result
}

// Config tunes one processor.
type Config struct {
	BatchSize    int           // due entries fetched per run
	RetryBackoff time.Duration // flat delay before the next attempt
}

// BatchStats summarizes one ProcessBatch run.
type BatchStats struct {
	Fetched int
	Sent    int
	Retried int
	Failed  int
}

// Processor drains due queue entries. One instance runs as the
// scheduler's queue-drain task; entries are processed oldest first and a
// failure on one entry never aborts the rest of the batch.
type Processor struct {
	store      Store
	dispatcher Dispatcher
	events     *events.Publisher
	config     Config
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a processor. events may be nil (outcome stream disabled).
func New(store Store, dispatcher Dispatcher, ev *events.Publisher, cfg Config, logger *zap.Logger) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Minute
	}
	return &Processor{
		store:      store,
		dispatcher: dispatcher,
		events:     ev,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessBatch fetches and processes one batch of due entries.
func (p *Processor) ProcessBatch(ctx context.Context) (BatchStats, error) {
	var stats BatchStats

	now := p.now()
	entries, err := p.store.DueEntries(ctx, now, p.config.BatchSize)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(entries)
	metrics.SetQueueDue(len(entries))
	if len(entries) == 0 {
		return stats, nil
	}

	for _, entry := range entries {
		switch p.processEntry(ctx, entry) {
		case outcomeSent:
			stats.Sent++
		case outcomeRetried:
			stats.Retried++
		case outcomeFailed:
			stats.Failed++
		}
	}

	p.logger.Info("queue batch processed",
		zap.Int("fetched", stats.Fetched),
		zap.Int("sent", stats.Sent),
		zap.Int("retried", stats.Retried),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

type entryOutcome int

const (
	outcomeSkipped entryOutcome = iota
	outcomeSent
	outcomeRetried
	outcomeFailed
)

func (p *Processor) processEntry(ctx context.Context, entry *db.QueueEntry) (result entryOutcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic processing queue entry",
				zap.String("entry_id", entry.ID.String()),
				zap.Any("panic", r),
			)
			result = outcomeSkipped
		}
	}()

	// The claim only lands on a pending row, so of two overlapping scans
	// holding the same entry exactly one dispatches it.
	claimed, err := p.store.ClaimEntry(ctx, entry.ID)
	if err != nil {
		p.logger.Error("failed to claim queue entry",
			zap.String("entry_id", entry.ID.String()), zap.Error(err))
		return outcomeSkipped
	}
	if !claimed {
		// Another scan won the claim.
		return outcomeSkipped
	}

	notif, err := p.store.GetNotification(ctx, entry.NotificationID)
	if errors.Is(err, db.ErrNotFound) {
		// Owner was purged; the entry can never deliver.
		p.terminate(ctx, entry, "notification not found", false)
		return outcomeFailed
	}
	if err != nil {
		p.logger.Error("failed to load notification for entry",
			zap.String("entry_id", entry.ID.String()), zap.Error(err))
		return outcomeSkipped
	}

	res := p.dispatch(ctx, entry, notif)
	if res.Delivered {
		now := p.now()
		entry.Status = db.StatusSent
		entry.ProcessedAt = &now
		entry.ErrorMessage = nil
		if err := p.store.UpdateEntry(ctx, entry); err != nil {
			p.logger.Error("failed to mark entry sent",
				zap.String("entry_id", entry.ID.String()), zap.Error(err))
		}
		if err := p.store.MarkOutcome(ctx, entry.NotificationID, entry.Channel, true); err != nil {
			p.logger.Error("failed to mark outcome",
				zap.String("notification_id", entry.NotificationID.String()), zap.Error(err))
		}
		metrics.RecordDelivery(string(entry.Channel), "sent")
		p.publishOutcome(ctx, entry, db.StatusSent, res.Detail)
		return outcomeSent
	}

	exhausted := entry.RetryCount+1 >= entry.MaxRetries
	if !res.Retryable || exhausted {
		p.terminate(ctx, entry, res.Detail, true)
		return outcomeFailed
	}

	// Transient failure with attempts left: flat backoff, back to pending.
	entry.RetryCount++
	entry.Status = db.StatusPending
	entry.ScheduledAt = p.now().Add(p.config.RetryBackoff)
	detail := res.Detail
	entry.ErrorMessage = &detail
	if err := p.store.UpdateEntry(ctx, entry); err != nil {
		p.logger.Error("failed to reschedule entry",
			zap.String("entry_id", entry.ID.String()), zap.Error(err))
	}
	metrics.RecordDelivery(string(entry.Channel), "retried")

	p.logger.Warn("delivery failed, retry scheduled",
		zap.String("entry_id", entry.ID.String()),
		zap.String("channel", string(entry.Channel)),
		zap.Int("retry_count", entry.RetryCount),
		zap.Int("max_retries", entry.MaxRetries),
		zap.String("detail", detail),
	)
	return outcomeRetried
}

// dispatch builds the delivery from the notification and the user's
// current addressing and sends it.
func (p *Processor) dispatch(ctx context.Context, entry *db.QueueEntry, notif *db.Notification) dispatch.Result {
	delivery := dispatch.Delivery{
		NotificationID: notif.ID.String(),
		UserID:         notif.UserID.String(),
		Channel:        entry.Channel,
		Title:          notif.Title,
		Message:        notif.Message,
		Payload:        notif.Payload,
	}

	snap, err := p.store.Preferences(ctx, notif.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return dispatch.Result{Retryable: false, Detail: "no preferences on file: " + err.Error()}
	}
	if err != nil {
		return dispatch.Result{Retryable: true, Detail: "load preferences: " + err.Error()}
	}
	delivery.Email = snap.EmailAddress
	delivery.PhoneNumber = snap.PhoneNumber
	delivery.DeviceTokens = snap.DeviceTokens

	return p.dispatcher.Send(ctx, delivery)
}

// terminate dead-letters an entry. markOutcome is false only when the
// owning notification no longer exists.
func (p *Processor) terminate(ctx context.Context, entry *db.QueueEntry, detail string, markOutcome bool) {
	now := p.now()
	entry.Status = db.StatusFailed
	entry.ProcessedAt = &now
	if detail != "" {
		entry.ErrorMessage = &detail
	}
	if err := p.store.UpdateEntry(ctx, entry); err != nil {
		p.logger.Error("failed to dead-letter entry",
			zap.String("entry_id", entry.ID.String()), zap.Error(err))
	}
	if markOutcome {
		if err := p.store.MarkOutcome(ctx, entry.NotificationID, entry.Channel, false); err != nil {
			p.logger.Error("failed to mark outcome",
				zap.String("notification_id", entry.NotificationID.String()), zap.Error(err))
		}
	}
	metrics.RecordDelivery(string(entry.Channel), "failed")
	metrics.RecordDeadLetter(string(entry.Channel))
	p.publishOutcome(ctx, entry, db.StatusFailed, detail)

	p.logger.Warn("queue entry dead-lettered",
		zap.String("entry_id", entry.ID.String()),
		zap.String("channel", string(entry.Channel)),
		zap.Int("retry_count", entry.RetryCount),
		zap.String("detail", detail),
	)
}

func (p *Processor) publishOutcome(ctx context.Context, entry *db.QueueEntry, status, detail string) {
	err := p.events.PublishOutcome(ctx, events.Outcome{
		NotificationID: entry.NotificationID.String(),
		Channel:        string(entry.Channel),
		Status:         status,
		Attempts:       entry.RetryCount + 1,
		Detail:         detail,
	})
	if err != nil {
		p.logger.Warn("failed to publish delivery outcome", zap.Error(err))
	}
}
