// Package monitor turns external signals (roster moves, injuries, news,
// waiver results, game schedules) into notifications. Each monitor is a
// scheduler task; the Notifier is their shared path into the store.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
	"github.com/gridironhq/huddle/internal/metrics"
	"github.com/gridironhq/huddle/internal/prefs"
)

// NotifierStore is the slice of the notification store the notifier needs.
type NotifierStore interface {
	CreateNotification(ctx context.Context, notif *db.Notification) (uuid.UUID, error)
	Enqueue(ctx context.Context, notificationID uuid.UUID, channels []db.Channel, scheduledAt time.Time) error
	Preferences(ctx context.Context, userID uuid.UUID) (*db.PreferencesSnapshot, error)
}

// Alert is one candidate notification assembled by a monitor.
type Alert struct {
	UserID      uuid.UUID
	Type        db.NotificationType
	Priority    int
	Title       string
	Message     string
	Payload     json.RawMessage
	ScheduledAt *time.Time // nil means send now
}

// Notifier creates the notification row and queues channel deliveries.
// The row is created first and unconditionally: the alert stays visible
// in-app even when every external channel later fails.
type Notifier struct {
	store    NotifierStore
	resolver *prefs.Resolver
	logger   *zap.Logger
	now      func() time.Time
}

// NewNotifier wires the shared publish path.
func NewNotifier(store NotifierStore, resolver *prefs.Resolver, logger *zap.Logger) *Notifier {
	return &Notifier{
		store:    store,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// Publish records the alert and enqueues deliveries for the channels the
// user's preferences select. Returns the notification ID; the ID is valid
// even when enqueueing fails.
func (n *Notifier) Publish(ctx context.Context, alert Alert) (uuid.UUID, error) {
	notif := &db.Notification{
		UserID:      alert.UserID,
		Type:        alert.Type,
		Priority:    alert.Priority,
		Title:       alert.Title,
		Message:     alert.Message,
		Payload:     alert.Payload,
		ScheduledAt: alert.ScheduledAt,
	}

	id, err := n.store.CreateNotification(ctx, notif)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create notification: %w", err)
	}
	metrics.RecordNotificationCreated(string(alert.Type))

	snap, err := n.store.Preferences(ctx, alert.UserID)
	if errors.Is(err, db.ErrNotFound) {
		// No preferences on file: nothing to deliver, row stays in-app.
		n.logger.Debug("no preferences on file, skipping delivery",
			zap.String("user_id", alert.UserID.String()),
		)
		return id, nil
	}
	if err != nil {
		return id, fmt.Errorf("load preferences: %w", err)
	}

	channels := n.resolver.SelectChannels(snap, alert.Type, notif.Priority)
	if len(channels) == 0 {
		n.logger.Debug("no channels selected",
			zap.String("notification_id", id.String()),
			zap.String("type", string(alert.Type)),
		)
		return id, nil
	}

	scheduledAt := n.now()
	if alert.ScheduledAt != nil {
		scheduledAt = *alert.ScheduledAt
	}
	if err := n.store.Enqueue(ctx, id, channels, scheduledAt); err != nil {
		return id, fmt.Errorf("enqueue deliveries: %w", err)
	}

	n.logger.Info("notification published",
		zap.String("notification_id", id.String()),
		zap.String("user_id", alert.UserID.String()),
		zap.String("type", string(alert.Type)),
		zap.Int("channels", len(channels)),
	)
	return id, nil
}

// mustPayload marshals monitor payloads. Monitor payloads are plain
// structs of strings and numbers; a marshal failure means a programming
// error, so it degrades to an empty object rather than dropping the alert.
func mustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
