package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Store taxonomy errors. ErrUnavailable wraps any failure to reach the
// persistence layer; ErrNotFound covers lookups of deleted rows.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the single source of truth for notifications and queue entries.
// All mutations of those rows go through this type.
type Store struct {
	db     *DB
	logger *zap.Logger
}

// NewStore creates a notification store backed by the given pool.
func NewStore(db *DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// CreateNotification inserts a new notification and returns its ID.
// A nil scheduledAt means "send now".
func (s *Store) CreateNotification(ctx context.Context, notif *Notification) (uuid.UUID, error) {
	if notif.ID == uuid.Nil {
		notif.ID = uuid.New()
	}
	if notif.Priority < PriorityMin {
		notif.Priority = PriorityMin
	}
	if notif.Priority > PriorityMax {
		notif.Priority = PriorityMax
	}
	if notif.Payload == nil {
		notif.Payload = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO notifications (
			id, user_id, type, priority, title, message, payload, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := s.db.Pool().QueryRow(ctx, query,
		notif.ID,
		notif.UserID,
		notif.Type,
		notif.Priority,
		notif.Title,
		notif.Message,
		notif.Payload,
		notif.ScheduledAt,
	).Scan(&notif.CreatedAt, &notif.UpdatedAt)

	if err != nil {
		s.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("user_id", notif.UserID.String()),
			zap.String("type", string(notif.Type)),
		)
		return uuid.Nil, fmt.Errorf("%w: insert notification: %v", ErrUnavailable, err)
	}

	s.logger.Info("notification created",
		zap.String("notification_id", notif.ID.String()),
		zap.String("user_id", notif.UserID.String()),
		zap.String("type", string(notif.Type)),
		zap.Int("priority", notif.Priority),
	)

	return notif.ID, nil
}

// Enqueue creates one pending queue entry per channel. A partial unique
// index on (notification_id, channel) over non-terminal entries makes this
// idempotent: re-enqueueing a channel with a live entry is a no-op.
func (s *Store) Enqueue(ctx context.Context, notificationID uuid.UUID, channels []Channel, scheduledAt time.Time) error {
	query := `
		INSERT INTO queue_entries (
			id, notification_id, channel, status, retry_count, max_retries, scheduled_at
		) VALUES ($1, $2, $3, $4, 0, $5, $6)
		ON CONFLICT (notification_id, channel) WHERE status IN ('pending', 'processing')
		DO NOTHING
	`

	for _, ch := range channels {
		if ch == ChannelInApp {
			continue // in-app is the notification row itself, nothing to deliver
		}
		_, err := s.db.Pool().Exec(ctx, query,
			uuid.New(), notificationID, ch, StatusPending, DefaultMaxRetries, scheduledAt,
		)
		if err != nil {
			return fmt.Errorf("%w: enqueue %s: %v", ErrUnavailable, ch, err)
		}
	}
	return nil
}

// DefaultMaxRetries is the per-entry delivery attempt ceiling.
const DefaultMaxRetries = 3

// MarkOutcome records the terminal delivery outcome on the notification's
// per-channel flag. Success flips the flag; failure leaves it false but
// still touches updated_at for observability.
func (s *Store) MarkOutcome(ctx context.Context, notificationID uuid.UUID, channel Channel, success bool) error {
	var column string
	switch channel {
	case ChannelEmail:
		column = "sent_via_email"
	case ChannelPush:
		column = "sent_via_push"
	case ChannelSMS:
		column = "sent_via_sms"
	default:
		return fmt.Errorf("no outcome flag for channel %q", channel)
	}

	query := fmt.Sprintf(
		`UPDATE notifications SET %s = $1, updated_at = NOW() WHERE id = $2`, column)

	result, err := s.db.Pool().Exec(ctx, query, success, notificationID)
	if err != nil {
		return fmt.Errorf("%w: mark outcome: %v", ErrUnavailable, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", notificationID, ErrNotFound)
	}
	return nil
}

// ClaimEntry transitions one entry from pending to processing. The
// update is conditional on the current status, so of two scans that
// fetched the same due entry only one claim succeeds; the loser gets
// false and skips the entry.
func (s *Store) ClaimEntry(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := s.db.Pool().Exec(ctx, `
		UPDATE queue_entries
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("%w: claim queue entry: %v", ErrUnavailable, err)
	}
	return result.RowsAffected() == 1, nil
}

// DueEntries returns pending entries whose scheduled_at has passed,
// oldest-scheduled first, capped at limit.
func (s *Store) DueEntries(ctx context.Context, now time.Time, limit int) ([]*QueueEntry, error) {
	query := `
		SELECT
			id, notification_id, channel, status, retry_count, max_retries,
			scheduled_at, processed_at, error_message, created_at, updated_at
		FROM queue_entries
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`

	rows, err := s.db.Pool().Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query due entries: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var entries []*QueueEntry
	for rows.Next() {
		var e QueueEntry
		err := rows.Scan(
			&e.ID, &e.NotificationID, &e.Channel, &e.Status, &e.RetryCount,
			&e.MaxRetries, &e.ScheduledAt, &e.ProcessedAt, &e.ErrorMessage,
			&e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return entries, nil
}

// UpdateEntry writes back the processor's state transition for one entry.
func (s *Store) UpdateEntry(ctx context.Context, entry *QueueEntry) error {
	query := `
		UPDATE queue_entries
		SET status = $1, retry_count = $2, scheduled_at = $3,
		    processed_at = $4, error_message = $5, updated_at = NOW()
		WHERE id = $6
	`

	result, err := s.db.Pool().Exec(ctx, query,
		entry.Status, entry.RetryCount, entry.ScheduledAt,
		entry.ProcessedAt, entry.ErrorMessage, entry.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: update queue entry: %v", ErrUnavailable, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("queue entry %s: %w", entry.ID, ErrNotFound)
	}
	return nil
}

// GetNotification retrieves a notification by ID.
func (s *Store) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `
		SELECT
			id, user_id, type, priority, title, message, payload, read,
			scheduled_at, sent_via_email, sent_via_push, sent_via_sms,
			created_at, updated_at
		FROM notifications
		WHERE id = $1
	`

	var n Notification
	err := s.db.Pool().QueryRow(ctx, query, id).Scan(
		&n.ID, &n.UserID, &n.Type, &n.Priority, &n.Title, &n.Message,
		&n.Payload, &n.Read, &n.ScheduledAt, &n.SentViaEmail, &n.SentViaPush,
		&n.SentViaSMS, &n.CreatedAt, &n.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query notification: %v", ErrUnavailable, err)
	}

	return &n, nil
}

// ListByUser returns a user's notifications newest first. The in-app
// surface reads from here; delivery order never affects it.
func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error) {
	query := `
		SELECT
			id, user_id, type, priority, title, message, payload, read,
			scheduled_at, sent_via_email, sent_via_push, sent_via_sms,
			created_at, updated_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: query notifications: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		err := rows.Scan(
			&n.ID, &n.UserID, &n.Type, &n.Priority, &n.Title, &n.Message,
			&n.Payload, &n.Read, &n.ScheduledAt, &n.SentViaEmail,
			&n.SentViaPush, &n.SentViaSMS, &n.CreatedAt, &n.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}

// MarkRead sets the read flag on a notification.
func (s *Store) MarkRead(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.Pool().Exec(ctx,
		`UPDATE notifications SET read = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: mark read: %v", ErrUnavailable, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

// PurgeOlderThan hard-deletes notifications created before the cutoff.
// Queue entries cascade with their notification.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.Pool().Exec(ctx,
		`DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: purge notifications: %v", ErrUnavailable, err)
	}

	deleted := result.RowsAffected()
	if deleted > 0 {
		s.logger.Info("purged old notifications",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}

// Preferences loads a user's delivery preferences snapshot.
func (s *Store) Preferences(ctx context.Context, userID uuid.UUID) (*PreferencesSnapshot, error) {
	query := `
		SELECT
			user_id, email_enabled, push_enabled, sms_enabled, in_app_enabled,
			email_address, phone_number, device_tokens, sms_urgent_only,
			quiet_hours_start, quiet_hours_end, timezone,
			email_trades, push_trades, email_waivers, push_waivers,
			email_news, push_news, email_injuries, push_injuries,
			email_lineup, push_lineup, email_summary, push_summary,
			email_roster, push_roster
		FROM user_preferences
		WHERE user_id = $1
	`

	var p PreferencesSnapshot
	err := s.db.Pool().QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.EmailEnabled, &p.PushEnabled, &p.SMSEnabled, &p.InAppEnabled,
		&p.EmailAddress, &p.PhoneNumber, &p.DeviceTokens, &p.SMSUrgentOnly,
		&p.QuietHoursStart, &p.QuietHoursEnd, &p.Timezone,
		&p.EmailTrades, &p.PushTrades, &p.EmailWaivers, &p.PushWaivers,
		&p.EmailNews, &p.PushNews, &p.EmailInjuries, &p.PushInjuries,
		&p.EmailLineup, &p.PushLineup, &p.EmailSummary, &p.PushSummary,
		&p.EmailRoster, &p.PushRoster,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("preferences for user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query preferences: %v", ErrUnavailable, err)
	}

	return &p, nil
}
