package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification is one user-facing alert. Title, message, type and payload
// are immutable after insert; only the read flag and the per-channel
// outcome flags change afterwards.
type Notification struct {
	ID           uuid.UUID        `json:"id"`
	UserID       uuid.UUID        `json:"user_id"`
	Type         NotificationType `json:"type"`
	Priority     int              `json:"priority"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	Payload      json.RawMessage  `json:"payload,omitempty"`
	Read         bool             `json:"read"`
	ScheduledAt  *time.Time       `json:"scheduled_at,omitempty"`
	SentViaEmail bool             `json:"sent_via_email"`
	SentViaPush  bool             `json:"sent_via_push"`
	SentViaSMS   bool             `json:"sent_via_sms"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// QueueEntry is one (notification, channel) delivery attempt unit.
// Mutated exclusively by the delivery queue processor.
type QueueEntry struct {
	ID             uuid.UUID  `json:"id"`
	NotificationID uuid.UUID  `json:"notification_id"`
	Channel        Channel    `json:"channel"`
	Status         string     `json:"status"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NotificationType classifies an alert for preference lookups.
type NotificationType string

const (
	TypeTradeProposal NotificationType = "trade_proposal"
	TypeWaiverResult  NotificationType = "waiver_result"
	TypeBreakingNews  NotificationType = "breaking_news"
	TypeLineupRemind  NotificationType = "lineup_reminder"
	TypeInjuryUpdate  NotificationType = "injury_update"
	TypeWeeklySummary NotificationType = "weekly_summary"
	TypeRosterMove    NotificationType = "roster_move"
	TypeTest          NotificationType = "test"
)

// Channel is one delivery mechanism.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// Queue entry status constants. Transitions are monotonic:
// pending -> processing -> sent | failed, with processing -> pending
// allowed only when a retry is scheduled.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
)

// Priority bounds. 5 is most urgent; priority >= PriorityUrgent bypasses
// quiet hours and the sms_urgent_only gate.
const (
	PriorityMin    = 1
	PriorityMax    = 5
	PriorityUrgent = 4
)

// PreferencesSnapshot is the per-user delivery configuration, owned by the
// account-settings service and read-only from this subsystem.
type PreferencesSnapshot struct {
	UserID uuid.UUID `json:"user_id"`

	EmailEnabled bool `json:"email_enabled"`
	PushEnabled  bool `json:"push_enabled"`
	SMSEnabled   bool `json:"sms_enabled"`
	InAppEnabled bool `json:"in_app_enabled"`

	EmailAddress  string   `json:"email_address"`
	PhoneNumber   string   `json:"phone_number"`
	DeviceTokens  []string `json:"device_tokens"`
	SMSUrgentOnly bool     `json:"sms_urgent_only"`

	// Quiet hours are local hours of day, [start, end), wrapping past
	// midnight when start > end. Equal values mean no quiet hours.
	QuietHoursStart int    `json:"quiet_hours_start"`
	QuietHoursEnd   int    `json:"quiet_hours_end"`
	Timezone        string `json:"timezone"`

	// Per-category toggles, one pair per notification category.
	EmailTrades   bool `json:"email_trades"`
	PushTrades    bool `json:"push_trades"`
	EmailWaivers  bool `json:"email_waivers"`
	PushWaivers   bool `json:"push_waivers"`
	EmailNews     bool `json:"email_news"`
	PushNews      bool `json:"push_news"`
	EmailInjuries bool `json:"email_injuries"`
	PushInjuries  bool `json:"push_injuries"`
	EmailLineup   bool `json:"email_lineup"`
	PushLineup    bool `json:"push_lineup"`
	EmailSummary  bool `json:"email_summary"`
	PushSummary   bool `json:"push_summary"`
	EmailRoster   bool `json:"email_roster"`
	PushRoster    bool `json:"push_roster"`
}
