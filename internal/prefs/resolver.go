// Package prefs decides which delivery channels fire for a given
// (user, notification type, priority) against the user's preferences
// snapshot. It is a pure decision table: no I/O, no stored state.
package prefs

import (
	"time"

	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
)

// toggles reads the per-category email/push enables off a snapshot.
type toggles func(p *db.PreferencesSnapshot) (email, push bool)

// categoryToggles maps each notification type to its typed toggle
// accessor. A finite compile-time table; no reflection on field names.
var categoryToggles = map[db.NotificationType]toggles{
	db.TypeTradeProposal: func(p *db.PreferencesSnapshot) (bool, bool) { return p.EmailTrades, p.PushTrades },
	db.TypeWaiverResult:  func(p *db.PreferencesSnapshot) (bool, bool) { return p.EmailWaivers, p.PushWaivers },
	db.TypeBreakingNews:  func(p *db.PreferencesSnapshot) (bool, bool) { return p.EmailNews, p.PushNews },
	db.TypeInjuryUpdate:  func(p *db.PreferencesSnapshot) (bool, bool) { return p.EmailInjuries, p.PushInjuries },
	db.TypeLineupRemind:  func(p *db.PreferencesSnapshot) (bool, bool) { return p.EmailLineup, p.PushLineup },
	db.TypeWeeklySummary: func(p *db.PreferencesSnapshot) (bool, bool) { return p.EmailSummary, p.PushSummary },
	db.TypeRosterMove:    func(p *db.PreferencesSnapshot) (bool, bool) { return p.EmailRoster, p.PushRoster },
	// Test notifications bypass category toggles so operators can
	// exercise the pipeline regardless of user opt-outs.
	db.TypeTest: func(p *db.PreferencesSnapshot) (bool, bool) { return true, true },
}

// Resolver selects channels from a preferences snapshot.
type Resolver struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewResolver creates a resolver using the wall clock.
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger, now: time.Now}
}

// NewResolverWithClock creates a resolver with an injected clock for tests.
func NewResolverWithClock(logger *zap.Logger, now func() time.Time) *Resolver {
	return &Resolver{logger: logger, now: now}
}

// SelectChannels returns the channels that should fire for one alert.
// An empty result is valid: the notification is still recorded in-app
// visible only if in_app is enabled, and nothing is queued.
func (r *Resolver) SelectChannels(p *db.PreferencesSnapshot, notifType db.NotificationType, priority int) []db.Channel {
	var selected []db.Channel

	if p.InAppEnabled {
		selected = append(selected, db.ChannelInApp)
	}

	emailOK, pushOK := true, true
	if t, ok := categoryToggles[notifType]; ok {
		emailOK, pushOK = t(p)
	}

	if p.EmailEnabled && emailOK {
		selected = append(selected, db.ChannelEmail)
	}

	quiet := r.inQuietHours(p)
	urgent := priority >= db.PriorityUrgent

	// Email and in-app are non-interruptive and never suppressed by
	// quiet hours; push and SMS are, below urgent priority.
	if p.PushEnabled && pushOK && (!quiet || urgent) {
		selected = append(selected, db.ChannelPush)
	}

	if p.SMSEnabled && p.PhoneNumber != "" &&
		(!p.SMSUrgentOnly || urgent) &&
		(!quiet || urgent) {
		selected = append(selected, db.ChannelSMS)
	}

	return selected
}

// inQuietHours reports whether the user's local hour falls in
// [quiet_hours_start, quiet_hours_end), wrapping past midnight when
// start > end. Equal bounds mean quiet hours are off.
func (r *Resolver) inQuietHours(p *db.PreferencesSnapshot) bool {
	start, end := p.QuietHoursStart, p.QuietHoursEnd
	if start == end {
		return false
	}

	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		loc = time.UTC
	}
	hour := r.now().In(loc).Hour()

	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
