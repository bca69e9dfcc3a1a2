package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
	"github.com/gridironhq/huddle/internal/dedup"
	"github.com/gridironhq/huddle/internal/metrics"
)

// InjuryReport is one player's current designation plus the users who
// roster that player.
type InjuryReport struct {
	PlayerID   string
	PlayerName string
	Team       string
	Status     string // "questionable", "doubtful", "out", "ir"
	Detail     string
	OwnerIDs   []uuid.UUID
}

// InjurySource provides current injury designations for rostered players.
type InjurySource interface {
	CurrentReports(ctx context.Context) ([]InjuryReport, error)
}

// The dedup condition includes the status value, so a repeat of the same
// designation is suppressed while a transition to a new one always fires.
// The long window only bounds cache growth.
const injuryDedupWindow = 7 * 24 * time.Hour

// injuryPriority maps a designation to alert priority. "out" and "ir"
// are urgent: they bypass quiet hours and SMS urgent-only gating.
var injuryPriority = map[string]int{
	"questionable": 3,
	"doubtful":     4,
	"out":          5,
	"ir":           5,
}

// InjuryMonitor alerts owners when a rostered player's designation changes.
type InjuryMonitor struct {
	source   InjurySource
	notifier *Notifier
	guard    *dedup.Guard
	logger   *zap.Logger
}

func NewInjuryMonitor(source InjurySource, notifier *Notifier, guard *dedup.Guard, logger *zap.Logger) *InjuryMonitor {
	return &InjuryMonitor{
		source:   source,
		notifier: notifier,
		guard:    guard,
		logger:   logger,
	}
}

func (m *InjuryMonitor) Run(ctx context.Context) error {
	reports, err := m.source.CurrentReports(ctx)
	if err != nil {
		return fmt.Errorf("fetch injury reports: %w", err)
	}

	for _, report := range reports {
		status := strings.ToLower(report.Status)
		condition := "injury_status:" + status
		if !m.guard.ShouldNotify(ctx, report.PlayerID, condition, injuryDedupWindow) {
			metrics.RecordDedupSuppressed("injury")
			continue
		}

		priority, ok := injuryPriority[status]
		if !ok {
			priority = 3
		}

		published := 0
		for _, ownerID := range report.OwnerIDs {
			_, err := m.notifier.Publish(ctx, Alert{
				UserID:   ownerID,
				Type:     db.TypeInjuryUpdate,
				Priority: priority,
				Title:    fmt.Sprintf("%s is %s", report.PlayerName, status),
				Message:  report.Detail,
				Payload: mustPayload(map[string]string{
					"player_id": report.PlayerID,
					"team":      report.Team,
					"status":    status,
				}),
			})
			if err != nil {
				m.logger.Error("failed to publish injury alert",
					zap.String("player_id", report.PlayerID),
					zap.String("user_id", ownerID.String()),
					zap.Error(err),
				)
				continue
			}
			published++
		}

		// Record only once someone was actually notified, so a wholly
		// failed fan-out retries on the next run.
		if published > 0 {
			m.guard.Record(ctx, report.PlayerID, condition, injuryDedupWindow)
		}
	}
	return nil
}
