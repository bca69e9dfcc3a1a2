package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
	"github.com/gridironhq/huddle/internal/dedup"
	"github.com/gridironhq/huddle/internal/metrics"
)

// RosterMove is one roster transaction in a league the user plays in.
type RosterMove struct {
	EventID    string // stable transaction identifier from the platform
	UserID     uuid.UUID
	League     string
	PlayerID   string
	PlayerName string
	Action     string // "added", "dropped", "traded"
	Detail     string
}

// RosterSource provides recent roster transactions. Fetching and parsing
// platform data happens behind this interface.
type RosterSource interface {
	RecentMoves(ctx context.Context) ([]RosterMove, error)
}

const rosterDedupWindow = 24 * time.Hour

// RosterMonitor alerts users about roster transactions in their leagues.
type RosterMonitor struct {
	source   RosterSource
	notifier *Notifier
	guard    *dedup.Guard
	logger   *zap.Logger
}

func NewRosterMonitor(source RosterSource, notifier *Notifier, guard *dedup.Guard, logger *zap.Logger) *RosterMonitor {
	return &RosterMonitor{
		source:   source,
		notifier: notifier,
		guard:    guard,
		logger:   logger,
	}
}

// Run fetches recent moves and publishes one alert per unseen move. A
// failure on one move never blocks the rest.
func (m *RosterMonitor) Run(ctx context.Context) error {
	moves, err := m.source.RecentMoves(ctx)
	if err != nil {
		return fmt.Errorf("fetch roster moves: %w", err)
	}

	for _, move := range moves {
		condition := "roster_move:" + move.EventID
		if !m.guard.ShouldNotify(ctx, move.PlayerID, condition, rosterDedupWindow) {
			metrics.RecordDedupSuppressed("roster")
			continue
		}

		_, err := m.notifier.Publish(ctx, Alert{
			UserID:   move.UserID,
			Type:     db.TypeRosterMove,
			Priority: 2,
			Title:    fmt.Sprintf("%s %s in %s", move.PlayerName, move.Action, move.League),
			Message:  move.Detail,
			Payload: mustPayload(map[string]string{
				"event_id":  move.EventID,
				"league":    move.League,
				"player_id": move.PlayerID,
				"action":    move.Action,
			}),
		})
		if err != nil {
			m.logger.Error("failed to publish roster alert",
				zap.String("event_id", move.EventID),
				zap.Error(err),
			)
			continue
		}
		m.guard.Record(ctx, move.PlayerID, condition, rosterDedupWindow)
	}
	return nil
}
