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

// UpcomingGame is one scheduled game.
type UpcomingGame struct {
	GameID  string
	Kickoff time.Time
	Matchup string // e.g. "DAL @ PHI"
}

// GameSchedule provides kickoff times and the users with unlocked
// starters in a given game.
type GameSchedule interface {
	GamesWithin(ctx context.Context, from, until time.Time) ([]UpcomingGame, error)
	UsersWithStartersIn(ctx context.Context, gameID string) ([]uuid.UUID, error)
}

const (
	// The monitor runs on a short cadence but only acts when kickoffs
	// fall inside this horizon; the gating is internal, not the
	// scheduler's.
	kickoffHorizon = 2 * time.Hour

	lineupDedupWindow = 3 * time.Hour
)

// LineupReminder nudges users with starters in games about to kick off.
type LineupReminder struct {
	schedule GameSchedule
	notifier *Notifier
	guard    *dedup.Guard
	logger   *zap.Logger
	now      func() time.Time
}

func NewLineupReminder(schedule GameSchedule, notifier *Notifier, guard *dedup.Guard, logger *zap.Logger) *LineupReminder {
	return &LineupReminder{
		schedule: schedule,
		notifier: notifier,
		guard:    guard,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *LineupReminder) Run(ctx context.Context) error {
	now := m.now()
	games, err := m.schedule.GamesWithin(ctx, now, now.Add(kickoffHorizon))
	if err != nil {
		return fmt.Errorf("fetch upcoming games: %w", err)
	}
	if len(games) == 0 {
		return nil
	}

	for _, game := range games {
		users, err := m.schedule.UsersWithStartersIn(ctx, game.GameID)
		if err != nil {
			m.logger.Error("failed to list users for game",
				zap.String("game_id", game.GameID),
				zap.Error(err),
			)
			continue
		}

		for _, userID := range users {
			// One reminder per (user, game); the window outlives the
			// kickoff horizon so repeat runs stay quiet.
			condition := "lineup_reminder:" + game.GameID
			subject := userID.String()
			if !m.guard.ShouldNotify(ctx, subject, condition, lineupDedupWindow) {
				metrics.RecordDedupSuppressed("lineup")
				continue
			}

			minutes := int(game.Kickoff.Sub(now).Minutes())
			_, err := m.notifier.Publish(ctx, Alert{
				UserID:   userID,
				Type:     db.TypeLineupRemind,
				Priority: 4,
				Title:    fmt.Sprintf("Lineup check: %s kicks off soon", game.Matchup),
				Message:  fmt.Sprintf("%s starts in about %d minutes and you still have starters to confirm.", game.Matchup, minutes),
				Payload: mustPayload(map[string]string{
					"game_id": game.GameID,
					"kickoff": game.Kickoff.UTC().Format(time.RFC3339),
				}),
			})
			if err != nil {
				m.logger.Error("failed to publish lineup reminder",
					zap.String("game_id", game.GameID),
					zap.String("user_id", subject),
					zap.Error(err),
				)
				continue
			}
			m.guard.Record(ctx, subject, condition, lineupDedupWindow)
		}
	}
	return nil
}
