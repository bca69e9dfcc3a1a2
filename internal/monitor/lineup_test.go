package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
)

type fakeSchedule struct {
	games    []UpcomingGame
	starters map[string][]uuid.UUID
}

func (s *fakeSchedule) GamesWithin(_ context.Context, from, until time.Time) ([]UpcomingGame, error) {
	var out []UpcomingGame
	for _, g := range s.games {
		if !g.Kickoff.Before(from) && !g.Kickoff.After(until) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *fakeSchedule) UsersWithStartersIn(_ context.Context, gameID string) ([]uuid.UUID, error) {
	return s.starters[gameID], nil
}

func TestLineupReminder_RemindsWithinHorizon(t *testing.T) {
	userID := uuid.New()
	store := &fakeStore{prefs: map[uuid.UUID]*db.PreferencesSnapshot{
		userID: allOnPrefs(userID),
	}}

	now := time.Date(2026, 9, 13, 11, 30, 0, 0, time.UTC)
	schedule := &fakeSchedule{
		games: []UpcomingGame{
			{GameID: "g1", Kickoff: now.Add(90 * time.Minute), Matchup: "DAL @ PHI"},
			{GameID: "g2", Kickoff: now.Add(6 * time.Hour), Matchup: "KC @ BUF"},
		},
		starters: map[string][]uuid.UUID{
			"g1": {userID},
			"g2": {userID},
		},
	}
	m := NewLineupReminder(schedule, newTestNotifier(store), memGuard(), zap.NewNop())
	m.now = func() time.Time { return now }

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// Only the game inside the 2h horizon triggers a reminder.
	if len(store.created) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(store.created))
	}
	if store.created[0].Type != db.TypeLineupRemind {
		t.Fatalf("type = %s, want %s", store.created[0].Type, db.TypeLineupRemind)
	}
	if store.created[0].Priority != 4 {
		t.Fatalf("reminders are time-sensitive, priority = %d, want 4", store.created[0].Priority)
	}
}

func TestLineupReminder_OneReminderPerUserPerGame(t *testing.T) {
	userID := uuid.New()
	store := &fakeStore{prefs: map[uuid.UUID]*db.PreferencesSnapshot{
		userID: allOnPrefs(userID),
	}}

	now := time.Date(2026, 9, 13, 11, 30, 0, 0, time.UTC)
	schedule := &fakeSchedule{
		games:    []UpcomingGame{{GameID: "g1", Kickoff: now.Add(time.Hour), Matchup: "DAL @ PHI"}},
		starters: map[string][]uuid.UUID{"g1": {userID}},
	}
	m := NewLineupReminder(schedule, newTestNotifier(store), memGuard(), zap.NewNop())
	m.now = func() time.Time { return now }

	// The monitor's cadence is much shorter than the horizon, so the
	// same game is seen on several consecutive runs.
	for i := 0; i < 3; i++ {
		if err := m.Run(context.Background()); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}
	if len(store.created) != 1 {
		t.Fatalf("expected exactly 1 reminder, got %d", len(store.created))
	}
}

func TestLineupReminder_DistinctUsersEachReminded(t *testing.T) {
	userA, userB := uuid.New(), uuid.New()
	store := &fakeStore{prefs: map[uuid.UUID]*db.PreferencesSnapshot{
		userA: allOnPrefs(userA),
		userB: allOnPrefs(userB),
	}}

	now := time.Date(2026, 9, 13, 11, 30, 0, 0, time.UTC)
	schedule := &fakeSchedule{
		games:    []UpcomingGame{{GameID: "g1", Kickoff: now.Add(time.Hour), Matchup: "DAL @ PHI"}},
		starters: map[string][]uuid.UUID{"g1": {userA, userB}},
	}
	m := NewLineupReminder(schedule, newTestNotifier(store), memGuard(), zap.NewNop())
	m.now = func() time.Time { return now }

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(store.created) != 2 {
		t.Fatalf("expected a reminder per user, got %d", len(store.created))
	}
}

func TestLineupReminder_NoGamesNoWork(t *testing.T) {
	store := &fakeStore{}
	m := NewLineupReminder(&fakeSchedule{}, newTestNotifier(store), memGuard(), zap.NewNop())

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(store.created) != 0 {
		t.Fatal("no upcoming games, no reminders")
	}
}
