package monitor

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
)

type fakeRosterSource struct {
	moves []RosterMove
	err   error
}

func (s *fakeRosterSource) RecentMoves(context.Context) ([]RosterMove, error) {
	return s.moves, s.err
}

type fakeWaiverSource struct {
	results []WaiverResult
	err     error
}

func (s *fakeWaiverSource) RecentResults(context.Context) ([]WaiverResult, error) {
	return s.results, s.err
}

func TestRosterMonitor_EachMoveNotifiesOnce(t *testing.T) {
	userID := uuid.New()
	store := &fakeStore{prefs: map[uuid.UUID]*db.PreferencesSnapshot{
		userID: allOnPrefs(userID),
	}}
	source := &fakeRosterSource{moves: []RosterMove{{
		EventID:    "txn-1001",
		UserID:     userID,
		League:     "Office League",
		PlayerID:   "player-33",
		PlayerName: "Backup TE",
		Action:     "added",
		Detail:     "Added off waivers for $4 FAAB.",
	}}}
	m := NewRosterMonitor(source, newTestNotifier(store), memGuard(), zap.NewNop())

	// The platform keeps returning the same recent transaction until it
	// ages out of the feed.
	for i := 0; i < 3; i++ {
		if err := m.Run(context.Background()); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}
	if len(store.created) != 1 {
		t.Fatalf("expected 1 notification for a repeated move, got %d", len(store.created))
	}
	if store.created[0].Type != db.TypeRosterMove {
		t.Fatalf("type = %s, want %s", store.created[0].Type, db.TypeRosterMove)
	}
}

func TestWaiverMonitor_WonAndLostClaims(t *testing.T) {
	userID := uuid.New()
	store := &fakeStore{prefs: map[uuid.UUID]*db.PreferencesSnapshot{
		userID: allOnPrefs(userID),
	}}
	source := &fakeWaiverSource{results: []WaiverResult{
		{ClaimID: "claim-1", UserID: userID, PlayerName: "WR3", Won: true, Detail: "Your $12 bid won."},
		{ClaimID: "claim-2", UserID: userID, PlayerName: "K2", Won: false, Detail: "Outbid at $7."},
	}}
	m := NewWaiverMonitor(source, newTestNotifier(store), memGuard(), zap.NewNop())

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(store.created) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(store.created))
	}

	// Reprocessing the same claims stays quiet.
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(store.created) != 2 {
		t.Fatalf("repeat claims must be suppressed, got %d", len(store.created))
	}
}
