package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
	"github.com/gridironhq/huddle/internal/dispatch"
)

type outcomeCall struct {
	notificationID uuid.UUID
	channel        db.Channel
	success        bool
}

// fakeStore is an in-memory Store for processor tests. Claims are
// tracked behind the mutex so concurrent batches see the same
// pending-row gate the real store enforces.
type fakeStore struct {
	mu       sync.Mutex
	entries  []*db.QueueEntry
	notifs   map[uuid.UUID]*db.Notification
	prefs    map[uuid.UUID]*db.PreferencesSnapshot
	outcomes []outcomeCall
	claimed  map[uuid.UUID]bool

	failUpdate map[uuid.UUID]bool
	failClaim  map[uuid.UUID]bool
	afterFetch func() // runs at the end of DueEntries, outside the lock
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		notifs:     make(map[uuid.UUID]*db.Notification),
		prefs:      make(map[uuid.UUID]*db.PreferencesSnapshot),
		claimed:    make(map[uuid.UUID]bool),
		failUpdate: make(map[uuid.UUID]bool),
		failClaim:  make(map[uuid.UUID]bool),
	}
}

func (f *fakeStore) DueEntries(ctx context.Context, now time.Time, limit int) ([]*db.QueueEntry, error) {
	f.mu.Lock()
	var due []*db.QueueEntry
	for _, e := range f.entries {
		if e.Status == db.StatusPending && !f.claimed[e.ID] && !e.ScheduledAt.After(now) {
			due = append(due, e)
		}
	}
	f.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	if f.afterFetch != nil {
		f.afterFetch()
	}
	return due, nil
}

func (f *fakeStore) ClaimEntry(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failClaim[id] {
		return false, fmt.Errorf("claim entry: %w", db.ErrUnavailable)
	}
	if f.claimed[id] {
		return false, nil
	}
	f.claimed[id] = true
	return true, nil
}

func (f *fakeStore) UpdateEntry(ctx context.Context, entry *db.QueueEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate[entry.ID] {
		return fmt.Errorf("update entry: %w", db.ErrUnavailable)
	}
	// Writing the row back as pending makes it claimable again.
	if entry.Status == db.StatusPending {
		delete(f.claimed, entry.ID)
	}
	return nil
}

func (f *fakeStore) MarkOutcome(ctx context.Context, notificationID uuid.UUID, channel db.Channel, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcomeCall{notificationID, channel, success})
	return nil
}

func (f *fakeStore) GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error) {
	n, ok := f.notifs[id]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", id, db.ErrNotFound)
	}
	return n, nil
}

func (f *fakeStore) Preferences(ctx context.Context, userID uuid.UUID) (*db.PreferencesSnapshot, error) {
	p, ok := f.prefs[userID]
	if !ok {
		return nil, fmt.Errorf("preferences for user %s: %w", userID, db.ErrNotFound)
	}
	return p, nil
}

func (f *fakeStore) addNotification(userID uuid.UUID) *db.Notification {
	n := &db.Notification{
		ID:       uuid.New(),
		UserID:   userID,
		Type:     db.TypeBreakingNews,
		Priority: 3,
		Title:    "News",
		Message:  "Something happened",
	}
	f.notifs[n.ID] = n
	f.prefs[userID] = &db.PreferencesSnapshot{
		UserID:       userID,
		EmailAddress: "user@example.com",
		PhoneNumber:  "+15555550100",
		DeviceTokens: []string{"tok"},
	}
	return n
}

func (f *fakeStore) addEntry(notificationID uuid.UUID, ch db.Channel, scheduledAt time.Time) *db.QueueEntry {
	e := &db.QueueEntry{
		ID:             uuid.New(),
		NotificationID: notificationID,
		Channel:        ch,
		Status:         db.StatusPending,
		MaxRetries:     db.DefaultMaxRetries,
		ScheduledAt:    scheduledAt,
	}
	f.entries = append(f.entries, e)
	return e
}

// fakeDispatcher scripts results and records the order of sends.
type fakeDispatcher struct {
	results []dispatch.Result
	calls   int
	sent    []dispatch.Delivery
	panicOn int // 1-based call index that panics; 0 disables
}

func (f *fakeDispatcher) Send(ctx context.Context, d dispatch.Delivery) dispatch.Result {
	f.calls++
	if f.panicOn != 0 && f.calls == f.panicOn {
		panic("gateway exploded")
	}
	f.sent = append(f.sent, d)
	if len(f.results) == 0 {
		return dispatch.Result{Delivered: true}
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res
}

func newProcessor(store Store, disp Dispatcher, now time.Time) *Processor {
	p := New(store, disp, nil, Config{BatchSize: 50, RetryBackoff: 5 * time.Minute}, zap.NewNop())
	p.now = func() time.Time { return now }
	return p
}

func TestProcessor_SuccessfulDelivery(t *testing.T) {
	store := newFakeStore()
	notif := store.addNotification(uuid.New())
	entry := store.addEntry(notif.ID, db.ChannelEmail, time.Now().Add(-time.Minute))

	disp := &fakeDispatcher{}
	p := newProcessor(store, disp, time.Now())

	stats, err := p.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Sent != 1 || stats.Failed != 0 || stats.Retried != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if entry.Status != db.StatusSent {
		t.Errorf("expected status sent, got %s", entry.Status)
	}
	if entry.ProcessedAt == nil {
		t.Error("processed_at not set")
	}
	if len(store.outcomes) != 1 || !store.outcomes[0].success {
		t.Fatalf("expected one successful outcome, got %+v", store.outcomes)
	}
}

func TestProcessor_RetryThenDeadLetter(t *testing.T) {
	store := newFakeStore()
	notif := store.addNotification(uuid.New())
	entry := store.addEntry(notif.ID, db.ChannelPush, time.Now().Add(-time.Minute))

	disp := &fakeDispatcher{results: []dispatch.Result{
		{Retryable: true, Detail: "relay timeout"},
	}}

	now := time.Now()
	for attempt := 1; attempt <= db.DefaultMaxRetries; attempt++ {
		p := newProcessor(store, disp, now)
		if _, err := p.ProcessBatch(context.Background()); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if entry.RetryCount > entry.MaxRetries {
			t.Fatalf("retry_count %d exceeded max_retries %d", entry.RetryCount, entry.MaxRetries)
		}
		if attempt < db.DefaultMaxRetries {
			if entry.Status != db.StatusPending {
				t.Fatalf("attempt %d: expected pending, got %s", attempt, entry.Status)
			}
			want := now.Add(5 * time.Minute)
			if !entry.ScheduledAt.Equal(want) {
				t.Errorf("attempt %d: expected flat 5m backoff to %v, got %v", attempt, want, entry.ScheduledAt)
			}
			now = entry.ScheduledAt.Add(time.Second)
		}
	}

	if entry.Status != db.StatusFailed {
		t.Fatalf("expected failed after exhausting retries, got %s", entry.Status)
	}
	if len(store.outcomes) != 1 {
		t.Fatalf("mark_outcome must be called exactly once, got %d", len(store.outcomes))
	}
	if store.outcomes[0].success {
		t.Error("terminal outcome must be failure")
	}

	// Terminal entries never return to the due set.
	p := newProcessor(store, disp, now.Add(time.Hour))
	stats, _ := p.ProcessBatch(context.Background())
	if stats.Fetched != 0 {
		t.Errorf("failed entry fetched again: %+v", stats)
	}
}

func TestProcessor_PermanentFailureSkipsRetries(t *testing.T) {
	store := newFakeStore()
	notif := store.addNotification(uuid.New())
	entry := store.addEntry(notif.ID, db.ChannelSMS, time.Now().Add(-time.Minute))

	disp := &fakeDispatcher{results: []dispatch.Result{
		{Retryable: false, Detail: "number opted out"},
	}}
	p := newProcessor(store, disp, time.Now())

	stats, err := p.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("expected immediate dead-letter, got %+v", stats)
	}
	if entry.Status != db.StatusFailed {
		t.Errorf("expected failed, got %s", entry.Status)
	}
	if entry.RetryCount != 0 {
		t.Errorf("permanent failure must not consume retries, got %d", entry.RetryCount)
	}
	if len(store.outcomes) != 1 || store.outcomes[0].success {
		t.Fatalf("expected one failure outcome, got %+v", store.outcomes)
	}
}

func TestProcessor_MissingNotificationDeadLetters(t *testing.T) {
	store := newFakeStore()
	entry := store.addEntry(uuid.New(), db.ChannelEmail, time.Now().Add(-time.Minute))

	disp := &fakeDispatcher{}
	p := newProcessor(store, disp, time.Now())

	stats, err := p.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("expected dead-letter, got %+v", stats)
	}
	if entry.Status != db.StatusFailed {
		t.Errorf("expected failed, got %s", entry.Status)
	}
	if entry.ErrorMessage == nil || *entry.ErrorMessage != "notification not found" {
		t.Errorf("unexpected error message: %v", entry.ErrorMessage)
	}
	if disp.calls != 0 {
		t.Error("dispatcher must not be called for an orphaned entry")
	}
	if len(store.outcomes) != 0 {
		t.Error("no outcome flag to mark when the notification is gone")
	}
}

func TestProcessor_PanicIsolatedPerEntry(t *testing.T) {
	store := newFakeStore()
	n1 := store.addNotification(uuid.New())
	n2 := store.addNotification(uuid.New())
	store.addEntry(n1.ID, db.ChannelEmail, time.Now().Add(-2*time.Minute))
	e2 := store.addEntry(n2.ID, db.ChannelEmail, time.Now().Add(-time.Minute))

	disp := &fakeDispatcher{panicOn: 1}
	p := newProcessor(store, disp, time.Now())

	stats, err := p.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("batch must survive a per-entry panic: %v", err)
	}
	if stats.Sent != 1 {
		t.Fatalf("second entry should still deliver, got %+v", stats)
	}
	if e2.Status != db.StatusSent {
		t.Errorf("expected second entry sent, got %s", e2.Status)
	}
}

func TestProcessor_ProcessesOldestFirst(t *testing.T) {
	store := newFakeStore()
	base := time.Now().Add(-time.Hour)

	var wantOrder []string
	for _, offset := range []time.Duration{20 * time.Minute, 0, 10 * time.Minute} {
		n := store.addNotification(uuid.New())
		store.addEntry(n.ID, db.ChannelEmail, base.Add(offset))
		wantOrder = append(wantOrder, n.ID.String())
	}
	// Oldest scheduled first: offsets 0, 10m, 20m.
	wantOrder = []string{wantOrder[1], wantOrder[2], wantOrder[0]}

	disp := &fakeDispatcher{}
	p := newProcessor(store, disp, time.Now())
	if _, err := p.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(disp.sent) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(disp.sent))
	}
	for i, d := range disp.sent {
		if d.NotificationID != wantOrder[i] {
			t.Errorf("position %d: expected %s, got %s", i, wantOrder[i], d.NotificationID)
		}
	}
}

func TestProcessor_FutureEntriesNotDue(t *testing.T) {
	store := newFakeStore()
	notif := store.addNotification(uuid.New())
	entry := store.addEntry(notif.ID, db.ChannelEmail, time.Now().Add(time.Hour))

	disp := &fakeDispatcher{}
	p := newProcessor(store, disp, time.Now())

	stats, err := p.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Fetched != 0 {
		t.Fatalf("future entry fetched early: %+v", stats)
	}

	// Once the clock passes scheduled_at, exactly that entry becomes due.
	p = newProcessor(store, disp, entry.ScheduledAt.Add(time.Second))
	stats, _ = p.ProcessBatch(context.Background())
	if stats.Fetched != 1 || stats.Sent != 1 {
		t.Fatalf("expected the entry to become due, got %+v", stats)
	}
}

func TestProcessor_StoreErrorDoesNotAbortBatch(t *testing.T) {
	store := newFakeStore()
	n1 := store.addNotification(uuid.New())
	n2 := store.addNotification(uuid.New())
	e1 := store.addEntry(n1.ID, db.ChannelEmail, time.Now().Add(-2*time.Minute))
	store.addEntry(n2.ID, db.ChannelEmail, time.Now().Add(-time.Minute))
	store.failClaim[e1.ID] = true

	disp := &fakeDispatcher{}
	p := newProcessor(store, disp, time.Now())

	stats, err := p.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Sent != 1 {
		t.Fatalf("healthy entry should still deliver, got %+v", stats)
	}
}

// countingDispatcher is safe for use from concurrent batches.
type countingDispatcher struct {
	mu    sync.Mutex
	calls int
}

func (c *countingDispatcher) Send(ctx context.Context, d dispatch.Delivery) dispatch.Result {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return dispatch.Result{Delivered: true}
}

func TestProcessor_OverlappingBatchesDispatchOnce(t *testing.T) {
	store := newFakeStore()
	notif := store.addNotification(uuid.New())
	entry := store.addEntry(notif.ID, db.ChannelEmail, time.Now().Add(-time.Minute))

	// Hold both batches at the fetch so each sees the entry as pending
	// before either claims it. A scheduled drain overlapping a manual
	// trigger produces exactly this interleaving.
	var fetched sync.WaitGroup
	fetched.Add(2)
	store.afterFetch = func() {
		fetched.Done()
		fetched.Wait()
	}

	disp := &countingDispatcher{}
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := newProcessor(store, disp, time.Now())
			if _, err := p.ProcessBatch(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if disp.calls != 1 {
		t.Fatalf("entry dispatched %d times across overlapping batches, want 1", disp.calls)
	}
	if entry.Status != db.StatusSent {
		t.Errorf("expected sent, got %s", entry.Status)
	}
	if len(store.outcomes) != 1 || !store.outcomes[0].success {
		t.Fatalf("expected exactly one successful outcome, got %+v", store.outcomes)
	}
}

func TestProcessor_DueEntriesErrorSurfaces(t *testing.T) {
	disp := &fakeDispatcher{}
	p := newProcessor(erroringStore{}, disp, time.Now())

	if _, err := p.ProcessBatch(context.Background()); !errors.Is(err, db.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

type erroringStore struct{}

func (erroringStore) DueEntries(context.Context, time.Time, int) ([]*db.QueueEntry, error) {
	return nil, fmt.Errorf("due entries: %w", db.ErrUnavailable)
}
func (erroringStore) ClaimEntry(context.Context, uuid.UUID) (bool, error) {
	return false, fmt.Errorf("claim entry: %w", db.ErrUnavailable)
}
func (erroringStore) UpdateEntry(context.Context, *db.QueueEntry) error { return nil }
func (erroringStore) MarkOutcome(context.Context, uuid.UUID, db.Channel, bool) error {
	return nil
}
func (erroringStore) GetNotification(context.Context, uuid.UUID) (*db.Notification, error) {
	return nil, db.ErrNotFound
}
func (erroringStore) Preferences(context.Context, uuid.UUID) (*db.PreferencesSnapshot, error) {
	return nil, db.ErrNotFound
}
