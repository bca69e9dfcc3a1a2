// Package scheduler runs N independent monitor loops, each on its own
// cadence. Tasks never block each other; a crashing task cools down and
// retries without touching its siblings.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/metrics"
)

// ErrUnknownTask is returned by Trigger when no task with the given
// name is registered.
var ErrUnknownTask = errors.New("unknown task")

// Task is one independently scheduled unit of work. Run receives a
// context that is not cancelled by Stop: shutdown is cooperative at
// sleep boundaries, never mid-execution.
type Task struct {
	Name     string
	Interval time.Duration
	Enabled  bool
	Run      func(ctx context.Context) error
}

// TaskStatus is the observable state of one task.
type TaskStatus struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Enabled  bool          `json:"enabled"`
	Alive    bool          `json:"alive"`
	LastRun  time.Time     `json:"last_run"`
	Failures int           `json:"consecutive_failures"`
}

const (
	defaultSleepSlice  = 10 * time.Second
	defaultCooldown    = 60 * time.Second
	defaultJoinTimeout = 30 * time.Second
)

// Scheduler owns the task units. Construct one at the composition root
// and pass the handle around; there is no package-level instance.
type Scheduler struct {
	mu      sync.Mutex
	units   []*taskUnit
	byName  map[string]*taskUnit
	logger  *zap.Logger
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// Overridable in tests.
	sleepSlice  time.Duration
	cooldown    time.Duration
	joinTimeout time.Duration
}

type taskUnit struct {
	task Task

	mu       sync.Mutex
	alive    bool
	lastRun  time.Time
	failures int
}

// New creates an empty scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		byName:      make(map[string]*taskUnit),
		logger:      logger,
		sleepSlice:  defaultSleepSlice,
		cooldown:    defaultCooldown,
		joinTimeout: defaultJoinTimeout,
	}
}

// Register adds a task. Must be called before Start.
func (s *Scheduler) Register(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("cannot register %q while running", task.Name)
	}
	if _, exists := s.byName[task.Name]; exists {
		return fmt.Errorf("task %q already registered", task.Name)
	}
	if task.Run == nil {
		return fmt.Errorf("task %q has no run function", task.Name)
	}

	u := &taskUnit{task: task}
	s.units = append(s.units, u)
	s.byName[task.Name] = u
	return nil
}

// Start spawns one goroutine per enabled task. Each unit executes
// immediately, then sleeps its interval in interruptible slices.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	started := 0
	for _, u := range s.units {
		if !u.task.Enabled {
			continue
		}
		u.setAlive(true)
		s.wg.Add(1)
		go s.runUnit(u, s.stopCh)
		started++
	}

	s.logger.Info("scheduler started",
		zap.Int("tasks", started),
		zap.Int("registered", len(s.units)),
	)
}

// Stop signals every unit and joins them with a bounded timeout. Units
// that miss the deadline are reported, not killed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-time.After(s.joinTimeout):
		for _, u := range s.units {
			if u.status().Alive {
				s.logger.Warn("task did not stop within timeout",
					zap.String("task", u.task.Name),
				)
			}
		}
	}
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the state of every registered task.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]TaskStatus, 0, len(s.units))
	for _, u := range s.units {
		statuses = append(statuses, u.status())
	}
	return statuses
}

// Trigger runs one task synchronously outside its cadence. The run
// completes even if Stop is called meanwhile, and its failure is
// isolated exactly like a scheduled run's.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	u, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}

	s.logger.Info("task triggered manually", zap.String("task", name))
	return s.execute(u)
}

func (s *Scheduler) runUnit(u *taskUnit, stopCh chan struct{}) {
	defer s.wg.Done()
	defer u.setAlive(false)

	s.logger.Info("task unit started",
		zap.String("task", u.task.Name),
		zap.Duration("interval", u.task.Interval),
	)

	for {
		err := s.execute(u)

		delay := u.task.Interval
		if err != nil {
			// Fixed cooldown keeps a crash-looping task from spinning.
			delay = s.cooldown
		}
		if !s.sleep(delay, stopCh) {
			s.logger.Info("task unit stopped", zap.String("task", u.task.Name))
			return
		}
	}
}

// execute runs the task once with panic isolation and bookkeeping.
func (s *Scheduler) execute(u *taskUnit) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", u.task.Name, r)
		}
		result := "ok"
		if err != nil {
			result = "error"
			s.logger.Error("task execution failed",
				zap.String("task", u.task.Name),
				zap.Error(err),
			)
		}
		metrics.RecordTaskRun(u.task.Name, result, time.Since(start))
		u.finish(start, err)
	}()

	return u.task.Run(context.Background())
}

// sleep waits for d in slices so Stop takes effect within one slice.
// Returns false when the stop signal fired.
func (s *Scheduler) sleep(d time.Duration, stopCh chan struct{}) bool {
	for d > 0 {
		slice := d
		if slice > s.sleepSlice {
			slice = s.sleepSlice
		}
		timer := time.NewTimer(slice)
		select {
		case <-stopCh:
			timer.Stop()
			return false
		case <-timer.C:
		}
		d -= slice
	}
	return true
}

func (u *taskUnit) setAlive(alive bool) {
	u.mu.Lock()
	u.alive = alive
	u.mu.Unlock()
}

func (u *taskUnit) finish(ranAt time.Time, err error) {
	u.mu.Lock()
	u.lastRun = ranAt
	if err != nil {
		u.failures++
	} else {
		u.failures = 0
	}
	u.mu.Unlock()
}

func (u *taskUnit) status() TaskStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	return TaskStatus{
		Name:     u.task.Name,
		Interval: u.task.Interval,
		Enabled:  u.task.Enabled,
		Alive:    u.alive,
		LastRun:  u.lastRun,
		Failures: u.failures,
	}
}
