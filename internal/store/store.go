package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duke-git/lancet/v2/cryptor"
	"github.com/duke-git/lancet/v2/slice"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"yqhp/work-queue/pkg/logger"
	"yqhp/work-queue/pkg/types"
)

const journalTimeout = 5 * time.Second

// Options configures a Store.
type Options struct {
	// RetryLimit is the number of retries allowed after the first failure.
	RetryLimit int
	Backoff    Backoff
	Journal    Journal
	Clock      clockwork.Clock
	Logger     *zap.Logger
}

// Store owns every task record and enforces legal state transitions.
// Reads and Submit are safe from any goroutine.
type Store struct {
	mu     sync.RWMutex
	tasks  map[uint64]*types.Task
	nextID uint64

	retryLimit int
	backoff    Backoff
	journal    Journal
	clock      clockwork.Clock
	logger     *zap.Logger

	notify chan struct{}

	submitted atomic.Int64
	requeued  atomic.Int64
}

// New creates an empty store.
func New(opts Options) *Store {
	if opts.Journal == nil {
		opts.Journal = nopJournal{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.RetryLimit < 0 {
		opts.RetryLimit = 0
	}
	return &Store{
		tasks:      make(map[uint64]*types.Task),
		nextID:     1,
		retryLimit: opts.RetryLimit,
		backoff:    opts.Backoff,
		journal:    opts.Journal,
		clock:      opts.Clock,
		logger:     logger.Named(opts.Logger, "store"),
		notify:     make(chan struct{}, 1),
	}
}

// Notify is signalled after a successful Submit.
func (s *Store) Notify() <-chan struct{} {
	return s.notify
}

// RetryLimit returns the default retry limit.
func (s *Store) RetryLimit() int {
	return s.retryLimit
}

// Checksum returns the SHA-1 of a task's command and payload.
func Checksum(t *types.Task) string {
	return cryptor.Sha1(t.Command + "\x00" + t.Payload)
}

// Submit validates the task and stores a copy of it as waiting.
func (s *Store) Submit(task *types.Task) (uint64, error) {
	if err := validate(task); err != nil {
		return 0, err
	}

	t, err := cloneTask(task)
	if err != nil {
		return 0, fmt.Errorf("copy task: %w", err)
	}
	if t.Kind == "" {
		t.Kind = types.TaskKindShell
	}
	t.State = types.TaskStateWaiting
	t.WorkerID = ""
	t.Result = nil
	t.Failures = 0
	t.LastError = ""
	t.Checksum = Checksum(t)
	t.SubmittedAt = s.clock.Now()
	t.StartedAt = time.Time{}
	t.FinishedAt = time.Time{}
	t.RetryAt = time.Time{}

	s.mu.Lock()
	t.ID = s.nextID
	s.nextID++
	s.tasks[t.ID] = t
	s.record(t)
	s.mu.Unlock()

	s.submitted.Add(1)
	select {
	case s.notify <- struct{}{}:
	default:
	}

	return t.ID, nil
}

func validate(t *types.Task) error {
	if t == nil {
		return fmt.Errorf("%w: task is nil", types.ErrInvalidTask)
	}
	switch t.Kind {
	case "", types.TaskKindShell:
		if strings.TrimSpace(t.Command) == "" {
			return fmt.Errorf("%w: command is required", types.ErrInvalidTask)
		}
	case types.TaskKindScript:
		if strings.TrimSpace(t.Payload) == "" && strings.TrimSpace(t.Command) == "" {
			return fmt.Errorf("%w: script payload is required", types.ErrInvalidTask)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", types.ErrInvalidTask, t.Kind)
	}
	if t.Resources.IsNegative() {
		return fmt.Errorf("%w: negative resources %s", types.ErrInvalidTask, t.Resources)
	}
	if t.MaxRetries != nil && *t.MaxRetries < 0 {
		return fmt.Errorf("%w: negative max_retries", types.ErrInvalidTask)
	}
	if t.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", types.ErrInvalidTask)
	}
	return nil
}

// Get returns a copy of the task.
func (s *Store) Get(id uint64) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, types.ErrNotFound)
	}
	return cloneTask(t)
}

// MarkRunning moves a waiting or retrying task to running on workerID.
func (s *Store) MarkRunning(id uint64, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.transition(id, types.TaskStateRunning, types.TaskStateWaiting, types.TaskStateRetrying)
	if err != nil {
		return err
	}
	t.WorkerID = workerID
	t.StartedAt = s.clock.Now()
	t.RetryAt = time.Time{}
	s.record(t)
	return nil
}

// MarkDone records a successful result.
func (s *Store) MarkDone(id uint64, result *types.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.transition(id, types.TaskStateDone, types.TaskStateRunning)
	if err != nil {
		return err
	}
	t.Result = result
	t.FinishedAt = s.clock.Now()
	s.record(t)
	return nil
}

// MarkFailed counts a failed execution. The task goes to retrying while its
// failure count stays within the retry limit, otherwise it fails permanently
// and a *types.TaskError wrapping ErrRetryLimitExceeded is returned.
func (s *Store) MarkFailed(id uint64, result *types.Result) (types.TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return "", fmt.Errorf("task %d: %w", id, types.ErrNotFound)
	}
	if t.State != types.TaskStateRunning {
		return t.State, fmt.Errorf("task %d %s -> failed: %w", id, t.State, types.ErrInvalidTransition)
	}

	now := s.clock.Now()
	t.Failures++
	t.LastError = result.Reason()
	t.Result = result

	if t.Failures <= s.limitFor(t) {
		t.State = types.TaskStateRetrying
		t.WorkerID = ""
		t.RetryAt = now.Add(s.backoff.Delay(t.Failures))
		s.record(t)
		return t.State, nil
	}

	t.State = types.TaskStateFailed
	t.FinishedAt = now
	s.record(t)
	return t.State, &types.TaskError{TaskID: id, Err: types.ErrRetryLimitExceeded}
}

// Requeue returns a running task to waiting without counting a failure.
func (s *Store) Requeue(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.transition(id, types.TaskStateWaiting, types.TaskStateRunning)
	if err != nil {
		return err
	}
	t.WorkerID = ""
	t.StartedAt = time.Time{}
	s.requeued.Add(1)
	s.record(t)
	return nil
}

// Remove deletes a task and returns its last state.
func (s *Store) Remove(id uint64) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, types.ErrNotFound)
	}
	delete(s.tasks, id)

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := s.journal.Delete(ctx, id); err != nil {
		s.logger.Warn("journal delete failed", zap.Uint64("task_id", id), zap.Error(err))
	}
	return t, nil
}

// Pending returns waiting tasks and retrying tasks whose backoff has elapsed
// at now, in submission order.
func (s *Store) Pending(now time.Time) []*types.Task {
	return s.collect(func(t *types.Task) bool {
		switch t.State {
		case types.TaskStateWaiting:
			return true
		case types.TaskStateRetrying:
			return !t.RetryAt.After(now)
		}
		return false
	})
}

// Running returns the running tasks in submission order.
func (s *Store) Running() []*types.Task {
	return s.collect(func(t *types.Task) bool { return t.State == types.TaskStateRunning })
}

// List returns the tasks matching filter in submission order.
func (s *Store) List(filter *types.TaskFilter) []*types.Task {
	return s.collect(filter.Matches)
}

// NextRetry returns the earliest RetryAt among retrying tasks.
func (s *Store) NextRetry() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var next time.Time
	for _, t := range s.tasks {
		if t.State == types.TaskStateRetrying && (next.IsZero() || t.RetryAt.Before(next)) {
			next = t.RetryAt
		}
	}
	return next, !next.IsZero()
}

// Counts returns the number of tasks per state.
func (s *Store) Counts() types.Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := make(types.Counts, 5)
	for _, t := range s.tasks {
		c[t.State]++
	}
	return c
}

// Drained reports whether no task is waiting, running or retrying.
func (s *Store) Drained() bool {
	return s.Counts().Active() == 0
}

// Len returns the number of stored tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Submitted returns the number of accepted submissions.
func (s *Store) Submitted() int64 { return s.submitted.Load() }

// Requeued returns how many times running tasks went back to waiting.
func (s *Store) Requeued() int64 { return s.requeued.Load() }

// Restore reloads tasks from the journal. Tasks recorded as running lost
// their worker with the previous master and come back as waiting.
func (s *Store) Restore(ctx context.Context) (int, error) {
	tasks, err := s.journal.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load journal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tasks {
		if !t.State.IsValid() {
			s.logger.Warn("skipping journal record with unknown state",
				zap.Uint64("task_id", t.ID), zap.String("state", string(t.State)))
			continue
		}
		if t.State == types.TaskStateRunning {
			t.State = types.TaskStateWaiting
			t.WorkerID = ""
			t.StartedAt = time.Time{}
			s.record(t)
		}
		s.tasks[t.ID] = t
		if t.ID >= s.nextID {
			s.nextID = t.ID + 1
		}
	}

	if len(tasks) > 0 {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	return len(tasks), nil
}

// Close closes the journal.
func (s *Store) Close() error {
	return s.journal.Close()
}

func (s *Store) limitFor(t *types.Task) int {
	if t.MaxRetries != nil {
		return *t.MaxRetries
	}
	return s.retryLimit
}

// transition must be called with s.mu held.
func (s *Store) transition(id uint64, to types.TaskState, from ...types.TaskState) (*types.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, types.ErrNotFound)
	}
	for _, f := range from {
		if t.State == f {
			t.State = to
			return t, nil
		}
	}
	return nil, fmt.Errorf("task %d %s -> %s: %w", id, t.State, to, types.ErrInvalidTransition)
}

func (s *Store) collect(keep func(*types.Task) bool) []*types.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Task, 0)
	for _, t := range s.tasks {
		if !keep(t) {
			continue
		}
		cp, err := cloneTask(t)
		if err != nil {
			s.logger.Error("copy task failed", zap.Uint64("task_id", t.ID), zap.Error(err))
			continue
		}
		out = append(out, cp)
	}
	slice.SortBy(out, func(a, b *types.Task) bool { return a.ID < b.ID })
	return out
}

// record must be called with s.mu held so journal writes keep transition order.
func (s *Store) record(t *types.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := s.journal.Record(ctx, t); err != nil {
		s.logger.Warn("journal record failed",
			zap.Uint64("task_id", t.ID), zap.String("state", string(t.State)), zap.Error(err))
	}
}
