package master

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"yqhp/work-queue/internal/dispatch"
	"yqhp/work-queue/internal/store"
	"yqhp/work-queue/pkg/logger"
	"yqhp/work-queue/pkg/types"
)

// Config holds the configuration for a master.
type Config struct {
	// ID is the unique identifier for this master.
	ID string

	// HeartbeatTimeout is how long a worker may stay silent before eviction.
	HeartbeatTimeout time.Duration

	// PollInterval bounds how long the loop sleeps without events.
	PollInterval time.Duration

	// ExitWhenDrained makes Run return once no task is waiting, running or retrying.
	ExitWhenDrained bool

	// CompletedBuffer is the capacity of the Completed channel.
	CompletedBuffer int

	Clock  clockwork.Clock
	Logger *zap.Logger
}

// DefaultConfig returns a default master configuration.
func DefaultConfig() *Config {
	return &Config{
		ID:               uuid.New().String(),
		HeartbeatTimeout: 30 * time.Second,
		PollInterval:     time.Second,
		ExitWhenDrained:  false,
		CompletedBuffer:  1024,
	}
}

// State represents the state of the master loop.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Summary describes what a Run accomplished.
type Summary struct {
	Cycles   int64
	Done     int
	Failed   int
	Requeued int64
	Evicted  int64
	Duration time.Duration
}

// Master owns the task store and worker registry and runs the dispatch loop.
// Every state transition happens on the goroutine running Run.
type Master struct {
	config    *Config
	store     *store.Store
	registry  *InMemoryWorkerRegistry
	scheduler Scheduler
	channel   dispatch.Channel
	stats     *runtimeStats
	logger    *zap.Logger
	clock     clockwork.Clock

	completed chan *types.Task
	wake      chan struct{}

	state   atomic.Value // State
	cycles  atomic.Int64
	evicted atomic.Int64

	failures *multierror.Error
	done     int
	failed   int

	// pending tasks already reported as larger than every worker
	unplaceable map[uint64]bool
}

// New creates a master. A nil scheduler selects the greedy scheduler.
func New(cfg *Config, st *store.Store, channel dispatch.Channel, scheduler Scheduler) *Master {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.CompletedBuffer <= 0 {
		cfg.CompletedBuffer = 1024
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if scheduler == nil {
		scheduler = NewGreedyScheduler()
	}

	m := &Master{
		config:    cfg,
		store:     st,
		registry:  NewInMemoryWorkerRegistry(cfg.HeartbeatTimeout, cfg.Clock),
		scheduler: scheduler,
		channel:   channel,
		stats:     newRuntimeStats(),
		logger:    logger.Named(cfg.Logger, "master").With(zap.String("master_id", cfg.ID)),
		clock:     cfg.Clock,
		completed: make(chan *types.Task, cfg.CompletedBuffer),
		wake:      make(chan struct{}, 1),
	}
	m.state.Store(StateIdle)
	return m
}

// ID returns the master id.
func (m *Master) ID() string { return m.config.ID }

// GetState returns the loop state.
func (m *Master) GetState() State { return m.state.Load().(State) }

// IsRunning reports whether Run is active.
func (m *Master) IsRunning() bool { return m.GetState() == StateRunning }

// Registry exposes the worker registry for read access.
func (m *Master) Registry() WorkerRegistry { return m.registry }

// Store exposes the task store.
func (m *Master) Store() *store.Store { return m.store }

// Submit stores a new task and wakes the loop.
func (m *Master) Submit(task *types.Task) (uint64, error) {
	return m.store.Submit(task)
}

// Get returns a copy of a task.
func (m *Master) Get(id uint64) (*types.Task, error) {
	return m.store.Get(id)
}

// List returns tasks matching filter.
func (m *Master) List(filter *types.TaskFilter) []*types.Task {
	return m.store.List(filter)
}

// Remove deletes a task. A running task keeps executing on its worker and
// keeps its capacity booked until the worker reports back or is lost; the
// result is then discarded.
func (m *Master) Remove(id uint64) (*types.Task, error) {
	t, err := m.store.Remove(id)
	if err != nil {
		return nil, err
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return t, nil
}

// Workers returns snapshots of the registered workers.
func (m *Master) Workers() []*types.WorkerSnapshot {
	return m.registry.List()
}

// Completed publishes every task that reached done or failed.
func (m *Master) Completed() <-chan *types.Task {
	return m.completed
}

// Wait returns the next completed task.
func (m *Master) Wait(ctx context.Context) (*types.Task, error) {
	select {
	case t := <-m.completed:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns queue statistics.
func (m *Master) Stats() *types.QueueStats {
	counts := m.store.Counts()
	capacity, load := m.registry.Totals()
	return &types.QueueStats{
		Waiting:    counts[types.TaskStateWaiting],
		Running:    counts[types.TaskStateRunning],
		Retrying:   counts[types.TaskStateRetrying],
		Done:       counts[types.TaskStateDone],
		Failed:     counts[types.TaskStateFailed],
		Submitted:  m.store.Submitted(),
		Requeued:   m.store.Requeued(),
		Evicted:    m.evicted.Load(),
		RetryLimit: m.store.RetryLimit(),
		Workers:    m.registry.Count(),
		Capacity:   capacity,
		Load:       load,
		Booked:     len(m.registry.Assignments()),
		Runtime:    m.stats.Snapshot(),
	}
}

// Run drives the dispatch loop until ctx is cancelled or, with
// ExitWhenDrained, until every task is done or failed. The returned error
// aggregates a *types.TaskError for each task that exhausted its retries.
func (m *Master) Run(ctx context.Context) (*Summary, error) {
	if !m.state.CompareAndSwap(StateIdle, StateRunning) {
		return nil, fmt.Errorf("master %s is %s", m.config.ID, m.GetState())
	}
	defer m.state.Store(StateStopped)

	start := m.clock.Now()
	m.logger.Info("master loop started",
		zap.Duration("heartbeat_timeout", m.config.HeartbeatTimeout),
		zap.Duration("poll_interval", m.config.PollInterval))

	var runErr error
	for {
		m.Cycle(ctx)

		if m.config.ExitWhenDrained && m.store.Drained() {
			m.logger.Info("all tasks finished", zap.Int("done", m.done), zap.Int("failed", m.failed))
			break
		}
		if err := m.waitForWork(ctx); err != nil {
			runErr = err
			break
		}
	}

	summary := &Summary{
		Cycles:   m.cycles.Load(),
		Done:     m.done,
		Failed:   m.failed,
		Requeued: m.store.Requeued(),
		Evicted:  m.evicted.Load(),
		Duration: m.clock.Since(start),
	}
	m.logger.Info("master loop stopped",
		zap.Int64("cycles", summary.Cycles),
		zap.Int("done", summary.Done),
		zap.Int("failed", summary.Failed))

	var result *multierror.Error
	if m.failures != nil {
		result = multierror.Append(result, m.failures.Errors...)
	}
	if runErr != nil {
		result = multierror.Append(result, runErr)
	}
	return summary, result.ErrorOrNil()
}

// Cycle runs one pass of the loop: drain events, evict stale workers, then
// schedule and send assignments.
func (m *Master) Cycle(ctx context.Context) {
	m.cycles.Add(1)

	for ev := range m.channel.Poll() {
		m.handleEvent(ev)
	}

	for _, ev := range m.registry.EvictStale(m.clock.Now()) {
		m.logger.Warn("evicting silent worker",
			zap.String("worker_id", ev.WorkerID),
			zap.Time("last_seen", ev.LastSeen),
			zap.Uint64s("tasks", ev.Tasks))
		m.evicted.Add(1)
		m.requeueAll(ev.Tasks)
		m.disconnect(ev.WorkerID)
	}

	m.schedule(ctx)
}

func (m *Master) waitForWork(ctx context.Context) error {
	wait := m.config.PollInterval
	if next, ok := m.store.NextRetry(); ok {
		if d := next.Sub(m.clock.Now()); d < wait {
			wait = max(d, 0)
		}
	}

	timer := m.clock.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.channel.Ready():
	case <-m.store.Notify():
	case <-m.wake:
	case <-timer.Chan():
	}
	return nil
}

func (m *Master) handleEvent(ev *types.Event) {
	switch ev.Type {
	case types.EventWorkerRegistered:
		m.onRegister(ev)
	case types.EventHeartbeat:
		if err := m.registry.Heartbeat(ev.WorkerID); err != nil {
			m.logger.Debug("ignoring heartbeat", zap.String("worker_id", ev.WorkerID), zap.Error(err))
		}
	case types.EventTaskResult:
		m.onResult(ev)
	case types.EventWorkerDisconnected:
		tasks, err := m.registry.Deregister(ev.WorkerID)
		if err != nil {
			m.logger.Debug("ignoring disconnect", zap.String("worker_id", ev.WorkerID), zap.Error(err))
			return
		}
		m.logger.Info("worker disconnected", zap.String("worker_id", ev.WorkerID), zap.Uint64s("tasks", tasks))
		m.requeueAll(tasks)
	default:
		m.logger.Warn("unknown event", zap.String("type", string(ev.Type)))
	}
}

func (m *Master) onRegister(ev *types.Event) {
	info := ev.Worker
	if info == nil {
		info = &types.WorkerInfo{ID: ev.WorkerID}
	}
	if err := m.registry.Register(info); err != nil {
		m.logger.Warn("worker registration rejected", zap.String("worker_id", info.ID), zap.Error(err))
		if !errors.Is(err, types.ErrDuplicateWorker) {
			m.disconnect(info.ID)
		}
		return
	}
	m.logger.Info("worker registered",
		zap.String("worker_id", info.ID),
		zap.String("capacity", info.Capacity.String()),
		zap.Strings("features", info.Features))
}

func (m *Master) onResult(ev *types.Event) {
	log := m.logger.With(zap.String("worker_id", ev.WorkerID), zap.Uint64("task_id", ev.TaskID))

	if err := m.registry.Heartbeat(ev.WorkerID); err != nil {
		log.Warn("ignoring result from unknown worker", zap.Error(err))
		return
	}
	if !m.registry.Release(ev.WorkerID, ev.TaskID) {
		log.Warn("ignoring result for a task not assigned to this worker")
		return
	}

	task, err := m.store.Get(ev.TaskID)
	if err != nil {
		log.Info("discarding result of removed task")
		return
	}
	if task.State != types.TaskStateRunning || task.WorkerID != ev.WorkerID {
		log.Warn("ignoring stale result", zap.String("state", string(task.State)))
		return
	}

	res := ev.Result
	if res == nil {
		res = &types.Result{WorkerID: ev.WorkerID, Error: "worker returned no result"}
	}
	if res.WorkerID == "" {
		res.WorkerID = ev.WorkerID
	}

	if res.Success() {
		if err := m.store.MarkDone(ev.TaskID, res); err != nil {
			log.Error("mark done failed", zap.Error(err))
			return
		}
		m.stats.Record(res.Duration)
		m.done++
		log.Info("task done", zap.Duration("duration", res.Duration))
		m.publish(ev.TaskID)
		return
	}

	state, err := m.store.MarkFailed(ev.TaskID, res)
	switch {
	case errors.Is(err, types.ErrRetryLimitExceeded):
		m.failed++
		m.failures = multierror.Append(m.failures, err)
		log.Error("task failed permanently", zap.String("reason", res.Reason()), zap.Error(err))
		m.publish(ev.TaskID)
	case err != nil:
		log.Error("mark failed failed", zap.Error(err))
	default:
		log.Warn("task failed, will retry", zap.String("reason", res.Reason()), zap.String("state", string(state)))
	}
}

func (m *Master) schedule(ctx context.Context) {
	pending := m.store.Pending(m.clock.Now())
	if len(pending) == 0 {
		return
	}
	m.warnUnplaceable(pending)

	available := m.registry.Available()
	if len(available) == 0 {
		return
	}

	byID := make(map[uint64]*types.Task, len(pending))
	for _, t := range pending {
		byID[t.ID] = t
	}

	for _, a := range m.scheduler.Plan(pending, available) {
		m.dispatch(ctx, byID[a.TaskID], a)
	}
}

// warnUnplaceable logs once for each pending task that no registered worker
// could hold even when idle.
func (m *Master) warnUnplaceable(pending []*types.Task) {
	workers := m.registry.List()
	if len(workers) == 0 {
		return
	}

	next := make(map[uint64]bool)
	for _, t := range pending {
		if slice.Some(workers, func(_ int, w *types.WorkerSnapshot) bool { return w.Info.Accepts(t) }) {
			continue
		}
		next[t.ID] = true
		if !m.unplaceable[t.ID] {
			m.logger.Warn("task exceeds every registered worker",
				zap.Uint64("task_id", t.ID),
				zap.String("resources", t.Resources.String()),
				zap.Strings("features", t.Features),
				zap.Int("workers", len(workers)))
		}
	}
	m.unplaceable = next
}

func (m *Master) dispatch(ctx context.Context, task *types.Task, a *types.Assignment) {
	log := m.logger.With(zap.Uint64("task_id", a.TaskID), zap.String("worker_id", a.WorkerID))

	if err := m.registry.Assign(a.WorkerID, a.TaskID, a.Resources); err != nil {
		// the worker went away earlier in this cycle
		log.Debug("assignment skipped", zap.Error(err))
		return
	}
	if err := m.store.MarkRunning(a.TaskID, a.WorkerID); err != nil {
		log.Error("mark running failed", zap.Error(err))
		m.registry.Release(a.WorkerID, a.TaskID)
		return
	}

	task.State = types.TaskStateRunning
	task.WorkerID = a.WorkerID
	task.StartedAt = m.clock.Now()

	err := m.channel.Send(ctx, a.WorkerID, task)
	switch {
	case err == nil:
		log.Debug("task dispatched", zap.String("resources", a.Resources.String()))
	case errors.Is(err, types.ErrUnreachable):
		log.Warn("worker unreachable, evicting", zap.Error(err))
		tasks, derr := m.registry.Deregister(a.WorkerID)
		if derr != nil {
			tasks = []uint64{a.TaskID}
			m.registry.Release(a.WorkerID, a.TaskID)
		}
		m.evicted.Add(1)
		m.requeueAll(tasks)
		m.disconnect(a.WorkerID)
	default:
		log.Error("send failed", zap.Error(err))
		m.registry.Release(a.WorkerID, a.TaskID)
		m.requeueAll([]uint64{a.TaskID})
	}
}

func (m *Master) requeueAll(ids []uint64) {
	for _, id := range ids {
		err := m.store.Requeue(id)
		switch {
		case err == nil:
			m.logger.Info("task requeued", zap.Uint64("task_id", id))
		case errors.Is(err, types.ErrNotFound):
		default:
			m.logger.Warn("requeue failed", zap.Uint64("task_id", id), zap.Error(err))
		}
	}
}

func (m *Master) disconnect(workerID string) {
	d, ok := m.channel.(dispatch.Disconnector)
	if !ok {
		return
	}
	if err := d.Disconnect(workerID); err != nil {
		m.logger.Debug("disconnect failed", zap.String("worker_id", workerID), zap.Error(err))
	}
}

func (m *Master) publish(id uint64) {
	t, err := m.store.Get(id)
	if err != nil {
		return
	}
	select {
	case m.completed <- t:
	default:
		m.logger.Warn("completed buffer full, dropping notification", zap.Uint64("task_id", id))
	}
}
