package dispatch

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"yqhp/work-queue/internal/executor"
	"yqhp/work-queue/pkg/logger"
	"yqhp/work-queue/pkg/types"
)

// LocalConfig configures the in-process transport.
type LocalConfig struct {
	// HeartbeatInterval is how often each worker reports liveness. Zero disables heartbeats.
	HeartbeatInterval time.Duration

	Executors *executor.Registry
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

type localWorker struct {
	info   types.WorkerInfo
	ctx    context.Context
	cancel context.CancelFunc
}

// Local runs workers as goroutines of the master process.
type Local struct {
	config *LocalConfig
	events *EventBuffer
	pool   *ants.Pool
	logger *zap.Logger

	workers map[string]*localWorker
	closed  bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// NewLocal creates an in-process transport with no workers.
func NewLocal(cfg *LocalConfig) (*Local, error) {
	if cfg == nil {
		cfg = &LocalConfig{}
	}
	if cfg.Executors == nil {
		cfg.Executors = executor.DefaultRegistry(executor.DefaultOutputLimit)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	pool, err := ants.NewPool(-1, ants.WithPanicHandler(func(p any) {
		logger.Named(cfg.Logger, "dispatch").Error("task goroutine panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create task pool: %w", err)
	}

	return &Local{
		config:  cfg,
		events:  NewEventBuffer(),
		pool:    pool,
		logger:  logger.Named(cfg.Logger, "dispatch").With(zap.String("transport", "local")),
		workers: make(map[string]*localWorker),
	}, nil
}

// AddWorker starts a worker and announces it to the master.
func (l *Local) AddWorker(info types.WorkerInfo) error {
	if info.ID == "" {
		return fmt.Errorf("worker ID cannot be empty")
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("transport closed")
	}
	if _, exists := l.workers[info.ID]; exists {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrDuplicateWorker, info.ID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &localWorker{info: info, ctx: ctx, cancel: cancel}
	l.workers[info.ID] = w
	l.mu.Unlock()

	l.events.Push(&types.Event{
		Type:     types.EventWorkerRegistered,
		WorkerID: info.ID,
		Worker:   &w.info,
		At:       l.config.Clock.Now(),
	})

	if l.config.HeartbeatInterval > 0 {
		l.wg.Add(1)
		go l.heartbeatLoop(w)
	}

	l.logger.Debug("local worker started", zap.String("worker_id", info.ID), zap.String("capacity", info.Capacity.String()))
	return nil
}

// RemoveWorker stops a worker. Its running tasks are abandoned and the
// master is told the worker disconnected.
func (l *Local) RemoveWorker(workerID string) error {
	l.mu.Lock()
	w, ok := l.workers[workerID]
	if ok {
		delete(l.workers, workerID)
	}
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownWorker, workerID)
	}
	w.cancel()

	l.events.Push(&types.Event{
		Type:     types.EventWorkerDisconnected,
		WorkerID: workerID,
		At:       l.config.Clock.Now(),
	})
	return nil
}

// Disconnect stops a worker the master evicted.
func (l *Local) Disconnect(workerID string) error {
	return l.RemoveWorker(workerID)
}

// Workers returns the ids of running workers.
func (l *Local) Workers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.workers))
	for id := range l.workers {
		ids = append(ids, id)
	}
	return ids
}

// Send runs the task on the worker's goroutine pool.
func (l *Local) Send(_ context.Context, workerID string, task *types.Task) error {
	l.mu.RLock()
	w, ok := l.workers[workerID]
	l.mu.RUnlock()

	if !ok || w.ctx.Err() != nil {
		return fmt.Errorf("%w: %s", types.ErrUnreachable, workerID)
	}

	err := l.pool.Submit(func() {
		res := executor.Run(w.ctx, l.config.Executors, task)
		if w.ctx.Err() != nil {
			// worker stopped, the master has requeued the task
			return
		}
		res.WorkerID = workerID
		l.events.Push(&types.Event{
			Type:     types.EventTaskResult,
			WorkerID: workerID,
			TaskID:   task.ID,
			Result:   res,
			At:       l.config.Clock.Now(),
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrUnreachable, workerID, err)
	}
	return nil
}

// Poll drains the events reported by local workers since the last call.
func (l *Local) Poll() iter.Seq[*types.Event] {
	return l.events.Drain()
}

// Ready is signalled when a local worker reports an event.
func (l *Local) Ready() <-chan struct{} {
	return l.events.Ready()
}

// Close stops every worker and waits for running tasks to return.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for id, w := range l.workers {
		w.cancel()
		delete(l.workers, id)
	}
	l.mu.Unlock()

	l.wg.Wait()
	return l.pool.ReleaseTimeout(5 * time.Second)
}

func (l *Local) heartbeatLoop(w *localWorker) {
	defer l.wg.Done()

	ticker := l.config.Clock.NewTicker(l.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.Chan():
			l.events.Push(&types.Event{
				Type:     types.EventHeartbeat,
				WorkerID: w.info.ID,
				At:       l.config.Clock.Now(),
			})
		}
	}
}
