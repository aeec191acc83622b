package master

import (
	"fmt"
	"sync"
	"time"

	"github.com/duke-git/lancet/v2/maputil"
	"github.com/duke-git/lancet/v2/slice"
	"github.com/jonboulle/clockwork"

	"yqhp/work-queue/pkg/types"
)

type workerEntry struct {
	info         types.WorkerInfo
	load         types.Resources
	tasks        map[uint64]types.Assignment
	registeredAt time.Time
	lastSeen     time.Time
	seq          uint64
}

func (e *workerEntry) snapshot() *types.WorkerSnapshot {
	info := e.info
	info.Features = append([]string(nil), e.info.Features...)
	if e.info.Labels != nil {
		info.Labels = make(map[string]string, len(e.info.Labels))
		for k, v := range e.info.Labels {
			info.Labels[k] = v
		}
	}

	return &types.WorkerSnapshot{
		Info:         info,
		Load:         e.load,
		Tasks:        e.taskIDs(),
		RegisteredAt: e.registeredAt,
		LastSeen:     e.lastSeen,
		Seq:          e.seq,
	}
}

func (e *workerEntry) taskIDs() []uint64 {
	ids := maputil.Keys(e.tasks)
	slice.Sort(ids)
	return ids
}

// InMemoryWorkerRegistry implements WorkerRegistry using in-memory storage.
type InMemoryWorkerRegistry struct {
	workers map[string]*workerEntry
	seq     uint64

	heartbeatTimeout time.Duration
	clock            clockwork.Clock

	mu sync.RWMutex
}

// NewInMemoryWorkerRegistry creates a registry that evicts workers silent for
// longer than heartbeatTimeout.
func NewInMemoryWorkerRegistry(heartbeatTimeout time.Duration, clock clockwork.Clock) *InMemoryWorkerRegistry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryWorkerRegistry{
		workers:          make(map[string]*workerEntry),
		heartbeatTimeout: heartbeatTimeout,
		clock:            clock,
	}
}

// Register registers a new worker.
func (r *InMemoryWorkerRegistry) Register(worker *types.WorkerInfo) error {
	if worker == nil {
		return fmt.Errorf("worker cannot be nil")
	}
	if worker.ID == "" {
		return fmt.Errorf("worker ID cannot be empty")
	}
	if worker.Capacity.Cores <= 0 || worker.Capacity.MemoryMB < 0 || worker.Capacity.DiskMB < 0 {
		return fmt.Errorf("worker %s: invalid capacity %s", worker.ID, worker.Capacity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[worker.ID]; exists {
		return fmt.Errorf("%w: %s", types.ErrDuplicateWorker, worker.ID)
	}

	now := r.clock.Now()
	r.seq++
	info := *worker
	info.Features = slice.Unique(append([]string(nil), worker.Features...))
	r.workers[worker.ID] = &workerEntry{
		info:         info,
		tasks:        make(map[uint64]types.Assignment),
		registeredAt: now,
		lastSeen:     now,
		seq:          r.seq,
	}
	return nil
}

// Heartbeat refreshes the worker's last-seen time.
func (r *InMemoryWorkerRegistry) Heartbeat(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownWorker, workerID)
	}
	w.lastSeen = r.clock.Now()
	return nil
}

// Deregister removes the worker and releases all its assignments.
func (r *InMemoryWorkerRegistry) Deregister(workerID string) ([]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownWorker, workerID)
	}
	delete(r.workers, workerID)
	return w.taskIDs(), nil
}

// EvictStale deregisters workers whose last heartbeat is older than the timeout.
func (r *InMemoryWorkerRegistry) EvictStale(now time.Time) []Eviction {
	if r.heartbeatTimeout <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Eviction
	for id, w := range r.workers {
		if now.Sub(w.lastSeen) <= r.heartbeatTimeout {
			continue
		}
		evicted = append(evicted, Eviction{
			WorkerID: id,
			LastSeen: w.lastSeen,
			Tasks:    w.taskIDs(),
		})
		delete(r.workers, id)
	}

	slice.SortBy(evicted, func(a, b Eviction) bool { return a.WorkerID < b.WorkerID })
	return evicted
}

// Assign books res on the worker for taskID.
func (r *InMemoryWorkerRegistry) Assign(workerID string, taskID uint64, res types.Resources) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownWorker, workerID)
	}
	if _, dup := w.tasks[taskID]; dup {
		return fmt.Errorf("task %d already assigned to %s", taskID, workerID)
	}
	load := w.load.Add(res)
	if !load.FitsIn(w.info.Capacity) {
		return fmt.Errorf("%w: %s needs %s, free %s", types.ErrCapacityExceeded, workerID, res, w.info.Capacity.Sub(w.load))
	}

	w.load = load
	w.tasks[taskID] = types.Assignment{
		TaskID:    taskID,
		WorkerID:  workerID,
		Resources: res,
		StartedAt: r.clock.Now(),
	}
	return nil
}

// Release frees the resources held by taskID on the worker.
func (r *InMemoryWorkerRegistry) Release(workerID string, taskID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return false
	}
	a, ok := w.tasks[taskID]
	if !ok {
		return false
	}
	delete(w.tasks, taskID)
	w.load = w.load.Sub(a.Resources)
	return true
}

// Available returns workers that are not overcommitted, in registration order.
func (r *InMemoryWorkerRegistry) Available() []*types.WorkerSnapshot {
	return slice.Filter(r.List(), func(_ int, w *types.WorkerSnapshot) bool {
		return !w.Free().IsNegative()
	})
}

// Get returns a snapshot of one worker.
func (r *InMemoryWorkerRegistry) Get(workerID string) (*types.WorkerSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[workerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownWorker, workerID)
	}
	return w.snapshot(), nil
}

// List returns snapshots of all workers in registration order.
func (r *InMemoryWorkerRegistry) List() []*types.WorkerSnapshot {
	r.mu.RLock()
	out := make([]*types.WorkerSnapshot, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.snapshot())
	}
	r.mu.RUnlock()

	slice.SortBy(out, func(a, b *types.WorkerSnapshot) bool { return a.Seq < b.Seq })
	return out
}

// Assignments returns every active assignment ordered by task id.
func (r *InMemoryWorkerRegistry) Assignments() []types.Assignment {
	r.mu.RLock()
	var out []types.Assignment
	for _, w := range r.workers {
		for _, a := range w.tasks {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()

	slice.SortBy(out, func(a, b types.Assignment) bool { return a.TaskID < b.TaskID })
	return out
}

// Count returns the number of registered workers.
func (r *InMemoryWorkerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// Totals returns the summed capacity and load of all workers.
func (r *InMemoryWorkerRegistry) Totals() (capacity, load types.Resources) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, w := range r.workers {
		capacity = capacity.Add(w.info.Capacity)
		load = load.Add(w.load)
	}
	return capacity, load
}
