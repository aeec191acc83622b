package master

import (
	"time"

	"yqhp/work-queue/pkg/types"
)

// WorkerRegistry tracks connected workers and the capacity assigned on them.
type WorkerRegistry interface {
	// Register adds a worker. Duplicate ids and empty capacity are rejected.
	Register(worker *types.WorkerInfo) error

	// Heartbeat refreshes a worker's liveness.
	Heartbeat(workerID string) error

	// Deregister removes a worker and returns the tasks it was running.
	Deregister(workerID string) ([]uint64, error)

	// EvictStale deregisters every worker silent for longer than the heartbeat timeout.
	EvictStale(now time.Time) []Eviction

	// Assign books a task's resources on a worker.
	Assign(workerID string, taskID uint64, res types.Resources) error

	// Release frees a task's resources. It reports whether the task was assigned there.
	Release(workerID string, taskID uint64) bool

	// Available returns snapshots of workers with free capacity in registration order.
	Available() []*types.WorkerSnapshot

	Get(workerID string) (*types.WorkerSnapshot, error)
	List() []*types.WorkerSnapshot
	Assignments() []types.Assignment
	Count() int
}

// Scheduler picks task/worker pairs from a snapshot.
type Scheduler interface {
	// NextAssignment returns one task that fits on one worker, or false when
	// no pending task fits any worker's remaining capacity.
	NextAssignment(pending []*types.Task, available []*types.WorkerSnapshot) (*types.Assignment, bool)

	// Plan returns every assignment for one cycle without overcommitting any worker.
	Plan(pending []*types.Task, available []*types.WorkerSnapshot) []*types.Assignment
}

// Eviction describes a worker removed for missing heartbeats.
type Eviction struct {
	WorkerID string
	LastSeen time.Time
	Tasks    []uint64
}
