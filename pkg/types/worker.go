package types

import (
	"time"

	"github.com/duke-git/lancet/v2/slice"
)

// WorkerInfo contains worker registration information.
type WorkerInfo struct {
	ID       string            `json:"id"`
	Address  string            `json:"address,omitempty"`
	Capacity Resources         `json:"capacity"`
	Features []string          `json:"features,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// WorkerSnapshot is a point-in-time view of a registered worker.
type WorkerSnapshot struct {
	Info         WorkerInfo `json:"info"`
	Load         Resources  `json:"load"`
	Tasks        []uint64   `json:"tasks"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastSeen     time.Time  `json:"last_seen"`

	// Seq orders workers by registration.
	Seq uint64 `json:"seq"`
}

// Accepts reports whether an idle worker could run t: the task fits its
// full capacity and every required feature is offered.
func (w *WorkerInfo) Accepts(t *Task) bool {
	if !t.Resources.FitsIn(w.Capacity) {
		return false
	}
	return len(t.Features) == 0 || slice.ContainSubSlice(w.Features, t.Features)
}

// Free returns the capacity not yet assigned.
func (w *WorkerSnapshot) Free() Resources {
	return w.Info.Capacity.Sub(w.Load)
}

// EventType defines the type of a dispatch event.
type EventType string

const (
	// EventWorkerRegistered indicates a worker connected and asked to register.
	EventWorkerRegistered EventType = "worker_registered"
	// EventHeartbeat indicates a worker reported liveness.
	EventHeartbeat EventType = "heartbeat"
	// EventTaskResult indicates a worker finished a task.
	EventTaskResult EventType = "task_result"
	// EventWorkerDisconnected indicates a worker connection went away.
	EventWorkerDisconnected EventType = "worker_disconnected"
)

// Event is a message buffered by a dispatch channel for the master loop.
type Event struct {
	Type     EventType
	WorkerID string
	Worker   *WorkerInfo
	TaskID   uint64
	Result   *Result
	At       time.Time
}
