package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a task id is not in the store.
	ErrNotFound = errors.New("task not found")
	// ErrUnknownWorker is returned for traffic from an unregistered worker.
	ErrUnknownWorker = errors.New("unknown worker")
	// ErrUnreachable is returned when a worker connection is gone.
	ErrUnreachable = errors.New("worker unreachable")
	// ErrRetryLimitExceeded is returned when a task fails more often than allowed.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")
	// ErrInvalidTransition is returned for an illegal task state change.
	ErrInvalidTransition = errors.New("invalid task state transition")
	// ErrCapacityExceeded is returned when an assignment would overload a worker.
	ErrCapacityExceeded = errors.New("worker capacity exceeded")
	// ErrDuplicateWorker is returned when a worker id is registered twice.
	ErrDuplicateWorker = errors.New("worker already registered")
	// ErrInvalidTask is returned when a submitted task is malformed.
	ErrInvalidTask = errors.New("invalid task")
)

// TaskError attributes an error to a task.
type TaskError struct {
	TaskID uint64
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
