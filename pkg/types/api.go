package types

import (
	"fmt"
	"time"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string `json:"status"`
	MasterID  string `json:"master_id,omitempty"`
	Running   bool   `json:"running"`
	Timestamp string `json:"timestamp"`
}

// TaskSubmitRequest represents a task submission request.
type TaskSubmitRequest struct {
	Command    string            `json:"command" yaml:"command"`
	Payload    string            `json:"payload,omitempty" yaml:"payload,omitempty"`
	Kind       TaskKind          `json:"kind,omitempty" yaml:"kind,omitempty"`
	Tag        string            `json:"tag,omitempty" yaml:"tag,omitempty"`
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Resources  Resources         `json:"resources" yaml:"resources"`
	Features   []string          `json:"features,omitempty" yaml:"features,omitempty"`
	MaxRetries *int              `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	// Timeout is a Go duration string such as "30s".
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ToTask converts the request into a task ready for submission.
func (r *TaskSubmitRequest) ToTask() (*Task, error) {
	t := &Task{
		Command:    r.Command,
		Payload:    r.Payload,
		Kind:       r.Kind,
		Tag:        r.Tag,
		Env:        r.Env,
		Resources:  r.Resources,
		Features:   r.Features,
		MaxRetries: r.MaxRetries,
	}
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: timeout: %v", ErrInvalidTask, err)
		}
		t.Timeout = d
	}
	return t, nil
}

// TaskSubmitResponse represents a task submission response.
type TaskSubmitResponse struct {
	ID       uint64    `json:"id"`
	State    TaskState `json:"state"`
	Checksum string    `json:"checksum"`
}

// TaskListResponse represents a task list response.
type TaskListResponse struct {
	Tasks []*Task `json:"tasks"`
	Total int     `json:"total"`
}

// WorkerListResponse represents a worker list response.
type WorkerListResponse struct {
	Workers []*WorkerSnapshot `json:"workers"`
	Total   int               `json:"total"`
}
