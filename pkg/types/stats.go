package types

import "time"

// QueueStats summarizes the state of a master.
type QueueStats struct {
	Waiting  int `json:"waiting"`
	Running  int `json:"running"`
	Retrying int `json:"retrying"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`

	Submitted int64 `json:"submitted"`
	Requeued  int64 `json:"requeued"`
	Evicted   int64 `json:"evicted"`

	// RetryLimit is the default number of retries after a first failure.
	RetryLimit int `json:"retry_limit"`

	Workers  int       `json:"workers"`
	Capacity Resources `json:"capacity"`
	Load     Resources `json:"load"`
	// Booked counts assignments holding worker capacity, including removed
	// tasks a worker is still executing.
	Booked int `json:"booked"`

	Runtime RuntimeStats `json:"runtime"`
}

// RuntimeStats are percentiles of task execution time.
type RuntimeStats struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

// Counts holds the number of tasks per state.
type Counts map[TaskState]int

// Active returns the number of tasks that are not terminal.
func (c Counts) Active() int {
	return c[TaskStateWaiting] + c[TaskStateRunning] + c[TaskStateRetrying]
}
