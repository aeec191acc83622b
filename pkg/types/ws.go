package types

import "encoding/json"

// WSMessageType defines WebSocket message types for master-worker communication.
type WSMessageType string

const (
	// Master -> Worker
	WSMsgRegisterAck WSMessageType = "register_ack"
	WSMsgTaskAssign  WSMessageType = "task_assign"
	WSMsgPing        WSMessageType = "ping"

	// Worker -> Master
	WSMsgRegister   WSMessageType = "register"
	WSMsgHeartbeat  WSMessageType = "heartbeat"
	WSMsgTaskResult WSMessageType = "task_result"
	WSMsgPong       WSMessageType = "pong"
)

// WSMessage is the unified envelope for all WebSocket messages.
type WSMessage struct {
	Type WSMessageType   `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WorkerRegisterRequest is the first message a worker sends.
type WorkerRegisterRequest struct {
	Worker WorkerInfo `json:"worker"`
}

// WorkerRegisterResponse acknowledges a registration.
type WorkerRegisterResponse struct {
	Accepted          bool   `json:"accepted"`
	AssignedID        string `json:"assigned_id,omitempty"`
	MasterID          string `json:"master_id,omitempty"`
	HeartbeatInterval int64  `json:"heartbeat_interval_ms,omitempty"`
	Error             string `json:"error,omitempty"`
}

// WorkerHeartbeat reports worker liveness.
type WorkerHeartbeat struct {
	WorkerID string `json:"worker_id"`
	Running  int    `json:"running"`
}

// TaskAssignMessage carries a task to a worker.
type TaskAssignMessage struct {
	Task *Task `json:"task"`
}

// TaskResultMessage carries a finished task back to the master.
type TaskResultMessage struct {
	TaskID uint64  `json:"task_id"`
	Result *Result `json:"result"`
}
