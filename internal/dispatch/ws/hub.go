// Package ws accepts remote workers over WebSocket and implements
// dispatch.Channel on top of their connections.
package ws

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"yqhp/work-queue/internal/dispatch"
	"yqhp/work-queue/pkg/logger"
	"yqhp/work-queue/pkg/types"
)

// Path is the worker endpoint relative to the API prefix.
const Path = "/worker-ws"

// HubConfig configures a Hub.
type HubConfig struct {
	MasterID string

	// HeartbeatInterval is announced to workers in the register ack.
	HeartbeatInterval time.Duration

	// PingInterval is how often the hub pings idle connections.
	PingInterval time.Duration

	// SendBuffer is the number of outgoing messages queued per connection.
	SendBuffer int

	Logger *zap.Logger
}

// conn wraps a single WebSocket connection from a worker.
type conn struct {
	workerID string
	ws       *fiberws.Conn
	send     chan []byte
	hub      *Hub
	done     chan struct{}
	written  chan struct{}
	once     sync.Once
}

// Hub manages all worker WebSocket connections.
type Hub struct {
	config *HubConfig
	events *dispatch.EventBuffer
	logger *zap.Logger

	conns  map[string]*conn
	closed bool
	mu     sync.RWMutex
}

// NewHub creates a new hub.
func NewHub(cfg *HubConfig) *Hub {
	if cfg == nil {
		cfg = &HubConfig{}
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Hub{
		config: cfg,
		events: dispatch.NewEventBuffer(),
		logger: logger.Named(cfg.Logger, "dispatch").With(zap.String("transport", "ws")),
		conns:  make(map[string]*conn),
	}
}

// Mount registers the Fiber-native WebSocket endpoint on router.
func (h *Hub) Mount(router fiber.Router) {
	router.Use(Path, func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get(Path, fiberws.New(func(c *fiberws.Conn) {
		h.handleConnection(c)
	}))
}

// HasConn returns true if the worker has an active WebSocket connection.
func (h *Hub) HasConn(workerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[workerID]
	return ok
}

// Connected returns the number of live connections.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send pushes a task assignment to a worker.
func (h *Hub) Send(_ context.Context, workerID string, task *types.Task) error {
	data, err := sonic.Marshal(&types.TaskAssignMessage{Task: task})
	if err != nil {
		return fmt.Errorf("encode task %d: %w", task.ID, err)
	}
	return h.sendToWorker(workerID, &types.WSMessage{Type: types.WSMsgTaskAssign, Data: data})
}

func (h *Hub) sendToWorker(workerID string, msg *types.WSMessage) error {
	h.mu.RLock()
	c, ok := h.conns[workerID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s not connected", types.ErrUnreachable, workerID)
	}

	envelope, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return fmt.Errorf("%w: %s connection closed", types.ErrUnreachable, workerID)
	case c.send <- envelope:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full for %s", types.ErrUnreachable, workerID)
	}
}

// Poll drains the events read from worker connections since the last call.
func (h *Hub) Poll() iter.Seq[*types.Event] {
	return h.events.Drain()
}

// Ready is signalled when a connection buffers an event.
func (h *Hub) Ready() <-chan struct{} {
	return h.events.Ready()
}

// Disconnect closes a worker's connection. The read loop then reports the
// disconnect.
func (h *Hub) Disconnect(workerID string) error {
	h.mu.RLock()
	c, ok := h.conns[workerID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownWorker, workerID)
	}
	c.close()
	return nil
}

// Close closes every connection and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	return nil
}

// register adds c unless its worker id is already connected.
func (h *Hub) register(c *conn, info *types.WorkerInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return fmt.Errorf("hub closed")
	}
	if _, exists := h.conns[c.workerID]; exists {
		return fmt.Errorf("%w: %s", types.ErrDuplicateWorker, c.workerID)
	}
	h.conns[c.workerID] = c

	h.events.Push(&types.Event{
		Type:     types.EventWorkerRegistered,
		WorkerID: c.workerID,
		Worker:   info,
		At:       time.Now(),
	})
	return nil
}

// unregister removes c if it is still the live connection for its worker.
// The disconnect event is pushed under the lock so it cannot overtake the
// registration of a reconnecting worker.
func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.conns[c.workerID]; !ok || current != c {
		return
	}
	delete(h.conns, c.workerID)

	h.events.Push(&types.Event{
		Type:     types.EventWorkerDisconnected,
		WorkerID: c.workerID,
		At:       time.Now(),
	})
}

// handleConnection handles a newly established worker WebSocket connection.
func (h *Hub) handleConnection(c *fiberws.Conn) {
	// The first message must be a register message.
	req, err := readRegister(c)
	if err != nil {
		h.logger.Warn("ws: bad registration", zap.Error(err))
		writeAck(c, &types.WorkerRegisterResponse{Accepted: false, Error: err.Error()})
		return
	}

	info := req.Worker
	if info.Address == "" {
		info.Address = c.RemoteAddr().String()
	}

	wc := &conn{
		workerID: info.ID,
		ws:       c,
		send:     make(chan []byte, h.config.SendBuffer),
		hub:      h,
		done:     make(chan struct{}),
		written:  make(chan struct{}),
	}

	if err := h.register(wc, &info); err != nil {
		h.logger.Warn("ws: registration rejected", zap.String("worker_id", info.ID), zap.Error(err))
		writeAck(c, &types.WorkerRegisterResponse{Accepted: false, Error: err.Error()})
		return
	}
	defer h.unregister(wc)

	if err := writeAck(c, &types.WorkerRegisterResponse{
		Accepted:          true,
		AssignedID:        info.ID,
		MasterID:          h.config.MasterID,
		HeartbeatInterval: h.config.HeartbeatInterval.Milliseconds(),
	}); err != nil {
		h.logger.Warn("ws: send register ack failed", zap.String("worker_id", info.ID), zap.Error(err))
		return
	}

	h.logger.Info("ws: worker connected", zap.String("worker_id", info.ID), zap.String("address", info.Address))

	go wc.writePump(h.config.PingInterval)

	// readPump blocks until the connection closes. The Fiber conn is
	// released when this handler returns, so the writer must be gone first.
	wc.readPump()
	wc.close()
	<-wc.written

	h.logger.Info("ws: worker disconnected", zap.String("worker_id", info.ID))
}

func readRegister(c *fiberws.Conn) (*types.WorkerRegisterRequest, error) {
	_, raw, err := c.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read first message: %w", err)
	}

	var msg types.WSMessage
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if msg.Type != types.WSMsgRegister {
		return nil, fmt.Errorf("expected register message, got %q", msg.Type)
	}

	var req types.WorkerRegisterRequest
	if err := sonic.Unmarshal(msg.Data, &req); err != nil {
		return nil, fmt.Errorf("parse register request: %w", err)
	}
	if req.Worker.ID == "" {
		return nil, fmt.Errorf("empty worker ID")
	}
	return &req, nil
}

func writeAck(c *fiberws.Conn, resp *types.WorkerRegisterResponse) error {
	data, err := sonic.Marshal(resp)
	if err != nil {
		return err
	}
	envelope, err := sonic.Marshal(&types.WSMessage{Type: types.WSMsgRegisterAck, Data: data})
	if err != nil {
		return err
	}
	return c.WriteMessage(fiberws.TextMessage, envelope)
}

// ─── conn read / write ──────────────────────────────────────────────────────

func (c *conn) readPump() {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg types.WSMessage
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			c.hub.logger.Warn("ws: invalid message", zap.String("worker_id", c.workerID), zap.Error(err))
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *conn) handleMessage(msg *types.WSMessage) {
	switch msg.Type {
	case types.WSMsgHeartbeat:
		c.hub.events.Push(&types.Event{
			Type:     types.EventHeartbeat,
			WorkerID: c.workerID,
			At:       time.Now(),
		})

	case types.WSMsgTaskResult:
		var res types.TaskResultMessage
		if err := sonic.Unmarshal(msg.Data, &res); err != nil {
			c.hub.logger.Warn("ws: invalid task result", zap.String("worker_id", c.workerID), zap.Error(err))
			return
		}
		c.hub.events.Push(&types.Event{
			Type:     types.EventTaskResult,
			WorkerID: c.workerID,
			TaskID:   res.TaskID,
			Result:   res.Result,
			At:       time.Now(),
		})

	case types.WSMsgPong:
		// keepalive acknowledged

	default:
		c.hub.logger.Debug("ws: unexpected message", zap.String("worker_id", c.workerID), zap.String("type", string(msg.Type)))
	}
}

func (c *conn) writePump(pingInterval time.Duration) {
	defer close(c.written)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			if err := c.ws.WriteMessage(fiberws.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteMessage(fiberws.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
