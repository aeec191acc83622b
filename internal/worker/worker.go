// Package worker connects to a master over WebSocket and executes the tasks
// it is assigned.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"yqhp/work-queue/internal/config"
	dispatchws "yqhp/work-queue/internal/dispatch/ws"
	"yqhp/work-queue/internal/executor"
	"yqhp/work-queue/pkg/logger"
	"yqhp/work-queue/pkg/types"
)

// Endpoint is the master path workers dial.
const Endpoint = "/api/v1" + dispatchws.Path

const maxReconnectInterval = 60 * time.Second

// Config configures a Worker.
type Config struct {
	ID        string
	MasterURL string
	Capacity  types.Resources
	Features  []string
	Labels    map[string]string

	// HeartbeatInterval is used until the master announces its own.
	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration
	HandshakeTimeout  time.Duration

	Executors *executor.Registry
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

// ConfigFrom converts the file configuration of a worker process.
func ConfigFrom(cfg *config.WorkerConfig) *Config {
	return &Config{
		ID:        cfg.ID,
		MasterURL: cfg.MasterURL,
		Capacity: types.Resources{
			Cores:    cfg.Cores,
			MemoryMB: cfg.MemoryMB,
			DiskMB:   cfg.DiskMB,
		},
		Features:          cfg.Features,
		Labels:            cfg.Labels,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectInterval: cfg.ReconnectInterval,
		Executors:         executor.DefaultRegistry(cfg.OutputLimit),
	}
}

// Worker executes tasks pushed by a master.
type Worker struct {
	config *Config
	pool   *ants.Pool
	logger *zap.Logger

	running   atomic.Int64
	completed atomic.Int64
	connected atomic.Bool
	masterID  atomic.Value
	tasks     sync.WaitGroup
}

// session is one registered connection to the master.
type session struct {
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		s.cancel()
		_ = s.conn.Close()
	})
}

// New creates a worker. It does not connect until Run is called.
func New(cfg *Config) (*Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("worker config is nil")
	}
	if cfg.MasterURL == "" {
		return nil, fmt.Errorf("master URL cannot be empty")
	}
	if cfg.Capacity.Cores <= 0 {
		return nil, fmt.Errorf("worker cores must be positive, got %d", cfg.Capacity.Cores)
	}
	if cfg.ID == "" {
		cfg.ID = defaultID()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 3 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Executors == nil {
		cfg.Executors = executor.DefaultRegistry(executor.DefaultOutputLimit)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	log := logger.Named(cfg.Logger, "worker").With(zap.String("worker_id", cfg.ID))
	pool, err := ants.NewPool(-1, ants.WithPanicHandler(func(p any) {
		log.Error("task goroutine panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create task pool: %w", err)
	}

	return &Worker{config: cfg, pool: pool, logger: log}, nil
}

func defaultID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.config.ID }

// Connected reports whether the worker is registered with a master.
func (w *Worker) Connected() bool { return w.connected.Load() }

// Running returns the number of tasks being executed.
func (w *Worker) Running() int { return int(w.running.Load()) }

// Completed returns the number of results sent to the master.
func (w *Worker) Completed() int64 { return w.completed.Load() }

// MasterID returns the id announced by the last master the worker registered with.
func (w *Worker) MasterID() string {
	id, _ := w.masterID.Load().(string)
	return id
}

// Run connects to the master and serves it until ctx is cancelled,
// reconnecting whenever the connection drops.
func (w *Worker) Run(ctx context.Context) error {
	defer w.shutdown()

	backoff := w.config.ReconnectInterval
	for {
		registered, err := w.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if registered {
			backoff = w.config.ReconnectInterval
		}
		w.logger.Warn("connection to master lost", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return nil
		case <-w.config.Clock.After(backoff):
		}
		if !registered {
			backoff = min(backoff*2, maxReconnectInterval)
		}
	}
}

// serve runs one session. registered reports whether the master accepted it.
func (w *Worker) serve(ctx context.Context) (registered bool, err error) {
	conn, ack, err := w.connect(ctx)
	if err != nil {
		return false, err
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		conn:   conn,
		send:   make(chan []byte, 256),
		ctx:    sctx,
		cancel: cancel,
	}
	defer s.close()
	stop := context.AfterFunc(sctx, s.close)
	defer stop()

	interval := w.config.HeartbeatInterval
	if ack.HeartbeatInterval > 0 {
		interval = time.Duration(ack.HeartbeatInterval) * time.Millisecond
	}

	w.masterID.Store(ack.MasterID)
	w.connected.Store(true)
	defer w.connected.Store(false)
	w.logger.Info("registered with master",
		zap.String("master_id", ack.MasterID),
		zap.Duration("heartbeat_interval", interval),
	)

	go w.writePump(s)
	go w.heartbeatPump(s, interval)

	return true, w.readPump(s)
}

// connect dials the master and performs the register handshake.
func (w *Worker) connect(ctx context.Context) (*websocket.Conn, *types.WorkerRegisterResponse, error) {
	wsURL := toWebSocketURL(w.config.MasterURL) + Endpoint

	dialer := websocket.Dialer{HandshakeTimeout: w.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("WebSocket dial failed: %w", err)
	}

	req := &types.WorkerRegisterRequest{Worker: types.WorkerInfo{
		ID:       w.config.ID,
		Capacity: w.config.Capacity,
		Features: w.config.Features,
		Labels:   w.config.Labels,
	}}
	envelope, err := encode(types.WSMsgRegister, req)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, envelope); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("send register message failed: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(w.config.HandshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("read register ack failed: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var msg types.WSMessage
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("parse register ack failed: %w", err)
	}
	if msg.Type != types.WSMsgRegisterAck {
		conn.Close()
		return nil, nil, fmt.Errorf("unexpected ack type: %s", msg.Type)
	}

	var ack types.WorkerRegisterResponse
	if err := sonic.Unmarshal(msg.Data, &ack); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("parse register ack failed: %w", err)
	}
	if !ack.Accepted {
		conn.Close()
		return nil, nil, fmt.Errorf("registration rejected: %s", ack.Error)
	}
	return conn, &ack, nil
}

// ─── pumps ──────────────────────────────────────────────────────────────────

func (w *Worker) readPump(s *session) error {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg types.WSMessage
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			w.logger.Warn("invalid message from master", zap.Error(err))
			continue
		}

		switch msg.Type {
		case types.WSMsgTaskAssign:
			var assign types.TaskAssignMessage
			if err := sonic.Unmarshal(msg.Data, &assign); err != nil || assign.Task == nil {
				w.logger.Warn("invalid task assignment", zap.Error(err))
				continue
			}
			if err := w.execute(s, assign.Task); err != nil {
				w.logger.Error("submit task failed", zap.Uint64("task_id", assign.Task.ID), zap.Error(err))
			}

		case types.WSMsgPing:
			w.sendMsg(s, types.WSMsgPong, nil)
		}
	}
}

func (w *Worker) writePump(s *session) {
	for {
		select {
		case data := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (w *Worker) heartbeatPump(s *session, interval time.Duration) {
	ticker := w.config.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			w.sendMsg(s, types.WSMsgHeartbeat, &types.WorkerHeartbeat{
				WorkerID: w.config.ID,
				Running:  w.Running(),
			})
		case <-s.ctx.Done():
			return
		}
	}
}

// execute runs task on the pool and reports its result on s. The result is
// dropped when s ended in the meantime.
func (w *Worker) execute(s *session, task *types.Task) error {
	w.running.Add(1)
	w.tasks.Add(1)
	err := w.pool.Submit(func() {
		defer w.tasks.Done()
		defer w.running.Add(-1)

		w.logger.Debug("executing task", zap.Uint64("task_id", task.ID), zap.String("kind", string(task.Kind)))
		res := executor.Run(s.ctx, w.config.Executors, task)
		if s.ctx.Err() != nil {
			return
		}
		res.WorkerID = w.config.ID
		if err := w.sendMsg(s, types.WSMsgTaskResult, &types.TaskResultMessage{TaskID: task.ID, Result: res}); err != nil {
			w.logger.Warn("send task result failed", zap.Uint64("task_id", task.ID), zap.Error(err))
			return
		}
		w.completed.Add(1)
	})
	if err != nil {
		w.tasks.Done()
		w.running.Add(-1)
	}
	return err
}

func (w *Worker) sendMsg(s *session, msgType types.WSMessageType, payload any) error {
	envelope, err := encode(msgType, payload)
	if err != nil {
		return err
	}

	select {
	case s.send <- envelope:
		return nil
	case <-s.ctx.Done():
		return errSessionClosed
	}
}

var errSessionClosed = errors.New("session closed")

func (w *Worker) shutdown() {
	w.tasks.Wait()
	if err := w.pool.ReleaseTimeout(5 * time.Second); err != nil {
		w.logger.Warn("release task pool", zap.Error(err))
	}
}

func encode(msgType types.WSMessageType, payload any) ([]byte, error) {
	var data []byte
	if payload != nil {
		var err error
		data, err = sonic.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return sonic.Marshal(&types.WSMessage{Type: msgType, Data: data})
}

// toWebSocketURL converts an HTTP(s) URL or bare host:port to a ws:// URL.
func toWebSocketURL(raw string) string {
	raw = strings.TrimSuffix(raw, "/")
	switch {
	case strings.HasPrefix(raw, "ws://"), strings.HasPrefix(raw, "wss://"):
		return raw
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	}
	return "ws://" + raw
}
