package worker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/work-queue/internal/config"
	dispatchws "yqhp/work-queue/internal/dispatch/ws"
	"yqhp/work-queue/internal/master"
	"yqhp/work-queue/internal/store"
	"yqhp/work-queue/pkg/types"
)

type testMaster struct {
	hub    *dispatchws.Hub
	master *master.Master
	url    string
}

// startMaster serves a hub on a loopback listener and runs a master loop over it.
func startMaster(t *testing.T) *testMaster {
	t.Helper()

	hub := dispatchws.NewHub(&dispatchws.HubConfig{
		MasterID:          "master-1",
		HeartbeatInterval: 50 * time.Millisecond,
		Logger:            zap.NewNop(),
	})
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.Mount(app.Group("/api/v1"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)

	st := store.New(store.Options{RetryLimit: 1, Logger: zap.NewNop()})
	m := master.New(&master.Config{
		ID:               "master-1",
		HeartbeatTimeout: 2 * time.Second,
		PollInterval:     10 * time.Millisecond,
		Logger:           zap.NewNop(),
	}, st, hub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		hub.Close()
		_ = app.Shutdown()
	})
	return &testMaster{hub: hub, master: m, url: "http://" + ln.Addr().String()}
}

func startWorker(t *testing.T, cfg *Config) *Worker {
	t.Helper()
	cfg.Logger = zap.NewNop()
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 20 * time.Millisecond
	}
	w, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("worker did not stop")
		}
	})
	return w
}

func waitTask(t *testing.T, m *master.Master) *types.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	task, err := m.Wait(ctx)
	require.NoError(t, err)
	return task
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{Capacity: types.Resources{Cores: 1}})
	assert.ErrorContains(t, err, "master URL")

	_, err = New(&Config{MasterURL: "ws://localhost:1"})
	assert.ErrorContains(t, err, "cores")

	w, err := New(&Config{MasterURL: "ws://localhost:1", Capacity: types.Resources{Cores: 1}, Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID())
	assert.False(t, w.Connected())
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(&config.WorkerConfig{
		ID:                "w9",
		MasterURL:         "ws://master:9123",
		Cores:             4,
		MemoryMB:          2048,
		DiskMB:            100,
		Features:          []string{"docker"},
		HeartbeatInterval: time.Second,
		OutputLimit:       1024,
	})
	assert.Equal(t, "w9", cfg.ID)
	assert.Equal(t, types.Resources{Cores: 4, MemoryMB: 2048, DiskMB: 100}, cfg.Capacity)
	assert.Equal(t, []string{"docker"}, cfg.Features)
	assert.True(t, cfg.Executors.Has(types.TaskKindShell))
	assert.True(t, cfg.Executors.Has(types.TaskKindScript))
}

func TestToWebSocketURL(t *testing.T) {
	assert.Equal(t, "ws://host:1", toWebSocketURL("http://host:1"))
	assert.Equal(t, "wss://host:1", toWebSocketURL("https://host:1/"))
	assert.Equal(t, "ws://host:1", toWebSocketURL("ws://host:1"))
	assert.Equal(t, "wss://host:1", toWebSocketURL("wss://host:1"))
	assert.Equal(t, "ws://host:1", toWebSocketURL("host:1"))
}

func TestWorkerRunsTasks(t *testing.T) {
	tm := startMaster(t)
	w := startWorker(t, &Config{
		ID:        "w1",
		MasterURL: tm.url,
		Capacity:  types.Resources{Cores: 2, MemoryMB: 256},
	})

	require.Eventually(t, w.Connected, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "master-1", w.MasterID())

	_, err := tm.master.Submit(&types.Task{Command: "echo shell-ok", Resources: types.Resources{Cores: 1}})
	require.NoError(t, err)
	_, err = tm.master.Submit(&types.Task{
		Kind:      types.TaskKindScript,
		Payload:   `console.log("from", task.id); 6 * 7`,
		Resources: types.Resources{Cores: 1},
	})
	require.NoError(t, err)

	outputs := map[uint64]string{}
	for range 2 {
		task := waitTask(t, tm.master)
		assert.Equal(t, types.TaskStateDone, task.State)
		assert.Equal(t, "w1", task.WorkerID)
		outputs[task.ID] = task.Result.Output
	}
	assert.Contains(t, outputs[1], "shell-ok")
	assert.Contains(t, outputs[2], "42")

	require.Eventually(t, func() bool { return w.Completed() == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestWorkerFailedTaskIsRetried(t *testing.T) {
	tm := startMaster(t)
	startWorker(t, &Config{ID: "w1", MasterURL: tm.url, Capacity: types.Resources{Cores: 1}})

	_, err := tm.master.Submit(&types.Task{Command: "exit 3", Resources: types.Resources{Cores: 1}})
	require.NoError(t, err)

	task := waitTask(t, tm.master)
	assert.Equal(t, types.TaskStateFailed, task.State)
	assert.Equal(t, 2, task.Failures)
	require.NotNil(t, task.Result)
	assert.Equal(t, 3, task.Result.ExitCode)
}

func TestWorkerReconnects(t *testing.T) {
	tm := startMaster(t)
	w := startWorker(t, &Config{ID: "w1", MasterURL: tm.url, Capacity: types.Resources{Cores: 1}})
	require.Eventually(t, func() bool { return tm.hub.HasConn("w1") }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, tm.hub.Disconnect("w1"))

	require.Eventually(t, func() bool {
		return tm.hub.HasConn("w1") && w.Connected() && len(tm.master.Workers()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err := tm.master.Submit(&types.Task{Command: "echo back", Resources: types.Resources{Cores: 1}})
	require.NoError(t, err)
	task := waitTask(t, tm.master)
	assert.Equal(t, types.TaskStateDone, task.State)
}

func TestWorkerRetriesUnreachableMaster(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	w, err := New(&Config{
		MasterURL:         "http://" + addr,
		Capacity:          types.Resources{Cores: 1},
		ReconnectInterval: 10 * time.Millisecond,
		Logger:            zap.NewNop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, w.Run(ctx))
	assert.False(t, w.Connected())
}
