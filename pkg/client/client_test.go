package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/work-queue/api/rest"
	dispatchws "yqhp/work-queue/internal/dispatch/ws"
	"yqhp/work-queue/internal/master"
	"yqhp/work-queue/internal/store"
	"yqhp/work-queue/pkg/types"
)

func startServer(t *testing.T) (*Client, *master.Master) {
	t.Helper()
	hub := dispatchws.NewHub(&dispatchws.HubConfig{Logger: zap.NewNop()})
	st := store.New(store.Options{Logger: zap.NewNop()})
	m := master.New(&master.Config{ID: "m-client", Logger: zap.NewNop()}, st, hub, nil)

	cfg := rest.DefaultConfig()
	cfg.Logger = zap.NewNop()
	srv := rest.NewServer(m, hub, cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.App().Listener(ln)
	t.Cleanup(func() { _ = srv.ShutdownWithTimeout(time.Second) })

	return New(ln.Addr().String(), WithTimeout(5*time.Second)), m
}

func TestClientRoundTrip(t *testing.T) {
	c, _ := startServer(t)
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m-client", health.MasterID)

	sub, err := c.Submit(ctx, &types.TaskSubmitRequest{Command: "echo one", Tag: "x"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sub.ID)
	_, err = c.Submit(ctx, &types.TaskSubmitRequest{Command: "echo two", Tag: "y"})
	require.NoError(t, err)

	task, err := c.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "echo one", task.Command)
	assert.Equal(t, sub.Checksum, task.Checksum)

	list, err := c.List(ctx, &types.TaskFilter{Tag: "y", States: []types.TaskState{types.TaskStateWaiting}})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "echo two", list.Tasks[0].Command)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Waiting)

	workers, err := c.Workers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, workers.Total)

	removed, err := c.Remove(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, removed.ID)
}

func TestClientErrors(t *testing.T) {
	c, _ := startServer(t)
	ctx := context.Background()

	_, err := c.Get(ctx, 99)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)

	_, err = c.Submit(ctx, &types.TaskSubmitRequest{})
	assert.True(t, errors.Is(err, types.ErrInvalidTask))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.Health(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = New("http://"+addr, WithTimeout(time.Second)).Health(context.Background())
	assert.Error(t, err)
}

func TestNewNormalizesURL(t *testing.T) {
	assert.Equal(t, "http://host:1", New("host:1").baseURL)
	assert.Equal(t, "http://host:1", New("ws://host:1/").baseURL)
	assert.Equal(t, "https://host:1", New("wss://host:1").baseURL)
}
