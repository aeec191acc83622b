package rest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	dispatchws "yqhp/work-queue/internal/dispatch/ws"
	"yqhp/work-queue/internal/master"
	"yqhp/work-queue/internal/store"
	"yqhp/work-queue/pkg/types"
)

func setupTestServer(t *testing.T) (*Server, *master.Master) {
	t.Helper()
	hub := dispatchws.NewHub(&dispatchws.HubConfig{Logger: zap.NewNop()})
	st := store.New(store.Options{RetryLimit: 2, Logger: zap.NewNop()})
	m := master.New(&master.Config{ID: "master-test", Logger: zap.NewNop()}, st, hub, nil)

	cfg := DefaultConfig()
	cfg.Logger = zap.NewNop()
	return NewServer(m, hub, cfg), m
}

func doRequest(t *testing.T, s *Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(data, &v), string(data))
	return v
}

func TestHealthCheck(t *testing.T) {
	s, _ := setupTestServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		resp, body := doRequest(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		health := decode[types.HealthResponse](t, body)
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, "master-test", health.MasterID)
		assert.False(t, health.Running)
	}
}

func TestSubmitAndGetTask(t *testing.T) {
	s, _ := setupTestServer(t)

	resp, body := doRequest(t, s, http.MethodPost, "/api/v1/tasks",
		`{"command":"echo hi","tag":"build","resources":{"cores":2},"timeout":"30s","max_retries":1}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	submitted := decode[types.TaskSubmitResponse](t, body)
	assert.Equal(t, uint64(1), submitted.ID)
	assert.Equal(t, types.TaskStateWaiting, submitted.State)
	assert.Len(t, submitted.Checksum, 40)

	resp, body = doRequest(t, s, http.MethodGet, "/api/v1/tasks/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	task := decode[types.Task](t, body)
	assert.Equal(t, "echo hi", task.Command)
	assert.Equal(t, "build", task.Tag)
	assert.Equal(t, types.TaskKindShell, task.Kind)
	assert.Equal(t, 2, task.Resources.Cores)
	assert.Equal(t, "30s", task.Timeout.String())
	require.NotNil(t, task.MaxRetries)
	assert.Equal(t, 1, *task.MaxRetries)
}

func TestSubmitInvalidTask(t *testing.T) {
	s, _ := setupTestServer(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"command":`, "invalid_request"},
		{"missing command", `{"tag":"x"}`, "invalid_task"},
		{"bad timeout", `{"command":"true","timeout":"soon"}`, "invalid_task"},
		{"unknown kind", `{"command":"true","kind":"python"}`, "invalid_task"},
		{"negative resources", `{"command":"true","resources":{"cores":-1}}`, "invalid_task"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doRequest(t, s, http.MethodPost, "/api/v1/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.code, decode[types.ErrorResponse](t, body).Error)
		})
	}
}

func TestGetTaskErrors(t *testing.T) {
	s, _ := setupTestServer(t)

	resp, body := doRequest(t, s, http.MethodGet, "/api/v1/tasks/42", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decode[types.ErrorResponse](t, body).Error)

	resp, body = doRequest(t, s, http.MethodGet, "/api/v1/tasks/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "error_400", decode[types.ErrorResponse](t, body).Error)
}

func TestListTasksWithFilter(t *testing.T) {
	s, m := setupTestServer(t)

	for _, tag := range []string{"a", "b", "a"} {
		_, err := m.Submit(&types.Task{Command: "true", Tag: tag})
		require.NoError(t, err)
	}

	resp, body := doRequest(t, s, http.MethodGet, "/api/v1/tasks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, decode[types.TaskListResponse](t, body).Total)

	_, body = doRequest(t, s, http.MethodGet, "/api/v1/tasks?tag=a&state=waiting", "")
	list := decode[types.TaskListResponse](t, body)
	assert.Equal(t, 2, list.Total)
	for _, task := range list.Tasks {
		assert.Equal(t, "a", task.Tag)
	}

	_, body = doRequest(t, s, http.MethodGet, "/api/v1/tasks?state=done", "")
	assert.Equal(t, 0, decode[types.TaskListResponse](t, body).Total)

	resp, _ = doRequest(t, s, http.MethodGet, "/api/v1/tasks?state=sleeping", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRemoveTask(t *testing.T) {
	s, m := setupTestServer(t)
	id, err := m.Submit(&types.Task{Command: "true"})
	require.NoError(t, err)

	resp, body := doRequest(t, s, http.MethodDelete, "/api/v1/tasks/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, decode[types.Task](t, body).ID)

	_, err = m.Get(id)
	assert.ErrorIs(t, err, types.ErrNotFound)

	resp, _ = doRequest(t, s, http.MethodDelete, "/api/v1/tasks/1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkersAndStats(t *testing.T) {
	s, m := setupTestServer(t)
	_, err := m.Submit(&types.Task{Command: "true"})
	require.NoError(t, err)

	resp, body := doRequest(t, s, http.MethodGet, "/api/v1/workers", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[types.WorkerListResponse](t, body).Total)

	resp, body = doRequest(t, s, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[types.QueueStats](t, body)
	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, int64(1), stats.Submitted)
}

func TestWorkerEndpointRequiresUpgrade(t *testing.T) {
	s, _ := setupTestServer(t)
	resp, _ := doRequest(t, s, http.MethodGet, "/api/v1/worker-ws", "")
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	s, _ := setupTestServer(t)
	resp, body := doRequest(t, s, http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "error_404", decode[types.ErrorResponse](t, body).Error)
}
