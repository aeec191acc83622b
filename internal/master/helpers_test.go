package master

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"yqhp/work-queue/internal/dispatch"
	"yqhp/work-queue/internal/store"
	"yqhp/work-queue/pkg/types"
)

type sentTask struct {
	workerID string
	task     *types.Task
}

// fakeChannel records sends and lets tests inject worker events.
type fakeChannel struct {
	*dispatch.EventBuffer

	mu           sync.Mutex
	sent         []sentTask
	unreachable  map[string]bool
	disconnected []string
	onSend       func(f *fakeChannel, workerID string, task *types.Task)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		EventBuffer: dispatch.NewEventBuffer(),
		unreachable: make(map[string]bool),
	}
}

func (f *fakeChannel) Send(_ context.Context, workerID string, task *types.Task) error {
	f.mu.Lock()
	if f.unreachable[workerID] {
		f.mu.Unlock()
		return types.ErrUnreachable
	}
	f.sent = append(f.sent, sentTask{workerID: workerID, task: task})
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(f, workerID, task)
	}
	return nil
}

func (f *fakeChannel) Poll() iter.Seq[*types.Event] { return f.Drain() }

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) Disconnect(workerID string) error {
	f.mu.Lock()
	f.disconnected = append(f.disconnected, workerID)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) setUnreachable(workerID string) {
	f.mu.Lock()
	f.unreachable[workerID] = true
	f.mu.Unlock()
}

func (f *fakeChannel) sends() []sentTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentTask(nil), f.sent...)
}

func (f *fakeChannel) register(id string, cores int, features ...string) {
	f.Push(&types.Event{
		Type:     types.EventWorkerRegistered,
		WorkerID: id,
		Worker: &types.WorkerInfo{
			ID:       id,
			Capacity: types.Resources{Cores: cores, MemoryMB: 4096, DiskMB: 4096},
			Features: features,
		},
	})
}

func (f *fakeChannel) result(workerID string, taskID uint64, res *types.Result) {
	f.Push(&types.Event{Type: types.EventTaskResult, WorkerID: workerID, TaskID: taskID, Result: res})
}

func (f *fakeChannel) heartbeat(workerID string) {
	f.Push(&types.Event{Type: types.EventHeartbeat, WorkerID: workerID})
}

type testMaster struct {
	*Master
	ch    *fakeChannel
	clock *clockwork.FakeClock
}

func newTestMaster(t *testing.T, retryLimit int) *testMaster {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ch := newFakeChannel()
	st := store.New(store.Options{RetryLimit: retryLimit, Clock: clock, Logger: zap.NewNop()})
	m := New(&Config{
		ID:               "test-master",
		HeartbeatTimeout: 10 * time.Second,
		PollInterval:     50 * time.Millisecond,
		Clock:            clock,
		Logger:           zap.NewNop(),
	}, st, ch, nil)
	return &testMaster{Master: m, ch: ch, clock: clock}
}

func (tm *testMaster) submit(t *testing.T, cores int) uint64 {
	t.Helper()
	id, err := tm.Submit(&types.Task{Command: "work", Resources: types.Resources{Cores: cores}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return id
}

func (tm *testMaster) state(t *testing.T, id uint64) types.TaskState {
	t.Helper()
	task, err := tm.Get(id)
	if err != nil {
		t.Fatalf("get %d: %v", id, err)
	}
	return task.State
}

// assertCapacity checks that no worker is loaded beyond its capacity.
func assertCapacity(t *testing.T, r WorkerRegistry) {
	t.Helper()
	for _, w := range r.List() {
		if !w.Load.FitsIn(w.Info.Capacity) {
			t.Fatalf("worker %s overloaded: load %s capacity %s", w.Info.ID, w.Load, w.Info.Capacity)
		}
	}
}
