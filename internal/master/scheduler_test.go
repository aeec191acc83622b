package master

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/work-queue/pkg/types"
)

func task(id uint64, cores int, mem int64) *types.Task {
	return &types.Task{ID: id, Resources: types.Resources{Cores: cores, MemoryMB: mem}}
}

func worker(id string, seq uint64, cores int, loadCores int) *types.WorkerSnapshot {
	return &types.WorkerSnapshot{
		Info: types.WorkerInfo{ID: id, Capacity: types.Resources{Cores: cores, MemoryMB: 1024, DiskMB: 1024}},
		Load: types.Resources{Cores: loadCores},
		Seq:  seq,
	}
}

func TestNextAssignmentEmpty(t *testing.T) {
	s := NewGreedyScheduler()
	_, ok := s.NextAssignment(nil, []*types.WorkerSnapshot{worker("w1", 1, 2, 0)})
	assert.False(t, ok)
	_, ok = s.NextAssignment([]*types.Task{task(1, 1, 0)}, nil)
	assert.False(t, ok)
}

func TestNextAssignmentLargestTaskFirst(t *testing.T) {
	s := NewGreedyScheduler()
	a, ok := s.NextAssignment(
		[]*types.Task{task(1, 1, 0), task(2, 3, 0), task(3, 2, 0)},
		[]*types.WorkerSnapshot{worker("w1", 1, 4, 0)},
	)
	require.True(t, ok)
	assert.Equal(t, uint64(2), a.TaskID)
}

func TestNextAssignmentMemoryBreaksCoreTie(t *testing.T) {
	s := NewGreedyScheduler()
	a, ok := s.NextAssignment(
		[]*types.Task{task(1, 1, 10), task(2, 1, 500)},
		[]*types.WorkerSnapshot{worker("w1", 1, 4, 0)},
	)
	require.True(t, ok)
	assert.Equal(t, uint64(2), a.TaskID)
}

func TestNextAssignmentEarliestSubmissionBreaksTie(t *testing.T) {
	s := NewGreedyScheduler()
	a, ok := s.NextAssignment(
		[]*types.Task{task(5, 1, 0), task(4, 1, 0)},
		[]*types.WorkerSnapshot{worker("w1", 1, 4, 0)},
	)
	require.True(t, ok)
	assert.Equal(t, uint64(4), a.TaskID)
}

func TestNextAssignmentMostAvailableWorker(t *testing.T) {
	s := NewGreedyScheduler()
	a, ok := s.NextAssignment(
		[]*types.Task{task(1, 1, 0)},
		[]*types.WorkerSnapshot{worker("busy", 1, 8, 6), worker("idle", 2, 4, 0)},
	)
	require.True(t, ok)
	assert.Equal(t, "idle", a.WorkerID)

	a, ok = s.NextAssignment(
		[]*types.Task{task(1, 1, 0)},
		[]*types.WorkerSnapshot{worker("late", 7, 4, 0), worker("early", 3, 4, 0)},
	)
	require.True(t, ok)
	assert.Equal(t, "early", a.WorkerID)
}

func TestNextAssignmentSkipsTaskThatFitsNowhere(t *testing.T) {
	s := NewGreedyScheduler()
	a, ok := s.NextAssignment(
		[]*types.Task{task(1, 16, 0), task(2, 2, 0)},
		[]*types.WorkerSnapshot{worker("w1", 1, 4, 0)},
	)
	require.True(t, ok)
	assert.Equal(t, uint64(2), a.TaskID)

	_, ok = s.NextAssignment(
		[]*types.Task{task(1, 16, 0)},
		[]*types.WorkerSnapshot{worker("w1", 1, 4, 0)},
	)
	assert.False(t, ok)
}

func TestNextAssignmentFeatures(t *testing.T) {
	s := NewGreedyScheduler()
	gpu := worker("gpu", 2, 2, 0)
	gpu.Info.Features = []string{"cuda", "gpu"}

	tk := task(1, 1, 0)
	tk.Features = []string{"gpu"}

	a, ok := s.NextAssignment([]*types.Task{tk}, []*types.WorkerSnapshot{worker("cpu", 1, 16, 0), gpu})
	require.True(t, ok)
	assert.Equal(t, "gpu", a.WorkerID)

	tk.Features = []string{"gpu", "fpga"}
	_, ok = s.NextAssignment([]*types.Task{tk}, []*types.WorkerSnapshot{gpu})
	assert.False(t, ok)
}

func TestPlanPacksWithoutOvercommit(t *testing.T) {
	s := NewGreedyScheduler()
	workers := []*types.WorkerSnapshot{worker("w1", 1, 4, 0), worker("w2", 2, 2, 0)}
	plan := s.Plan(
		[]*types.Task{task(1, 3, 0), task(2, 2, 0), task(3, 1, 0), task(4, 1, 0)},
		workers,
	)

	got := map[uint64]string{}
	for _, a := range plan {
		got[a.TaskID] = a.WorkerID
	}
	assert.Equal(t, map[uint64]string{1: "w1", 2: "w2", 3: "w1"}, got)
	assert.Equal(t, 0, workers[0].Load.Cores, "plan must not mutate its input")
}
