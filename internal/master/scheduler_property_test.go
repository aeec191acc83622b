package master

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"yqhp/work-queue/pkg/types"
)

// For any pending tasks and worker pool, a plan booked through the registry
// never exceeds a worker's capacity and assigns each task at most once.
func TestPlanNeverOvercommitsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("plan respects capacity", prop.ForAll(
		func(taskCores []int, workerCores []int, preload int) bool {
			registry := NewInMemoryWorkerRegistry(time.Minute, nil)
			for i, c := range workerCores {
				if err := registry.Register(&types.WorkerInfo{
					ID:       fmt.Sprintf("w%d", i),
					Capacity: types.Resources{Cores: c, MemoryMB: int64(c) * 512},
				}); err != nil {
					return false
				}
			}
			// book some load up front so free capacity differs from capacity
			if len(workerCores) > 0 && preload > 0 && preload <= workerCores[0] {
				_ = registry.Assign("w0", 10_000, types.Resources{Cores: preload})
			}

			pending := make([]*types.Task, len(taskCores))
			for i, c := range taskCores {
				pending[i] = &types.Task{
					ID:        uint64(i + 1),
					Resources: types.Resources{Cores: c, MemoryMB: int64(c) * 256},
				}
			}

			plan := NewGreedyScheduler().Plan(pending, registry.Available())

			seen := make(map[uint64]bool)
			for _, a := range plan {
				if seen[a.TaskID] {
					return false
				}
				seen[a.TaskID] = true
				if err := registry.Assign(a.WorkerID, a.TaskID, a.Resources); err != nil {
					return false
				}
			}
			for _, w := range registry.List() {
				if !w.Load.FitsIn(w.Info.Capacity) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 8)),
		gen.SliceOf(gen.IntRange(1, 16)),
		gen.IntRange(0, 4),
	))

	// Plan is maximal: after it, no remaining task fits any worker.
	properties.Property("plan leaves nothing schedulable", prop.ForAll(
		func(taskCores []int, workerCores []int) bool {
			workers := make([]*types.WorkerSnapshot, len(workerCores))
			for i, c := range workerCores {
				workers[i] = &types.WorkerSnapshot{
					Info: types.WorkerInfo{ID: fmt.Sprintf("w%d", i), Capacity: types.Resources{Cores: c}},
					Seq:  uint64(i + 1),
				}
			}
			pending := make([]*types.Task, len(taskCores))
			for i, c := range taskCores {
				pending[i] = &types.Task{ID: uint64(i + 1), Resources: types.Resources{Cores: c}}
			}

			s := NewGreedyScheduler()
			plan := s.Plan(pending, workers)

			placed := make(map[uint64]bool)
			load := make(map[string]int)
			for _, a := range plan {
				placed[a.TaskID] = true
				load[a.WorkerID] += a.Resources.Cores
			}
			var rest []*types.Task
			for _, tk := range pending {
				if !placed[tk.ID] {
					rest = append(rest, tk)
				}
			}
			after := make([]*types.WorkerSnapshot, len(workers))
			for i, w := range workers {
				cp := *w
				cp.Load = types.Resources{Cores: load[w.Info.ID]}
				after[i] = &cp
			}
			_, ok := s.NextAssignment(rest, after)
			return !ok
		},
		gen.SliceOf(gen.IntRange(0, 6)),
		gen.SliceOf(gen.IntRange(1, 8)),
	))

	properties.TestingRun(t)
}
