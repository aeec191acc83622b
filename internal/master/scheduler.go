package master

import (
	"github.com/duke-git/lancet/v2/slice"

	"yqhp/work-queue/pkg/types"
)

// GreedyScheduler packs the largest task that fits onto the worker with the
// most free capacity.
//
// Tasks are ordered by cores, then memory, then disk, largest first, ties
// broken by submission order. Workers are ordered the same way on their free
// capacity, ties broken by registration order.
type GreedyScheduler struct{}

// NewGreedyScheduler creates a greedy scheduler.
func NewGreedyScheduler() *GreedyScheduler {
	return &GreedyScheduler{}
}

// NextAssignment returns the first pair found in scheduling order.
func (s *GreedyScheduler) NextAssignment(pending []*types.Task, available []*types.WorkerSnapshot) (*types.Assignment, bool) {
	if len(pending) == 0 || len(available) == 0 {
		return nil, false
	}

	tasks := append([]*types.Task(nil), pending...)
	slice.SortBy(tasks, largerTask)

	workers := append([]*types.WorkerSnapshot(nil), available...)
	slice.SortBy(workers, freerWorker)

	for _, t := range tasks {
		for _, w := range workers {
			if fits(t, w) {
				return &types.Assignment{
					TaskID:    t.ID,
					WorkerID:  w.Info.ID,
					Resources: t.Resources,
				}, true
			}
		}
	}
	return nil, false
}

// Plan applies NextAssignment until nothing fits, booking each assignment on
// a working copy of the worker loads.
func (s *GreedyScheduler) Plan(pending []*types.Task, available []*types.WorkerSnapshot) []*types.Assignment {
	workers := make([]*types.WorkerSnapshot, len(available))
	byID := make(map[string]*types.WorkerSnapshot, len(available))
	for i, w := range available {
		cp := *w
		workers[i] = &cp
		byID[cp.Info.ID] = &cp
	}
	tasks := append([]*types.Task(nil), pending...)

	var plan []*types.Assignment
	for len(tasks) > 0 {
		a, ok := s.NextAssignment(tasks, workers)
		if !ok {
			break
		}
		plan = append(plan, a)

		w := byID[a.WorkerID]
		w.Load = w.Load.Add(a.Resources)
		tasks = slice.Filter(tasks, func(_ int, t *types.Task) bool { return t.ID != a.TaskID })
	}
	return plan
}

func fits(t *types.Task, w *types.WorkerSnapshot) bool {
	if !t.Resources.FitsIn(w.Free()) {
		return false
	}
	if len(t.Features) == 0 {
		return true
	}
	return slice.ContainSubSlice(w.Info.Features, t.Features)
}

func largerTask(a, b *types.Task) bool {
	if c := a.Resources.Compare(b.Resources); c != 0 {
		return c > 0
	}
	return a.ID < b.ID
}

func freerWorker(a, b *types.WorkerSnapshot) bool {
	if c := a.Free().Compare(b.Free()); c != 0 {
		return c > 0
	}
	return a.Seq < b.Seq
}
