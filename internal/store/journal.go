package store

import (
	"context"
	"sync"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/jinzhu/copier"

	"yqhp/work-queue/pkg/types"
)

// Journal records task transitions so a restarted master can restore its queue.
type Journal interface {
	// Record upserts the current state of a task.
	Record(ctx context.Context, task *types.Task) error
	// Delete forgets a removed task.
	Delete(ctx context.Context, id uint64) error
	// Load returns every recorded task ordered by id.
	Load(ctx context.Context) ([]*types.Task, error)
	Close() error
}

// MemoryJournal keeps records in process memory.
type MemoryJournal struct {
	mu      sync.RWMutex
	records map[uint64]*types.Task
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{records: make(map[uint64]*types.Task)}
}

func (j *MemoryJournal) Record(_ context.Context, task *types.Task) error {
	cp, err := cloneTask(task)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.records[task.ID] = cp
	j.mu.Unlock()
	return nil
}

func (j *MemoryJournal) Delete(_ context.Context, id uint64) error {
	j.mu.Lock()
	delete(j.records, id)
	j.mu.Unlock()
	return nil
}

func (j *MemoryJournal) Load(_ context.Context) ([]*types.Task, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]*types.Task, 0, len(j.records))
	for _, t := range j.records {
		cp, err := cloneTask(t)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	slice.SortBy(out, func(a, b *types.Task) bool { return a.ID < b.ID })
	return out, nil
}

// Len returns the number of recorded tasks.
func (j *MemoryJournal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.records)
}

func (j *MemoryJournal) Close() error { return nil }

// nopJournal discards everything.
type nopJournal struct{}

func (nopJournal) Record(context.Context, *types.Task) error   { return nil }
func (nopJournal) Delete(context.Context, uint64) error        { return nil }
func (nopJournal) Load(context.Context) ([]*types.Task, error) { return nil, nil }
func (nopJournal) Close() error                                { return nil }

func cloneTask(t *types.Task) (*types.Task, error) {
	out := &types.Task{}
	if err := copier.CopyWithOption(out, t, copier.Option{DeepCopy: true}); err != nil {
		return nil, err
	}
	return out, nil
}
