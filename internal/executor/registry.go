package executor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/duke-git/lancet/v2/slice"

	"yqhp/work-queue/pkg/types"
)

// ErrExecutorNotFound is returned for a task kind without an executor.
var ErrExecutorNotFound = errors.New("executor not found")

// Registry 管理执行器的注册和查找。
type Registry struct {
	executors map[types.TaskKind]Executor
	mu        sync.RWMutex
}

// NewRegistry 创建一个新的执行器注册表。
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[types.TaskKind]Executor),
	}
}

// DefaultRegistry 返回注册了 shell 和 js 执行器的注册表。
func DefaultRegistry(outputLimit int) *Registry {
	r := NewRegistry()
	r.MustRegister(NewShellExecutor(outputLimit))
	r.MustRegister(NewScriptExecutor(outputLimit))
	return r
}

// Register 注册执行器，同一类型只能注册一次。
func (r *Registry) Register(executor Executor) error {
	if executor == nil {
		return fmt.Errorf("不能注册空执行器")
	}

	kind := executor.Kind()
	if kind == "" {
		return fmt.Errorf("执行器类型不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[kind]; exists {
		return fmt.Errorf("执行器类型已注册: %s", kind)
	}

	r.executors[kind] = executor
	return nil
}

// MustRegister 注册执行器，如果出错则 panic。
func (r *Registry) MustRegister(executor Executor) {
	if err := r.Register(executor); err != nil {
		panic(err)
	}
}

// Get 按类型获取执行器，不存在时返回 nil。
func (r *Registry) Get(kind types.TaskKind) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executors[kind]
}

// GetOrError 按类型获取执行器，如果不存在则返回错误。
func (r *Registry) GetOrError(kind types.TaskKind) (Executor, error) {
	executor := r.Get(kind)
	if executor == nil {
		return nil, fmt.Errorf("%w: %s", ErrExecutorNotFound, kind)
	}
	return executor, nil
}

// Has 检查给定类型是否已注册执行器。
func (r *Registry) Has(kind types.TaskKind) bool {
	return r.Get(kind) != nil
}

// Kinds 返回所有已注册的类型。
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, string(k))
	}
	slice.Sort(kinds)
	return kinds
}
