package cmd

import (
	"fmt"
	"os"

	"github.com/duke-git/lancet/v2/slice"
	"gopkg.in/yaml.v3"

	"yqhp/work-queue/pkg/types"
)

// TaskFile is the document read by the run and submit commands.
type TaskFile struct {
	Workers []WorkerSpec              `yaml:"workers"`
	Tasks   []types.TaskSubmitRequest `yaml:"tasks"`
}

// WorkerSpec declares an in-process worker.
type WorkerSpec struct {
	ID       string            `yaml:"id"`
	Cores    int               `yaml:"cores"`
	MemoryMB int64             `yaml:"memory_mb"`
	DiskMB   int64             `yaml:"disk_mb"`
	Features []string          `yaml:"features"`
	Labels   map[string]string `yaml:"labels"`
}

// Info converts the declaration into registration info.
func (w WorkerSpec) Info() types.WorkerInfo {
	return types.WorkerInfo{
		ID:       w.ID,
		Address:  "local",
		Capacity: types.Resources{Cores: w.Cores, MemoryMB: w.MemoryMB, DiskMB: w.DiskMB},
		Features: w.Features,
		Labels:   w.Labels,
	}
}

// checkPlacement fails on the first task that none of the workers could hold.
func checkPlacement(tasks []*types.Task, workers []WorkerSpec) error {
	for i, t := range tasks {
		accepted := slice.Some(workers, func(_ int, w WorkerSpec) bool {
			info := w.Info()
			return info.Accepts(t)
		})
		if !accepted {
			return fmt.Errorf("任务 #%d 需要 %s (features=%v)，没有 Worker 能够容纳", i+1, t.Resources, t.Features)
		}
	}
	return nil
}

// ParseTaskFile parses a task file and fills worker ids.
func ParseTaskFile(data []byte) (*TaskFile, error) {
	var tf TaskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("解析任务文件失败: %w", err)
	}
	if len(tf.Tasks) == 0 {
		return nil, fmt.Errorf("任务文件中没有任务")
	}

	seen := make(map[string]bool, len(tf.Workers))
	for i := range tf.Workers {
		w := &tf.Workers[i]
		if w.ID == "" {
			w.ID = fmt.Sprintf("local-%d", i+1)
		}
		if seen[w.ID] {
			return nil, fmt.Errorf("重复的 worker id: %s", w.ID)
		}
		seen[w.ID] = true
		if w.Cores <= 0 {
			return nil, fmt.Errorf("worker %s: cores 必须大于 0", w.ID)
		}
	}
	return &tf, nil
}

// LoadTaskFile reads and parses a task file.
func LoadTaskFile(path string) (*TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取任务文件失败: %w", err)
	}
	return ParseTaskFile(data)
}
