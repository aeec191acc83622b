package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"yqhp/work-queue/pkg/client"
	"yqhp/work-queue/pkg/types"
)

var (
	// submit 命令的 flags
	submitMaster     string
	submitFile       string
	submitKind       string
	submitTag        string
	submitPayload    string
	submitCores      int
	submitMemory     int64
	submitDisk       int64
	submitFeatures   []string
	submitEnv        map[string]string
	submitMaxRetries int
	submitTimeout    time.Duration
	submitWait       bool
)

// submitCmd 是 submit 子命令
var submitCmd = &cobra.Command{
	Use:   "submit [command]",
	Short: "向 Master 提交任务",
	Example: `  # 提交 shell 任务
  work-queue submit "make test" --cores 2 --tag ci

  # 提交 js 任务并等待结果
  work-queue submit --kind js --payload 'console.log(1+1)' --wait

  # 提交任务文件中的全部任务
  work-queue submit -f tasks.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

// statusCmd 是 status 子命令
var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "查看 Master 或任务状态",
	Example: `  work-queue status
  work-queue status 42 --master http://localhost:9123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)

	submitCmd.Flags().StringVar(&submitMaster, "master", "http://localhost:9123", "Master 地址")
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "任务文件")
	submitCmd.Flags().StringVar(&submitKind, "kind", "shell", "任务类型 (shell, js)")
	submitCmd.Flags().StringVar(&submitTag, "tag", "", "任务标签")
	submitCmd.Flags().StringVar(&submitPayload, "payload", "", "shell 任务的标准输入或 js 脚本")
	submitCmd.Flags().IntVar(&submitCores, "cores", 1, "CPU 核数")
	submitCmd.Flags().Int64Var(&submitMemory, "memory", 0, "内存 (MB)")
	submitCmd.Flags().Int64Var(&submitDisk, "disk", 0, "磁盘 (MB)")
	submitCmd.Flags().StringSliceVar(&submitFeatures, "features", nil, "需要的 Worker 特性")
	submitCmd.Flags().StringToStringVar(&submitEnv, "env", nil, "环境变量")
	submitCmd.Flags().IntVar(&submitMaxRetries, "max-retries", -1, "最大重试次数 (-1 使用 Master 配置)")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 0, "任务超时时间")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "等待任务结束")

	statusCmd.Flags().StringVar(&submitMaster, "master", "http://localhost:9123", "Master 地址")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var reqs []types.TaskSubmitRequest
	switch {
	case submitFile != "":
		tf, err := LoadTaskFile(submitFile)
		if err != nil {
			return err
		}
		reqs = tf.Tasks
	default:
		req, err := submitRequestFromFlags(args)
		if err != nil {
			return err
		}
		reqs = append(reqs, *req)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c := client.New(submitMaster)
	ids := make([]uint64, 0, len(reqs))
	for i := range reqs {
		resp, err := c.Submit(ctx, &reqs[i])
		if err != nil {
			return fmt.Errorf("提交任务失败: %w", err)
		}
		ids = append(ids, resp.ID)
		fmt.Fprintf(cmd.OutOrStdout(), "已提交任务 %d (%s)\n", resp.ID, resp.Checksum[:min(8, len(resp.Checksum))])
	}

	if !submitWait {
		return nil
	}

	var failed int
	for _, id := range ids {
		task, err := waitForTask(ctx, c, id, 500*time.Millisecond)
		if err != nil {
			return err
		}
		printTasks(cmd.OutOrStdout(), []*types.Task{task})
		if task.State == types.TaskStateFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d 个任务失败", failed)
	}
	return nil
}

func submitRequestFromFlags(args []string) (*types.TaskSubmitRequest, error) {
	req := &types.TaskSubmitRequest{
		Kind:      types.TaskKind(submitKind),
		Tag:       submitTag,
		Payload:   submitPayload,
		Env:       submitEnv,
		Features:  submitFeatures,
		Resources: types.Resources{Cores: submitCores, MemoryMB: submitMemory, DiskMB: submitDisk},
	}
	if len(args) == 1 {
		req.Command = args[0]
	}
	if submitPayload == "-" {
		data, err := readAllStdin()
		if err != nil {
			return nil, err
		}
		req.Payload = data
	}
	if submitMaxRetries >= 0 {
		n := submitMaxRetries
		req.MaxRetries = &n
	}
	if submitTimeout > 0 {
		req.Timeout = submitTimeout.String()
	}
	if req.Command == "" && req.Payload == "" {
		return nil, fmt.Errorf("需要指定命令、--payload 或 -f 任务文件")
	}
	return req, nil
}

func readAllStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("读取标准输入失败: %w", err)
	}
	return string(data), nil
}

// waitForTask polls the master until the task is done or failed.
func waitForTask(ctx context.Context, c *client.Client, id uint64, interval time.Duration) (*types.Task, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := c.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("查询任务 %d 失败: %w", id, err)
		}
		if task.State.IsTerminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := client.New(submitMaster)
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		var id uint64
		if _, err := fmt.Sscan(args[0], &id); err != nil {
			return fmt.Errorf("无效的任务 ID: %s", args[0])
		}
		task, err := c.Get(ctx, id)
		if err != nil {
			return err
		}
		printTasks(out, []*types.Task{task})
		return nil
	}

	health, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("无法连接 Master %s: %w", submitMaster, err)
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	workers, err := c.Workers(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Master: %s (running=%v)\n", health.MasterID, health.Running)
	fmt.Fprintf(out, "任务: waiting=%d running=%d retrying=%d done=%d failed=%d\n",
		stats.Waiting, stats.Running, stats.Retrying, stats.Done, stats.Failed)
	fmt.Fprintf(out, "负载: %s / %s (占用 %d)  重试上限: %d\n", stats.Load, stats.Capacity, stats.Booked, stats.RetryLimit)
	if stats.Runtime.Count > 0 {
		fmt.Fprintf(out, "耗时: p50=%s p95=%s p99=%s max=%s\n",
			stats.Runtime.P50, stats.Runtime.P95, stats.Runtime.P99, stats.Runtime.Max)
	}
	fmt.Fprintf(out, "Worker (%d):\n", workers.Total)
	for _, w := range workers.Workers {
		fmt.Fprintf(out, "  %s  %s  load=%s  tasks=%v\n", w.Info.ID, w.Info.Capacity, w.Load, w.Tasks)
	}
	return nil
}
