package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"yqhp/work-queue/internal/worker"
	"yqhp/work-queue/pkg/logger"
)

var (
	// worker start 命令的 flags
	workerID       string
	workerMaster   string
	workerCores    int
	workerMemory   int64
	workerDisk     int64
	workerFeatures []string
)

// workerCmd 是 worker 子命令
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "管理 Worker 节点",
	Long:  `Worker 节点连接 Master，上报资源和心跳，执行分配的任务。`,
}

// workerStartCmd 是 worker start 子命令
var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "启动 Worker 节点",
	Example: `  # 连接本地 Master
  work-queue worker start --master ws://localhost:9123

  # 声明资源和特性
  work-queue worker start --cores 8 --memory 16384 --features docker,gpu`,
	RunE: runWorkerStart,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerStartCmd)

	workerStartCmd.Flags().StringVar(&workerID, "id", "", "Worker ID (默认自动生成)")
	workerStartCmd.Flags().StringVar(&workerMaster, "master", "ws://localhost:9123", "Master 地址")
	workerStartCmd.Flags().IntVar(&workerCores, "cores", 1, "CPU 核数")
	workerStartCmd.Flags().Int64Var(&workerMemory, "memory", 1024, "内存 (MB)")
	workerStartCmd.Flags().Int64Var(&workerDisk, "disk", 1024, "磁盘 (MB)")
	workerStartCmd.Flags().StringSliceVar(&workerFeatures, "features", nil, "Worker 支持的特性")
}

func runWorkerStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{
		"id":       "worker.id",
		"master":   "worker.master_url",
		"cores":    "worker.cores",
		"memory":   "worker.memory_mb",
		"disk":     "worker.disk_mb",
		"features": "worker.features",
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	wcfg := worker.ConfigFrom(&cfg.Worker)
	wcfg.Logger = logger.L()
	w, err := worker.New(wcfg)
	if err != nil {
		return fmt.Errorf("创建 Worker 失败: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	printBanner(cmd)
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "  Worker ID: %s\n", w.ID())
		fmt.Fprintf(cmd.OutOrStdout(), "  Master: %s\n", cfg.Worker.MasterURL)
		fmt.Fprintf(cmd.OutOrStdout(), "  资源: %s\n", wcfg.Capacity)
		fmt.Fprintln(cmd.OutOrStdout(), "Worker 节点启动成功。按 Ctrl+C 停止。")
	}

	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("Worker 运行失败: %w", err)
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Worker 节点已停止，共完成 %d 个任务。\n", w.Completed())
	}
	return nil
}
