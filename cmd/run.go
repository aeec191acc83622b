package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"yqhp/work-queue/internal/dispatch"
	"yqhp/work-queue/internal/executor"
	"yqhp/work-queue/internal/master"
	"yqhp/work-queue/pkg/logger"
	"yqhp/work-queue/pkg/types"
)

var (
	// run 命令的 flags
	runWorkers int
	runCores   int
	runMemory  int64
)

// runCmd 是 run 子命令
var runCmd = &cobra.Command{
	Use:   "run <tasks.yaml>",
	Short: "独立模式执行任务文件",
	Long: `在一个进程内启动 Master 和 Worker，执行任务文件中的全部任务后退出。

任务文件格式：
  workers:
    - id: w1
      cores: 2
      memory_mb: 1024
  tasks:
    - command: echo hello
      resources: {cores: 1}
    - kind: js
      payload: console.log(task.id)

未声明 workers 时按 --workers/--cores/--memory 创建。`,
	Example: `  work-queue run tasks.yaml
  work-queue run --workers 4 --cores 2 tasks.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runTasks,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 1, "未声明 workers 时创建的 Worker 数")
	runCmd.Flags().IntVar(&runCores, "cores", 1, "每个 Worker 的 CPU 核数")
	runCmd.Flags().Int64Var(&runMemory, "memory", 1024, "每个 Worker 的内存 (MB)")
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.L()

	tf, err := LoadTaskFile(args[0])
	if err != nil {
		return err
	}
	if len(tf.Workers) == 0 {
		for i := range runWorkers {
			tf.Workers = append(tf.Workers, WorkerSpec{
				ID:       fmt.Sprintf("local-%d", i+1),
				Cores:    runCores,
				MemoryMB: runMemory,
				DiskMB:   cfg.Worker.DiskMB,
			})
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	local, err := dispatch.NewLocal(&dispatch.LocalConfig{
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		Executors:         executor.DefaultRegistry(cfg.Worker.OutputLimit),
		Logger:            log,
	})
	if err != nil {
		return err
	}
	defer local.Close()

	mcfg := masterConfig("standalone", cfg, log)
	mcfg.ExitWhenDrained = true
	m := master.New(mcfg, st, local, nil)

	tasks := make([]*types.Task, 0, len(tf.Tasks))
	for i, req := range tf.Tasks {
		task, err := req.ToTask()
		if err != nil {
			return fmt.Errorf("任务 #%d: %w", i+1, err)
		}
		tasks = append(tasks, task)
	}
	if err := checkPlacement(tasks, tf.Workers); err != nil {
		return err
	}
	for i, task := range tasks {
		if _, err := m.Submit(task); err != nil {
			return fmt.Errorf("任务 #%d: %w", i+1, err)
		}
	}
	for _, w := range tf.Workers {
		if err := local.AddWorker(w.Info()); err != nil {
			return err
		}
	}

	printBanner(cmd)
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "  执行 %d 个任务，%d 个 Worker\n\n", len(tf.Tasks), len(tf.Workers))
	}

	summary, runErr := m.Run(ctx)
	failed := reportRun(log, summary, runErr)

	if !quiet {
		printTasks(cmd.OutOrStdout(), m.List(nil))
		if summary != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "\n完成 %d，失败 %d，重新排队 %d，耗时 %s\n",
				summary.Done, summary.Failed, summary.Requeued, summary.Duration.Round(time.Millisecond))
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failed > 0 {
		return fmt.Errorf("%d 个任务失败", failed)
	}
	return nil
}

// printTasks writes one line per task.
func printTasks(out io.Writer, tasks []*types.Task) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tWORKER\tFAILURES\tEXIT\tOUTPUT")
	for _, t := range tasks {
		exit, output := "-", ""
		if t.Result != nil {
			exit = fmt.Sprint(t.Result.ExitCode)
			output = firstLine(t.Result.Output)
			if t.Result.Error != "" {
				output = t.Result.Error
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", t.ID, t.State, t.WorkerID, t.Failures, exit, output)
	}
	_ = tw.Flush()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 60 {
		s = string(r[:60]) + "..."
	}
	return s
}
