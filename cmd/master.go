package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yqhp/work-queue/api/rest"
	"yqhp/work-queue/internal/config"
	dispatchws "yqhp/work-queue/internal/dispatch/ws"
	"yqhp/work-queue/internal/master"
	"yqhp/work-queue/internal/store"
	"yqhp/work-queue/pkg/logger"
)

var (
	// master start 命令的 flags
	masterAddress          string
	masterHeartbeatTimeout time.Duration
	masterRetryLimit       int
	masterJournal          string
)

// masterCmd 是 master 子命令
var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "管理 Master 节点",
	Long:  `Master 节点负责维护任务队列、调度任务和跟踪 Worker 心跳。`,
}

// masterStartCmd 是 master start 子命令
var masterStartCmd = &cobra.Command{
	Use:   "start",
	Short: "启动 Master 节点",
	Long: `启动 Master 节点，开始接受 Worker 连接和任务提交。

Master 节点负责：
  - 管理 Worker 注册和心跳
  - 按资源贪心调度任务
  - 失败任务重试
  - 提供 REST API`,
	Example: `  # 使用默认配置启动
  work-queue master start

  # 指定监听地址
  work-queue master start --address :9123

  # 使用 redis 记录任务，重启后恢复队列
  work-queue master start --journal redis --set journal.redis.addr=localhost:6379`,
	RunE: runMasterStart,
}

func init() {
	rootCmd.AddCommand(masterCmd)
	masterCmd.AddCommand(masterStartCmd)

	masterStartCmd.Flags().StringVar(&masterAddress, "address", ":9123", "HTTP 服务地址")
	masterStartCmd.Flags().DurationVar(&masterHeartbeatTimeout, "heartbeat-timeout", 30*time.Second, "Worker 心跳超时时间")
	masterStartCmd.Flags().IntVar(&masterRetryLimit, "retry-limit", 2, "任务失败后的最大重试次数")
	masterStartCmd.Flags().StringVar(&masterJournal, "journal", "memory", "任务记录存储 (memory, redis, mysql, postgres)")
}

func runMasterStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{
		"address":           "server.address",
		"heartbeat-timeout": "master.heartbeat_timeout",
		"retry-limit":       "master.retry_limit",
		"journal":           "journal.driver",
	})
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.L()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	masterID := cfg.Master.ID
	if masterID == "" {
		masterID = "master-" + uuid.NewString()[:8]
	}

	hub := dispatchws.NewHub(&dispatchws.HubConfig{
		MasterID:          masterID,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		Logger:            log,
	})
	m := master.New(masterConfig(masterID, cfg, log), st, hub, nil)

	restCfg := rest.ConfigFrom(&cfg.Server)
	restCfg.Logger = log
	srv := rest.NewServer(m, hub, restCfg)

	sched, err := startStatusJob(m, cfg.Master.StatusInterval, log)
	if err != nil {
		return err
	}
	defer func() { _ = sched.Shutdown() }()

	printBanner(cmd)
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "  Master ID: %s\n", masterID)
		fmt.Fprintf(cmd.OutOrStdout(), "  HTTP 地址: %s\n", cfg.Server.Address)
		fmt.Fprintf(cmd.OutOrStdout(), "  任务记录: %s\n", cfg.Journal.Driver)
		fmt.Fprintln(cmd.OutOrStdout(), "Master 节点启动成功。按 Ctrl+C 停止。")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.StartWithContext(gctx)
	})
	g.Go(func() error {
		summary, err := m.Run(gctx)
		_ = hub.Close()
		reportRun(log, summary, err)
		// exit_when_drained stops the server too
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("Master 运行失败: %w", err)
	}
	if !quiet {
		fmt.Fprintln(cmd.OutOrStdout(), "Master 节点已停止。")
	}
	return nil
}

// openStore opens the configured journal and restores the queue from it.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*store.Store, error) {
	journal, err := store.OpenJournal(ctx, &cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("打开任务记录失败: %w", err)
	}

	st := store.New(store.Options{
		RetryLimit: cfg.Master.RetryLimit,
		Backoff: store.Backoff{
			Type:     store.ParseBackoffType(cfg.Master.RetryBackoff),
			Base:     cfg.Master.RetryBackoffBase,
			MaxDelay: cfg.Master.RetryBackoffMax,
		},
		Journal: journal,
		Logger:  log,
	})

	n, err := st.Restore(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("恢复任务队列失败: %w", err)
	}
	if n > 0 {
		log.Info("restored tasks from journal", zap.Int("tasks", n), zap.String("driver", cfg.Journal.Driver))
	}
	return st, nil
}

func masterConfig(id string, cfg *config.Config, log *zap.Logger) *master.Config {
	return &master.Config{
		ID:               id,
		HeartbeatTimeout: cfg.Master.HeartbeatTimeout,
		PollInterval:     cfg.Master.PollInterval,
		ExitWhenDrained:  cfg.Master.ExitWhenDrained,
		Logger:           log,
	}
}

// startStatusJob logs queue statistics every interval.
func startStatusJob(m *master.Master, interval time.Duration, log *zap.Logger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("创建定时任务失败: %w", err)
	}
	if interval > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(logStatus, m, log),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("创建定时任务失败: %w", err)
		}
	}
	sched.Start()
	return sched, nil
}

func logStatus(m *master.Master, log *zap.Logger) {
	s := m.Stats()
	log.Info("queue status",
		zap.Int("waiting", s.Waiting),
		zap.Int("running", s.Running),
		zap.Int("retrying", s.Retrying),
		zap.Int("done", s.Done),
		zap.Int("failed", s.Failed),
		zap.Int("workers", s.Workers),
		zap.String("load", s.Load.String()),
		zap.String("capacity", s.Capacity.String()),
		zap.Duration("p95", s.Runtime.P95),
	)
}

// reportRun logs the loop summary and every task that exhausted its retries.
// It returns the number of such tasks.
func reportRun(log *zap.Logger, summary *master.Summary, err error) int {
	failed := 0
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			if errors.Is(e, context.Canceled) || errors.Is(e, context.DeadlineExceeded) {
				continue
			}
			failed++
			log.Warn("task failed permanently", zap.Error(e))
		}
	} else if err != nil && !errors.Is(err, context.Canceled) {
		failed++
		log.Warn("master loop error", zap.Error(err))
	}

	if summary != nil {
		log.Info("master loop summary",
			zap.Int64("cycles", summary.Cycles),
			zap.Int("done", summary.Done),
			zap.Int("failed", summary.Failed),
			zap.Int64("requeued", summary.Requeued),
			zap.Int64("evicted", summary.Evicted),
			zap.Duration("duration", summary.Duration),
		)
	}
	return failed
}
