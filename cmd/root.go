// Package cmd 提供 work-queue CLI 的命令实现
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"yqhp/work-queue/internal/config"
	"yqhp/work-queue/pkg/logger"
)

const (
	// Version 是当前版本号
	Version = "0.1.0"
	// Banner 是启动时显示的 ASCII 艺术
	Banner = `
  __      __        _       ___
  \ \    / /__ _ _ | |__   / _ \ _  _ ___ _  _ ___
   \ \/\/ / _ \ '_|| / /  | (_) | || / -_) || / -_)
    \_/\_/\___/_|  |_\_\   \__\_\\_,_\___|\_,_\___| %s
`
)

var (
	// 全局配置
	cfgFile   string
	debug     bool
	quiet     bool
	overrides map[string]string
)

// rootCmd 是根命令
var rootCmd = &cobra.Command{
	Use:   "work-queue",
	Short: "分布式任务队列",
	Long: `work-queue 是一个 master/worker 任务分发系统。
Master 维护任务队列并按资源贪心调度，Worker 通过 WebSocket 接收并执行任务。`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd 打印版本号
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "work-queue version %s\n", Version)
	},
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "静默模式")
	rootCmd.PersistentFlags().StringToStringVar(&overrides, "set", nil, "覆盖配置项，例如 --set master.retry_limit=3")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")
	rootCmd.AddCommand(versionCmd)
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// loadConfig loads the configuration with --set overrides and the flags of
// cmd named in flagKeys, validates it and initializes the global logger.
func loadConfig(cmd *cobra.Command, flagKeys map[string]string) (*config.Config, error) {
	args := make(map[string]string, len(overrides)+len(flagKeys))
	for k, v := range overrides {
		args[k] = v
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			args[key] = flagValue(f)
		}
	})

	loader := config.NewLoader().WithCmdArgs(args)
	if cfgFile != "" {
		loader = loader.WithConfigPath(cfgFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}

	logger.Init(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	})
	return cfg, nil
}

// flagValue renders a flag the way the config loader parses it.
func flagValue(f *pflag.Flag) string {
	if sv, ok := f.Value.(pflag.SliceValue); ok {
		return strings.Join(sv.GetSlice(), ",")
	}
	return f.Value.String()
}

func printBanner(cmd *cobra.Command) {
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), Banner, Version)
		fmt.Fprintln(cmd.OutOrStdout())
	}
}
