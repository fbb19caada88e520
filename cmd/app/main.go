package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github-trending-poster/internal/config"
	"github-trending-poster/internal/logging"
	"github-trending-poster/internal/service"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	language   string

	cfg    *config.Config
	logger *zap.SugaredLogger
)

// errRunFatal 本轮以 run-fatal 结束，进程退出码为 1
var errRunFatal = errors.New("run aborted")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "app",
	Short:         "把 GitHub Trending 项目用 LLM 写成简介并发布到社区",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ 配置加载失败: %v\n", err)
			return err
		}
		if language != "" {
			cfg.Language = language
		}
		if verbose {
			cfg.Log.Level = "debug"
		}

		logger, err = logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ 日志初始化失败: %v\n", err)
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "输出 debug 日志")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径，默认读取当前目录的 config.toml")
	rootCmd.PersistentFlags().StringVarP(&language, "language", "l", "", "覆盖配置中的 Trending 语言")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印版本号",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "github-trending-poster", version)
	},
}

// --- run: 单次执行 ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "执行一轮：抓取 → 去重 → 摘要 → 发布",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			logger.Errorw("❌ 初始化失败", "error", err)
			return err
		}
		defer a.Close()

		report := a.service.Run(ctx)
		fmt.Fprint(cmd.OutOrStdout(), service.FormatReport(report))

		if report.RunFatal() {
			return errors.Wrapf(errRunFatal, "%s", report.Fatal.Kind)
		}
		return nil
	},
}

// --- serve: 定时执行 ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "按 schedule 定时执行，直到收到 SIGINT/SIGTERM",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			logger.Errorw("❌ 初始化失败", "error", err)
			return err
		}
		defer a.Close()

		return serve(ctx, a)
	},
}

func serve(ctx context.Context, a *app) error {
	scheduler, err := service.NewScheduler(a.cfg.Schedule, a.service, a.log.Named("scheduler"))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Start(gctx)
	})
	if a.cfg.Metrics.Addr != "" {
		g.Go(func() error {
			a.log.Infof("📈 指标服务监听 %s/metrics", a.cfg.Metrics.Addr)
			return a.metrics.Serve(gctx, a.cfg.Metrics.Addr)
		})
	}

	a.log.Info("按下 Ctrl+C 可以优雅停止程序")
	return g.Wait()
}
