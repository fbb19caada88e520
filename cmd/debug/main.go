package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github-trending-poster/internal/adapter/analyzer"
	"github-trending-poster/internal/adapter/filter"
	"github-trending-poster/internal/adapter/zsxq"
	"github-trending-poster/internal/bootstrap"
	"github-trending-poster/internal/config"
	"github-trending-poster/internal/logging"
	"github-trending-poster/internal/service"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	language   string
	limit      int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// 调试模式：抓取并生成前 N 个项目的摘要，只打印，不发布也不写发布记录
var rootCmd = &cobra.Command{
	Use:          "debug",
	Short:        "预览前 N 个 Trending 项目的摘要，不发布",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkLimit(limit); err != nil {
			return err
		}
		cfg, err := config.LoadDryRun(configPath)
		if err != nil {
			return err
		}
		if language != "" {
			cfg.Language = language
		}
		log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return preview(ctx, cfg, log)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "配置文件路径")
	rootCmd.Flags().StringVarP(&language, "language", "l", "", "覆盖配置中的 Trending 语言")
	rootCmd.Flags().IntVarP(&limit, "limit", "n", 3, "只分析前几个项目")
}

func checkLimit(n int) error {
	if n < 1 {
		return errors.Newf("invalid --limit: %d (must be >= 1)", n)
	}
	return nil
}

func preview(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	fmt.Println("🔍 调试模式：获取并分析项目")

	source := bootstrap.NewSource(cfg, log)

	// 1. 获取一些项目用于测试
	fmt.Printf("📥 正在抓取 %s 的 Trending 项目...\n", cfg.Language)
	repos, err := source.Fetch(ctx, cfg.Language)
	if err != nil {
		fmt.Printf("❌ 获取 Trending 列表失败: %v\n", err)
		return err
	}
	fmt.Printf("✅ 成功获取 %d 个项目\n", len(repos))

	// 2. 黑名单
	denylist := filter.NewDenylist(cfg.Denylist.Names, cfg.Denylist.Authors, cfg.Denylist.Descriptions)
	repos, denied := denylist.Split(repos)
	for _, repo := range denied {
		fmt.Printf("🚫 %s 命中黑名单\n", repo.ID())
	}
	if len(repos) == 0 {
		fmt.Println("❌ 没有剩余项目")
		return nil
	}
	repos = repos[:min(limit, len(repos))]

	// 3. 生成摘要
	summarizer, closeFn, err := bootstrap.NewSummarizer(ctx, cfg, log)
	if err != nil {
		fmt.Printf("❌ AI 初始化失败: %v\n", err)
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	a := analyzer.NewRepoAnalyzer(summarizer, log)
	a.SetMaxGoroutines(cfg.Concurrency)
	a.SetTimeout(cfg.Timeouts.Summarize)
	a.SetPolicy(cfg.LLM.Retry)

	fmt.Printf("🧠 对前 %d 个项目生成摘要:\n\n", len(repos))
	results, fatal := a.SummarizeAll(ctx, repos)
	for i, res := range results {
		fmt.Printf("================ [ #%d %s ] ================\n", i+1, res.Repo.ID())
		if !res.OK() {
			fmt.Printf("⚠️ 摘要失败: %v\n\n", res.Err)
			continue
		}
		msg := service.FormatMessage(res.Repo, res.Summary, cfg.Publisher.Tags)
		if cfg.Publisher.Platform == "zsxq" {
			fmt.Println(zsxq.Render(msg))
		} else {
			fmt.Printf("%s\n\n%s\n\n%s\n", msg.Title, msg.Body, msg.URL)
		}
		fmt.Println()
	}
	return fatal
}
