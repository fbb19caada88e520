package analyzer

import (
	"context"
	"time"

	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"
	"github-trending-poster/internal/port"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultGoroutines = 3

// Result 是单个仓库的摘要结果，Err 非空表示失败
type Result struct {
	Repo    *domain.TrendingRepository
	Summary domain.Summary
	Err     error
}

// OK 摘要成功
func (r Result) OK() bool {
	return r.Err == nil
}

// RepoAnalyzer 并发调用 Summarizer，并在 Summarizer 边界做退避重试
type RepoAnalyzer struct {
	summarizer    port.Summarizer
	maxGoroutines int           // 最大并发数
	timeout       time.Duration // 单次调用超时，0 表示不限
	policy        common.Policy
	log           *zap.SugaredLogger
}

// NewRepoAnalyzer 创建新的分析器实例
func NewRepoAnalyzer(summarizer port.Summarizer, log *zap.SugaredLogger) *RepoAnalyzer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RepoAnalyzer{
		summarizer:    summarizer,
		maxGoroutines: defaultGoroutines,
		timeout:       60 * time.Second,
		policy:        common.DefaultPolicy(),
		log:           log,
	}
}

// SetMaxGoroutines 设置最大并发数
func (a *RepoAnalyzer) SetMaxGoroutines(max int) {
	if max > 0 {
		a.maxGoroutines = max
	}
}

func (a *RepoAnalyzer) SetTimeout(d time.Duration) {
	if d >= 0 {
		a.timeout = d
	}
}

func (a *RepoAnalyzer) SetPolicy(p common.Policy) {
	a.policy = p
}

// SummarizeAll 为每个仓库生成摘要，结果与输入一一对应（按下标）
//
// 单项失败只影响自己。遇到 run-fatal 错误（Unauthorized / QuotaExceeded）时停止发出新的调用，
// 所有尚未成功的项都记为该错误，并把它作为第二个返回值；外部取消时未完成的项记为 Canceled。
func (a *RepoAnalyzer) SummarizeAll(ctx context.Context, repos []*domain.TrendingRepository) ([]Result, error) {
	results := make([]Result, len(repos))
	for i, repo := range repos {
		results[i].Repo = repo
	}
	if len(repos) == 0 {
		return results, nil
	}

	a.log.Infof("🤖 开始生成摘要，共 %d 个项目，最大并发数: %d", len(repos), a.maxGoroutines)

	done := make([]bool, len(repos))
	g, stageCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxGoroutines)

	for i := range repos {
		if stageCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if stageCtx.Err() != nil {
				return nil
			}
			summary, err := a.summarizeOne(stageCtx, repos[i])
			results[i].Summary = summary
			results[i].Err = err
			done[i] = true
			if common.IsRunFatal(err) {
				// 返回错误会取消 stageCtx，其它 worker 不再发出新调用
				return err
			}
			return nil
		})
	}

	fatal := g.Wait()

	for i := range results {
		// 已经处理完的项（成功或者自己的失败）保持不变
		if done[i] && !errors.Is(results[i].Err, context.Canceled) {
			continue
		}
		if fatal != nil {
			results[i].Err = fatal
		} else {
			results[i].Err = common.WrapError(common.KindCanceled, "analyzer.summarize", ctx.Err())
		}
	}

	if fatal != nil {
		a.log.Errorw("⛔ 摘要阶段中止", "error", fatal)
		return results, fatal
	}

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	a.log.Infof("✅ 摘要完成，成功 %d 个，失败 %d 个", len(results)-failed, failed)
	return results, nil
}

// summarizeOne 单个仓库，可重试的错误按 policy 退避重试
func (a *RepoAnalyzer) summarizeOne(ctx context.Context, repo *domain.TrendingRepository) (domain.Summary, error) {
	var summary domain.Summary

	opts := append(a.policy.Options(),
		common.WithRetryIf(common.IsRetryable),
		common.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			a.log.Warnw("🔁 摘要失败，稍后重试",
				"repo", repo.ID(),
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}),
	)

	err := common.Do(ctx, func() error {
		callCtx, cancel := a.callContext(ctx)
		defer cancel()

		s, err := a.summarizer.Summarize(callCtx, repo)
		if err != nil {
			return err
		}
		summary = s
		return nil
	}, opts...)

	if err != nil {
		a.log.Warnw("❌ 摘要失败", "repo", repo.ID(), "kind", common.KindOf(err), "error", err)
		return domain.Summary{}, err
	}
	a.log.Debugw("✅ 摘要完成", "repo", repo.ID(), "model", summary.Model)
	return summary, nil
}

func (a *RepoAnalyzer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}
