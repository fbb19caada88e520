package service

import (
	"context"
	"sort"
	"time"

	"github-trending-poster/internal/adapter/analyzer"
	"github-trending-poster/internal/adapter/filter"
	"github-trending-poster/internal/common"
	"github-trending-poster/internal/config"
	"github-trending-poster/internal/domain"
	"github-trending-poster/internal/metrics"
	"github-trending-poster/internal/port"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Options 一次运行的参数，都来自配置
type Options struct {
	Language        string
	Concurrency     int // 摘要和发布阶段的并发上限
	MaxItems        int // 每轮最多处理的新项目数，0 表示不限
	Tags            []string
	PublishInterval time.Duration // 两次发布之间的最小间隔
	Retention       time.Duration // 发布记录保留时长，0 表示永久
	Timeouts        config.TimeoutsConfig
	SummarizeRetry  common.Policy
	PublishRetry    common.Policy
}

// Deps 显式注入的依赖，测试时可以逐个替换
type Deps struct {
	Source     port.TrendSource
	Store      port.DedupStore
	Summarizer port.Summarizer
	Publisher  port.Publisher
	Denylist   *filter.Denylist // 可以为 nil
	Metrics    *metrics.Metrics // 可以为 nil
	Log        *zap.SugaredLogger
	Now        func() time.Time
}

// PipelineService 编排一次完整的运行：
// Fetching → Filtering → Enriching → Publishing → Reporting
type PipelineService struct {
	deps     Deps
	opts     Options
	analyzer *analyzer.RepoAnalyzer
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewPipelineService 创建流水线服务
func NewPipelineService(deps Deps, opts Options) *PipelineService {
	log := deps.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	a := analyzer.NewRepoAnalyzer(deps.Summarizer, log.Named("analyzer"))
	a.SetMaxGoroutines(opts.Concurrency)
	a.SetTimeout(opts.Timeouts.Summarize)
	a.SetPolicy(opts.SummarizeRetry)

	return &PipelineService{
		deps:     deps,
		opts:     opts,
		analyzer: a,
		log:      log,
		now:      now,
	}
}

// run 是一次运行的状态，只在 Run 内部使用
type run struct {
	svc    *PipelineService
	report *domain.RunReport
	order  map[string]int // 仓库 ID -> 在数据源中的位置，用于报告排序
}

// Run 执行一次流水线，总是返回报告；report.Fatal 非空表示本轮被中止
func (s *PipelineService) Run(ctx context.Context) *domain.RunReport {
	r := &run{
		svc:    s,
		report: domain.NewRunReport(s.opts.Language, s.now()),
		order:  map[string]int{},
	}
	defer func() {
		r.report.FinishedAt = s.now()
		r.sortReport()
		s.deps.Metrics.ObserveRun(r.report)
		LogReport(s.log, r.report)
	}()

	s.log.Infof("🚀 开始新一轮，语言: %s", s.opts.Language)
	s.prune(ctx)

	repos, ok := r.fetch(ctx)
	if !ok {
		return r.report
	}

	candidates := r.filter(ctx, repos)
	if r.report.RunFatal() || len(candidates) == 0 {
		return r.report
	}

	ready := r.enrich(ctx, candidates)
	if r.report.RunFatal() || len(ready) == 0 {
		return r.report
	}

	r.publish(ctx, ready)
	return r.report
}

// prune 在运行开始前清理过期的发布记录，失败只记日志
func (s *PipelineService) prune(ctx context.Context) {
	if s.opts.Retention <= 0 {
		return
	}
	pruneCtx, cancel := withTimeout(ctx, s.opts.Timeouts.Store)
	defer cancel()

	n, err := s.deps.Store.Prune(pruneCtx, s.now().Add(-s.opts.Retention))
	if err != nil {
		s.log.Warnw("⚠️ 清理过期发布记录失败", "error", err)
		return
	}
	if n > 0 {
		s.log.Infof("🧹 清理了 %d 条过期发布记录", n)
	}
}

func (r *run) fetch(ctx context.Context) ([]*domain.TrendingRepository, bool) {
	s := r.svc
	s.log.Infof("📥 [Fetching] 正在抓取 %s 的 Trending 项目...", s.opts.Language)

	fetchCtx, cancel := withTimeout(ctx, s.opts.Timeouts.Fetch)
	repos, err := s.deps.Source.Fetch(fetchCtx, s.opts.Language)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			err = canceled(ctx)
		}
		s.log.Errorw("❌ 获取 Trending 列表失败", "kind", common.KindOf(err), "error", err)
		r.abort(err)
		return nil, false
	}

	r.report.Fetched = len(repos)
	for i, repo := range repos {
		if _, seen := r.order[repo.ID()]; !seen {
			r.order[repo.ID()] = i
		}
	}
	s.log.Infof("✅ 成功获取 %d 个项目", len(repos))
	return repos, true
}

// filter 去掉黑名单和已经发布过的项目
func (r *run) filter(ctx context.Context, repos []*domain.TrendingRepository) []*domain.TrendingRepository {
	s := r.svc
	s.log.Infof("🔍 [Filtering] 检查 %d 个项目...", len(repos))

	kept, denied := s.deps.Denylist.Split(repos)
	for _, repo := range denied {
		r.report.Denied = append(r.report.Denied, repo.ID())
		s.log.Infof("🚫 项目 %s 命中黑名单", repo.ID())
	}

	candidates := make([]*domain.TrendingRepository, 0, len(kept))
	for i, repo := range kept {
		if ctx.Err() != nil {
			err := canceled(ctx)
			for _, rest := range kept[i:] {
				r.fail(rest.ID(), err)
			}
			r.abort(err)
			return nil
		}

		hasCtx, cancel := withTimeout(ctx, s.opts.Timeouts.Store)
		has, err := s.deps.Store.Has(hasCtx, repo.ID())
		cancel()
		if err != nil {
			s.log.Warnw("❌ 查询发布记录失败，跳过该项目", "repo", repo.ID(), "error", err)
			r.failKind(repo.ID(), common.KindStore, err)
			continue
		}
		if has {
			s.log.Debugf("⏭️ 项目 %s 已发布过", repo.ID())
			r.report.Skipped = append(r.report.Skipped, repo.ID())
			continue
		}
		candidates = append(candidates, repo)
	}

	if s.opts.MaxItems > 0 && len(candidates) > s.opts.MaxItems {
		s.log.Infof("✂️ 本轮只处理前 %d 个新项目，其余 %d 个留到下一轮", s.opts.MaxItems, len(candidates)-s.opts.MaxItems)
		candidates = candidates[:s.opts.MaxItems]
	}

	s.log.Infof("✅ 过滤后剩余 %d 个新项目（已发布 %d，黑名单 %d）",
		len(candidates), len(r.report.Skipped), len(r.report.Denied))
	return candidates
}

// enrich 并发生成摘要；遇到 run-fatal 或取消时所有未发布的项目都记为失败
func (r *run) enrich(ctx context.Context, candidates []*domain.TrendingRepository) []analyzer.Result {
	s := r.svc
	s.log.Infof("🧠 [Enriching] 开始生成摘要...")

	results, fatal := s.analyzer.SummarizeAll(ctx, candidates)
	if fatal == nil && ctx.Err() != nil {
		fatal = canceled(ctx)
	}

	ready := make([]analyzer.Result, 0, len(results))
	for _, res := range results {
		switch {
		case !res.OK():
			r.fail(res.Repo.ID(), res.Err)
		case fatal != nil:
			// 摘要成功但还没发布，同样算未处理
			r.fail(res.Repo.ID(), fatal)
		default:
			ready = append(ready, res)
		}
	}

	if fatal != nil {
		r.abort(fatal)
		return nil
	}
	return ready
}

type publishOutcome struct {
	done      bool // 已经处理（成功或失败）
	published bool
	postID    string
	err       error
}

// publish 逐项 publish-then-record，并发受 Concurrency 限制，发布节奏受 PublishInterval 限制
func (r *run) publish(ctx context.Context, items []analyzer.Result) {
	s := r.svc
	s.log.Infof("📲 [Publishing] 开始发布 %d 个项目...", len(items))

	var limiter *rate.Limiter
	if s.opts.PublishInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.opts.PublishInterval), 1)
	}

	outcomes := make([]publishOutcome, len(items))
	g, stageCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for i := range items {
		if stageCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(stageCtx); err != nil {
					return nil
				}
			}
			if stageCtx.Err() != nil {
				return nil
			}

			item := items[i]
			postID, err := s.publishOne(stageCtx, item.Repo, item.Summary)
			if err != nil {
				if stageCtx.Err() != nil && errors.Is(err, context.Canceled) {
					// 被中止打断，按未处理计
					return nil
				}
				outcomes[i] = publishOutcome{done: true, err: err}
				if common.IsRunFatal(err) {
					return err
				}
				return nil
			}

			// 发布已经确认，无论阶段是否被取消都要写记录
			recErr := s.record(stageCtx, item.Repo, postID)
			outcomes[i] = publishOutcome{done: true, published: true, postID: postID, err: recErr}
			return nil
		})
	}

	fatal := g.Wait()
	if fatal == nil && ctx.Err() != nil {
		fatal = canceled(ctx)
	}

	for i, o := range outcomes {
		repo := items[i].Repo
		switch {
		case o.published:
			r.report.Published = append(r.report.Published, domain.Publication{RepoID: repo.ID(), PostID: o.postID, URL: repo.URL})
			if o.err != nil {
				r.failKind(repo.ID(), common.KindRecord, o.err)
			}
		case o.done:
			r.fail(repo.ID(), o.err)
		case fatal != nil:
			r.fail(repo.ID(), fatal)
		}
	}

	if fatal != nil {
		r.abort(fatal)
	}
}

// publishOne 格式化并发布，可重试的错误按 PublishRetry 退避重试
func (s *PipelineService) publishOne(ctx context.Context, repo *domain.TrendingRepository, summary domain.Summary) (string, error) {
	msg := FormatMessage(repo, summary, s.opts.Tags)

	opts := append(s.opts.PublishRetry.Options(),
		common.WithRetryIf(common.IsRetryable),
		common.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			s.log.Warnw("🔁 发布失败，稍后重试", "repo", repo.ID(), "attempt", attempt, "delay", delay, "error", err)
		}),
	)

	var postID string
	err := common.Do(ctx, func() error {
		callCtx, cancel := withTimeout(ctx, s.opts.Timeouts.Publish)
		defer cancel()

		id, err := s.deps.Publisher.Publish(callCtx, msg)
		if err != nil {
			return err
		}
		postID = id
		return nil
	}, opts...)
	if err != nil {
		s.log.Warnw("❌ 发布失败", "repo", repo.ID(), "kind", common.KindOf(err), "error", err)
		return "", err
	}

	s.log.Infof("📲 已发布项目 %s (post: %s)", repo.ID(), postID)
	return postID, nil
}

// record 写入发布记录。ctx 的取消不会传递进来，已经确认的发布一定会尝试落盘
func (s *PipelineService) record(ctx context.Context, repo *domain.TrendingRepository, postID string) error {
	detached := context.WithoutCancel(ctx)
	rec := domain.PublicationRecord{RepoID: repo.ID(), PublishedAt: s.now(), PostID: postID}

	err := common.Do(detached, func() error {
		recCtx, cancel := withTimeout(detached, s.opts.Timeouts.Store)
		defer cancel()
		return s.deps.Store.Record(recCtx, rec)
	},
		common.WithMaxRetries(2),
		common.WithInitialDelay(200*time.Millisecond),
		common.WithMaxDelay(2*time.Second),
		common.WithRetryIf(func(err error) bool { return common.KindOf(err) == common.KindStore }),
	)

	if errors.Is(err, common.ErrAlreadyRecorded) {
		s.log.Warnw("⚠️ 发布记录已存在", "repo", repo.ID())
		return nil
	}
	if err != nil {
		s.log.Errorw("💾 写入发布记录失败，下一轮可能重复发布", "repo", repo.ID(), "post", postID, "error", err)
		return err
	}
	return nil
}

func (r *run) fail(repoID string, err error) {
	r.failKind(repoID, common.KindOf(err), err)
}

func (r *run) failKind(repoID string, kind common.Kind, err error) {
	r.report.Failures = append(r.report.Failures, domain.Failure{
		RepoID:  repoID,
		Kind:    kind,
		Message: err.Error(),
	})
}

// abort 记录本轮的 fatal 原因，只保留第一个
func (r *run) abort(err error) {
	if r.report.Fatal != nil {
		return
	}
	r.report.Fatal = &domain.Failure{Kind: common.KindOf(err), Message: err.Error()}
}

// sortReport 按数据源中的顺序排列，方便对照
func (r *run) sortReport() {
	pos := func(id string) int {
		if i, ok := r.order[id]; ok {
			return i
		}
		return len(r.order)
	}
	sort.SliceStable(r.report.Failures, func(i, j int) bool {
		return pos(r.report.Failures[i].RepoID) < pos(r.report.Failures[j].RepoID)
	})
	sort.SliceStable(r.report.Published, func(i, j int) bool {
		return pos(r.report.Published[i].RepoID) < pos(r.report.Published[j].RepoID)
	})
}

func canceled(ctx context.Context) error {
	return common.WrapError(common.KindCanceled, "pipeline.run", ctx.Err())
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
