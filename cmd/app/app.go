package main

import (
	"context"

	"github-trending-poster/internal/adapter/filter"
	"github-trending-poster/internal/adapter/repository"
	"github-trending-poster/internal/bootstrap"
	"github-trending-poster/internal/config"
	"github-trending-poster/internal/metrics"
	"github-trending-poster/internal/service"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// app 持有一次进程生命周期内的所有组件
type app struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	service *service.PipelineService
	metrics *metrics.Metrics
	closers []func() error
}

// newApp 按配置组装各个组件
func newApp(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	store, err := repository.New(ctx, cfg.Store, log.Named("store"))
	if err != nil {
		return nil, errors.Wrap(err, "opening store")
	}
	a.closers = append(a.closers, store.Close)
	if sq, ok := store.(*repository.SQLiteRepo); ok {
		log.Infow("💾 发布记录使用 SQLite", "path", sq.Path())
	}

	summarizer, closeFn, err := bootstrap.NewSummarizer(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closeFn != nil {
		a.closers = append(a.closers, closeFn)
	}

	a.service = service.NewPipelineService(service.Deps{
		Source:     bootstrap.NewSource(cfg, log),
		Store:      store,
		Summarizer: summarizer,
		Publisher:  bootstrap.NewPublisher(cfg),
		Denylist:   filter.NewDenylist(cfg.Denylist.Names, cfg.Denylist.Authors, cfg.Denylist.Descriptions),
		Metrics:    a.metrics,
		Log:        log.Named("pipeline"),
	}, serviceOptions(cfg))

	log.Infow("✅ 初始化完成",
		"language", cfg.Language,
		"source", cfg.Source,
		"llm", cfg.LLM.Provider,
		"platform", cfg.Publisher.Platform,
		"store", cfg.Store.Driver,
	)
	return a, nil
}

// Close 按相反顺序释放资源
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warnw("⚠️ 关闭资源失败", "error", err)
		}
	}
	a.closers = nil
}

func serviceOptions(cfg *config.Config) service.Options {
	return service.Options{
		Language:        cfg.Language,
		Concurrency:     cfg.Concurrency,
		MaxItems:        cfg.MaxItems,
		Tags:            cfg.Publisher.Tags,
		PublishInterval: cfg.Publisher.Interval,
		Retention:       cfg.Store.Retention,
		Timeouts:        cfg.Timeouts,
		SummarizeRetry:  cfg.LLM.Retry,
		PublishRetry:    cfg.Publisher.Retry,
	}
}
