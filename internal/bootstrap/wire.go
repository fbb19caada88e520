package bootstrap

import (
	"context"

	"github-trending-poster/internal/adapter/feishu"
	"github-trending-poster/internal/adapter/gemini"
	"github-trending-poster/internal/adapter/github"
	"github-trending-poster/internal/adapter/openai"
	"github-trending-poster/internal/adapter/prompt"
	"github-trending-poster/internal/adapter/zsxq"
	"github-trending-poster/internal/config"
	"github-trending-poster/internal/port"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// NewSource 按 source 选择 Trending 页面或 Search API
func NewSource(cfg *config.Config, log *zap.SugaredLogger) port.TrendSource {
	if cfg.Source == "search" {
		return github.NewSearchSource(cfg.GitHub.Token, cfg.Since, cfg.Timeouts.Fetch)
	}
	return github.NewTrendingSource(cfg.GitHub.TrendingURL, cfg.Since, cfg.Timeouts.Fetch, log.Named("trending"))
}

// NewSummarizer 第二个返回值用于释放 LLM 客户端，可能为 nil
func NewSummarizer(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (port.Summarizer, func() error, error) {
	var readme port.ReadmeReader
	if cfg.LLM.ReadmeChars > 0 {
		readme = github.NewReadmeReader(cfg.GitHub.Token, cfg.Timeouts.Readme, cfg.LLM.ReadmeChars)
	}
	prompts := prompt.NewBuilder(readme, cfg.Timeouts.Readme, log.Named("prompt"))

	switch cfg.LLM.Provider {
	case "gemini":
		s, err := gemini.NewSummarizer(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.Model, cfg.LLM.MaxSummaryChars, prompts)
		if err != nil {
			return nil, nil, errors.Wrap(err, "initializing gemini")
		}
		return s, s.Close, nil
	default:
		return openai.NewSummarizer(openai.Config{
			BaseURL:         cfg.LLM.APIBase,
			APIKey:          cfg.LLM.APIKey,
			Model:           cfg.LLM.Model,
			Temperature:     cfg.LLM.Temperature,
			MaxTokens:       cfg.LLM.MaxTokens,
			MaxSummaryChars: cfg.LLM.MaxSummaryChars,
			Timeout:         cfg.Timeouts.Summarize,
		}, prompts), nil, nil
	}
}

func NewPublisher(cfg *config.Config) port.Publisher {
	if cfg.Publisher.Platform == "feishu" {
		return feishu.NewPublisher(cfg.Publisher.Feishu.Webhook, cfg.Timeouts.Publish)
	}
	z := cfg.Publisher.Zsxq
	return zsxq.NewPublisher(z.BaseURL, z.Cookie, z.GroupID, cfg.Timeouts.Publish)
}
