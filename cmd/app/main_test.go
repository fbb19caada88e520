package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github-trending-poster/internal/common"
	"github-trending-poster/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Language:    "go",
		Since:       "daily",
		Source:      "trending",
		Concurrency: 2,
		MaxItems:    5,
		Schedule:    "@every 1h",
		Timeouts:    config.TimeoutsConfig{Fetch: time.Second, Summarize: time.Second, Publish: time.Second, Store: time.Second, Readme: time.Second},
		GitHub:      config.GitHubConfig{TrendingURL: "https://github.com/trending"},
		LLM: config.LLMConfig{
			Provider: "openai",
			APIKey:   "sk-test",
			Model:    "gpt-4o-mini",
			Retry:    common.DefaultPolicy(),
		},
		Publisher: config.PublisherConfig{
			Platform: "zsxq",
			Interval: time.Second,
			Tags:     []string{"Go"},
			Retry:    common.DefaultPolicy(),
			Zsxq:     config.ZsxqConfig{Cookie: "c", GroupID: "1", BaseURL: "https://api.zsxq.com"},
		},
		Store: config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "posts.db"), Retention: 24 * time.Hour},
		Log:   config.LogConfig{Level: "info", Format: "console"},
	}
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["serve"])
	assert.True(t, names["version"])

	assert.NotNil(t, rootCmd.PersistentFlags().ShorthandLookup("c"))
	assert.NotNil(t, rootCmd.PersistentFlags().ShorthandLookup("v"))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "github-trending-poster dev")
}

func TestServiceOptions(t *testing.T) {
	cfg := testConfig(t)
	opts := serviceOptions(cfg)

	assert.Equal(t, "go", opts.Language)
	assert.Equal(t, 2, opts.Concurrency)
	assert.Equal(t, 5, opts.MaxItems)
	assert.Equal(t, []string{"Go"}, opts.Tags)
	assert.Equal(t, time.Second, opts.PublishInterval)
	assert.Equal(t, 24*time.Hour, opts.Retention)
	assert.Equal(t, cfg.LLM.Retry, opts.SummarizeRetry)
	assert.Equal(t, cfg.Timeouts, opts.Timeouts)
}

func TestNewApp(t *testing.T) {
	cfg := testConfig(t)
	core, logs := observer.New(zap.InfoLevel)
	a, err := newApp(context.Background(), cfg, zap.New(core).Sugar())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.service)
	assert.NotNil(t, a.metrics)
	assert.Len(t, a.closers, 1)
	assert.FileExists(t, cfg.Store.Path)

	entries := logs.FilterMessage("💾 发布记录使用 SQLite").All()
	require.Len(t, entries, 1)
	assert.Equal(t, cfg.Store.Path, entries[0].ContextMap()["path"])
}

func TestNewApp_BadStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "mongo"

	_, err := newApp(context.Background(), cfg, zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestServe_InvalidSchedule(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer a.Close()

	cfg.Schedule = "not a schedule"
	assert.Error(t, serve(context.Background(), a))
}
