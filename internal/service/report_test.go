package service

import (
	"testing"
	"time"

	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sampleReport() *domain.RunReport {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	report := domain.NewRunReport("go", start)
	report.FinishedAt = start.Add(90 * time.Second)
	report.Fetched = 4
	report.Skipped = []string{"octo/b"}
	report.Denied = []string{"octo/d"}
	report.Published = []domain.Publication{{RepoID: "octo/a", PostID: "42", URL: "https://github.com/octo/a"}}
	report.Failures = []domain.Failure{{RepoID: "octo/c", Kind: common.KindUnauthorized, Message: "cookie expired"}}
	report.Fatal = &domain.Failure{Kind: common.KindUnauthorized, Message: "cookie expired"}
	return report
}

func TestFormatReport(t *testing.T) {
	out := FormatReport(sampleReport())

	assert.Contains(t, out, "语言: go")
	assert.Contains(t, out, "耗时: 1m30s")
	assert.Contains(t, out, "抓取 4  跳过 1  黑名单 1  发布 1  失败 1")
	assert.Contains(t, out, "octo/a  post=42  https://github.com/octo/a")
	assert.Contains(t, out, "octo/c [Unauthorized] cookie expired")
	assert.Contains(t, out, "⛔ 本轮中止 [Unauthorized]")
}

func TestFormatReport_Empty(t *testing.T) {
	report := domain.NewRunReport("rust", time.Now())
	out := FormatReport(report)

	assert.Contains(t, out, "抓取 0  跳过 0  黑名单 0  发布 0  失败 0")
	assert.NotContains(t, out, "已发布:")
	assert.NotContains(t, out, "本轮中止")
}

func TestLogReport(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	LogReport(zap.New(core).Sugar(), sampleReport())

	summary := logs.FilterMessage("📊 本轮结束").All()
	if assert.Len(t, summary, 1) {
		fields := summary[0].ContextMap()
		assert.Equal(t, int64(4), fields["fetched"])
		assert.Equal(t, int64(1), fields["published"])
	}
	assert.Equal(t, 1, logs.FilterMessageSnippet("跳过已发布项目 octo/b").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("已发布 octo/a -> 42").Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}
