package service

import (
	"fmt"
	"strings"
	"time"

	"github-trending-poster/internal/domain"

	"go.uber.org/zap"
)

// LogReport 把报告逐条写进日志：跳过的、发布的、失败的都要能查到
func LogReport(log *zap.SugaredLogger, report *domain.RunReport) {
	log.Infow("📊 本轮结束",
		"language", report.Language,
		"fetched", report.Fetched,
		"skipped", report.SkippedCount(),
		"denied", len(report.Denied),
		"published", report.PublishedCount(),
		"failed", report.FailedCount(),
		"duration", report.Duration(),
	)
	for _, id := range report.Skipped {
		log.Debugf("⏭️ 跳过已发布项目 %s", id)
	}
	for _, p := range report.Published {
		log.Infof("📲 已发布 %s -> %s", p.RepoID, p.PostID)
	}
	for _, f := range report.Failures {
		log.Warnf("❌ %s 失败 [%s]: %s", f.RepoID, f.Kind, f.Message)
	}
	if report.Fatal != nil {
		log.Errorf("⛔ 本轮中止 [%s]: %s", report.Fatal.Kind, report.Fatal.Message)
	}
}

// FormatReport 渲染成给人看的纯文本，CLI 的 run 命令会打印它
func FormatReport(report *domain.RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "语言: %s  耗时: %s\n", report.Language, report.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "抓取 %d  跳过 %d  黑名单 %d  发布 %d  失败 %d\n",
		report.Fetched, report.SkippedCount(), len(report.Denied), report.PublishedCount(), report.FailedCount())

	if len(report.Skipped) > 0 {
		fmt.Fprintf(&b, "\n⏭️ 已发布过:\n")
		for _, id := range report.Skipped {
			fmt.Fprintf(&b, "  - %s\n", id)
		}
	}
	if len(report.Denied) > 0 {
		fmt.Fprintf(&b, "\n🚫 黑名单:\n")
		for _, id := range report.Denied {
			fmt.Fprintf(&b, "  - %s\n", id)
		}
	}
	if len(report.Published) > 0 {
		fmt.Fprintf(&b, "\n📲 已发布:\n")
		for _, p := range report.Published {
			fmt.Fprintf(&b, "  - %s  post=%s  %s\n", p.RepoID, p.PostID, p.URL)
		}
	}
	if len(report.Failures) > 0 {
		fmt.Fprintf(&b, "\n❌ 失败:\n")
		for _, f := range report.Failures {
			fmt.Fprintf(&b, "  - %s [%s] %s\n", f.RepoID, f.Kind, f.Message)
		}
	}
	if report.Fatal != nil {
		fmt.Fprintf(&b, "\n⛔ 本轮中止 [%s]: %s\n", report.Fatal.Kind, report.Fatal.Message)
	}
	return b.String()
}
