package service

import (
	"fmt"
	"strings"

	"github-trending-poster/internal/domain"
)

// FormatMessage 把仓库和摘要拼成待发布的消息，平台相关的渲染交给 Publisher
func FormatMessage(repo *domain.TrendingRepository, summary domain.Summary, tags []string) domain.Message {
	var body strings.Builder
	body.WriteString(strings.TrimSpace(summary.Text))
	body.WriteString("\n\n")

	stats := fmt.Sprintf("⭐ Star: %d", repo.Stars)
	if repo.StarsGained > 0 {
		stats += fmt.Sprintf("（近期 +%d）", repo.StarsGained)
	}
	if repo.Language != "" {
		stats += " · 语言: " + repo.Language
	}
	body.WriteString(stats)

	return domain.Message{
		RepoID: repo.ID(),
		Title:  repo.ID(),
		Body:   body.String(),
		URL:    repo.URL,
		Tags:   append([]string(nil), tags...),
	}
}
