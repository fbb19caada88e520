package service

import (
	"testing"

	"github-trending-poster/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name     string
		repo     *domain.TrendingRepository
		wantBody []string
		notBody  []string
	}{
		{
			name: "完整信息",
			repo: &domain.TrendingRepository{
				Owner: "octo", Name: "hello", URL: "https://github.com/octo/hello",
				Language: "Go", Stars: 1234, StarsGained: 56,
			},
			wantBody: []string{"一个打招呼的工具", "⭐ Star: 1234", "（近期 +56）", "语言: Go"},
		},
		{
			name: "没有新增 Star 和语言",
			repo: &domain.TrendingRepository{
				Owner: "octo", Name: "plain", URL: "https://github.com/octo/plain", Stars: 7,
			},
			wantBody: []string{"⭐ Star: 7"},
			notBody:  []string{"近期", "语言"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tags := []string{"GitHub", "开源"}
			msg := FormatMessage(tt.repo, domain.Summary{Text: "  一个打招呼的工具\n"}, tags)

			assert.Equal(t, tt.repo.ID(), msg.RepoID)
			assert.Equal(t, tt.repo.ID(), msg.Title)
			assert.Equal(t, tt.repo.URL, msg.URL)
			assert.Equal(t, tags, msg.Tags)
			for _, s := range tt.wantBody {
				assert.Contains(t, msg.Body, s)
			}
			for _, s := range tt.notBody {
				assert.NotContains(t, msg.Body, s)
			}

			// 标签是拷贝，不和配置共享底层数组
			tags[0] = "changed"
			assert.Equal(t, "GitHub", msg.Tags[0])
		})
	}
}
