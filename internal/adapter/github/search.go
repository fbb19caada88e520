package github

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"
)

// newClient 初始化 GitHub 客户端
// token 为空时匿名访问，Search API 限制 10 次/分钟
func newClient(token string, timeout time.Duration) *github.Client {
	httpClient := &http.Client{Timeout: timeout}
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return github.NewClient(httpClient)
}

// SearchSource 实现了 port.TrendSource 接口
// GitHub 没有官方 Trending API，这里用 Search 按 stars 排序来近似
type SearchSource struct {
	client  *github.Client
	since   string
	perPage int
	now     func() time.Time
}

// NewSearchSource 创建 Search API 数据源
func NewSearchSource(token, since string, timeout time.Duration) *SearchSource {
	return &SearchSource{
		client:  newClient(token, timeout),
		since:   since,
		perPage: 25,
		now:     time.Now,
	}
}

// Fetch 搜索窗口期内创建、按 stars 排序的项目；新增 Star 数无法得知，记为 0
func (s *SearchSource) Fetch(ctx context.Context, language string) ([]*domain.TrendingRepository, error) {
	const op = "search.fetch"

	query := fmt.Sprintf("language:%s created:>%s", language, s.windowStart())
	opts := &github.SearchOptions{
		Sort:  "stars",
		Order: "desc",
		ListOptions: github.ListOptions{
			PerPage: s.perPage,
		},
	}

	result, _, err := s.client.Search.Repositories(ctx, query, opts)
	if err != nil {
		return nil, classifyGitHubError(op, err)
	}

	repos := make([]*domain.TrendingRepository, 0, len(result.Repositories))
	seen := make(map[string]bool, len(result.Repositories))
	for _, item := range result.Repositories {
		owner, name, ok := domain.SplitID(item.GetFullName())
		if !ok {
			return nil, common.Errorf(common.KindSourceFormatChanged, op, "unexpected full_name %q", item.GetFullName())
		}
		if seen[owner+"/"+name] {
			continue
		}
		seen[owner+"/"+name] = true

		repos = append(repos, &domain.TrendingRepository{
			Owner:       owner,
			Name:        name,
			URL:         item.GetHTMLURL(),
			Description: item.GetDescription(),
			Language:    item.GetLanguage(),
			Stars:       item.GetStargazersCount(),
			Rank:        len(repos) + 1,
		})
	}

	return repos, nil
}

func (s *SearchSource) windowStart() string {
	now := s.now()
	switch s.since {
	case "daily":
		return now.AddDate(0, 0, -1).Format("2006-01-02")
	case "monthly":
		return now.AddDate(0, -1, 0).Format("2006-01-02")
	default:
		return now.AddDate(0, 0, -7).Format("2006-01-02") // 默认一周
	}
}

// classifyGitHubError 数据源的任何失败都视为不可用，本轮放弃，等下一次调度
func classifyGitHubError(op string, err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	switch {
	case errors.As(err, &rateErr):
		return common.Errorf(common.KindSourceUnavailable, op, "GitHub API 速率限制，重置时间 %s", rateErr.Rate.Reset.Time.Format(time.RFC3339))
	case errors.As(err, &abuseErr):
		return common.WithRetryAfter(
			common.NewError(common.KindSourceUnavailable, op, "GitHub API 二级速率限制"),
			abuseErr.GetRetryAfter(),
		)
	}
	return common.WrapError(common.KindSourceUnavailable, op, errors.Wrap(err, "GitHub API 调用失败"))
}
