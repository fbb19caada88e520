package github

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	// DefaultTrendingURL 是 GitHub Trending 页面
	DefaultTrendingURL = "https://github.com/trending"
	githubHost         = "https://github.com"
	maxPageBytes       = 4 << 20
	userAgent          = "github-trending-poster/1.0 (+https://github.com/trending)"
)

// TrendingSource 实现了 port.TrendSource 接口，直接解析 github.com/trending 页面
type TrendingSource struct {
	baseURL string
	since   string
	client  *http.Client
	log     *zap.SugaredLogger
}

// NewTrendingSource 创建页面数据源
// since: daily / weekly / monthly
func NewTrendingSource(baseURL, since string, timeout time.Duration, log *zap.SugaredLogger) *TrendingSource {
	if baseURL == "" {
		baseURL = DefaultTrendingURL
	}
	if since == "" {
		since = "daily"
	}
	return &TrendingSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		since:   since,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Fetch 抓取并解析某个语言的 Trending 列表，每次调用都重新请求
func (s *TrendingSource) Fetch(ctx context.Context, language string) ([]*domain.TrendingRepository, error) {
	const op = "trending.fetch"

	pageURL := s.pageURL(language)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, common.WrapError(common.KindSourceUnavailable, op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, common.WrapError(common.KindSourceUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, common.Errorf(common.KindSourceUnavailable, op, "GET %s returned status %d", pageURL, resp.StatusCode)
	}

	repos, err := ParseTrending(io.LimitReader(resp.Body, maxPageBytes), s.log)
	if err != nil {
		return nil, err
	}

	s.log.Debugw("📥 Trending 页面解析完成", "url", pageURL, "count", len(repos))
	return repos, nil
}

func (s *TrendingSource) pageURL(language string) string {
	u := s.baseURL
	if lang := strings.TrimSpace(language); lang != "" && lang != "all" {
		u += "/" + url.PathEscape(strings.ToLower(lang))
	}
	return u + "?since=" + url.QueryEscape(s.since)
}

// ParseTrending 解析 Trending 页面 HTML，按页面排名返回
// 读不出 owner/name 的行会被跳过；一行都读不出来时返回 SourceFormatChanged
// 空页面返回空列表
func ParseTrending(r io.Reader, log *zap.SugaredLogger) ([]*domain.TrendingRepository, error) {
	const op = "trending.parse"
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, common.WrapError(common.KindSourceUnavailable, op, err)
	}

	rows := doc.Find("article.Box-row")
	if rows.Length() == 0 {
		// 当天没有 Trending 时页面会显示 blankslate
		if doc.Find(".blankslate").Length() > 0 {
			return []*domain.TrendingRepository{}, nil
		}
		return nil, common.NewError(common.KindSourceFormatChanged, op, "trending list container not found")
	}

	repos := make([]*domain.TrendingRepository, 0, rows.Length())
	seen := make(map[string]bool, rows.Length())
	skipped := 0

	rows.Each(func(i int, row *goquery.Selection) {
		owner, name, ok := parseTitle(row)
		if !ok {
			skipped++
			log.Warnw("⚠️ 跳过无法解析的 Trending 行", "row", i+1)
			return
		}

		repo := &domain.TrendingRepository{
			Owner:       owner,
			Name:        name,
			URL:         githubHost + "/" + owner + "/" + name,
			Description: common.CollapseSpace(row.Find("p").First().Text()),
			Language:    strings.TrimSpace(row.Find(`[itemprop="programmingLanguage"]`).First().Text()),
			Stars:       parseCount(row.Find(`a[href$="/stargazers"]`).First().Text()),
			StarsGained: parseCount(row.Find("span.float-sm-right").First().Text()),
		}

		// 同一页面出现重复项目时保留排名靠前的
		if seen[repo.ID()] {
			return
		}
		seen[repo.ID()] = true
		repo.Rank = len(repos) + 1
		repos = append(repos, repo)
	})
	if skipped == rows.Length() {
		return nil, common.Errorf(common.KindSourceFormatChanged, op, "none of %d rows has a readable owner/name", skipped)
	}

	return repos, nil
}

// parseTitle 优先读链接 href（/owner/name），再退回到标题文本 "owner / name"
func parseTitle(row *goquery.Selection) (string, string, bool) {
	link := row.Find("h2 a").First()
	if link.Length() == 0 {
		link = row.Find(".h3").First()
	}
	if link.Length() == 0 {
		return "", "", false
	}

	if href, ok := link.Attr("href"); ok {
		if owner, name, ok := domain.SplitID(strings.Trim(href, "/")); ok {
			return owner, name, true
		}
	}
	text := strings.Join(strings.Fields(link.Text()), "")
	return domain.SplitID(text)
}

// parseCount 解析 "12,345" 或 "1,234 stars today" 这样的数字，失败时返回 0
func parseCount(text string) int {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(fields[0], ",", ""))
	if err != nil {
		return 0
	}
	return n
}

