package github

import (
	"context"
	"html"
	"strings"
	"time"

	"github-trending-poster/internal/common"

	"github.com/google/go-github/v53/github"
	"github.com/microcosm-cc/bluemonday"
)

// ReadmeReader 实现了 port.ReadmeReader 接口
// 读取仓库 README 并去掉其中的 HTML，作为 LLM 的补充上下文
type ReadmeReader struct {
	client   *github.Client
	policy   *bluemonday.Policy
	maxChars int
}

// NewReadmeReader maxChars <= 0 表示不截断
func NewReadmeReader(token string, timeout time.Duration, maxChars int) *ReadmeReader {
	return &ReadmeReader{
		client:   newClient(token, timeout),
		policy:   bluemonday.StrictPolicy(),
		maxChars: maxChars,
	}
}

// Readme 返回清洗后的 README 文本
func (r *ReadmeReader) Readme(ctx context.Context, owner, name string) (string, error) {
	const op = "readme.get"

	content, _, err := r.client.Repositories.GetReadme(ctx, owner, name, nil)
	if err != nil {
		return "", common.WrapError(common.KindUnavailable, op, err)
	}
	raw, err := content.GetContent()
	if err != nil {
		return "", common.WrapError(common.KindInvalidResponse, op, err)
	}

	return r.clean(raw), nil
}

func (r *ReadmeReader) clean(raw string) string {
	// StrictPolicy 会把 & 之类的字符转义，这里转回来
	text := html.UnescapeString(r.policy.Sanitize(raw))
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = common.CollapseSpace(line)
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	text = strings.Join(kept, "\n")

	if r.maxChars > 0 {
		text = common.TruncateGraphemes(text, r.maxChars, " ...")
	}
	return text
}
