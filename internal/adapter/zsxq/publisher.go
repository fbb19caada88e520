package zsxq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/rivo/uniseg"
)

const (
	DefaultBaseURL = "https://api.zsxq.com"

	// MaxLength 是星球单条主题允许的最大长度
	MaxLength = 10000

	truncateSuffix = " ..."
	maxBodyBytes   = 1 << 20
)

// Publisher 实现了 port.Publisher 接口，把消息发成星球主题
type Publisher struct {
	baseURL string
	cookie  string
	groupID string
	client  *http.Client
	now     func() time.Time
}

func NewPublisher(baseURL, cookie, groupID string, timeout time.Duration) *Publisher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Publisher{
		baseURL: strings.TrimRight(baseURL, "/"),
		cookie:  cookie,
		groupID: groupID,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

type reqData struct {
	Type             string   `json:"type"`
	Text             string   `json:"text"`
	ImageIDs         []string `json:"image_ids"`
	FileIDs          []string `json:"file_ids"`
	MentionedUserIDs []string `json:"mentioned_user_ids"`
}

type topicRequest struct {
	ReqData reqData `json:"req_data"`
}

type topicResponse struct {
	Succeeded bool   `json:"succeeded"`
	Code      int    `json:"code"`
	Error     string `json:"error"`
	Info      string `json:"info"`
	RespData  struct {
		Topic struct {
			TopicID json.Number `json:"topic_id"`
		} `json:"topic"`
	} `json:"resp_data"`
}

// Publish 单次调用，返回主题 ID
func (p *Publisher) Publish(ctx context.Context, msg domain.Message) (string, error) {
	const op = "zsxq.publish"

	body, err := json.Marshal(topicRequest{ReqData: reqData{
		Type:             "topic",
		Text:             Render(msg),
		ImageIDs:         []string{},
		FileIDs:          []string{},
		MentionedUserIDs: []string{},
	}})
	if err != nil {
		return "", common.WrapError(common.KindInternal, op, errors.Wrap(err, "marshaling topic"))
	}

	endpoint := fmt.Sprintf("%s/v2/groups/%s/topics", p.baseURL, url.PathEscape(p.groupID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", common.WrapError(common.KindInternal, op, errors.Wrap(err, "creating request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("cookie", p.cookie)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", common.WrapError(common.KindPlatformUnavailable, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", common.WrapError(common.KindPlatformUnavailable, op, errors.Wrap(err, "reading response"))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", common.WithRetryAfter(
			common.Errorf(common.KindRateLimited, op, "status 429: %s", snippet(respBody)),
			common.ParseRetryAfter(resp.Header.Get("Retry-After"), p.now()),
		)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", common.Errorf(common.KindUnauthorized, op, "status %d: %s", resp.StatusCode, snippet(respBody))
	case resp.StatusCode >= 500:
		return "", common.Errorf(common.KindPlatformUnavailable, op, "status %d: %s", resp.StatusCode, snippet(respBody))
	case resp.StatusCode >= 300:
		return "", common.Errorf(common.KindRejected, op, "status %d: %s", resp.StatusCode, snippet(respBody))
	}

	var topic topicResponse
	if err := json.Unmarshal(respBody, &topic); err != nil {
		return "", common.Errorf(common.KindRejected, op, "unexpected response: %s", snippet(respBody))
	}
	if !topic.Succeeded {
		if topic.Code == http.StatusUnauthorized {
			return "", common.Errorf(common.KindUnauthorized, op, "code %d: %s", topic.Code, topic.Error)
		}
		return "", common.Errorf(common.KindRejected, op, "code %d: %s %s", topic.Code, topic.Error, topic.Info)
	}

	id := topic.RespData.Topic.TopicID.String()
	if id == "" {
		// 发成功但没拿到 ID，不能当失败处理，否则会重复发
		id = "unknown"
	}
	return id, nil
}

// Render 把消息渲染成星球主题文本：标题、正文、链接、话题标签
// 超过 MaxLength 时截断正文，链接和标签保持完整
func Render(msg domain.Message) string {
	tags := make([]string, 0, len(msg.Tags))
	for _, t := range msg.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, hashtag(t))
		}
	}

	head := msg.Title
	tail := joinNonEmpty(msg.URL, strings.Join(tags, " "))

	reserved := uniseg.GraphemeClusterCount(head) + uniseg.GraphemeClusterCount(tail) + 4
	bodyBudget := MaxLength - reserved
	body := msg.Body
	if bodyBudget <= 0 {
		body = ""
	} else {
		body = common.TruncateGraphemes(body, bodyBudget, truncateSuffix)
	}

	text := joinNonEmpty(head, body, tail)
	return common.TruncateGraphemes(text, MaxLength, truncateSuffix)
}

func hashtag(name string) string {
	return fmt.Sprintf(`<e type="hashtag" hid="0" title="%%23%s%%23" />`, url.QueryEscape(name))
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

func snippet(body []byte) string {
	return common.TruncateGraphemes(strings.TrimSpace(string(body)), 200, "...")
}
