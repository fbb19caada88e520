package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// 飞书自定义机器人的业务错误码
const (
	codeFrequencyLimit  = 9499
	codeRateLimited     = 11232
	codeSignatureFailed = 19021
	codeIPNotAllowed    = 19022
)

// Publisher 实现了 port.Publisher 接口，通过自定义机器人 Webhook 发送卡片
type Publisher struct {
	webhookURL string
	client     *http.Client
	newID      func() string
}

func NewPublisher(webhook string, timeout time.Duration) *Publisher {
	return &Publisher{
		webhookURL: webhook,
		client:     &http.Client{Timeout: timeout},
		newID:      uuid.NewString,
	}
}

type webhookResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`

	// 旧版接口返回的字段
	StatusCode    int    `json:"StatusCode"`
	StatusMessage string `json:"StatusMessage"`
}

// Publish 发送飞书卡片消息 (Schema 2.0)
// Webhook 不返回消息 ID，这里生成一个 uuid 作为投递 ID
func (p *Publisher) Publish(ctx context.Context, msg domain.Message) (string, error) {
	const op = "feishu.publish"

	if p.webhookURL == "" {
		return "", common.NewError(common.KindUnauthorized, op, "Webhook URL 为空")
	}

	body, err := json.Marshal(buildCard(msg))
	if err != nil {
		return "", common.WrapError(common.KindInternal, op, errors.Wrap(err, "marshaling card"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return "", common.WrapError(common.KindInternal, op, errors.Wrap(err, "creating request"))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", common.WrapError(common.KindPlatformUnavailable, op, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", common.Errorf(common.KindRateLimited, op, "飞书 API 报错: 状态码 %d", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", common.Errorf(common.KindUnauthorized, op, "飞书 API 报错: 状态码 %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return "", common.Errorf(common.KindPlatformUnavailable, op, "飞书 API 报错: 状态码 %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", common.Errorf(common.KindRejected, op, "飞书 API 报错: 状态码 %d", resp.StatusCode)
	}

	var result webhookResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", common.Errorf(common.KindRejected, op, "飞书 API 返回无法解析: %s", strings.TrimSpace(string(respBody)))
	}

	code, message := result.Code, result.Msg
	if code == 0 && result.StatusCode != 0 {
		code, message = result.StatusCode, result.StatusMessage
	}

	switch code {
	case 0:
		return p.newID(), nil
	case codeFrequencyLimit, codeRateLimited:
		return "", common.Errorf(common.KindRateLimited, op, "飞书 API 报错: code=%d %s", code, message)
	case codeSignatureFailed, codeIPNotAllowed:
		return "", common.Errorf(common.KindUnauthorized, op, "飞书 API 报错: code=%d %s", code, message)
	default:
		return "", common.Errorf(common.KindRejected, op, "飞书 API 报错: code=%d %s", code, message)
	}
}

func buildCard(msg domain.Message) map[string]interface{} {
	// 1. 准备标题
	title := fmt.Sprintf("🔥 GitHub Trending: %s", msg.Title)

	// 2. 构造 Markdown 内容
	mdContent := msg.Body
	if len(msg.Tags) > 0 {
		tags := make([]string, 0, len(msg.Tags))
		for _, t := range msg.Tags {
			tags = append(tags, "#"+t)
		}
		mdContent += "\n\n" + strings.Join(tags, " ")
	}

	// 3. 构造 Schema 2.0 JSON 结构
	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"schema": "2.0",
			"config": map[string]interface{}{
				"update_multi": true,
			},
			"header": map[string]interface{}{
				"title": map[string]interface{}{
					"tag":     "plain_text",
					"content": title,
				},
				"template": "blue",
			},
			"body": map[string]interface{}{
				"direction": "vertical",
				"elements": []map[string]interface{}{
					{
						"tag":       "markdown",
						"content":   mdContent,
						"text_size": "normal",
					},
					{
						"tag": "button",
						"text": map[string]interface{}{
							"tag":     "plain_text",
							"content": "🔗 查看源码",
						},
						"type": "primary",
						"behaviors": []map[string]interface{}{
							{
								"type":        "open_url",
								"default_url": msg.URL,
							},
						},
					},
				},
			},
		},
	}
}
