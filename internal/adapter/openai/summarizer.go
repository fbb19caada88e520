package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github-trending-poster/internal/adapter/prompt"
	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"

	"github.com/cockroachdb/errors"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	maxBodyBytes   = 1 << 20
)

// Config 对应 OPENAI_API_BASE / OPENAI_API_KEY / OPENAI_MODEL
type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	Temperature     float64
	MaxTokens       int
	MaxSummaryChars int
	Timeout         time.Duration
}

// Summarizer 实现了 port.Summarizer 接口，兼容所有 OpenAI chat/completions 协议的服务
type Summarizer struct {
	config  Config
	client  *http.Client
	prompts *prompt.Builder
	now     func() time.Time
}

// NewSummarizer prompts 为 nil 时不读取 README
func NewSummarizer(config Config, prompts *prompt.Builder) *Summarizer {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Summarizer{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		prompts: prompts,
		now:     time.Now,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Summarize 单次调用，不重试；错误按种类分类交给上层决定
func (s *Summarizer) Summarize(ctx context.Context, repo *domain.TrendingRepository) (domain.Summary, error) {
	const op = "openai.summarize"

	body, err := json.Marshal(chatRequest{
		Model: s.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.SystemPrompt},
			{Role: "user", Content: s.prompts.Build(ctx, repo)},
		},
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
	})
	if err != nil {
		return domain.Summary{}, common.WrapError(common.KindInternal, op, errors.Wrap(err, "marshaling request"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return domain.Summary{}, common.WrapError(common.KindInternal, op, errors.Wrap(err, "creating request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		// 超时和网络错误都按服务不可用处理，可以重试
		return domain.Summary{}, common.WrapError(common.KindUnavailable, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.Summary{}, common.WrapError(common.KindUnavailable, op, errors.Wrap(err, "reading response"))
	}

	if resp.StatusCode != http.StatusOK {
		return domain.Summary{}, s.classifyStatus(op, resp, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return domain.Summary{}, common.WrapError(common.KindInvalidResponse, op, errors.Wrap(err, "decoding response"))
	}
	if len(chatResp.Choices) == 0 {
		return domain.Summary{}, common.NewError(common.KindInvalidResponse, op, "no choices in response")
	}

	text, err := prompt.Finish(op, chatResp.Choices[0].Message.Content, s.config.MaxSummaryChars)
	if err != nil {
		return domain.Summary{}, err
	}

	model := chatResp.Model
	if model == "" {
		model = s.config.Model
	}
	return domain.Summary{RepoID: repo.ID(), Text: text, Model: model}, nil
}

func (s *Summarizer) classifyStatus(op string, resp *http.Response, body []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if isQuotaError(apiErr) {
			return common.Errorf(common.KindQuotaExceeded, op, "status 429: %s", msg)
		}
		return common.WithRetryAfter(
			common.Errorf(common.KindRateLimited, op, "status 429: %s", msg),
			common.ParseRetryAfter(resp.Header.Get("Retry-After"), s.now()),
		)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return common.Errorf(common.KindUnauthorized, op, "status %d: %s", resp.StatusCode, msg)
	case resp.StatusCode >= 500:
		return common.Errorf(common.KindUnavailable, op, "status %d: %s", resp.StatusCode, msg)
	default:
		return common.Errorf(common.KindInvalidResponse, op, "status %d: %s", resp.StatusCode, msg)
	}
}

// isQuotaError OpenAI 在额度耗尽时同样返回 429，需要从错误体区分
func isQuotaError(e apiError) bool {
	if e.Error.Type == "insufficient_quota" {
		return true
	}
	if code, ok := e.Error.Code.(string); ok && code == "insufficient_quota" {
		return true
	}
	return false
}
