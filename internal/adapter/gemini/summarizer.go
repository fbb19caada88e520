package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github-trending-poster/internal/adapter/prompt"
	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-2.5-flash-lite"

// generator 是 *genai.GenerativeModel 的子集，方便测试替换
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Summarizer 实现了 port.Summarizer 接口
type Summarizer struct {
	client   *genai.Client
	model    generator
	name     string
	maxChars int
	prompts  *prompt.Builder
	now      func() time.Time
}

// 定义一个内部结构体来接收 AI 返回的 JSON
type aiResponse struct {
	Summary string `json:"summary"`
}

func NewSummarizer(ctx context.Context, apiKey, modelName string, maxChars int, prompts *prompt.Builder) (*Summarizer, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrap(err, "creating gemini client")
	}

	if modelName == "" || !strings.HasPrefix(modelName, "gemini") {
		modelName = DefaultModel
	}
	model := client.GenerativeModel(modelName)
	model.SystemInstruction = genai.NewUserContent(genai.Text(prompt.SystemPrompt))
	// 强制要求返回 JSON，降低解析错误的概率
	model.ResponseMIMEType = "application/json"

	return &Summarizer{
		client:   client,
		model:    model,
		name:     modelName,
		maxChars: maxChars,
		prompts:  prompts,
		now:      time.Now,
	}, nil
}

func (g *Summarizer) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *Summarizer) Summarize(ctx context.Context, repo *domain.TrendingRepository) (domain.Summary, error) {
	const op = "gemini.summarize"

	text := g.prompts.Build(ctx, repo) + "\n请严格按照 JSON 格式返回：{\"summary\": \"中文简介\"}，不要包含 Markdown 格式标记。"

	resp, err := g.model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return domain.Summary{}, g.classify(op, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return domain.Summary{}, common.NewError(common.KindInvalidResponse, op, "AI 返回内容为空")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}

	res, err := parseAIResponse(sb.String())
	if err != nil {
		return domain.Summary{}, common.WrapError(common.KindInvalidResponse, op, err)
	}

	summary, err := prompt.Finish(op, res.Summary, g.maxChars)
	if err != nil {
		return domain.Summary{}, err
	}
	return domain.Summary{RepoID: repo.ID(), Text: summary, Model: g.name}, nil
}

// parseAIResponse 智能寻找 JSON 的起止位置
// 即使 AI 返回 "```json { ... } \n ```"，也能精准抠出中间的 { ... }
func parseAIResponse(raw string) (*aiResponse, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, errors.Newf("无法提取 JSON, AI 原文: %s", raw)
	}

	var res aiResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &res); err != nil {
		return nil, errors.Wrapf(err, "JSON 解析失败, 原文: %s", raw[start:end+1])
	}
	return &res, nil
}

func (g *Summarizer) classify(op string, err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return common.WrapError(common.KindInvalidResponse, op, err)
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		// 超时和网络错误
		return common.WrapError(common.KindUnavailable, op, err)
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		if isDailyQuota(apiErr.Message) {
			return common.WrapError(common.KindQuotaExceeded, op, err)
		}
		retryAfter := common.ParseRetryAfter(apiErr.Header.Get("Retry-After"), g.now())
		return common.WithRetryAfter(common.WrapError(common.KindRateLimited, op, err), retryAfter)
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return common.WrapError(common.KindUnauthorized, op, err)
	case apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "API key"):
		// Gemini 对无效 key 返回 400 API_KEY_INVALID
		return common.WrapError(common.KindUnauthorized, op, err)
	case apiErr.Code >= 500:
		return common.WrapError(common.KindUnavailable, op, err)
	default:
		return common.WrapError(common.KindInvalidResponse, op, err)
	}
}

// isDailyQuota 按分钟的限流和按天/计费的额度都返回 429 RESOURCE_EXHAUSTED，只有后者会中止本轮
func isDailyQuota(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "perday") ||
		strings.Contains(lower, "per day") ||
		strings.Contains(lower, "billing")
}
