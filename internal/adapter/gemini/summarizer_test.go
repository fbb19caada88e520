package gemini

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

// MockGenerator 模拟 genai.GenerativeModel
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	args := m.Called(ctx, parts)
	resp, _ := args.Get(0).(*genai.GenerateContentResponse)
	return resp, args.Error(1)
}

func textResponse(texts ...string) *genai.GenerateContentResponse {
	parts := make([]genai.Part, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, genai.Text(t))
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func newTestSummarizer(gen generator) *Summarizer {
	return &Summarizer{model: gen, name: DefaultModel, maxChars: 100, now: time.Now}
}

func testRepo() *domain.TrendingRepository {
	return &domain.TrendingRepository{Owner: "gin-gonic", Name: "gin", URL: "https://github.com/gin-gonic/gin", Language: "Go"}
}

func TestParseAIResponse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expectError bool
		expected    string
	}{
		{
			name:     "Valid JSON response",
			input:    `{"summary": "一个高性能 Web 框架"}`,
			expected: "一个高性能 Web 框架",
		},
		{
			name: "JSON with extra text",
			input: "```json\n" + `{
				"summary": "轻量路由"
			}` + "\n```",
			expected: "轻量路由",
		},
		{
			name:        "Invalid JSON",
			input:       `{"invalid": json}`,
			expectError: true,
		},
		{
			name:        "No JSON content",
			input:       `Just some text without JSON`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseAIResponse(tt.input)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, result)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result.Summary)
			}
		})
	}
}

func TestSummarizer_Summarize(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("GenerateContent", mock.Anything, mock.Anything).
		Return(textResponse(`{"summary": "  Gin 是一个用 Go 写的 HTTP 框架。 "}`), nil)

	summary, err := newTestSummarizer(gen).Summarize(context.Background(), testRepo())

	require.NoError(t, err)
	assert.Equal(t, "gin-gonic/gin", summary.RepoID)
	assert.Equal(t, "Gin 是一个用 Go 写的 HTTP 框架。", summary.Text)
	assert.Equal(t, DefaultModel, summary.Model)
	gen.AssertExpectations(t)
}

func TestSummarizer_Classification(t *testing.T) {
	tests := []struct {
		name     string
		resp     *genai.GenerateContentResponse
		err      error
		wantKind common.Kind
	}{
		{
			name:     "没有候选",
			resp:     &genai.GenerateContentResponse{},
			wantKind: common.KindInvalidResponse,
		},
		{
			name:     "summary 为空",
			resp:     textResponse(`{"summary": ""}`),
			wantKind: common.KindInvalidResponse,
		},
		{
			name:     "不是 JSON",
			resp:     textResponse("抱歉，我无法回答"),
			wantKind: common.KindInvalidResponse,
		},
		{
			name:     "被安全策略拦截",
			err:      &genai.BlockedError{},
			wantKind: common.KindInvalidResponse,
		},
		{
			name:     "分钟级限流",
			err:      &googleapi.Error{Code: http.StatusTooManyRequests, Message: "Resource has been exhausted (e.g. check quota)."},
			wantKind: common.KindRateLimited,
		},
		{
			name:     "每日额度耗尽",
			err:      &googleapi.Error{Code: http.StatusTooManyRequests, Message: "Quota exceeded for metric: generate_content_free_tier_requests, limit: GenerateRequestsPerDayPerProjectPerModel"},
			wantKind: common.KindQuotaExceeded,
		},
		{
			name:     "key 无效",
			err:      &googleapi.Error{Code: http.StatusBadRequest, Message: "API key not valid. Please pass a valid API key."},
			wantKind: common.KindUnauthorized,
		},
		{
			name:     "权限不足",
			err:      &googleapi.Error{Code: http.StatusForbidden},
			wantKind: common.KindUnauthorized,
		},
		{
			name:     "服务端错误",
			err:      &googleapi.Error{Code: http.StatusServiceUnavailable},
			wantKind: common.KindUnavailable,
		},
		{
			name:     "网络超时",
			err:      context.DeadlineExceeded,
			wantKind: common.KindUnavailable,
		},
		{
			name:     "其他 4xx",
			err:      &googleapi.Error{Code: http.StatusNotFound, Message: "model not found"},
			wantKind: common.KindInvalidResponse,
		},
		{
			name:     "包装过的错误",
			err:      errors.Join(errors.New("rpc"), &googleapi.Error{Code: http.StatusUnauthorized}),
			wantKind: common.KindUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := new(MockGenerator)
			gen.On("GenerateContent", mock.Anything, mock.Anything).Return(tt.resp, tt.err)

			_, err := newTestSummarizer(gen).Summarize(context.Background(), testRepo())

			require.Error(t, err)
			assert.Equal(t, tt.wantKind, common.KindOf(err))
		})
	}
}

func TestSummarizer_RetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "12")

	gen := new(MockGenerator)
	gen.On("GenerateContent", mock.Anything, mock.Anything).
		Return(nil, &googleapi.Error{Code: http.StatusTooManyRequests, Header: header})

	_, err := newTestSummarizer(gen).Summarize(context.Background(), testRepo())

	assert.Equal(t, common.KindRateLimited, common.KindOf(err))
	assert.Equal(t, 12*time.Second, common.RetryAfterOf(err))
}
