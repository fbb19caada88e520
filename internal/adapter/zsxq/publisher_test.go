package zsxq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"

	"github.com/rivo/uniseg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() domain.Message {
	return domain.Message{
		RepoID: "gin-gonic/gin",
		Title:  "gin-gonic/gin",
		Body:   "Gin 是一个用 Go 编写的高性能 HTTP Web 框架。",
		URL:    "https://github.com/gin-gonic/gin",
		Tags:   []string{"Go", "开源项目"},
	}
}

// mockZsxqServer 创建一个模拟的星球接口
func mockZsxqServer(t *testing.T, handler http.HandlerFunc) *Publisher {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewPublisher(server.URL+"/", "zsxq_access_token=abc", "88888", time.Second)
}

func TestPublisher_Publish(t *testing.T) {
	p := mockZsxqServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/groups/88888/topics", r.URL.Path)
		assert.Equal(t, "zsxq_access_token=abc", r.Header.Get("cookie"))

		var req topicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "topic", req.ReqData.Type)
		assert.Contains(t, req.ReqData.Text, "Gin 是一个")
		assert.Contains(t, req.ReqData.Text, `<e type="hashtag" hid="0" title="%23Go%23" />`)
		assert.NotNil(t, req.ReqData.ImageIDs)

		w.Write([]byte(`{"succeeded":true,"resp_data":{"topic":{"topic_id":414412855555528}}}`))
	})

	id, err := p.Publish(context.Background(), testMessage())

	require.NoError(t, err)
	assert.Equal(t, "414412855555528", id)
}

func TestPublisher_Classification(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		headers        map[string]string
		body           string
		wantKind       common.Kind
		wantRetryAfter time.Duration
	}{
		{
			name:           "限流",
			status:         http.StatusTooManyRequests,
			headers:        map[string]string{"Retry-After": "30"},
			wantKind:       common.KindRateLimited,
			wantRetryAfter: 30 * time.Second,
		},
		{
			name:     "cookie 失效",
			status:   http.StatusUnauthorized,
			wantKind: common.KindUnauthorized,
		},
		{
			name:     "业务码 401",
			status:   http.StatusOK,
			body:     `{"succeeded":false,"code":401,"error":"未登录"}`,
			wantKind: common.KindUnauthorized,
		},
		{
			name:     "内容被拒绝",
			status:   http.StatusOK,
			body:     `{"succeeded":false,"code":1059,"error":"内容包含敏感信息"}`,
			wantKind: common.KindRejected,
		},
		{
			name:     "其他 4xx",
			status:   http.StatusBadRequest,
			body:     `bad request`,
			wantKind: common.KindRejected,
		},
		{
			name:     "服务端错误",
			status:   http.StatusBadGateway,
			wantKind: common.KindPlatformUnavailable,
		},
		{
			name:     "响应不是 JSON",
			status:   http.StatusOK,
			body:     `<html></html>`,
			wantKind: common.KindRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mockZsxqServer(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := p.Publish(context.Background(), testMessage())

			require.Error(t, err)
			assert.Equal(t, tt.wantKind, common.KindOf(err))
			assert.Equal(t, tt.wantRetryAfter, common.RetryAfterOf(err))
		})
	}
}

func TestPublisher_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	p := NewPublisher(server.URL, "c", "1", 50*time.Millisecond)
	_, err := p.Publish(context.Background(), testMessage())

	require.Error(t, err)
	assert.Equal(t, common.KindPlatformUnavailable, common.KindOf(err))
	assert.True(t, common.IsRetryable(err))
}

func TestRender(t *testing.T) {
	t.Run("标题正文链接标签依次排列", func(t *testing.T) {
		text := Render(testMessage())

		parts := strings.Split(text, "\n\n")
		require.Len(t, parts, 4)
		assert.Equal(t, "gin-gonic/gin", parts[0])
		assert.Equal(t, "https://github.com/gin-gonic/gin", parts[2])
		assert.Equal(t, `<e type="hashtag" hid="0" title="%23Go%23" /> <e type="hashtag" hid="0" title="%23%E5%BC%80%E6%BA%90%E9%A1%B9%E7%9B%AE%23" />`, parts[3])
	})

	t.Run("超长时只截断正文", func(t *testing.T) {
		msg := testMessage()
		msg.Body = strings.Repeat("长", MaxLength*2)

		text := Render(msg)

		assert.LessOrEqual(t, uniseg.GraphemeClusterCount(text), MaxLength)
		assert.True(t, strings.HasSuffix(text, parts(Render(testMessage()))[3]), "标签必须保留")
		assert.Contains(t, text, msg.URL)
		assert.Contains(t, text, truncateSuffix)
	})

	t.Run("没有标签", func(t *testing.T) {
		msg := testMessage()
		msg.Tags = []string{" "}
		assert.NotContains(t, Render(msg), "hashtag")
	})
}

func parts(text string) []string {
	return strings.Split(text, "\n\n")
}
