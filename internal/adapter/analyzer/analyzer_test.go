package analyzer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockSummarizer 模拟 Summarizer 接口
type MockSummarizer struct {
	mock.Mock
}

func (m *MockSummarizer) Summarize(ctx context.Context, repo *domain.TrendingRepository) (domain.Summary, error) {
	args := m.Called(ctx, repo)
	return args.Get(0).(domain.Summary), args.Error(1)
}

func repoNamed(name string) interface{} {
	return mock.MatchedBy(func(r *domain.TrendingRepository) bool { return r.Name == name })
}

func testRepos(names ...string) []*domain.TrendingRepository {
	repos := make([]*domain.TrendingRepository, 0, len(names))
	for i, n := range names {
		repos = append(repos, &domain.TrendingRepository{Owner: "octo", Name: n, Rank: i + 1})
	}
	return repos
}

func fastPolicy() common.Policy {
	return common.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		Jitter:       0,
	}
}

func newTestAnalyzer(s *MockSummarizer, workers int) *RepoAnalyzer {
	a := NewRepoAnalyzer(s, zap.NewNop().Sugar())
	a.SetMaxGoroutines(workers)
	a.SetPolicy(fastPolicy())
	a.SetTimeout(time.Second)
	return a
}

func TestRepoAnalyzer_SummarizeAll(t *testing.T) {
	tests := []struct {
		name      string
		repos     []*domain.TrendingRepository
		workers   int
		setupMock func(*MockSummarizer)
		verify    func(*testing.T, []Result, error, *MockSummarizer)
	}{
		{
			name:    "全部成功，结果按输入顺序",
			repos:   testRepos("a", "b", "c"),
			workers: 3,
			setupMock: func(m *MockSummarizer) {
				for _, n := range []string{"a", "b", "c"} {
					m.On("Summarize", mock.Anything, repoNamed(n)).
						Return(domain.Summary{RepoID: "octo/" + n, Text: "简介 " + n}, nil).Once()
				}
			},
			verify: func(t *testing.T, results []Result, err error, m *MockSummarizer) {
				require.NoError(t, err)
				require.Len(t, results, 3)
				for i, n := range []string{"a", "b", "c"} {
					assert.True(t, results[i].OK())
					assert.Equal(t, n, results[i].Repo.Name)
					assert.Equal(t, "简介 "+n, results[i].Summary.Text)
				}
			},
		},
		{
			name:    "一直限流，重试到上限后单项失败",
			repos:   testRepos("a", "b"),
			workers: 2,
			setupMock: func(m *MockSummarizer) {
				m.On("Summarize", mock.Anything, repoNamed("a")).
					Return(domain.Summary{}, common.NewError(common.KindRateLimited, "test", "429"))
				m.On("Summarize", mock.Anything, repoNamed("b")).
					Return(domain.Summary{RepoID: "octo/b", Text: "ok"}, nil).Once()
			},
			verify: func(t *testing.T, results []Result, err error, m *MockSummarizer) {
				require.NoError(t, err, "单项失败不应中止")
				assert.Equal(t, common.KindRateLimited, common.KindOf(results[0].Err))
				assert.True(t, results[1].OK())
				m.AssertNumberOfCalls(t, "Summarize", 3+1)
			},
		},
		{
			name:    "空响应重试后成功",
			repos:   testRepos("a"),
			workers: 1,
			setupMock: func(m *MockSummarizer) {
				m.On("Summarize", mock.Anything, repoNamed("a")).
					Return(domain.Summary{}, common.NewError(common.KindInvalidResponse, "test", "empty")).Once()
				m.On("Summarize", mock.Anything, repoNamed("a")).
					Return(domain.Summary{RepoID: "octo/a", Text: "ok"}, nil).Once()
			},
			verify: func(t *testing.T, results []Result, err error, m *MockSummarizer) {
				require.NoError(t, err)
				assert.True(t, results[0].OK())
				assert.Equal(t, "ok", results[0].Summary.Text)
			},
		},
		{
			name:    "未授权中止整个阶段",
			repos:   testRepos("a", "b", "c"),
			workers: 1,
			setupMock: func(m *MockSummarizer) {
				m.On("Summarize", mock.Anything, repoNamed("a")).
					Return(domain.Summary{}, common.NewError(common.KindUnauthorized, "test", "401")).Once()
			},
			verify: func(t *testing.T, results []Result, err error, m *MockSummarizer) {
				require.Error(t, err)
				assert.Equal(t, common.KindUnauthorized, common.KindOf(err))
				for _, r := range results {
					assert.Equal(t, common.KindUnauthorized, common.KindOf(r.Err), r.Repo.Name)
				}
				m.AssertNumberOfCalls(t, "Summarize", 1)
			},
		},
		{
			name:    "额度耗尽不重试",
			repos:   testRepos("a"),
			workers: 1,
			setupMock: func(m *MockSummarizer) {
				m.On("Summarize", mock.Anything, repoNamed("a")).
					Return(domain.Summary{}, common.NewError(common.KindQuotaExceeded, "test", "quota")).Once()
			},
			verify: func(t *testing.T, results []Result, err error, m *MockSummarizer) {
				assert.Equal(t, common.KindQuotaExceeded, common.KindOf(err))
				m.AssertNumberOfCalls(t, "Summarize", 1)
			},
		},
		{
			name:      "空项目列表",
			repos:     []*domain.TrendingRepository{},
			workers:   1,
			setupMock: func(m *MockSummarizer) {},
			verify: func(t *testing.T, results []Result, err error, m *MockSummarizer) {
				require.NoError(t, err)
				assert.Empty(t, results)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockSummarizer)
			tt.setupMock(m)

			results, err := newTestAnalyzer(m, tt.workers).SummarizeAll(context.Background(), tt.repos)

			tt.verify(t, results, err, m)
			m.AssertExpectations(t)
		})
	}
}

func TestRepoAnalyzer_Canceled(t *testing.T) {
	m := new(MockSummarizer)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := newTestAnalyzer(m, 2).SummarizeAll(ctx, testRepos("a", "b"))

	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, common.KindCanceled, common.KindOf(r.Err))
	}
	m.AssertNotCalled(t, "Summarize", mock.Anything, mock.Anything)
}

// countingSummarizer 记录同时在途的调用数
type countingSummarizer struct {
	inflight atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	calls    int
}

func (c *countingSummarizer) Summarize(ctx context.Context, repo *domain.TrendingRepository) (domain.Summary, error) {
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	time.Sleep(10 * time.Millisecond)
	return domain.Summary{RepoID: repo.ID(), Text: "ok"}, nil
}

func TestRepoAnalyzer_RespectsConcurrencyLimit(t *testing.T) {
	s := &countingSummarizer{}
	a := NewRepoAnalyzer(s, nil)
	a.SetMaxGoroutines(2)

	results, err := a.SummarizeAll(context.Background(), testRepos("a", "b", "c", "d", "e", "f"))

	require.NoError(t, err)
	assert.Len(t, results, 6)
	assert.Equal(t, 6, s.calls)
	assert.LessOrEqual(t, s.peak.Load(), int32(2))
}

// slowSummarizer 直到 ctx 结束才返回
type slowSummarizer struct{}

func (slowSummarizer) Summarize(ctx context.Context, repo *domain.TrendingRepository) (domain.Summary, error) {
	<-ctx.Done()
	return domain.Summary{}, common.WrapError(common.KindUnavailable, "slow", ctx.Err())
}

func TestRepoAnalyzer_PerCallTimeout(t *testing.T) {
	a := NewRepoAnalyzer(slowSummarizer{}, nil)
	a.SetTimeout(20 * time.Millisecond)
	a.SetPolicy(common.Policy{MaxAttempts: 1})

	start := time.Now()
	results, err := a.SummarizeAll(context.Background(), testRepos("a"))

	require.NoError(t, err)
	assert.Equal(t, common.KindUnavailable, common.KindOf(results[0].Err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRepoAnalyzer_SetMaxGoroutines(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected int
	}{
		{name: "设置正数", input: 5, expected: 5},
		{name: "设置零值", input: 0, expected: defaultGoroutines},
		{name: "设置负数", input: -1, expected: defaultGoroutines},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewRepoAnalyzer(new(MockSummarizer), nil)
			a.SetMaxGoroutines(tt.input)
			assert.Equal(t, tt.expected, a.maxGoroutines)
		})
	}
}
