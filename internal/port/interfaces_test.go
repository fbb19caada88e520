package port

import (
	"context"
	"testing"
	"time"

	"github-trending-poster/internal/domain"

	"github.com/stretchr/testify/assert"
)

// 编译期检查：接口定义可以被实现
var (
	_ TrendSource  = (*stubSource)(nil)
	_ DedupStore   = (*stubStore)(nil)
	_ Summarizer   = (*stubSummarizer)(nil)
	_ ReadmeReader = (*stubReadme)(nil)
	_ Publisher    = (*stubPublisher)(nil)
)

type stubSource struct{}

func (s *stubSource) Fetch(ctx context.Context, language string) ([]*domain.TrendingRepository, error) {
	return []*domain.TrendingRepository{{Owner: "golang", Name: "go", Language: language, Rank: 1}}, nil
}

type stubStore struct{ ids map[string]bool }

func (s *stubStore) Has(ctx context.Context, repoID string) (bool, error) { return s.ids[repoID], nil }
func (s *stubStore) Record(ctx context.Context, rec domain.PublicationRecord) error {
	s.ids[rec.RepoID] = true
	return nil
}
func (s *stubStore) Get(ctx context.Context, repoID string) (*domain.PublicationRecord, error) {
	return nil, nil
}
func (s *stubStore) Prune(ctx context.Context, before time.Time) (int64, error) { return 0, nil }
func (s *stubStore) Close() error                                               { return nil }

type stubSummarizer struct{}

func (s *stubSummarizer) Summarize(ctx context.Context, repo *domain.TrendingRepository) (domain.Summary, error) {
	return domain.Summary{RepoID: repo.ID(), Text: "summary"}, nil
}

type stubReadme struct{}

func (s *stubReadme) Readme(ctx context.Context, owner, name string) (string, error) { return "", nil }

type stubPublisher struct{}

func (s *stubPublisher) Publish(ctx context.Context, msg domain.Message) (string, error) {
	return "post-" + msg.RepoID, nil
}

func TestInterfaces(t *testing.T) {
	ctx := context.Background()

	var src TrendSource = &stubSource{}
	repos, err := src.Fetch(ctx, "go")
	assert.NoError(t, err)
	assert.Len(t, repos, 1)

	var store DedupStore = &stubStore{ids: map[string]bool{}}
	assert.NoError(t, store.Record(ctx, domain.PublicationRecord{RepoID: repos[0].ID()}))
	has, err := store.Has(ctx, "golang/go")
	assert.NoError(t, err)
	assert.True(t, has)

	var sum Summarizer = &stubSummarizer{}
	s, err := sum.Summarize(ctx, repos[0])
	assert.NoError(t, err)
	assert.Equal(t, "golang/go", s.RepoID)

	var pub Publisher = &stubPublisher{}
	id, err := pub.Publish(ctx, domain.Message{RepoID: "golang/go"})
	assert.NoError(t, err)
	assert.Equal(t, "post-golang/go", id)
}
