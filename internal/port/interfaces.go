package port

import (
	"context"
	"time"

	"github-trending-poster/internal/domain"
)

// TrendSource (数据源): 拉取某个语言当前的 Trending 列表
// 可以是抓 github.com/trending 页面，也可以是调 Search API 近似
type TrendSource interface {
	// 按数据源排名返回，不重试；失败分类为 SourceUnavailable / SourceFormatChanged
	Fetch(ctx context.Context, language string) ([]*domain.TrendingRepository, error)
}

// DedupStore (发布记录): 记住哪些仓库已经发过，保证同一仓库最多发一次
// 实现必须可以被多个 worker 并发调用
type DedupStore interface {
	// 判断是否已经发布过
	Has(ctx context.Context, repoID string) (bool, error)

	// 写入发布记录；已经存在时返回 common.ErrAlreadyRecorded，不会写第二条
	Record(ctx context.Context, rec domain.PublicationRecord) error

	// 查询单条记录，不存在时返回 nil, nil
	Get(ctx context.Context, repoID string) (*domain.PublicationRecord, error)

	// 删除 before 之前发布的记录，返回删除条数
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// Summarizer (摘要员): 调用 LLM 生成一段简介
type Summarizer interface {
	// 单次调用，不重试；错误分类由调用方决定是否重试
	Summarize(ctx context.Context, repo *domain.TrendingRepository) (domain.Summary, error)
}

// ReadmeReader 读取仓库 README 的纯文本，给 Summarizer 当上下文
type ReadmeReader interface {
	Readme(ctx context.Context, owner, name string) (string, error)
}

// Publisher (信使): 把一条消息发到目标平台，返回平台的帖子 ID
type Publisher interface {
	Publish(ctx context.Context, msg domain.Message) (string, error)
}
