package domain

import (
	"strings"
	"time"

	"github-trending-poster/internal/common"
)

// TrendingRepository 代表一次抓取中发现的 Trending 项目
// 每次 fetch 重新创建，之后只读
type TrendingRepository struct {
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"` // 可能为空
	Language    string `json:"language"`
	Stars       int    `json:"stars"`        // 总 Star 数
	StarsGained int    `json:"stars_gained"` // 统计窗口内新增的 Star
	Rank        int    `json:"rank"`         // 在数据源中的排名，从 1 开始
}

// ID 返回仓库唯一标识 "owner/name"
func (r *TrendingRepository) ID() string {
	return r.Owner + "/" + r.Name
}

// SplitID 把 "owner/name" 拆成两部分
func SplitID(id string) (owner, name string, ok bool) {
	owner, name, ok = strings.Cut(id, "/")
	owner = strings.TrimSpace(owner)
	name = strings.TrimSpace(name)
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return owner, name, true
}

// Summary 是 LLM 为某个仓库生成的简介，只在一次运行内存活
type Summary struct {
	RepoID string
	Text   string
	Model  string
}

// Message 是发布前格式化好的内容，由 Publisher 渲染成平台自己的格式
type Message struct {
	RepoID string
	Title  string
	Body   string
	URL    string
	Tags   []string
}

// PublicationRecord 证明某个仓库已经发布过，每个仓库最多一条
type PublicationRecord struct {
	RepoID      string    `json:"repo_id" gorm:"primaryKey;column:repo_id"`
	PublishedAt time.Time `json:"published_at" gorm:"index;not null"`
	PostID      string    `json:"post_id" gorm:"not null"`
}

// TableName 固定表名
func (PublicationRecord) TableName() string {
	return "publication_records"
}

// Publication 是报告里的一条成功发布
type Publication struct {
	RepoID string
	PostID string
	URL    string
}

// Failure 是报告里的一条失败，RepoID 为空表示整轮失败
type Failure struct {
	RepoID  string
	Kind    common.Kind
	Message string
}

// RunReport 汇总一次流水线运行的结果
type RunReport struct {
	Language   string
	StartedAt  time.Time
	FinishedAt time.Time

	Fetched   int
	Skipped   []string // 已经发布过的重复项目
	Denied    []string // 命中黑名单的项目
	Published []Publication
	Failures  []Failure

	// Fatal 非空表示本轮因 run-fatal 错误或取消而中止
	Fatal *Failure
}

// NewRunReport 创建一份空报告
func NewRunReport(language string, startedAt time.Time) *RunReport {
	return &RunReport{
		Language:  language,
		StartedAt: startedAt,
		Skipped:   []string{},
		Denied:    []string{},
		Published: []Publication{},
		Failures:  []Failure{},
	}
}

func (r *RunReport) SkippedCount() int   { return len(r.Skipped) }
func (r *RunReport) PublishedCount() int { return len(r.Published) }
func (r *RunReport) FailedCount() int    { return len(r.Failures) }

// RunFatal 判断本轮是否以 run-fatal 结束
func (r *RunReport) RunFatal() bool {
	return r.Fatal != nil
}

// Duration 返回本轮耗时
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
