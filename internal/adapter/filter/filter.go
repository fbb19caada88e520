package filter

import (
	"strings"

	"github-trending-poster/internal/domain"
)

// Denylist 黑名单：命中的项目不摘要、不发布、也不写发布记录
type Denylist struct {
	Names        []string // 仓库名，也可以写完整的 owner/name
	Authors      []string // 仓库 owner
	Descriptions []string // 描述里包含的关键词，不区分大小写
}

// NewDenylist 去掉空白项，避免空字符串匹配所有描述
func NewDenylist(names, authors, descriptions []string) *Denylist {
	return &Denylist{
		Names:        compact(names, false),
		Authors:      compact(authors, false),
		Descriptions: compact(descriptions, true),
	}
}

func compact(items []string, lower bool) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if lower {
			item = strings.ToLower(item)
		}
		out = append(out, item)
	}
	return out
}

// Contains 判断项目是否命中黑名单，nil 黑名单什么都不拦
func (d *Denylist) Contains(repo *domain.TrendingRepository) bool {
	if d == nil || repo == nil {
		return false
	}

	for _, name := range d.Names {
		if name == repo.Name || name == repo.ID() {
			return true
		}
	}

	for _, author := range d.Authors {
		if author == repo.Owner {
			return true
		}
	}

	if repo.Description == "" {
		return false
	}
	desc := strings.ToLower(repo.Description)
	for _, keyword := range d.Descriptions {
		if keyword != "" && strings.Contains(desc, strings.ToLower(keyword)) {
			return true
		}
	}

	return false
}

// Split 按原顺序拆成保留和被拦截两部分
func (d *Denylist) Split(repos []*domain.TrendingRepository) (kept, denied []*domain.TrendingRepository) {
	kept = make([]*domain.TrendingRepository, 0, len(repos))
	for _, repo := range repos {
		if d.Contains(repo) {
			denied = append(denied, repo)
			continue
		}
		kept = append(kept, repo)
	}
	return kept, denied
}
