// Package prompt 负责组装发给 LLM 的提示词，并把模型输出整理成最终简介
package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github-trending-poster/internal/common"
	"github-trending-poster/internal/domain"
	"github-trending-poster/internal/port"

	"go.uber.org/zap"
)

// SystemPrompt 设定模型角色
const SystemPrompt = "你是一名资深的开源技术专家，擅长用简洁准确的中文介绍开源项目。"

// Builder 组装提示词；readme 为 nil 时只使用 Trending 上的元数据
type Builder struct {
	readme        port.ReadmeReader
	readmeTimeout time.Duration
	log           *zap.SugaredLogger
}

func NewBuilder(readme port.ReadmeReader, readmeTimeout time.Duration, log *zap.SugaredLogger) *Builder {
	return &Builder{readme: readme, readmeTimeout: readmeTimeout, log: log}
}

// Build 返回某个仓库的用户提示词，README 读取失败只记日志不影响结果
func (b *Builder) Build(ctx context.Context, repo *domain.TrendingRepository) string {
	var readme string
	if b != nil && b.readme != nil {
		// 超时为 0 时不限时
		var rctx context.Context
		var cancel context.CancelFunc
		if b.readmeTimeout > 0 {
			rctx, cancel = context.WithTimeout(ctx, b.readmeTimeout)
		} else {
			rctx, cancel = context.WithCancel(ctx)
		}
		text, err := b.readme.Readme(rctx, repo.Owner, repo.Name)
		cancel()
		if err != nil {
			b.log.Debugw("⚠️ README 读取失败，仅使用元数据", "repo", repo.ID(), "error", err)
		} else {
			readme = text
		}
	}
	return Render(repo, readme)
}

// Render 按固定模板生成提示词
func Render(repo *domain.TrendingRepository, readme string) string {
	lang := repo.Language
	if lang == "" {
		lang = "编程"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "假设你是一名资深 %s 语言技术专家，精通 %s 语言的开源项目，", lang, lang)
	sb.WriteString("请基于以下开源项目内容写一段简介，说明它解决什么问题、有哪些亮点、适合谁使用。")
	sb.WriteString("用中文回答，不超过 300 字，不要使用 Markdown 标题，不要重复项目链接。\n\n")

	fmt.Fprintf(&sb, "项目：%s\n", repo.ID())
	fmt.Fprintf(&sb, "链接：%s\n", repo.URL)
	if repo.Description != "" {
		fmt.Fprintf(&sb, "描述：%s\n", repo.Description)
	}
	if repo.Language != "" {
		fmt.Fprintf(&sb, "语言：%s\n", repo.Language)
	}
	fmt.Fprintf(&sb, "Star：%d（近期新增 %d）\n", repo.Stars, repo.StarsGained)
	if readme != "" {
		fmt.Fprintf(&sb, "\nREADME 节选：\n%s\n", readme)
	}
	return sb.String()
}

// Finish 清理模型输出：去掉首尾空白和代码块围栏，超长时按字素截断
// 清理后为空返回 InvalidResponse
func Finish(op, text string, maxChars int) (string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		end := len(lines)
		if end > 1 && strings.TrimSpace(lines[end-1]) == "```" {
			end--
		}
		text = strings.TrimSpace(strings.Join(lines[1:end], "\n"))
	}
	if text == "" {
		return "", common.NewError(common.KindInvalidResponse, op, "empty completion")
	}
	if maxChars > 0 {
		text = common.TruncateGraphemes(text, maxChars, " ...")
	}
	return text, nil
}
