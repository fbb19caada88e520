package common

import (
	"strings"

	"github.com/rivo/uniseg"
)

// TruncateGraphemes 按字素簇截断，超过 max 时保留前 max-len(suffix) 个字素并追加 suffix
// 结果的字素数不超过 max
func TruncateGraphemes(s string, max int, suffix string) string {
	if max <= 0 {
		return ""
	}
	if uniseg.GraphemeClusterCount(s) <= max {
		return s
	}

	keep := max - uniseg.GraphemeClusterCount(suffix)
	if keep <= 0 {
		return firstGraphemes(suffix, max)
	}
	return firstGraphemes(s, keep) + suffix
}

func firstGraphemes(s string, n int) string {
	var b strings.Builder
	g := uniseg.NewGraphemes(s)
	for i := 0; i < n && g.Next(); i++ {
		b.WriteString(g.Str())
	}
	return b.String()
}

// CollapseSpace 把连续空白折叠成一个空格
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
