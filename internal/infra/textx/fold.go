// Package textx 提供匹配/排序用的文本折叠。
//
// 约束：折叠结果只用于比较键（列识别、相邻合并、匹配验证），
// 绝不回写到记录本身——用户看到的数据保持原始拼写。
package textx

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold 把文本折叠为比较键形态：去重音（NFD → 去组合记号 → NFC）、
// 转小写、压缩连续空白为单个空格。
//
// 变换链每次调用重建：transform.Chain 的缓冲有内部状态，共享实例
// 并发调用不安全。
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		// 对合法 UTF-8 不会失败；残缺输入按原样降级，仍保证全函数。
		out = s
	}
	out = strings.ToLower(out)
	return strings.Join(strings.Fields(out), " ")
}
