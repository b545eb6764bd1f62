package extract

import (
	"regexp"
	"strings"
)

// 清洗后标题的最小长度（按 rune 计）；更短的一律视为行噪音。
const minTitleRunes = 2

// 标题头部的噪音形态：
// - 序号："1."、"2)"、"3 -"（限 1–3 位数字，避免吃掉年份开头的真实标题）
// - 标签："nome da música:"、"título:"、"música:"（大小写/重音不敏感）
var (
	ordinalRE = regexp.MustCompile(`^[0-9]{1,3}\s*[.)\-–]\s*`)
	labelRE   = regexp.MustCompile(`(?i)^(nome da m[úu]sica|m[úu]sica|t[ií]tulo)\s*:\s*`)
)

// CleanTitle 剥掉标题头部的序号与标签噪音。
// 噪音可能嵌套（"1. Música: Asa Branca"），循环剥离直到稳定。
func CleanTitle(s string) string {
	s = strings.TrimSpace(s)
	for {
		next := ordinalRE.ReplaceAllString(s, "")
		next = labelRE.ReplaceAllString(next, "")
		next = strings.TrimSpace(next)
		if next == s {
			return s
		}
		s = next
	}
}
