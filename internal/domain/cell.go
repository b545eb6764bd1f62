package domain

import "strings"

// CellKind 标识原始单元格值的封闭变体（Empty / Text / Merged）。
//
// 约束：CellValue 只能由 sheet 解码层构造；其余组件一律通过 NormalizeCell
// 消费，不允许再对原始类型做分支判断。
type CellKind uint8

const (
	// CellEmpty 表示空单元格（解码层把 nil/缺失/空白统一归入该变体）。
	CellEmpty CellKind = iota
	// CellText 表示文本单元格（数字/布尔在解码层已字符串化）。
	CellText
	// CellMerged 表示合并单元格的“非锚点”格：值指向锚点单元格的值。
	CellMerged
)

// CellValue 是一个原始单元格值。
//
// 不变量：
// - Kind==CellText 时只读 Text
// - Kind==CellMerged 时只读 Inner（由解码层保证不构成环）
type CellValue struct {
	Kind  CellKind
	Text  string
	Inner *CellValue
}

// EmptyCell 构造空单元格。
func EmptyCell() CellValue { return CellValue{Kind: CellEmpty} }

// TextCell 构造文本单元格。
func TextCell(s string) CellValue { return CellValue{Kind: CellText, Text: s} }

// MergedCell 构造指向锚点值的合并单元格。
func MergedCell(inner CellValue) CellValue {
	v := inner
	return CellValue{Kind: CellMerged, Inner: &v}
}

// mergedHopMax 限制 Merged 链的追踪深度：解码层不会产生多级链，
// 这里仍保证 NormalizeCell 对任意输入都能终止。
const mergedHopMax = 16

// NormalizeCell 把原始单元格值规范化为可用文本。
//
// 规则（全函数，永不 panic）：
// - Empty → not ok
// - Merged → 追踪锚点值后按相同规则处理
// - Text → TrimSpace；""、"undefined"、"null"（JS 导出残留）→ not ok
func NormalizeCell(v CellValue) (string, bool) {
	cur := v
	for hop := 0; hop < mergedHopMax; hop++ {
		switch cur.Kind {
		case CellEmpty:
			return "", false
		case CellMerged:
			if cur.Inner == nil {
				return "", false
			}
			cur = *cur.Inner
			continue
		case CellText:
			s := strings.TrimSpace(cur.Text)
			switch strings.ToLower(s) {
			case "", "undefined", "null":
				return "", false
			}
			return s, true
		default:
			return "", false
		}
	}
	return "", false
}
