// Package columns 从原始网格推断列角色（表头行 + title/artist/... 列下标）。
//
// 这是启发式：低置信度结果要求调用方改走人工映射（columns 配置），
// 检测本身从不报错。
package columns

import (
	"strings"

	"github.com/John-Robertt/cancioneiro/internal/domain"
	"github.com/John-Robertt/cancioneiro/internal/infra/textx"
)

// DefaultMaxScanRows 是表头扫描的默认行数上限。
const DefaultMaxScanRows = 20

// roleKeywords 是角色关键词表（折叠后形态：无重音、小写）。
//
// 匹配规则（顺序有含义，勿随意重排）：
// - 单元格折叠后做 Contains 匹配，表头常写成 "Nome da Música" 这类短语
// - 一个单元格命中多个角色时，表中靠后的角色覆盖靠前的：
//   泛词（nome）排在前，具体词（artista/compositor）排在后，
//   于是 "Nome do Artista" 落到 artist 而不是 title
var roleKeywords = []struct {
	role domain.Role
	kws  []string
}{
	{domain.RoleTitle, []string{"musica", "titulo", "nome", "faixa", "cancao", "song", "track", "title"}},
	{domain.RoleArtist, []string{"artista", "interprete", "cantor", "banda", "artist", "singer"}},
	{domain.RoleComposer, []string{"compositor", "autor", "composer"}},
	{domain.RoleYear, []string{"ano", "lancamento", "year"}},
	{domain.RoleLyrics, []string{"letra", "lyric"}},
}

// Detection 是一次列识别的结果。
//
// Confidence==high 当且仅当定位到表头行（title 列经关键词命中）；
// 其余一律 low，调用方必须走人工映射或位置启发的降级语义。
type Detection struct {
	Columns domain.ColumnMap
	// HeaderRow 是表头行下标；未定位到表头时为 -1。
	HeaderRow int
	// Alternating 表示单列交替格式（标题与艺人逐行交错），此时 Columns 无效。
	Alternating bool
	Confidence  string
}

// StartRow 返回数据区的起始行：表头行之后，或网格开头。
func (d Detection) StartRow() int {
	if d.Columns.HasHeaderRow {
		return d.HeaderRow + 1
	}
	return 0
}

// Detect 扫描前 maxScanRows 行寻找表头行并推导列映射。
//
// 规则：
// - 第一个命中 title 关键词的行即表头行，扫描就此停止，
//   列映射只取该行的命中结果
// - 同一角色命中多列时，靠后的列覆盖靠前的列
// - 全程无表头 → 位置启发降级（见 fallback）
func Detect(grid domain.RawGrid, maxScanRows int) Detection {
	if maxScanRows <= 0 {
		maxScanRows = DefaultMaxScanRows
	}
	limit := len(grid)
	if limit > maxScanRows {
		limit = maxScanRows
	}

	for r := 0; r < limit; r++ {
		m, hit := scanRow(grid[r])
		if !hit {
			continue
		}
		m.HasHeaderRow = true
		return Detection{Columns: m, HeaderRow: r, Confidence: domain.ConfidenceHigh}
	}
	return fallback(grid)
}

// scanRow 对一行逐格做角色匹配，返回该行推导出的列映射。
// hit 表示该行至少有一格落到 title 角色（判定表头行的唯一依据）。
func scanRow(row []domain.CellValue) (domain.ColumnMap, bool) {
	m := domain.NewColumnMap()
	hit := false
	for i, cell := range row {
		s, ok := domain.NormalizeCell(cell)
		if !ok {
			continue
		}
		role, ok := matchRole(textx.Fold(s))
		if !ok {
			continue
		}
		m.Set(role, i)
		if role == domain.RoleTitle {
			hit = true
		}
	}
	return m, hit
}

// matchRole 返回折叠文本命中的角色；多角色命中时取表中最靠后的一个。
func matchRole(folded string) (domain.Role, bool) {
	var got domain.Role
	ok := false
	for _, rk := range roleKeywords {
		for _, kw := range rk.kws {
			if strings.Contains(folded, kw) {
				got = rk.role
				ok = true
				break
			}
		}
	}
	return got, ok
}

// fallback 在没有任何表头行时用位置启发推断：
// - 首个非空行宽度 ≥2：第 0 列当 artist、第 1 列当 title
// - 宽度 ==1：判定为交替格式（标题与艺人逐行交错）
// - 网格没有任何可用单元格：返回无效映射，调用方按 needs_mapping 处理
func fallback(grid domain.RawGrid) Detection {
	for _, row := range grid {
		if !rowHasValue(row) {
			continue
		}
		if len(row) >= 2 {
			m := domain.NewColumnMap()
			m.Set(domain.RoleArtist, 0)
			m.Set(domain.RoleTitle, 1)
			return Detection{Columns: m, HeaderRow: -1, Confidence: domain.ConfidenceLow}
		}
		return Detection{Columns: domain.NewColumnMap(), HeaderRow: -1, Alternating: true, Confidence: domain.ConfidenceLow}
	}
	return Detection{Columns: domain.NewColumnMap(), HeaderRow: -1, Confidence: domain.ConfidenceLow}
}

func rowHasValue(row []domain.CellValue) bool {
	for _, c := range row {
		if _, ok := domain.NormalizeCell(c); ok {
			return true
		}
	}
	return false
}
