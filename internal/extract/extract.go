// Package extract 把原始网格按列映射抽取为歌曲记录。
//
// 两种互斥模式：表格模式（带 fill-down）与交替模式（标题/艺人逐行交错）。
// 每次调用自带独立状态，互不串扰。
package extract

import (
	"strconv"
	"unicode/utf8"

	"github.com/John-Robertt/cancioneiro/internal/domain"
)

// Tabular 按列映射走表格模式抽取。
//
// fill-down 契约（顺序敏感，勿重排）：
// - 先读 artist/composer 格并更新 "last" 状态，再检查 title——
//   艺人格有值而标题格为空的行会更新状态后被丢弃，状态跨行存活
// - title 永不 fill-down：真实歌曲行的标题格必须有值
// - 空白格继承当前 "last" 状态：这是纵向合并数据的约定，不是数据缺失
//
// dropped 统计有内容但未产出记录的行（标题缺失或清洗后过短）。
func Tabular(grid domain.RawGrid, m domain.ColumnMap, startRow int, source string) ([]domain.SongRecord, int) {
	recs := make([]domain.SongRecord, 0, len(grid))
	dropped := 0

	lastArtist := domain.ArtistUnknown
	lastComposer := ""

	for r := startRow; r < len(grid); r++ {
		row := grid[r]

		if v, ok := cellAt(row, m.Index(domain.RoleArtist)); ok {
			lastArtist = v
		}
		if v, ok := cellAt(row, m.Index(domain.RoleComposer)); ok {
			lastComposer = v
		}

		raw, ok := cellAt(row, m.Index(domain.RoleTitle))
		if !ok {
			if rowHasValue(row) {
				dropped++
			}
			continue
		}
		title := CleanTitle(raw)
		if utf8.RuneCountInString(title) < minTitleRunes {
			dropped++
			continue
		}

		year, _ := cellAt(row, m.Index(domain.RoleYear))
		lyrics, _ := cellAt(row, m.Index(domain.RoleLyrics))

		recs = append(recs, domain.SongRecord{
			ID:       recordID(source, r),
			Title:    title,
			Artist:   lastArtist,
			Composer: lastComposer,
			Year:     year,
			Lyrics:   lyrics,
			Source:   source,
		})
	}
	return recs, dropped
}

// Alternating 处理单列交替格式：标题行与艺人行逐行交错。
//
// 规则：
// - 空行跳过，不破坏配对
// - 行内取第一个有值的格
// - 清洗后过短的候选标题按噪音丢弃，不占用配对位
// - 末尾落单的标题以 Artist=Unidentified 收尾
func Alternating(grid domain.RawGrid, source string) ([]domain.SongRecord, int) {
	recs := make([]domain.SongRecord, 0, len(grid)/2+1)
	dropped := 0

	pendingTitle := ""
	pendingRow := 0
	pending := false

	for r := 0; r < len(grid); r++ {
		v, ok := firstValue(grid[r])
		if !ok {
			continue
		}
		if !pending {
			title := CleanTitle(v)
			if utf8.RuneCountInString(title) < minTitleRunes {
				dropped++
				continue
			}
			pendingTitle, pendingRow, pending = title, r, true
			continue
		}
		recs = append(recs, domain.SongRecord{
			ID:     recordID(source, pendingRow),
			Title:  pendingTitle,
			Artist: v,
			Source: source,
		})
		pending = false
	}
	if pending {
		recs = append(recs, domain.SongRecord{
			ID:     recordID(source, pendingRow),
			Title:  pendingTitle,
			Artist: domain.ArtistUnidentified,
			Source: source,
		})
	}
	return recs, dropped
}

// recordID 生成稳定记录 ID："<source>#<rowIndex>"（行号为网格原始下标）。
func recordID(source string, rowIdx int) string {
	return source + "#" + strconv.Itoa(rowIdx)
}

func cellAt(row []domain.CellValue, idx int) (string, bool) {
	if idx < 0 || idx >= len(row) {
		return "", false
	}
	return domain.NormalizeCell(row[idx])
}

func firstValue(row []domain.CellValue) (string, bool) {
	for _, c := range row {
		if v, ok := domain.NormalizeCell(c); ok {
			return v, true
		}
	}
	return "", false
}

func rowHasValue(row []domain.CellValue) bool {
	_, ok := firstValue(row)
	return ok
}
