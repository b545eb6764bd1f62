// Package consolidate 按 identity key 消重并合并重复记录。
package consolidate

import (
	"sort"

	"github.com/John-Robertt/cancioneiro/internal/domain"
	"github.com/John-Robertt/cancioneiro/internal/infra/textx"
)

// Result 是一次消重的产出。
type Result struct {
	Unique            []domain.SongRecord
	DuplicatesRemoved int
}

// Consolidate 按 identity key 分组合并。
//
// 约束：
// - 产出顺序 = 各 key 的首见顺序（稳定，不排序）
// - 组内合并用 chooseLonger；title/source 永远保留首见记录的值
// - 组大小为 1 的记录原样保留（ID 不变）；发生过合并的记录 ID 改用 identity key
func Consolidate(records []domain.SongRecord) Result {
	byKey := make(map[string]int, len(records))
	unique := make([]domain.SongRecord, 0, len(records))

	for _, r := range records {
		k := r.Key()
		if i, ok := byKey[k]; ok {
			unique[i] = mergeInto(unique[i], r, k)
			continue
		}
		byKey[k] = len(unique)
		unique = append(unique, r)
	}
	return Result{Unique: unique, DuplicatesRemoved: len(records) - len(unique)}
}

// CleanAdjacent 对“相邻近重复”做预合并：按折叠键排序后两两比较，
// 相邻两条键相同则合并并前进 2，否则保留当前条前进 1。
//
// 只抓排序后落到相邻位置的重复——这是刻意的预处理（典型来源：
// 元数据行后紧跟元数据+歌词行的爬虫导出），全局消重仍由 Consolidate 负责。
// 返回值第二项是发生的合并次数。
func CleanAdjacent(records []domain.SongRecord) ([]domain.SongRecord, int) {
	if len(records) < 2 {
		return records, 0
	}
	sorted := make([]domain.SongRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return foldKey(sorted[i]) < foldKey(sorted[j])
	})

	out := make([]domain.SongRecord, 0, len(sorted))
	merged := 0
	for i := 0; i < len(sorted); {
		if i+1 < len(sorted) && foldKey(sorted[i]) == foldKey(sorted[i+1]) {
			out = append(out, mergeInto(sorted[i], sorted[i+1], sorted[i].Key()))
			merged++
			i += 2
			continue
		}
		out = append(out, sorted[i])
		i++
	}
	return out, merged
}

// mergeInto 把 dup 并入 first：可选字段取更长值，title/source 保留首见值；
// 合并后的 ID 改用 identity key（跨文件合并后行号 ID 不再有意义）。
func mergeInto(first, dup domain.SongRecord, key string) domain.SongRecord {
	first.Artist = chooseLonger(first.Artist, dup.Artist)
	first.Composer = chooseLonger(first.Composer, dup.Composer)
	first.Year = chooseLonger(first.Year, dup.Year)
	first.Lyrics = chooseLonger(first.Lyrics, dup.Lyrics)
	first.ID = key
	return first
}

// chooseLonger 以长度作为“完整度”的代理信号（"Zé" vs "Zé Ramalho"）。
// 没有更强的信号可用；该启发会偶尔选中更长但错误的值，为兼容性保留原样，
// 等长时保留首见值。
func chooseLonger(a, b string) string {
	if len(b) > len(a) {
		return b
	}
	return a
}

// foldKey 是排序/相邻判定用的键：重音折叠 + 大小写不敏感。
// 与 IdentityKey 刻意不同——IdentityKey 保守（不折叠重音），这里折叠
// 是为了让 "Forró"/"Forro" 这类爬虫脏数据落到相邻位置。
func foldKey(r domain.SongRecord) string {
	return textx.Fold(r.Title) + "|" + textx.Fold(r.Artist)
}
