package provider

import (
	"strings"

	"github.com/John-Robertt/cancioneiro/internal/domain"
)

// Assemble 把一次查询结果落成 EnrichedRecord。
//
// 状态判定：
// - miss → not_found
// - 命中且拿到 artist，外加 composer 或有效 year 之一 → success
// - 其余命中（只确认了歌，字段仍有缺口）→ partial
//
// 取舍说明：歌词站给 composer 不给 year，曲库接口给 year 不给 composer；
// 要求三者齐全会让 success 永远打不出来。
func Assemble(song domain.SongRecord, lk domain.Lookup, used string) domain.EnrichedRecord {
	if !lk.Found {
		return domain.EnrichedRecord{
			SongRecord:     song,
			ReleaseYear:    domain.UnknownYear,
			SearchStatus:   domain.SearchStatusNotFound,
			Notes:          "not found",
			ApprovalStatus: domain.ApprovalPending,
		}
	}

	year := domain.NormalizeYear(lk.Year)
	status := domain.SearchStatusPartial
	if strings.TrimSpace(lk.Artist) != "" &&
		(strings.TrimSpace(lk.Composer) != "" || year != domain.UnknownYear) {
		status = domain.SearchStatusSuccess
	}

	return domain.EnrichedRecord{
		SongRecord:     song,
		FoundArtist:    strings.TrimSpace(lk.Artist),
		FoundComposer:  strings.TrimSpace(lk.Composer),
		ReleaseYear:    year,
		SearchStatus:   status,
		Notes:          assembleNote(used, lk),
		ApprovalStatus: domain.ApprovalPending,
	}
}

func assembleNote(used string, lk domain.Lookup) string {
	parts := make([]string, 0, 3)
	if used != "" {
		parts = append(parts, "via "+used)
	}
	if lk.URL != "" {
		parts = append(parts, lk.URL)
	}
	if lk.Note != "" {
		parts = append(parts, lk.Note)
	}
	return strings.Join(parts, " | ")
}
