package domain

import (
	"regexp"
	"strings"
)

// SongRecord 是抽取阶段产出的规范化歌曲记录。
//
// 不变量（实现必须遵守）：
// - Title 非空且非纯空白；违反该不变量的行在抽取阶段就被丢弃
// - ID 稳定：来自 "<source>#<rowIndex>"；合并后的记录改用 identity key
type SongRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Composer string `json:"composer"`
	Year     string `json:"year"`
	Lyrics   string `json:"lyrics"`
	Source   string `json:"source"`
}

// 抽取阶段的哨兵值（与源数据兼容约定，勿改）：
// - ArtistUnknown：fill-down 状态的初始值（存在 artist 列但首块为空时沿用）
// - ArtistUnidentified：交替格式末尾落单 title 的配对缺失标记
const (
	ArtistUnknown      = "Unknown"
	ArtistUnidentified = "Unidentified"
)

// IdentityKey 计算去重用的复合主键：lower(trim(title)) + "|" + lower(trim(artist))。
//
// 设计取舍（勿“修正”）：只按 title 合并会把不同歌手的同名歌错误合并；
// 加入 year 又会因年份完整度差异漏合并。title+artist 是刻意选择。
func IdentityKey(title, artist string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "|" + strings.ToLower(strings.TrimSpace(artist))
}

// Key 返回该记录的 identity key。
func (r SongRecord) Key() string { return IdentityKey(r.Title, r.Artist) }

// UnknownYear 是“年份未知”的哨兵值（对外契约，勿改）。
const UnknownYear = "0000"

var yearRE = regexp.MustCompile(`^[0-9]{4}$`)

// NormalizeYear 把自由文本年份校验为 4 位数字；不合法一律归一为 UnknownYear。
func NormalizeYear(s string) string {
	s = strings.TrimSpace(s)
	if yearRE.MatchString(s) {
		return s
	}
	return UnknownYear
}

const (
	SearchStatusSuccess  = "success"
	SearchStatusPartial  = "partial"
	SearchStatusFailed   = "failed"
	SearchStatusNotFound = "not_found"
)

const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
)

// EnrichedRecord 是富化后的歌曲记录。
//
// 生命周期：由 enrichment 产出（或在批次重试耗尽后由处理器合成 failed 记录）；
// 之后只被用户编辑或审批动作修改；从不删除，只做过滤/导出。
type EnrichedRecord struct {
	SongRecord

	FoundArtist   string `json:"found_artist"`
	FoundComposer string `json:"found_composer"`
	// ReleaseYear 要么是 4 位数字，要么是 UnknownYear（经 NormalizeYear 校验）。
	ReleaseYear    string `json:"release_year"`
	SearchStatus   string `json:"search_status"`
	Notes          string `json:"notes"`
	ApprovalStatus string `json:"approval_status"`
}

// FailedRecord 把一条 SongRecord 合成为 failed 状态的 EnrichedRecord
// （批次重试耗尽路径；run 不因单批失败而中止）。
func FailedRecord(song SongRecord, note string) EnrichedRecord {
	return EnrichedRecord{
		SongRecord:     song,
		ReleaseYear:    UnknownYear,
		SearchStatus:   SearchStatusFailed,
		Notes:          note,
		ApprovalStatus: ApprovalPending,
	}
}
