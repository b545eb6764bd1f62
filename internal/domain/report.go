package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	SourceStatusOK           = "ok"
	SourceStatusNeedsMapping = "needs_mapping"
	SourceStatusFailed       = "failed"
)

const (
	ConfidenceHigh = "high"
	ConfidenceLow  = "low"
)

const (
	ErrCodeDecodeFailed      = "decode_failed"
	ErrCodeNoRows            = "no_rows"
	ErrCodeNeedsMapping      = "needs_mapping"
	ErrCodeEnrichFailed      = "enrich_failed"
	ErrCodeStoreFailed       = "store_failed"
	ErrCodeExportFailed      = "export_failed"
	ErrCodeIOFailed          = "io_failed"
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeConfigMissingPath = "config_missing_path"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	Path   string `json:"path"`
	DryRun bool   `json:"dry_run"`
	RunID  string `json:"run_id"`

	Provider string `json:"provider"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary  `json:"summary"`
	Sources []SourceResult `json:"sources"`
	Errors  []ErrorEvent   `json:"errors"`
}

type ReportSummary struct {
	Files        int `json:"files"`
	FilesOK      int `json:"files_ok"`
	NeedsMapping int `json:"needs_mapping"`
	FilesFailed  int `json:"files_failed"`

	Extracted         int `json:"extracted"`
	Consolidated      int `json:"consolidated"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	// Reused 是直接复用上次快照、未参与本次富化的记录数。
	Reused int `json:"reused"`

	Success  int `json:"success"`
	Partial  int `json:"partial"`
	Failed   int `json:"failed"`
	NotFound int `json:"not_found"`
}

type SourceResult struct {
	Source string `json:"source"`
	Status string `json:"status"`

	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Confidence  string `json:"confidence"`
	Alternating bool   `json:"alternating"`
	HeaderRow   bool   `json:"header_row"`

	Rows           int `json:"rows"`
	Extracted      int `json:"extracted"`
	Dropped        int `json:"dropped"`
	AdjacentMerged int `json:"adjacent_merged"`
}

// ErrorEvent 是富集阶段的一条失败记录（批次重试耗尽后产生一条）。
// Errors 保持发生顺序，不参与排序。
type ErrorEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message"`
	Details      string    `json:"details"`
	FailedTitles []string  `json:"failed_titles"`
}

// CountSongs 由富集结果推导歌曲侧计数（须在 Finalize 之前调用）。
func (r *RunReport) CountSongs(consolidated int, enriched []EnrichedRecord) {
	r.Summary.Consolidated = consolidated
	for _, e := range enriched {
		switch e.SearchStatus {
		case SearchStatusSuccess:
			r.Summary.Success++
		case SearchStatusPartial:
			r.Summary.Partial++
		case SearchStatusFailed:
			r.Summary.Failed++
		case SearchStatusNotFound:
			r.Summary.NotFound++
		}
	}
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) sources 稳定排序：按 source 字典序；source=="" 的条目排在最后
// 3) summary 的文件侧计数由 sources 计算得出
//
// 歌曲侧计数由调用方在此之前通过 CountSongs 填好，这里不改写。
// errors 保持发生顺序。
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	for i := range r.Errors {
		r.Errors[i].Timestamp = r.Errors[i].Timestamp.UTC()
	}

	sort.SliceStable(r.Sources, func(i, j int) bool {
		a := r.Sources[i].Source
		b := r.Sources[j].Source
		if a == "" && b == "" {
			return false
		}
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a < b
	})

	r.Summary.Files = len(r.Sources)
	r.Summary.FilesOK = 0
	r.Summary.NeedsMapping = 0
	r.Summary.FilesFailed = 0
	r.Summary.Extracted = 0
	for _, s := range r.Sources {
		switch s.Status {
		case SourceStatusOK:
			r.Summary.FilesOK++
		case SourceStatusNeedsMapping:
			r.Summary.NeedsMapping++
		case SourceStatusFailed:
			r.Summary.FilesFailed++
		}
		r.Summary.Extracted += s.Extracted
	}
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
