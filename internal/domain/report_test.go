package domain

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRunReport_Finalize_SortAndSummaryAndUTC(t *testing.T) {
	r := RunReport{
		Path:       "/abs/path",
		DryRun:     true,
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, time.FixedZone("X", 8*3600)),
		Sources: []SourceResult{
			{Source: "b/lista.xlsx", Status: SourceStatusNeedsMapping, Extracted: 0},
			{Source: "", Status: SourceStatusFailed}, // config 等合成项
			{Source: "a/forro.csv", Status: SourceStatusOK, Extracted: 12},
		},
	}

	r.Finalize()

	// source=="" 必须排在最后；其余按字典序。
	if r.Sources[0].Source != "a/forro.csv" || r.Sources[1].Source != "b/lista.xlsx" || r.Sources[2].Source != "" {
		t.Fatalf("sources 排序不符合契约：%v", []string{r.Sources[0].Source, r.Sources[1].Source, r.Sources[2].Source})
	}
	if r.Summary.Files != 3 || r.Summary.FilesOK != 1 || r.Summary.NeedsMapping != 1 || r.Summary.FilesFailed != 1 {
		t.Fatalf("summary 文件侧统计不正确：%+v", r.Summary)
	}
	if r.Summary.Extracted != 12 {
		t.Fatalf("期望 extracted=12，实际 %d", r.Summary.Extracted)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	// time.Time 在 UTC 下应输出 'Z' 后缀。
	if len(b) == 0 || !bytes.Contains(b, []byte("\"started_at\":\"2026-02-09T02:00:00Z\"")) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
}

func TestRunReport_CountSongs(t *testing.T) {
	r := RunReport{}
	r.CountSongs(4, []EnrichedRecord{
		{SearchStatus: SearchStatusSuccess},
		{SearchStatus: SearchStatusSuccess},
		{SearchStatus: SearchStatusPartial},
		{SearchStatus: SearchStatusNotFound},
		{SearchStatus: SearchStatusFailed},
	})
	if r.Summary.Consolidated != 4 {
		t.Fatalf("期望 consolidated=4，实际 %d", r.Summary.Consolidated)
	}
	if r.Summary.Success != 2 || r.Summary.Partial != 1 || r.Summary.NotFound != 1 || r.Summary.Failed != 1 {
		t.Fatalf("歌曲侧统计不正确：%+v", r.Summary)
	}
}

func TestRunReport_ErrorEventsKeepOrder(t *testing.T) {
	t0 := time.Date(2026, 2, 9, 2, 0, 0, 0, time.UTC)
	r := RunReport{
		Errors: []ErrorEvent{
			{Timestamp: t0.Add(2 * time.Second), Message: "batch 3"},
			{Timestamp: t0, Message: "batch 1"},
		},
	}
	r.Finalize()
	// errors 保持发生（append）顺序，不按时间排序。
	if r.Errors[0].Message != "batch 3" || r.Errors[1].Message != "batch 1" {
		t.Fatalf("errors 顺序被改写：%+v", r.Errors)
	}
}
