package run

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/cancioneiro/internal/app"
	"github.com/John-Robertt/cancioneiro/internal/columns"
	"github.com/John-Robertt/cancioneiro/internal/config"
	"github.com/John-Robertt/cancioneiro/internal/consolidate"
	"github.com/John-Robertt/cancioneiro/internal/domain"
	"github.com/John-Robertt/cancioneiro/internal/enrich"
	"github.com/John-Robertt/cancioneiro/internal/export"
	"github.com/John-Robertt/cancioneiro/internal/extract"
	"github.com/John-Robertt/cancioneiro/internal/infra/httpx"
	"github.com/John-Robertt/cancioneiro/internal/provider"
	"github.com/John-Robertt/cancioneiro/internal/sheet"
	"github.com/John-Robertt/cancioneiro/internal/store"
)

// Execute 执行一次 run（dry-run/apply），并返回对外稳定的 RunReport。
// 该函数尽量把错误“降级”为 source 级失败（单个文件失败不影响其他）。
func Execute(ctx context.Context, eff config.EffectiveConfig, reg provider.Registry, ctrl *enrich.Control) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, reg, ctrl, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
//
// ctrl 是 pause/resume/cancel 的宿主侧把手；传 nil 时内部自建一个（无人遥控的运行）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, reg provider.Registry, ctrl *enrich.Control, obs Observer) domain.RunReport {
	started := time.Now().UTC()

	if obs != nil {
		obs.OnStart(eff)
	}
	if ctrl == nil {
		ctrl = enrich.NewControl()
	}

	rr := domain.RunReport{
		Path:      eff.Path,
		DryRun:    !eff.Apply,
		RunID:     uuid.NewString(),
		Provider:  eff.Provider,
		StartedAt: started,
		Sources:   make([]domain.SourceResult, 0, 16),
	}

	finish := func() domain.RunReport {
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	client, err := httpx.NewLookupClient(eff.ProxyURL)
	if err != nil {
		rr.Sources = append(rr.Sources, syntheticSource(domain.ErrCodeConfigInvalid, fmt.Sprintf("proxy.url 无效：%v", err)))
		return finish()
	}

	scanStarted := time.Now()
	files, err := sheet.ScanSheets(eff.Path, eff.ExcludeDirs)
	if err != nil {
		rr.Sources = append(rr.Sources, syntheticSource(domain.ErrCodeIOFailed, fmt.Sprintf("扫描失败：%v", err)))
		return finish()
	}
	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{"files": len(files)}, time.Since(scanStarted))
	}

	// 提取阶段归 extracting 状态；进入批处理后状态由 Processor 接管。
	ctrl.SetStatus(domain.StatusExtracting)

	ingestStarted := time.Now()
	outcomes := ingestAll(ctx, eff, files)

	all := make([]domain.SongRecord, 0, 256)
	var needsMapping, failedFiles int
	for i := range outcomes {
		rr.Sources = append(rr.Sources, outcomes[i].src)
		all = append(all, outcomes[i].records...)
		switch outcomes[i].src.Status {
		case domain.SourceStatusNeedsMapping:
			needsMapping++
		case domain.SourceStatusFailed:
			failedFiles++
		}
	}
	if obs != nil {
		obs.OnPhaseDone("ingest", map[string]any{
			"sources":       len(outcomes),
			"extracted":     len(all),
			"needs_mapping": needsMapping,
			"failed":        failedFiles,
		}, time.Since(ingestStarted))
	}

	conStarted := time.Now()
	res := consolidate.Consolidate(all)
	rr.Summary.DuplicatesRemoved = res.DuplicatesRemoved
	if obs != nil {
		obs.OnPhaseDone("consolidate", map[string]any{
			"unique":             len(res.Unique),
			"duplicates_removed": res.DuplicatesRemoved,
		}, time.Since(conStarted))
	}

	// 快照库：dry-run 以只读打开（缺失时不建目录、不建库，零写入）。
	st, err := store.Open(eff.Path, !eff.Apply)
	if err != nil {
		rr.Sources = append(rr.Sources, syntheticSource(domain.ErrCodeStoreFailed, fmt.Sprintf("打开快照库失败：%v", err)))
		st = nil
	}
	defer func() {
		if st != nil {
			_ = st.Close()
		}
	}()

	var stored []domain.EnrichedRecord
	if st != nil {
		stored, err = st.Load(ctx)
		if err != nil {
			rr.Sources = append(rr.Sources, syntheticSource(domain.ErrCodeStoreFailed, fmt.Sprintf("读取快照失败：%v", err)))
			stored = nil
		}
	}

	planStarted := time.Now()
	plan := app.PlanEnrichment(res.Unique, stored)
	rr.Summary.Reused = len(plan.Reused)
	if obs != nil {
		obs.OnPhaseDone("plan", map[string]any{
			"pending": len(plan.Pending),
			"reused":  len(plan.Reused),
		}, time.Since(planStarted))
	}

	// dry-run 到此为止：不打富化接口、不落任何盘。
	if !eff.Apply {
		ctrl.SetStatus(domain.StatusIdle)
		rr.CountSongs(len(res.Unique), plan.Reused)
		return finish()
	}

	proc := &enrich.Processor{
		BatchSize:    eff.BatchSize,
		Concurrency:  eff.Concurrency,
		MaxRetries:   eff.MaxRetries,
		InitialDelay: eff.RetryDelay,
	}
	var ec enrich.Controller = ctrl
	if obs != nil {
		ec = newObsControl(ctrl, obs, len(plan.Pending))
	}
	enriched := proc.Run(ctx, plan.Pending, provider.BatchFunc(reg, eff.Provider, client), ec)

	// 复用行在前（合并产出顺序），新富化在后（批次完成顺序）。
	final := make([]domain.EnrichedRecord, 0, len(plan.Reused)+len(enriched))
	final = append(final, plan.Reused...)
	final = append(final, enriched...)

	rr.Errors = append(rr.Errors, ctrl.Errors()...)
	rr.CountSongs(len(res.Unique), final)

	// 落盘失败降级为 run 级条目，不中止：部分结果也要可检视/可导出。
	if st != nil {
		if err := st.Replace(ctx, rr.RunID, final); err != nil {
			rr.Sources = append(rr.Sources, syntheticSource(domain.ErrCodeStoreFailed, fmt.Sprintf("写入快照失败：%v", err)))
		}
	}
	if err := export.WriteCSV(filepath.Join(eff.Path, "out"), export.FileName, final); err != nil {
		rr.Sources = append(rr.Sources, syntheticSource(domain.ErrCodeExportFailed, fmt.Sprintf("导出 CSV 失败：%v", err)))
	}

	return finish()
}

type fileOutcome struct {
	src     domain.SourceResult
	records []domain.SongRecord
}

// ingestAll 有界并发地解码/识别/提取所有文件；产出按 files 的顺序排列，
// 与完成顺序无关（记录 ID 与 source 字段都要求稳定）。
func ingestAll(ctx context.Context, eff config.EffectiveConfig, files []domain.SourceFile) []fileOutcome {
	outcomes := make([]fileOutcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(eff.Concurrency)
	for i := range files {
		i := i
		g.Go(func() error {
			outcomes[i] = ingestOne(gctx, eff, files[i])
			return nil
		})
	}
	// worker 一律把失败降级进 outcome，不向 group 返回错误。
	_ = g.Wait()
	return outcomes
}

func ingestOne(ctx context.Context, eff config.EffectiveConfig, sf domain.SourceFile) fileOutcome {
	src := domain.SourceResult{Source: sf.RelPath, Status: domain.SourceStatusOK}

	if ctx.Err() != nil {
		src.Status = domain.SourceStatusFailed
		src.ErrorCode = domain.ErrCodeIOFailed
		src.ErrorMsg = "已取消"
		return fileOutcome{src: src}
	}

	grid, err := sheet.Decode(sf)
	if err != nil {
		src.Status = domain.SourceStatusFailed
		if errors.Is(err, sheet.ErrNoRows) {
			src.ErrorCode = domain.ErrCodeNoRows
		} else {
			src.ErrorCode = domain.ErrCodeDecodeFailed
		}
		src.ErrorMsg = err.Error()
		return fileOutcome{src: src}
	}
	src.Rows = len(grid)

	det, manual := detectionFor(eff, sf, grid)
	src.Confidence = det.Confidence
	src.Alternating = det.Alternating
	src.HeaderRow = det.Columns.HasHeaderRow

	// 低置信度的列式识别是降级态：没有手工映射就只报告、不提取
	//（按错误的猜测提取会污染富化与快照）。交替格式除外——单列表格
	// 不存在可供纠正的列映射，交替模式就是它唯一合理的读法。
	if !manual && !det.Alternating && det.Confidence != domain.ConfidenceHigh {
		src.Status = domain.SourceStatusNeedsMapping
		src.ErrorCode = domain.ErrCodeNeedsMapping
		src.ErrorMsg = fmt.Sprintf("列识别置信度低；请在 cancioneiro.json 的 columns[%q] 提供手工映射", sf.RelPath)
		return fileOutcome{src: src}
	}

	var recs []domain.SongRecord
	var dropped int
	if det.Alternating {
		recs, dropped = extract.Alternating(grid, sf.RelPath)
	} else {
		recs, dropped = extract.Tabular(grid, det.Columns, det.StartRow(), sf.RelPath)
	}
	src.Dropped = dropped

	if eff.ScraperClean {
		var merged int
		recs, merged = consolidate.CleanAdjacent(recs)
		src.AdjacentMerged = merged
	}
	src.Extracted = len(recs)
	return fileOutcome{src: src, records: recs}
}

// detectionFor 返回该文件的列识别结果；配置里的手工映射优先于启发式。
func detectionFor(eff config.EffectiveConfig, sf domain.SourceFile, grid domain.RawGrid) (det columns.Detection, manual bool) {
	if mc, ok := eff.Columns[sf.RelPath]; ok {
		return manualDetection(mc), true
	}
	return columns.Detect(grid, eff.MaxScanRows), false
}

// manualDetection 把配置的手工映射视为权威：confidence 一律 high。
func manualDetection(mc config.ManualColumns) columns.Detection {
	m := domain.NewColumnMap()
	set := func(col *int, role domain.Role) {
		if col != nil {
			m.Set(role, *col)
		}
	}
	set(mc.Title, domain.RoleTitle)
	set(mc.Artist, domain.RoleArtist)
	set(mc.Composer, domain.RoleComposer)
	set(mc.Year, domain.RoleYear)
	set(mc.Lyrics, domain.RoleLyrics)

	det := columns.Detection{Columns: m, HeaderRow: -1, Confidence: domain.ConfidenceHigh}
	if mc.HeaderRow != nil {
		det.HeaderRow = *mc.HeaderRow
		det.Columns.HasHeaderRow = true
	}
	return det
}

// syntheticSource 把 run 级错误合成为一条 source 结果（Source 为空，Finalize 会排在最后）。
func syntheticSource(code, msg string) domain.SourceResult {
	return domain.SourceResult{
		Source:    "",
		Status:    domain.SourceStatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
	}
}

// obsControl 在 Control 之上向 Observer 转发事件。
// 嵌入具体 Control 以保留 StatusChanged 升级接口（处理器据此走
// channel 等待而非轮询）。
type obsControl struct {
	*enrich.Control
	obs   Observer
	total int

	mu     sync.Mutex
	done   int
	lastAt time.Time
}

func newObsControl(ctrl *enrich.Control, obs Observer, total int) *obsControl {
	return &obsControl{Control: ctrl, obs: obs, total: total, lastAt: time.Now()}
}

func (o *obsControl) SetResults(recs []domain.EnrichedRecord) {
	o.Control.SetResults(recs)

	o.mu.Lock()
	now := time.Now()
	dur := now.Sub(o.lastAt)
	o.lastAt = now
	prev := o.done
	o.done = len(recs)
	o.mu.Unlock()

	failed := 0
	for _, r := range recs[prev:] {
		if r.SearchStatus == domain.SearchStatusFailed {
			failed++
		}
	}
	o.obs.OnBatchDone(len(recs), o.total, failed, dur)
}

func (o *obsControl) SetProgress(p domain.Progress) {
	o.Control.SetProgress(p)
	o.obs.OnProgress(p)
}

func (o *obsControl) AddError(ev domain.ErrorEvent) {
	o.Control.AddError(ev)
	o.obs.OnRunError(ev)
}
