package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/John-Robertt/cancioneiro/internal/domain"
)

// BatchFunc 是外部富化后端的批量函数。
// 契约：传输/后端故障必须返回 error（重试逻辑依赖错误，不依赖带内状态码）；
// 成功时必须恰好返回与输入等量的记录（批内顺序不保证）。
type BatchFunc func(ctx context.Context, batch []domain.SongRecord) ([]domain.EnrichedRecord, error)

const (
	DefaultBatchSize    = 50
	DefaultConcurrency  = 3
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second
	DefaultPollInterval = 250 * time.Millisecond

	defaultProgressEvery = time.Second
)

// Processor 以固定批次、受限并发驱动批量富化。
//
// 执行模型（外部可观察契约，勿改）：
// - items 切成 BatchSize 大小的批次；每个波次最多并发 Concurrency 个批次，
//   波次内 fan-out/fan-in，波次之间严格串行
// - 波次之间检查控制状态：paused 挂起（不消费条目），idle（取消）立即停止；
//   已在途的波次总是跑完
// - 单批最多 MaxRetries 次调用，退避 InitialDelay·2^(attempt-1)；重试耗尽
//   不中止 run：该批每条合成 failed 记录，另记一条错误事件
// - 结果按“批次完成序”追加；每个波次结束后整体快照经 SetResults 暴露
type Processor struct {
	BatchSize   int
	Concurrency int

	// MaxRetries 是单批的总调用次数上限（含首次）。
	MaxRetries   int
	InitialDelay time.Duration

	// PollInterval 是 paused 下的轮询间隔（Controller 不支持变更通知时的退路）。
	PollInterval time.Duration

	// ProgressEvery 是进度重算的节流间隔（滚动窗口）；最终进度不受节流约束。
	ProgressEvery time.Duration
}

// Run 消费 items 并返回富化结果（取消时返回已完成的部分）。
// 终态：全部消费完且未被取消 → completed；取消 → 保持 idle。
func (p *Processor) Run(ctx context.Context, items []domain.SongRecord, fn BatchFunc, ctrl Controller) (out []domain.EnrichedRecord) {
	defer func() {
		if r := recover(); r != nil {
			// 驱动循环自身的意外失败：单条结构化错误 + 驱回 idle
			//（区别于 completed，调用方据此识别异常停止）。
			ctrl.AddError(domain.ErrorEvent{
				Timestamp: time.Now().UTC(),
				Message:   "enrichment 驱动循环异常中止",
				Details:   fmt.Sprint(r),
			})
			ctrl.SetStatus(domain.StatusIdle)
		}
	}()

	ctrl.SetStatus(domain.StatusEnriching)

	batches := partition(items, p.batchSize())
	out = make([]domain.EnrichedRecord, 0, len(items))

	total := len(items)
	processed := 0
	lastAt := time.Now()
	lastCount := 0

	stopped := false
	for start := 0; start < len(batches); start += p.concurrency() {
		if !p.awaitRunnable(ctx, ctrl) {
			stopped = true
			break
		}

		end := start + p.concurrency()
		if end > len(batches) {
			end = len(batches)
		}

		recs := p.runWave(ctx, batches[start:end], fn, ctrl)
		out = append(out, recs...)
		processed += len(recs)

		snapshot := make([]domain.EnrichedRecord, len(out))
		copy(snapshot, out)
		ctrl.SetResults(snapshot)

		if time.Since(lastAt) >= p.progressEvery() {
			ctrl.SetProgress(progressAt(processed, total, lastCount, lastAt))
			lastAt = time.Now()
			lastCount = processed
		}
	}

	// 短 run 可能从未跨过节流间隔，最终进度无条件补一次。
	ctrl.SetProgress(progressAt(processed, total, lastCount, lastAt))

	if stopped {
		// 取消路径：Cancel 已把状态驱回 idle，这里是 no-op。停止源是 ctx 时
		// 状态还停在 enriching/paused，补一次驱回，不留僵尸状态。
		if ctrl.Status() != domain.StatusIdle {
			ctrl.SetStatus(domain.StatusIdle)
		}
		return out
	}
	ctrl.SetStatus(domain.StatusCompleted)
	return out
}

// awaitRunnable 在波次之间执行状态检查：
// enriching → 可继续；paused → 挂起等待（不消费条目）；其余（idle=取消）→ 停止。
func (p *Processor) awaitRunnable(ctx context.Context, ctrl Controller) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		switch ctrl.Status() {
		case domain.StatusEnriching:
			return true
		case domain.StatusPaused:
			if w, ok := ctrl.(statusWaiter); ok {
				ch := w.StatusChanged()
				// 先取 channel 再复查状态，否则会漏掉取 channel 前一瞬的变更。
				if ctrl.Status() != domain.StatusPaused {
					continue
				}
				select {
				case <-ch:
				case <-ctx.Done():
					return false
				}
				continue
			}
			select {
			case <-time.After(p.pollInterval()):
			case <-ctx.Done():
				return false
			}
		default:
			return false
		}
	}
}

// runWave 并发执行一个波次内的批次（fan-out/fan-in），按完成序拼接。
// 错误事件由本函数在驱动 goroutine 里写入，worker 不直接碰 Controller。
func (p *Processor) runWave(ctx context.Context, wave [][]domain.SongRecord, fn BatchFunc, ctrl Controller) []domain.EnrichedRecord {
	type batchResult struct {
		recs []domain.EnrichedRecord
		ev   *domain.ErrorEvent
	}

	results := make(chan batchResult, len(wave))

	var wg sync.WaitGroup
	for _, batch := range wave {
		wg.Add(1)
		go func(batch []domain.SongRecord) {
			defer wg.Done()
			recs, ev := p.runBatch(ctx, batch, fn)
			results <- batchResult{recs: recs, ev: ev}
		}(batch)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	n := 0
	for _, b := range wave {
		n += len(b)
	}
	out := make([]domain.EnrichedRecord, 0, n)
	for r := range results {
		out = append(out, r.recs...)
		if r.ev != nil {
			ctrl.AddError(*r.ev)
		}
	}
	return out
}

// runBatch 执行单批的重试生命周期；重试耗尽时合成 failed 记录与错误事件。
func (p *Processor) runBatch(ctx context.Context, batch []domain.SongRecord, fn BatchFunc) ([]domain.EnrichedRecord, *domain.ErrorEvent) {
	max := p.maxRetries()

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		recs, err := callBatch(ctx, batch, fn)
		if err == nil && len(recs) != len(batch) {
			// 后端契约：每个输入恰好一个输出。
			err = fmt.Errorf("enrichment 返回 %d 条，期望 %d 条", len(recs), len(batch))
		}
		if err == nil {
			return recs, nil
		}
		lastErr = err
		if attempt == max {
			break
		}
		// 指数退避：InitialDelay · 2^(attempt-1)。
		if !sleepCtx(ctx, p.initialDelay()<<(attempt-1)) {
			break
		}
	}

	failed := make([]domain.EnrichedRecord, 0, len(batch))
	titles := make([]string, 0, len(batch))
	for _, s := range batch {
		failed = append(failed, domain.FailedRecord(s, fmt.Sprintf("enrichment 失败：%v", lastErr)))
		titles = append(titles, s.Title)
	}
	ev := &domain.ErrorEvent{
		Timestamp:    time.Now().UTC(),
		Message:      fmt.Sprintf("批次富化在 %d 次尝试后失败（%d 首）", max, len(batch)),
		Details:      lastErr.Error(),
		FailedTitles: titles,
	}
	return failed, ev
}

// callBatch 把 fn 的 panic 转成普通错误，进入既有的重试/降级路径
//（worker goroutine 里的 panic 否则会带崩整个进程）。
func callBatch(ctx context.Context, batch []domain.SongRecord, fn BatchFunc) (recs []domain.EnrichedRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			recs = nil
			err = fmt.Errorf("enrichment panic：%v", r)
		}
	}()
	return fn(ctx, batch)
}

func progressAt(processed, total, lastCount int, lastAt time.Time) domain.Progress {
	pr := domain.Progress{
		Current:    processed,
		Total:      total,
		EtaSeconds: domain.EtaUnknown,
	}
	secs := time.Since(lastAt).Seconds()
	if secs > 0 && processed > lastCount {
		pr.Speed = float64(processed-lastCount) / secs
		pr.EtaSeconds = float64(total-processed) / pr.Speed
	}
	return pr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func partition(items []domain.SongRecord, size int) [][]domain.SongRecord {
	if len(items) == 0 {
		return nil
	}
	out := make([][]domain.SongRecord, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

func (p *Processor) batchSize() int {
	if p.BatchSize > 0 {
		return p.BatchSize
	}
	return DefaultBatchSize
}

func (p *Processor) concurrency() int {
	if p.Concurrency > 0 {
		return p.Concurrency
	}
	return DefaultConcurrency
}

func (p *Processor) maxRetries() int {
	if p.MaxRetries > 0 {
		return p.MaxRetries
	}
	return DefaultMaxRetries
}

func (p *Processor) initialDelay() time.Duration {
	if p.InitialDelay > 0 {
		return p.InitialDelay
	}
	return DefaultInitialDelay
}

func (p *Processor) pollInterval() time.Duration {
	if p.PollInterval > 0 {
		return p.PollInterval
	}
	return DefaultPollInterval
}

func (p *Processor) progressEvery() time.Duration {
	if p.ProgressEvery > 0 {
		return p.ProgressEvery
	}
	return defaultProgressEvery
}
