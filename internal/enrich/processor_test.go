package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/John-Robertt/cancioneiro/internal/domain"
)

func makeSongs(n int) []domain.SongRecord {
	out := make([]domain.SongRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.SongRecord{
			ID:     fmt.Sprintf("lista.xlsx#%d", i+1),
			Title:  fmt.Sprintf("Canção %03d", i+1),
			Artist: "Luiz Gonzaga",
			Source: "lista.xlsx",
		})
	}
	return out
}

func okRecords(batch []domain.SongRecord) []domain.EnrichedRecord {
	out := make([]domain.EnrichedRecord, 0, len(batch))
	for _, s := range batch {
		out = append(out, domain.EnrichedRecord{
			SongRecord:     s,
			FoundArtist:    s.Artist,
			SearchStatus:   domain.SearchStatusSuccess,
			ApprovalStatus: domain.ApprovalPending,
		})
	}
	return out
}

// fakeController 不实现 StatusChanged，覆盖固定间隔轮询的退路。
type fakeController struct {
	mu       sync.Mutex
	status   domain.Status
	progress []domain.Progress
	snaps    int
	errs     []domain.ErrorEvent
}

func (c *fakeController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeController) SetStatus(s domain.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

func (c *fakeController) SetProgress(p domain.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = append(c.progress, p)
}

func (c *fakeController) SetResults(recs []domain.EnrichedRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps++
}

func (c *fakeController) AddError(ev domain.ErrorEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, ev)
}

func (c *fakeController) progressLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.progress)
}

func (c *fakeController) lastProgress() domain.Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.progress) == 0 {
		return domain.Progress{Current: -1}
	}
	return c.progress[len(c.progress)-1]
}

func TestRun_AllBatchesFailNeverAbortsRun(t *testing.T) {
	// 120 首 / 批 50 / 并发 3 → 一个波次 3 批；每批 3 次调用共 9 次；
	// 全部降级为 failed 记录，run 正常走到 completed。
	items := makeSongs(120)

	var calls int32
	fn := func(ctx context.Context, batch []domain.SongRecord) ([]domain.EnrichedRecord, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("backend down")
	}

	ctrl := NewControl()
	p := &Processor{BatchSize: 50, Concurrency: 3, MaxRetries: 3, InitialDelay: time.Millisecond, ProgressEvery: time.Nanosecond}
	out := p.Run(context.Background(), items, fn, ctrl)

	if got := atomic.LoadInt32(&calls); got != 9 {
		t.Fatalf("期望 9 次调用（3 批 × 3 次），实际 %d", got)
	}
	if len(out) != 120 {
		t.Fatalf("期望 120 条记录，实际 %d", len(out))
	}
	for _, r := range out {
		if r.SearchStatus != domain.SearchStatusFailed {
			t.Fatalf("期望全部 failed，实际 %q（%s）", r.SearchStatus, r.ID)
		}
	}

	evs := ctrl.Errors()
	if len(evs) != 3 {
		t.Fatalf("期望 3 条错误事件，实际 %d", len(evs))
	}
	titles := 0
	for _, ev := range evs {
		titles += len(ev.FailedTitles)
		if ev.Details == "" || ev.Timestamp.IsZero() {
			t.Fatalf("错误事件缺少细节：%+v", ev)
		}
	}
	if titles != 120 {
		t.Fatalf("错误事件应覆盖全部标题，实际 %d", titles)
	}

	if ctrl.Status() != domain.StatusCompleted {
		t.Fatalf("期望 completed，实际 %q", ctrl.Status())
	}
	if pr := ctrl.Progress(); pr.Current != 120 || pr.Total != 120 {
		t.Fatalf("最终进度不符合预期：%+v", pr)
	}
}

func TestRun_RetryBoundExactCalls(t *testing.T) {
	items := makeSongs(4)

	var calls int32
	fn := func(ctx context.Context, batch []domain.SongRecord) ([]domain.EnrichedRecord, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("always fails")
	}

	p := &Processor{BatchSize: 10, Concurrency: 2, MaxRetries: 3, InitialDelay: time.Millisecond}
	p.Run(context.Background(), items, fn, NewControl())

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("期望恰好 %d 次调用，实际 %d", 3, got)
	}
}

func TestRun_RetrySucceedsBeforeExhaustion(t *testing.T) {
	items := makeSongs(2)

	var calls int32
	fn := func(ctx context.Context, batch []domain.SongRecord) ([]domain.EnrichedRecord, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("flaky")
		}
		return okRecords(batch), nil
	}

	ctrl := NewControl()
	p := &Processor{BatchSize: 10, Concurrency: 1, MaxRetries: 3, InitialDelay: time.Millisecond}
	out := p.Run(context.Background(), items, fn, ctrl)

	if len(out) != 2 || out[0].SearchStatus != domain.SearchStatusSuccess {
		t.Fatalf("期望第三次调用成功，实际 %+v", out)
	}
	if evs := ctrl.Errors(); len(evs) != 0 {
		t.Fatalf("成功路径不应有错误事件：%+v", evs)
	}
	if ctrl.Status() != domain.StatusCompleted {
		t.Fatalf("期望 completed，实际 %q", ctrl.Status())
	}
}

func TestRun_CountMismatchIsFailure(t *testing.T) {
	// 后端契约：每个输入恰好一个输出；violate → 当失败重试，耗尽后降级。
	items := makeSongs(3)

	var calls int32
	fn := func(ctx context.Context, batch []domain.SongRecord) ([]domain.EnrichedRecord, error) {
		atomic.AddInt32(&calls, 1)
		return okRecords(batch[:1]), nil
	}

	ctrl := NewControl()
	p := &Processor{BatchSize: 10, Concurrency: 1, MaxRetries: 2, InitialDelay: time.Millisecond}
	out := p.Run(context.Background(), items, fn, ctrl)

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("期望 2 次调用，实际 %d", got)
	}
	if len(out) != 3 {
		t.Fatalf("降级后仍须每条输入一条输出，实际 %d", len(out))
	}
	for _, r := range out {
		if r.SearchStatus != domain.SearchStatusFailed {
			t.Fatalf("期望 failed，实际 %q", r.SearchStatus)
		}
	}
}

func TestRun_ResultsFollowBatchCompletionOrder(t *testing.T) {
	// 同一波次内两个批次：第一批等第二批完成后才返回，
	// 输出顺序必须是完成序（第二批在前），而不是输入序。
	items := makeSongs(4)
	secondDone := make(chan struct{})

	fn := func(ctx context.Context, batch []domain.SongRecord) ([]domain.EnrichedRecord, error) {
		if batch[0].ID == items[0].ID {
			<-secondDone
		} else {
			defer close(secondDone)
		}
		return okRecords(batch), nil
	}

	p := &Processor{BatchSize: 2, Concurrency: 2, MaxRetries: 1}
	out := p.Run(context.Background(), items, fn, NewControl())

	if len(out) != 4 {
		t.Fatalf("期望 4 条记录，实际 %d", len(out))
	}
	if out[0].ID != items[2].ID || out[2].ID != items[0].ID {
		t.Fatalf("期望完成序（第二批在前），实际 %s, %s, %s, %s", out[0].ID, out[1].ID, out[2].ID, out[3].ID)
	}
}

func TestRun_PauseFreezesProgressWithoutConsumingItems(t *testing.T) {
	items := makeSongs(3)
	ctrl := &fakeController{}

	var calls int32
	fn := func(ctx context.Context, batch []domain.SongRecord) ([]domain.EnrichedRecord, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// 第一波在途时请求暂停：暂停在波次之间才被观察到。
			ctrl.SetStatus(domain.StatusPaused)
		}
		return okRecords(batch), nil
	}

	p := &Processor{BatchSize: 1, Concurrency: 1, MaxRetries: 1, PollInterval: 2 * time.Millisecond, ProgressEvery: time.Nanosecond}
	done := make(chan []domain.EnrichedRecord, 1)
	go func() { done <- p.Run(context.Background(), items, fn, ctrl) }()

	// 等第一波落地的进度出现。
	deadline := time.Now().Add(2 * time.Second)
	for ctrl.progressLen() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("等不到第一波进度")
		}
		time.Sleep(time.Millisecond)
	}

	// 冻结窗口内反复采样：current 不变、没有新的进度事件、条目不被消费。
	frozenLen := ctrl.progressLen()
	frozen := ctrl.lastProgress()
	for i := 0; i < 5; i++ {
		time.Sleep(5 * time.Millisecond)
		if got := ctrl.lastProgress(); got.Current != frozen.Current {
			t.Fatalf("暂停期间进度变化了：%+v → %+v", frozen, got)
		}
		if ctrl.progressLen() != frozenLen {
			t.Fatalf("暂停期间不应有新的进度事件")
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("暂停期间消费了条目：calls=%d", got)
	}

	ctrl.SetStatus(domain.StatusEnriching)
	out := <-done

	if len(out) != 3 {
		t.Fatalf("恢复后应处理完全部条目，实际 %d", len(out))
	}
	if ctrl.Status() != domain.StatusCompleted {
		t.Fatalf("期望 completed，实际 %q", ctrl.Status())
	}
	if got := ctrl.lastProgress(); got.Current != 3 || got.Total != 3 {
		t.Fatalf("最终进度不符合预期：%+v", got)
	}
}

func TestRun_ResumeWakesThroughStatusChannel(t *testing.T) {
	// PollInterval 设成 1 小时：能按时完成就证明唤醒走的是变更通知。
	items := makeSongs(2)
	ctrl := NewControl()

	var calls int32
	fn := func(ctx context.Context, batch []domain.SongRecord) ([]domain.EnrichedRecord, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			ctrl.Pause()
		}
		return okRecords(batch), nil
	}

	p := &Processor{BatchSize: 1, Concurrency: 1, MaxRetries: 1, PollInterval: time.Hour}
	done := make(chan []domain.EnrichedRecord, 1)
	go func() { done <- p.Run(context.Background(), items, fn, ctrl) }()

	deadline := time.Now().Add(2 * time.Second)
	for ctrl.Status() != domain.StatusPaused {
		if time.Now().After(deadline) {
			t.Fatalf("等不到 paused 状态")
		}
		time.Sleep(time.Millisecond)
	}
	if !ctrl.Resume() {
		t.Fatalf("Resume 应从 paused 生效")
	}

	select {
	case out := <-done:
		if len(out) != 2 {
			t.Fatalf("期望 2 条记录，实际 %d", len(out))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("恢复没有唤醒处理循环（还在轮询退路上？）")
	}
	if ctrl.Status() != domain.StatusCompleted {
		t.Fatalf("期望 completed，实际 %q", ctrl.Status())
	}
}

func TestRun_CancelStopsBetweenWaves(t *testing.T) {
	items := makeSongs(3)
	ctrl := NewControl()

	var calls int32
	fn := func(ctx context.Context, batch []domain.SongRecord) ([]domain.EnrichedRecord, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			ctrl.Cancel()
		}
		return okRecords(batch), nil
	}

	p := &Processor{BatchSize: 1, Concurrency: 1, MaxRetries: 1}
	out := p.Run(context.Background(), items, fn, ctrl)

	// 在途的第一批跑完；后续波次不再派发。
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("取消后仍在派发波次：calls=%d", got)
	}
	if len(out) != 1 {
		t.Fatalf("期望返回已完成的 1 条，实际 %d", len(out))
	}
	if ctrl.Status() != domain.StatusIdle {
		t.Fatalf("取消后状态应为 idle，实际 %q", ctrl.Status())
	}
	// 部分结果在取消后仍可用。
	if snaps := ctrl.Results(); len(snaps) != 1 {
		t.Fatalf("期望快照包含 1 条，实际 %d", len(snaps))
	}
}

func TestRun_ContextCancelWhilePausedEndsIdle(t *testing.T) {
	items := makeSongs(2)
	ctrl := NewControl()
	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	fn := func(c context.Context, batch []domain.SongRecord) ([]domain.EnrichedRecord, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			ctrl.Pause()
		}
		return okRecords(batch), nil
	}

	p := &Processor{BatchSize: 1, Concurrency: 1, MaxRetries: 1, PollInterval: time.Hour}
	done := make(chan struct{})
	go func() {
		p.Run(ctx, items, fn, ctrl)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for ctrl.Status() != domain.StatusPaused {
		if time.Now().After(deadline) {
			t.Fatalf("等不到 paused 状态")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("ctx 取消没有结束处理循环")
	}
	if ctrl.Status() != domain.StatusIdle {
		t.Fatalf("异常停止应驱回 idle，实际 %q", ctrl.Status())
	}
}

func TestRun_EnrichPanicBecomesFailedBatch(t *testing.T) {
	items := makeSongs(2)
	ctrl := NewControl()

	fn := func(ctx context.Context, batch []domain.SongRecord) ([]domain.EnrichedRecord, error) {
		panic("boom")
	}

	p := &Processor{BatchSize: 10, Concurrency: 1, MaxRetries: 2, InitialDelay: time.Millisecond}
	out := p.Run(context.Background(), items, fn, ctrl)

	if len(out) != 2 {
		t.Fatalf("期望 2 条降级记录，实际 %d", len(out))
	}
	for _, r := range out {
		if r.SearchStatus != domain.SearchStatusFailed {
			t.Fatalf("期望 failed，实际 %q", r.SearchStatus)
		}
	}
	evs := ctrl.Errors()
	if len(evs) != 1 {
		t.Fatalf("期望 1 条错误事件，实际 %d", len(evs))
	}
	if ctrl.Status() != domain.StatusCompleted {
		t.Fatalf("单批 panic 不应中止 run，实际状态 %q", ctrl.Status())
	}
}

// explodingController 的 SetResults 会 panic：模拟驱动循环自身的意外失败。
type explodingController struct{ fakeController }

func (c *explodingController) SetResults(recs []domain.EnrichedRecord) {
	panic("host callback exploded")
}

func TestRun_DrivingLoopPanicForcesIdle(t *testing.T) {
	items := makeSongs(1)
	ctrl := &explodingController{}

	fn := func(ctx context.Context, batch []domain.SongRecord) ([]domain.EnrichedRecord, error) {
		return okRecords(batch), nil
	}

	p := &Processor{BatchSize: 1, Concurrency: 1, MaxRetries: 1}
	p.Run(context.Background(), items, fn, ctrl)

	if ctrl.Status() != domain.StatusIdle {
		t.Fatalf("异常中止应驱回 idle，实际 %q", ctrl.Status())
	}
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.errs) != 1 {
		t.Fatalf("期望 1 条结构化错误，实际 %d", len(ctrl.errs))
	}
}

func TestRun_NoItemsCompletesImmediately(t *testing.T) {
	ctrl := NewControl()

	var calls int32
	fn := func(ctx context.Context, batch []domain.SongRecord) ([]domain.EnrichedRecord, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	out := (&Processor{}).Run(context.Background(), nil, fn, ctrl)

	if len(out) != 0 || atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("空输入不应触发任何调用")
	}
	if ctrl.Status() != domain.StatusCompleted {
		t.Fatalf("期望 completed，实际 %q", ctrl.Status())
	}
	pr := ctrl.Progress()
	if pr.Current != 0 || pr.Total != 0 || pr.EtaSeconds != domain.EtaUnknown {
		t.Fatalf("空运行的进度不符合预期：%+v", pr)
	}
}

func TestPartition(t *testing.T) {
	items := makeSongs(5)
	got := partition(items, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 {
		t.Fatalf("切批不符合预期：%d 批", len(got))
	}
	if partition(nil, 2) != nil {
		t.Fatalf("空输入应返回 nil")
	}
}
