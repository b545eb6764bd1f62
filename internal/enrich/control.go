package enrich

import (
	"sync"

	"github.com/John-Robertt/cancioneiro/internal/domain"
)

// Controller 是处理循环与宿主之间的窄接口：状态可读可写，进度/结果/错误只写。
// 处理循环绝不读取宿主的其它状态。
type Controller interface {
	Status() domain.Status
	SetStatus(domain.Status)
	SetProgress(domain.Progress)
	SetResults([]domain.EnrichedRecord)
	AddError(domain.ErrorEvent)
}

// statusWaiter 是可选升级接口：实现它的 Controller 让暂停等待
// 走状态变更通知而不是固定间隔轮询。
type statusWaiter interface {
	StatusChanged() <-chan struct{}
}

// Control 是 Controller 的标准实现，宿主（CLI/调用方）与处理循环共享一份。
//
// 并发约定：
// - 所有字段由互斥锁保护；读取访问器返回副本
// - 状态变更用“关闭并更换 channel”的方式广播（见 StatusChanged）
type Control struct {
	mu       sync.Mutex
	status   domain.Status
	progress domain.Progress
	results  []domain.EnrichedRecord
	errs     []domain.ErrorEvent
	changed  chan struct{}
}

func NewControl() *Control {
	return &Control{
		status:  domain.StatusIdle,
		changed: make(chan struct{}),
	}
}

func (c *Control) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Control) SetStatus(s domain.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStatusLocked(s)
}

func (c *Control) setStatusLocked(s domain.Status) {
	if c.status == s {
		return
	}
	c.status = s
	close(c.changed)
	c.changed = make(chan struct{})
}

// StatusChanged 返回在下一次状态变更时被关闭的 channel。
// 用法：先取 channel，再读状态做判断，然后才等待（避免漏掉中间的变更）。
func (c *Control) StatusChanged() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Pause 仅在 enriching 时生效；返回是否发生了转移。
func (c *Control) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != domain.StatusEnriching {
		return false
	}
	c.setStatusLocked(domain.StatusPaused)
	return true
}

// Resume 仅在 paused 时生效；返回是否发生了转移。
func (c *Control) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != domain.StatusPaused {
		return false
	}
	c.setStatusLocked(domain.StatusEnriching)
	return true
}

// Cancel 在任何非 idle、非 completed 状态下生效，把状态驱回 idle；
// 处理循环把 idle 当作停止信号（在波次之间观察到）。
func (c *Control) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case domain.StatusIdle, domain.StatusCompleted:
		return false
	}
	c.setStatusLocked(domain.StatusIdle)
	return true
}

func (c *Control) SetProgress(p domain.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = p
}

func (c *Control) Progress() domain.Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

func (c *Control) SetResults(recs []domain.EnrichedRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = recs
}

// Results 返回最近一次快照的副本（每个波次结束后更新一次）。
func (c *Control) Results() []domain.EnrichedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.EnrichedRecord, len(c.results))
	copy(out, c.results)
	return out
}

func (c *Control) AddError(ev domain.ErrorEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, ev)
}

func (c *Control) Errors() []domain.ErrorEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ErrorEvent, len(c.errs))
	copy(out, c.errs)
	return out
}
