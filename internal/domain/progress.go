package domain

// Status 是处理状态机的状态（由批处理驱动循环独占推进）。
//
// 迁移规则见 enrich 包：idle → enriching → {paused ⇄ enriching} →
// {completed | idle(=cancelled)}；取消通过把 status 驱回 idle 表达。
type Status string

const (
	StatusIdle       Status = "idle"
	StatusExtracting Status = "extracting"
	StatusEnriching  Status = "enriching"
	StatusPaused     Status = "paused"
	StatusCancelled  Status = "cancelled"
	StatusCompleted  Status = "completed"
)

// Progress 是滚动窗口进度快照。
//
// 不变量：同一次 run 内 Current 单调不减；暂停期间冻结（不消费条目）。
type Progress struct {
	Current int
	Total   int
	// Speed 为 items/second，基于约 1 秒的滚动窗口计算。
	Speed float64
	// EtaSeconds 为预计剩余秒数；Speed 为 0 时置为 EtaUnknown（不可估算）。
	EtaSeconds float64
}

// EtaUnknown 表示 ETA 不可估算（速度为 0 的窗口）。
const EtaUnknown = -1
