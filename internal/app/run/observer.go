package run

import (
	"time"

	"github.com/John-Robertt/cancioneiro/internal/config"
	"github.com/John-Robertt/cancioneiro/internal/domain"
)

// Observer 用于把“运行进度/阶段/批次结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：事件可能来自多个 goroutine。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束时调用（用于打印阶段统计与耗时）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnBatchDone 在一波批次落账后调用。done/total 按歌曲计；
	// failed 是本波新增的 failed 记录数；dur 是距上一波落账的耗时。
	OnBatchDone(done, total, failed int, dur time.Duration)
	// OnProgress 在进度快照更新时调用（处理器端按 1 秒节流）。
	OnProgress(p domain.Progress)
	// OnRunError 在一条结构化错误产生时调用（批次重试耗尽或运行级故障）。
	OnRunError(ev domain.ErrorEvent)
}
