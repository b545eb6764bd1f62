package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/cancioneiro/internal/app/run"
	"github.com/John-Robertt/cancioneiro/internal/config"
	"github.com/John-Robertt/cancioneiro/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是一个“简洁版”的交互终端进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：长时间无批次落账时也会定期输出一行，降低等待焦虑
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	apply  bool
	total  int
	done   int
	failed int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}
	p.apply = eff.Apply

	mode := "dry-run"
	modeHint := " (不富化/不落盘)"
	if eff.Apply {
		mode = "apply"
		modeHint = ""
	}

	fmt.Fprintf(p.w, "[%s] cancioneiro run (%s)\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  path: %s\n", eff.Path)
	fmt.Fprintf(p.w, "  mode: %s%s\n", mode, modeHint)
	fmt.Fprintf(p.w, "  provider: %s\n", providerChain(eff.Provider))
	fmt.Fprintf(p.w, "  concurrency: %d batch_size: %d max_retries: %d\n", eff.Concurrency, eff.BatchSize, eff.MaxRetries)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  scraper_clean: %s\n", onOff(eff.ScraperClean))
	if len(eff.Columns) > 0 {
		fmt.Fprintf(p.w, "  columns: %d 个手工映射\n", len(eff.Columns))
	}
	fmt.Fprintf(p.w, "  exclude_dirs: %s + 固定排除 out/, cache/\n", formatStringListJSON(eff.ExcludeDirs))

	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  out: %s\n", filepath.Join(eff.Path, "out", "enriched.csv"))
	fmt.Fprintf(p.w, "  cache: %s\n", filepath.Join(eff.Path, "cache"))
	if eff.Apply {
		fmt.Fprintf(p.w, "  report: %s\n", filepath.Join(eff.Path, "cache", "report.json"))
	}
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
	p.mu.Unlock()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "scan":
		fmt.Fprintf(p.w, "扫描: files=%d (%s)\n",
			intField(fields, "files"), formatShortDuration(dur),
		)
	case "ingest":
		fmt.Fprintf(p.w, "提取: sources=%d extracted=%d needs_mapping=%d failed=%d (%s)\n",
			intField(fields, "sources"),
			intField(fields, "extracted"),
			intField(fields, "needs_mapping"),
			intField(fields, "failed"),
			formatShortDuration(dur),
		)
	case "consolidate":
		fmt.Fprintf(p.w, "合并: unique=%d duplicates_removed=%d (%s)\n",
			intField(fields, "unique"), intField(fields, "duplicates_removed"), formatShortDuration(dur),
		)
	case "plan":
		p.total = intField(fields, "pending")
		fmt.Fprintf(p.w, "规划: pending=%d reused=%d (%s)\n\n",
			p.total, intField(fields, "reused"), formatShortDuration(dur),
		)
		if p.apply && p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnBatchDone(done, total, failed int, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delta := done - p.done
	p.done = done
	p.total = total
	p.failed += failed

	if failed > 0 {
		fmt.Fprintf(p.w, "[%d/%d] 落账 %d 首，failed=%d (%s)\n", done, total, delta, failed, formatShortDuration(dur))
	} else {
		fmt.Fprintf(p.w, "[%d/%d] 落账 %d 首 (%s)\n", done, total, delta, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()

	// 最后一波落账：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.tickerStarted && p.done >= p.total {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) OnProgress(pr domain.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "进度: %d/%d speed=%.1f/s eta=%s elapsed=%s\n",
		pr.Current, pr.Total, pr.Speed, formatEta(pr.EtaSeconds), formatElapsed(time.Since(p.startedAt)),
	)
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnRunError(ev domain.ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	detail := ""
	if strings.TrimSpace(ev.Details) != "" {
		detail = ": " + truncate(ev.Details, 160)
	}
	fmt.Fprintf(p.w, "错误: %s（%d 首）%s\n", ev.Message, len(ev.FailedTitles), detail)
	p.lastPrinted = time.Now()
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				// 已完成：安全退出（OnBatchDone 会 close stopCh，但这里也做兜底）。
				if p.total > 0 && p.done >= p.total {
					p.mu.Unlock()
					return
				}

				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					elapsed := time.Since(p.startedAt)
					fmt.Fprintf(p.w, "进度: done=%d/%d failed=%d elapsed=%s\n",
						p.done, p.total, p.failed, formatElapsed(elapsed),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-p.stopCh:
				return
			}
		}
	}()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func providerChain(requested string) string {
	switch strings.ToLower(strings.TrimSpace(requested)) {
	case "vagalume":
		return "vagalume -> letras -> musicbrainz"
	case "musicbrainz":
		return "musicbrainz -> letras -> vagalume"
	default:
		return "letras -> vagalume -> musicbrainz"
	}
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatEta 渲染预计剩余时长；EtaUnknown（速度为 0 的窗口）显示为“未知”。
func formatEta(sec float64) string {
	if sec < 0 {
		return "未知"
	}
	return formatElapsed(time.Duration(sec * float64(time.Second)))
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	v, ok := fields[key]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}
