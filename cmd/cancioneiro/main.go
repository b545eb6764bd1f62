package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/John-Robertt/cancioneiro/internal/app/run"
	"github.com/John-Robertt/cancioneiro/internal/config"
	"github.com/John-Robertt/cancioneiro/internal/domain"
	"github.com/John-Robertt/cancioneiro/internal/enrich"
	"github.com/John-Robertt/cancioneiro/internal/infra/fsx"
	"github.com/John-Robertt/cancioneiro/internal/provider"
	"github.com/John-Robertt/cancioneiro/internal/provider/letras"
	"github.com/John-Robertt/cancioneiro/internal/provider/musicbrainz"
	"github.com/John-Robertt/cancioneiro/internal/provider/vagalume"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	switch args[0] {
	case "run":
		if code := runCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func runCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printRunUsage()
			return 0
		}
	}

	ra, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printRunUsage()
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	cwdAbs, _ := filepath.Abs(cwd)

	// .env 先于配置加载（VAGALUME_API_KEY 可以来自工作目录的 .env）。
	config.LoadDotEnv()

	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		Path:        ra.Path,
		Provider:    ra.Provider,
		ProviderSet: ra.ProviderSet,
		Apply:       ra.Apply,
		ApplySet:    ra.ApplySet,
	})
	if err != nil {
		rr := reportForConfigError(cwdAbs, ra, err)
		emitReport(rr)
		return 1
	}

	reg, e := provider.NewRegistry(
		letras.Provider{},
		vagalume.Provider{APIKey: eff.VagalumeKey},
		musicbrainz.Provider{},
	)
	if e != nil {
		fmt.Fprintf(os.Stderr, "初始化 provider registry 失败：%v\n", e)
		return 1
	}

	progressW, interactive := pickProgressWriter()
	var obs run.Observer
	if interactive {
		obs = newProgressUI(progressW)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := enrich.NewControl()

	// 第一次 Ctrl-C：温和取消（在途批次跑完、部分结果照常落盘）；
	// 第二次：撤销 context，中断在途请求。
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "收到中断：正在取消（再次 Ctrl-C 中断在途请求）")
		ctrl.Cancel()
		<-sigCh
		cancel()
	}()

	rr := run.ExecuteWithObserver(ctx, eff, reg, ctrl, obs)

	// apply：必须写入 <path>/cache/report.json；dry-run 禁止落盘。
	if eff.Apply {
		if err := writeReportFile(eff.Path, rr); err != nil {
			fmt.Fprintf(os.Stderr, "写入 report.json 失败：%v\n", err)
			emitReport(rr)
			return 1
		}
	}

	emitReport(rr)
	if interactive {
		emitLocations(progressW, eff)
	}
	if rr.Summary.Failed == 0 && rr.Summary.FilesFailed == 0 && rr.Summary.NeedsMapping == 0 {
		return 0
	}
	return 1
}

type runArgs struct {
	Path        string
	Provider    string
	ProviderSet bool
	Apply       bool
	ApplySet    bool
}

func parseRunArgs(args []string) (runArgs, error) {
	ra := runArgs{}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--provider":
			if i+1 >= len(args) {
				return runArgs{}, fmt.Errorf("--provider 需要一个值")
			}
			i++
			ra.Provider = args[i]
			ra.ProviderSet = true
		case strings.HasPrefix(a, "--provider="):
			ra.Provider = strings.TrimPrefix(a, "--provider=")
			ra.ProviderSet = true
		case a == "--apply":
			ra.Apply = true
			ra.ApplySet = true
		case strings.HasPrefix(a, "--apply="):
			v := strings.TrimPrefix(a, "--apply=")
			switch v {
			case "true":
				ra.Apply = true
			case "false":
				ra.Apply = false
			default:
				return runArgs{}, fmt.Errorf("--apply 只能是 true 或 false，实际是 %q", v)
			}
			ra.ApplySet = true
		case strings.HasPrefix(a, "-"):
			return runArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			if ra.Path != "" {
				return runArgs{}, fmt.Errorf("重复的 path：%q 与 %q", ra.Path, a)
			}
			ra.Path = a
		}
	}

	if ra.ProviderSet {
		switch ra.Provider {
		case "letras", "vagalume", "musicbrainz":
			// ok
		case "":
			return runArgs{}, fmt.Errorf("--provider 不能为空")
		default:
			return runArgs{}, fmt.Errorf("--provider 只能是 letras、vagalume 或 musicbrainz，实际是 %q", ra.Provider)
		}
	}

	return ra, nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  cancioneiro run [path] [--provider letras|vagalume|musicbrainz] [--apply[=true|false]]

命令：
  run    扫描表格、提取歌曲并富化（默认 dry-run）

使用 "cancioneiro run --help" 查看详细说明。
`)
}

func printRunUsage() {
	fmt.Fprint(os.Stdout, `用法：
  cancioneiro run [path] [--provider letras|vagalume|musicbrainz] [--apply[=true|false]]

参数：
  --provider  首选富化后端：letras|vagalume|musicbrainz（未指定则读配置文件；最终默认 letras）
  --apply     执行富化与落盘（默认 dry-run 只扫描/提取/合并）；支持 --apply=false 覆盖配置中的 apply=true
  -h, --help  显示帮助
`)
}

func emitReport(rr domain.RunReport) {
	s := rr.Summary
	summary := fmt.Sprintf("完成：success=%d partial=%d failed=%d not_found=%d reused=%d files_ok=%d needs_mapping=%d files_failed=%d",
		s.Success, s.Partial, s.Failed, s.NotFound, s.Reused, s.FilesOK, s.NeedsMapping, s.FilesFailed,
	)

	if isTTY(os.Stdout) {
		fmt.Fprintln(os.Stdout, summary)
		if s.NeedsMapping > 0 || s.FilesFailed > 0 {
			for _, src := range rr.Sources {
				if src.Status == domain.SourceStatusOK {
					continue
				}
				key := src.Source
				if key == "" {
					// run 级合成条目（扫描/快照/导出失败）：没有文件锚点。
					key = "<run>"
				}
				fmt.Fprintf(os.Stderr, "%s %s: %s\n", key, src.ErrorCode, src.ErrorMsg)
			}
		}
		for _, ev := range rr.Errors {
			fmt.Fprintf(os.Stderr, "enrichment %s（%d 首）\n", ev.Message, len(ev.FailedTitles))
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(os.Stderr, summary)
}

func reportForConfigError(cwdAbs string, ra runArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		Path:       cwdAbs,
		DryRun:     !(ra.ApplySet && ra.Apply),
		Provider:   ra.Provider,
		StartedAt:  now,
		FinishedAt: now,
		Sources: []domain.SourceResult{{
			Source:    "",
			Status:    domain.SourceStatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func writeReportFile(root string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomicReplace(filepath.Join(root, "cache"), "report.json", b)
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, eff config.EffectiveConfig) {
	// 这几行用于降低“完成后不知道产物在哪”的摩擦，且不影响 stdout JSON 契约。
	if w == nil {
		return
	}
	if eff.Apply {
		fmt.Fprintf(w, "report: %s\n", filepath.Join(eff.Path, "cache", "report.json"))
		fmt.Fprintf(w, "csv: %s\n", filepath.Join(eff.Path, "out", "enriched.csv"))
	}
}
