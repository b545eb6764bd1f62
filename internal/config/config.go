package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 cancioneiro.json。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = "config_missing_path"
)

const (
	// DefaultProvider 是 provider 的最终默认值（当 CLI 与配置文件都未指定时）。
	DefaultProvider = "letras"
	// DefaultConcurrency 是每一波并行批次数的内置默认值。
	DefaultConcurrency = 3
	// DefaultBatchSize 是单批歌曲数的内置默认值。
	DefaultBatchSize = 50
	// DefaultMaxRetries 是单批总尝试次数（含首次调用）的内置默认值。
	DefaultMaxRetries = 3
	// DefaultRetryDelayMS 是首次退避等待的内置默认值（毫秒，之后指数翻倍）。
	DefaultRetryDelayMS = 1000
	// DefaultMaxScanRows 是列识别扫描窗口的内置默认值。
	DefaultMaxScanRows = 20
)

// EnvVagalumeKey 是 vagalume API key 的环境变量名（支持 .env 文件）。
const EnvVagalumeKey = "VAGALUME_API_KEY"

// LoadDotEnv 尽力加载进程 cwd 下的 .env（不存在不算错误）。
// 注意：只在进程入口调用一次；LoadEffective 本身只读已就位的环境变量。
func LoadDotEnv() { _ = godotenv.Load() }

// CLIArgs 只包含 CLI 暴露的三项入口（path/provider/apply），并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --apply=false 必须能覆盖 config.apply=true。
type CLIArgs struct {
	Path string

	Provider    string
	ProviderSet bool

	Apply    bool
	ApplySet bool
}

// FileConfig 对应 cancioneiro.json 的解析结构。
type FileConfig struct {
	Path         string                   `json:"path"`
	Provider     string                   `json:"provider"`
	Apply        *bool                    `json:"apply"`
	Concurrency  int                      `json:"concurrency"`
	BatchSize    int                      `json:"batch_size"`
	MaxRetries   int                      `json:"max_retries"`
	RetryDelayMS int                      `json:"retry_delay_ms"`
	MaxScanRows  int                      `json:"max_scan_rows"`
	ScraperClean bool                     `json:"scraper_clean"`
	Proxy        *ProxyConfig             `json:"proxy"`
	ExcludeDirs  []string                 `json:"exclude_dirs"`
	Columns      map[string]ManualColumns `json:"columns"`
	_            json.RawMessage          `json:"-"` // 预留：禁止在 Phase 1 做“未知字段报错”的决定
}

type ProxyConfig struct {
	URL string `json:"url"`
}

// ManualColumns 是单个来源文件的手工列映射（columns 的值；键是该文件的 RelPath）。
// 指针字段区分“未指定”与“第 0 列/第 0 行”。
type ManualColumns struct {
	Title     *int `json:"title"`
	Artist    *int `json:"artist"`
	Composer  *int `json:"composer"`
	Year      *int `json:"year"`
	Lyrics    *int `json:"lyrics"`
	HeaderRow *int `json:"header_row"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Path string

	Provider string
	Apply    bool

	Concurrency int
	BatchSize   int
	MaxRetries  int
	RetryDelay  time.Duration
	MaxScanRows int

	ScraperClean bool
	ProxyURL     string
	ExcludeDirs  []string
	Columns      map[string]ManualColumns

	// VagalumeKey 来自环境变量（含 .env），不进配置文件，避免把密钥落盘到共享目录。
	VagalumeKey string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 按文档约定发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 path：尝试读取 <path>/cancioneiro.json（可选）
// 2) CLI 未提供 path：必须读取 <cwd>/cancioneiro.json（必选），且其中必须包含 path
//
// 覆盖优先级（固定）：
// - path：CLI path > config path
// - provider：CLI > config > 默认 letras
// - apply：CLI --apply/--apply=false > config > 默认 false
// - 其他字段：仅由 config 控制（CLI 不暴露）
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		fc      FileConfig
	)

	if strings.TrimSpace(cli.Path) != "" {
		// CLI 给了 path：配置文件可选，位置固定在 <path>/cancioneiro.json。
		absPath := absCleanFrom(cwdAbs, cli.Path)
		cfgPath = filepath.Join(absPath, "cancioneiro.json")

		var exists bool
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		_ = exists // 不存在也不报错

		return merge(absPath, cli, fc, cfgPath)
	}

	// CLI 没给 path：必须读取 <cwd>/cancioneiro.json，且其中必须包含 path。
	cfgPath = filepath.Join(cwdAbs, "cancioneiro.json")
	var exists bool
	fc, exists, err = readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	if strings.TrimSpace(fc.Path) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
	}

	absPath := absCleanFrom(cwdAbs, fc.Path)
	return merge(absPath, cli, fc, cfgPath)
}

func merge(absPath string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	// provider：CLI > config > 默认
	provider := DefaultProvider
	if cli.ProviderSet {
		provider = cli.Provider
	} else if strings.TrimSpace(fc.Provider) != "" {
		provider = fc.Provider
	}
	if err := validateProvider(provider); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	// apply：CLI > config > 默认 false
	apply := false
	if cli.ApplySet {
		apply = cli.Apply
	} else if fc.Apply != nil {
		apply = *fc.Apply
	}

	// 数值字段：0 表示未指定取默认；超出文档范围截断。
	concurrency := clampInt(fc.Concurrency, DefaultConcurrency, 1, 8)
	batchSize := clampInt(fc.BatchSize, DefaultBatchSize, 1, 500)
	maxRetries := clampInt(fc.MaxRetries, DefaultMaxRetries, 1, 10)
	retryDelayMS := clampInt(fc.RetryDelayMS, DefaultRetryDelayMS, 100, 60000)
	maxScanRows := clampInt(fc.MaxScanRows, DefaultMaxScanRows, 1, 200)

	proxyURL := ""
	if fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if proxyURL != "" {
		if _, err := url.Parse(proxyURL); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("proxy.url 无效：%w", err)}
		}
	}

	for rel, mc := range fc.Columns {
		if err := validateColumns(rel, mc); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}

	return EffectiveConfig{
		Path:         absPath,
		Provider:     provider,
		Apply:        apply,
		Concurrency:  concurrency,
		BatchSize:    batchSize,
		MaxRetries:   maxRetries,
		RetryDelay:   time.Duration(retryDelayMS) * time.Millisecond,
		MaxScanRows:  maxScanRows,
		ScraperClean: fc.ScraperClean,
		ProxyURL:     proxyURL,
		ExcludeDirs:  append([]string(nil), fc.ExcludeDirs...),
		Columns:      fc.Columns,
		VagalumeKey:  strings.TrimSpace(os.Getenv(EnvVagalumeKey)),
	}, nil
}

func validateProvider(p string) error {
	switch p {
	case "letras", "vagalume", "musicbrainz":
		return nil
	case "":
		return fmt.Errorf("provider 不能为空")
	default:
		return fmt.Errorf("provider 只能是 letras、vagalume 或 musicbrainz，实际是 %q", p)
	}
}

// validateColumns 校验单个手工列映射：title 必填，下标一律非负。
func validateColumns(rel string, mc ManualColumns) error {
	if mc.Title == nil {
		return fmt.Errorf("columns[%q] 缺少必填字段 title", rel)
	}
	for name, v := range map[string]*int{
		"title":      mc.Title,
		"artist":     mc.Artist,
		"composer":   mc.Composer,
		"year":       mc.Year,
		"lyrics":     mc.Lyrics,
		"header_row": mc.HeaderRow,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("columns[%q].%s 必须是非负下标，实际是 %d", rel, name, *v)
		}
	}
	return nil
}

// clampInt：v==0 视为未指定取 def；之后按 [lo, hi] 截断。
func clampInt(v, def, lo, hi int) int {
	if v == 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
