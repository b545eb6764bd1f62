package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/John-Robertt/cancioneiro/internal/domain"
)

// Attempt 记录一次 provider 尝试（用于解释 fallback/降级原因）。
// 注意：这是内部执行轨迹，不直接写入 report（由上层决定如何呈现）。
type Attempt struct {
	Provider string // provider name（小写）
	Stage    string // "fetch" / "parse" / "miss" / "mismatch" / "ok"
	Err      error  // 仅 fetch/parse 阶段非 nil
}

// LookupSong 按“requested -> fallback”顺序查询歌曲元数据。
//
// 链条语义：
// - 传输/解析故障 → 换下一个 provider
// - 查无此歌（ErrNotFound）→ 也换下一个 provider
// - 命中但标题相似度不过线 → 当 miss 处理（搜索接口的“第一条但不相关”结果）
// - 有 provider 明确 miss 且无人命中 → 返回 Found=false 且 err=nil（不是错误）
// - 全链故障（无一 miss）→ 返回最后一个错误
func LookupSong(ctx context.Context, reg Registry, requested string, song domain.SongRecord, c *http.Client) (domain.Lookup, string, error) {
	lk, used, _, err := LookupSongTrace(ctx, reg, requested, song, c)
	return lk, used, err
}

// LookupSongTrace 与 LookupSong 相同，但额外返回 provider 的尝试链路（用于解释回退原因）。
func LookupSongTrace(ctx context.Context, reg Registry, requested string, song domain.SongRecord, c *http.Client) (domain.Lookup, string, []Attempt, error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested == "" {
		return domain.Lookup{}, "", nil, fmt.Errorf("provider 不能为空")
	}
	if strings.TrimSpace(song.Title) == "" {
		return domain.Lookup{}, "", nil, fmt.Errorf("song.Title 不能为空")
	}

	order, err := fallbackOrder(requested)
	if err != nil {
		return domain.Lookup{}, "", nil, err
	}

	var attempts []Attempt
	var lastErr error
	sawMiss := false

	for _, name := range order {
		p, ok := reg.Get(name)
		if !ok {
			lastErr = fmt.Errorf("provider 未注册：%q", name)
			attempts = append(attempts, Attempt{Provider: name, Stage: "fetch", Err: lastErr})
			continue
		}

		body, pageURL, ferr := p.Fetch(ctx, song, c)
		if ferr != nil {
			if errors.Is(ferr, ErrNotFound) {
				sawMiss = true
				attempts = append(attempts, Attempt{Provider: name, Stage: "miss"})
				continue
			}
			lastErr = &Error{Provider: name, Stage: "fetch", Err: ferr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "fetch", Err: ferr})
			continue
		}

		lk, perr := p.Parse(song, body, pageURL)
		if perr != nil {
			if errors.Is(perr, ErrNotFound) {
				sawMiss = true
				attempts = append(attempts, Attempt{Provider: name, Stage: "miss"})
				continue
			}
			lastErr = &Error{Provider: name, Stage: "parse", Err: perr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "parse", Err: perr})
			continue
		}

		// 最后一道防线：候选标题与查询标题的相似度验证。
		if lk.Title != "" && !TitleMatches(song.Title, lk.Title) {
			sawMiss = true
			attempts = append(attempts, Attempt{Provider: name, Stage: "mismatch"})
			continue
		}

		if lk.URL == "" {
			lk.URL = pageURL
		}
		lk.Found = true
		attempts = append(attempts, Attempt{Provider: name, Stage: "ok"})
		return lk, name, attempts, nil
	}

	if sawMiss {
		return domain.Lookup{Found: false}, "", attempts, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("无可用 provider")
	}
	return domain.Lookup{}, "", attempts, lastErr
}

// Error 是 provider 阶段的可追溯错误。
// 上层可以据此把失败归类到具体 provider 与阶段，并写入错误事件。
type Error struct {
	Provider string // provider name（小写）
	Stage    string // "fetch" 或 "parse"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fallbackOrder(requested string) ([]string, error) {
	switch requested {
	case "letras":
		return []string{"letras", "vagalume", "musicbrainz"}, nil
	case "vagalume":
		return []string{"vagalume", "letras", "musicbrainz"}, nil
	case "musicbrainz":
		return []string{"musicbrainz", "letras", "vagalume"}, nil
	default:
		return nil, fmt.Errorf("未知 provider：%q", requested)
	}
}
