package musicbrainz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/John-Robertt/cancioneiro/internal/domain"
	"github.com/John-Robertt/cancioneiro/internal/infra/textx"
	providerx "github.com/John-Robertt/cancioneiro/internal/provider"
)

const searchLimit = 5

// userAgent 按 MusicBrainz 接入礼仪标识本应用（请求级设置，
// 共享 client 的 UA 池对带 UA 的请求不生效）。
const userAgent = "cancioneiro/0.3 (+https://github.com/John-Robertt/cancioneiro)"

// Provider 实现 MusicBrainz 的 recording 检索（/ws/2/recording）。
//
// 约束：
// - 支持纯标题检索：艺人未知时只按 recording 字段查
// - Fetch/Parse 不做缓存/重试/限速（由上层统一控制）
type Provider struct {
	// BaseURL 允许覆盖 API 域名（测试注入 httptest）。
	// 为空时使用默认的 https://musicbrainz.org。
	BaseURL string
}

func (Provider) Name() string { return "musicbrainz" }

func (p Provider) baseURL() string {
	u := strings.TrimSpace(p.BaseURL)
	if u == "" {
		return "https://musicbrainz.org"
	}
	return strings.TrimRight(u, "/")
}

// Fetch 调用 /ws/2/recording?query=<lucene>&fmt=json&limit=5。
func (p Provider) Fetch(ctx context.Context, song domain.SongRecord, c *http.Client) ([]byte, string, error) {
	if c == nil {
		return nil, "", errors.New("http client 不能为空")
	}
	title := strings.TrimSpace(song.Title)
	if title == "" {
		return nil, "", errors.New("song.Title 不能为空")
	}

	lucene := "recording:" + luceneQuote(title)
	if artist := providerx.QueryArtist(song); artist != "" {
		lucene += " AND artist:" + luceneQuote(artist)
	}

	u := p.baseURL() + "/ws/2/recording?query=" + url.QueryEscape(lucene) +
		"&fmt=json&limit=" + fmt.Sprint(searchLimit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &providerx.HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}

	b, err := io.ReadAll(resp.Body)
	return b, u, err
}

type searchResponse struct {
	Recordings []recording `json:"recordings"`
}

type recording struct {
	ID               string `json:"id"`
	Score            int    `json:"score"`
	Title            string `json:"title"`
	FirstReleaseDate string `json:"first-release-date"`
	ArtistCredit     []struct {
		Name       string `json:"name"`
		Joinphrase string `json:"joinphrase"`
	} `json:"artist-credit"`
}

// Parse 把检索 JSON 解析为 Lookup。
// 接口不提供作曲人（需要 work 关系展开），Composer 恒为空。
func (p Provider) Parse(song domain.SongRecord, body []byte, pageURL string) (domain.Lookup, error) {
	if len(body) == 0 {
		return domain.Lookup{}, errors.New("响应为空")
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return domain.Lookup{}, fmt.Errorf("响应不是合法 JSON：%w", err)
	}
	if len(sr.Recordings) == 0 {
		return domain.Lookup{}, providerx.ErrNotFound
	}

	// 结果按 score 降序，首条是最佳匹配。
	best := sr.Recordings[0]

	return domain.Lookup{
		Title:  strings.TrimSpace(best.Title),
		Artist: creditLine(best),
		Year:   earliestYear(sr.Recordings, best.Title),
		URL:    p.baseURL() + "/recording/" + best.ID,
	}, nil
}

// creditLine 按 MusicBrainz 的 artist-credit 约定拼接演出者
// （name + joinphrase 逐段相连，如 "Luiz Gonzaga & Fagner"）。
func creditLine(rec recording) string {
	var b strings.Builder
	for _, c := range rec.ArtistCredit {
		b.WriteString(c.Name)
		b.WriteString(c.Joinphrase)
	}
	return strings.TrimSpace(b.String())
}

// earliestYear 在与最佳匹配同名的录音里取最早的发行年份。
// 同一首歌会以现场版/重录版反复发行，首条命中的日期往往是后来的版本。
func earliestYear(recs []recording, title string) string {
	want := textx.Fold(title)
	best := ""
	for _, r := range recs {
		if textx.Fold(r.Title) != want {
			continue
		}
		y := yearOf(r.FirstReleaseDate)
		if y == "" {
			continue
		}
		if best == "" || y < best {
			best = y
		}
	}
	return best
}

// yearOf 从 "2006"、"1947-03"、"1989-07-15" 一类日期里取出年份。
func yearOf(date string) string {
	date = strings.TrimSpace(date)
	if len(date) < 4 {
		return ""
	}
	y := date[:4]
	for _, r := range y {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return y
}

// luceneQuote 把自由文本包装为 Lucene 短语（转义引号与反斜杠）。
func luceneQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
