package letras

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/cancioneiro/internal/domain"
	"github.com/John-Robertt/cancioneiro/internal/infra/textx"
	providerx "github.com/John-Robertt/cancioneiro/internal/provider"
)

// Provider 实现 letras.mus.br 的联想搜索与歌曲页解析。
//
// 约束：
// - 歌曲页 URL 无法直接拼出（需要艺人/歌曲双 slug），必须先走联想接口
// - Fetch/Parse 不做缓存/重试/限速（由上层统一控制）
// - Parse 必须是纯函数（依赖输入 html + pageURL）
type Provider struct {
	// BaseURL 允许覆盖歌曲页域名（测试注入 httptest）。
	// 为空时使用默认的 https://www.letras.mus.br。
	BaseURL string

	// SuggestURL 允许覆盖联想搜索接口（不带查询参数）。
	// 为空时使用默认的 https://solr.sscdn.co/letras/m1。
	SuggestURL string
}

func (Provider) Name() string { return "letras" }

func (p Provider) baseURL() string {
	u := strings.TrimSpace(p.BaseURL)
	if u == "" {
		return "https://www.letras.mus.br"
	}
	return strings.TrimRight(u, "/")
}

func (p Provider) suggestURL() string {
	u := strings.TrimSpace(p.SuggestURL)
	if u == "" {
		return "https://solr.sscdn.co/letras/m1"
	}
	return strings.TrimRight(u, "/")
}

// Fetch 先联想再进入歌曲页：
// https://solr.sscdn.co/letras/m1/?q=<artist title> → https://www.letras.mus.br/<dns>/<url>/
func (p Provider) Fetch(ctx context.Context, song domain.SongRecord, c *http.Client) ([]byte, string, error) {
	if c == nil {
		return nil, "", errors.New("http client 不能为空")
	}
	if strings.TrimSpace(song.Title) == "" {
		return nil, "", errors.New("song.Title 不能为空")
	}

	q := strings.TrimSpace(song.Title)
	artist := providerx.QueryArtist(song)
	if artist != "" {
		q = artist + " " + q
	}

	body, err := fetchURL(ctx, c, p.suggestURL()+"/?q="+url.QueryEscape(q))
	if err != nil {
		return nil, "", err
	}

	doc, err := pickSongDoc(body, artist)
	if err != nil {
		return nil, "", err
	}

	pageURL := p.baseURL() + "/" + doc.DNS + "/" + doc.URL + "/"
	b, err := fetchURL(ctx, c, pageURL)
	return b, pageURL, err
}

// Parse 把 letras 歌曲页 HTML 解析为 Lookup。
// 页面不含发行年份，Year 恒为空（状态判定交给上层）。
func (Provider) Parse(song domain.SongRecord, body []byte, pageURL string) (domain.Lookup, error) {
	if len(body) == 0 {
		return domain.Lookup{}, errors.New("html 为空")
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return domain.Lookup{}, err
	}

	title := normSpace(doc.Find("div.cnt-head_title h1").First().Text())
	if title == "" {
		title = normSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		// 没有 h1 标题的页面不是歌曲页（联想命中了已下架的 slug）。
		return domain.Lookup{}, providerx.ErrNotFound
	}

	artist := normSpace(doc.Find("div.cnt-head_title h2 a").First().Text())
	if artist == "" {
		artist = normSpace(doc.Find("h2 a").First().Text())
	}

	return domain.Lookup{
		Title:    title,
		Artist:   artist,
		Composer: composerFrom(doc),
		URL:      strings.TrimSpace(pageURL),
	}, nil
}

type suggestResponse struct {
	Response struct {
		Docs []suggestDoc `json:"docs"`
	} `json:"response"`
}

type suggestDoc struct {
	// DNS 是艺人 slug，URL 是歌曲 slug；两者拼出歌曲页地址。
	DNS string `json:"dns"`
	URL string `json:"url"`
	Txt string `json:"txt"`
	Art string `json:"art"`
	// T 区分条目类型："1" 艺人、"2" 歌曲。
	T string `json:"t"`
}

// pickSongDoc 从联想结果中选出歌曲条目。
// 已知 artist 时优先折叠键相等的条目（同名歌挂在多个艺人名下很常见）。
func pickSongDoc(body []byte, artist string) (suggestDoc, error) {
	var sr suggestResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return suggestDoc{}, fmt.Errorf("联想接口响应不是合法 JSON：%w", err)
	}

	want := textx.Fold(artist)
	first := -1
	for i, d := range sr.Response.Docs {
		if d.T != "" && d.T != "2" {
			continue
		}
		if d.DNS == "" || d.URL == "" {
			continue
		}
		if first < 0 {
			first = i
		}
		if want != "" && textx.Fold(d.Art) == want {
			return d, nil
		}
	}
	if first >= 0 {
		return sr.Response.Docs[first], nil
	}
	return suggestDoc{}, providerx.ErrNotFound
}

// composerFrom 提取“Composição: …”行并还原为纯作者串。
func composerFrom(doc *goquery.Document) string {
	line := normSpace(doc.Find("div.letra-info_comp").First().Text())
	if line == "" {
		// 布局漂移兜底：取以 Composição: 开头的最短文本（最内层元素）。
		doc.Find("p, div, span").Each(func(_ int, s *goquery.Selection) {
			t := normSpace(s.Text())
			if !strings.HasPrefix(t, "Composição:") {
				return
			}
			if line == "" || len(t) < len(line) {
				line = t
			}
		})
	}
	if line == "" {
		return ""
	}

	line = strings.TrimSpace(strings.TrimPrefix(line, "Composição:"))
	// 作者名后面跟着“报错反馈”链接文案，砍掉。
	if i := strings.Index(line, "Essa informação está errada?"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), "."))
}

func fetchURL(ctx context.Context, c *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &providerx.HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}
	return io.ReadAll(resp.Body)
}

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }
