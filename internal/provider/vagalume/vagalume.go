package vagalume

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
	providerx "github.com/John-Robertt/cancioneiro/internal/provider"
)

// Provider 实现 Vagalume 搜索 API（api.vagalume.com.br/search.php）。
//
// 约束：
// - search.php 必须同时带 art 与 mus；艺人未知的歌在这里直接判 miss
//   （让回退链去找支持纯标题检索的后端）
// - apikey 可选：为空时不附带该参数
// - Fetch/Parse 不做缓存/重试/限速（由上层统一控制）
type Provider struct {
	// BaseURL 允许覆盖 API 域名（测试注入 httptest）。
	// 为空时使用默认的 https://api.vagalume.com.br。
	BaseURL string

	// APIKey 是 Vagalume 的访问凭证（可选）。
	APIKey string
}

func (Provider) Name() string { return "vagalume" }

func (p Provider) baseURL() string {
	u := strings.TrimSpace(p.BaseURL)
	if u == "" {
		return "https://api.vagalume.com.br"
	}
	return strings.TrimRight(u, "/")
}

// Fetch 调用 search.php?art=<artist>&mus=<title>。
// 返回的 pageURL 不含 apikey（该地址会进 notes 与错误信息）。
func (p Provider) Fetch(ctx context.Context, song domain.SongRecord, c *http.Client) ([]byte, string, error) {
	if c == nil {
		return nil, "", errors.New("http client 不能为空")
	}
	if strings.TrimSpace(song.Title) == "" {
		return nil, "", errors.New("song.Title 不能为空")
	}

	artist := providerx.QueryArtist(song)
	if artist == "" {
		return nil, "", providerx.ErrNotFound
	}

	q := url.Values{}
	q.Set("art", artist)
	q.Set("mus", strings.TrimSpace(song.Title))
	publicURL := p.baseURL() + "/search.php?" + q.Encode()

	reqURL := publicURL
	if key := strings.TrimSpace(p.APIKey); key != "" {
		q.Set("apikey", key)
		reqURL = p.baseURL() + "/search.php?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &providerx.HTTPStatusError{URL: publicURL, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}

	b, err := io.ReadAll(resp.Body)
	return b, publicURL, err
}

type searchResponse struct {
	// Type 取值：exact / aprox / song_notfound / notfound。
	Type string `json:"type"`
	Art  struct {
		Name string `json:"name"`
	} `json:"art"`
	Mus []struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"mus"`
}

// Parse 把 search.php 的 JSON 解析为 Lookup。
// API 只确认艺人与标题（外加歌曲页地址），composer/year 恒为空。
func (Provider) Parse(song domain.SongRecord, body []byte, pageURL string) (domain.Lookup, error) {
	if len(body) == 0 {
		return domain.Lookup{}, errors.New("响应为空")
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return domain.Lookup{}, fmt.Errorf("响应不是合法 JSON：%w", err)
	}

	switch sr.Type {
	case "exact", "aprox":
		// 继续。
	case "notfound", "song_notfound":
		return domain.Lookup{}, providerx.ErrNotFound
	default:
		return domain.Lookup{}, fmt.Errorf("未知响应类型：%q", sr.Type)
	}

	if len(sr.Mus) == 0 {
		return domain.Lookup{}, fmt.Errorf("响应类型 %q 但缺少 mus 条目", sr.Type)
	}

	lk := domain.Lookup{
		Title:  strings.TrimSpace(sr.Mus[0].Name),
		Artist: strings.TrimSpace(sr.Art.Name),
		URL:    strings.TrimSpace(sr.Mus[0].URL),
	}
	if sr.Type == "aprox" {
		lk.Note = "correspondência aproximada"
	}
	return lk, nil
}
