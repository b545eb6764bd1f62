package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/John-Robertt/cancioneiro/internal/domain"
)

// Provider 把“站点/后端变化”限制在 provider 包内部；核心流程只依赖统一接口与稳定的 Lookup。
//
// 约束：
// - Fetch 不做缓存、不做重试、不做限速（重试由批处理层统一实现）
// - Parse 必须是纯函数：相同输入 => 相同输出
// - “查无此歌”用 ErrNotFound 表达（Fetch 或 Parse 均可返回），不是故障；
//   其余错误一律视为传输/解析故障，交给回退链与批次重试
type Provider interface {
	Name() string
	Fetch(ctx context.Context, song domain.SongRecord, c *http.Client) (body []byte, pageURL string, err error)
	Parse(song domain.SongRecord, body []byte, pageURL string) (domain.Lookup, error)
}

// ErrNotFound 表示该 provider 明确查无此歌（区别于传输/解析故障）。
var ErrNotFound = errors.New("查无此歌")

// QueryArtist 返回可用于检索的艺人名；抽取阶段的哨兵值不参与检索。
func QueryArtist(song domain.SongRecord) string {
	a := strings.TrimSpace(song.Artist)
	switch a {
	case "", domain.ArtistUnknown, domain.ArtistUnidentified:
		return ""
	}
	return a
}
