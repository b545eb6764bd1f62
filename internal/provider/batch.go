package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/John-Robertt/cancioneiro/internal/domain"
)

// BatchFunc 把回退链适配成批处理器需要的批量富化函数。
//
// 契约（批次重试语义依赖）：
// - 任何一首歌的传输/解析故障都让整批失败（返回 error，不返回半批结果）
// - “查无此歌”不是失败：该歌产出 not_found 记录，整批继续
// - 每个输入恰好对应一个输出，顺序与输入一致
func BatchFunc(reg Registry, requested string, c *http.Client) func(context.Context, []domain.SongRecord) ([]domain.EnrichedRecord, error) {
	return func(ctx context.Context, batch []domain.SongRecord) ([]domain.EnrichedRecord, error) {
		out := make([]domain.EnrichedRecord, 0, len(batch))
		for _, song := range batch {
			lk, used, err := LookupSong(ctx, reg, requested, song, c)
			if err != nil {
				return nil, fmt.Errorf("lookup %q: %w", song.Title, err)
			}
			out = append(out, Assemble(song, lk, used))
		}
		return out, nil
	}
}
