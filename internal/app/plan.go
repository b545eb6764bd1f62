package app

import (
	"github.com/John-Robertt/cancioneiro/internal/domain"
)

// EnrichPlan 把合并后的记录集对上次快照做二分：
// Reused 直接进入最终结果，Pending 交给批处理器。
type EnrichPlan struct {
	// Pending 保持合并产出的顺序。
	Pending []domain.SongRecord
	// Reused 同样保持合并产出的顺序（不是快照顺序）。
	Reused []domain.EnrichedRecord
}

// PlanEnrichment 按 identity key 对照快照决定复用。
//
// 规则：
// - 快照里同 key 且 search_status != failed 的行可复用（failed 重新富化）
// - 复用行的基础字段取本次合并产出（提取更完整时跟着变新），富化字段与
//   审核状态取快照（approved 不因重扫而回退成 pending）
// - 快照里 key 不在本次合并集内的行被放弃（快照随 Replace 整体换血）
func PlanEnrichment(consolidated []domain.SongRecord, stored []domain.EnrichedRecord) EnrichPlan {
	byKey := make(map[string]int, len(stored))
	for i := range stored {
		k := stored[i].Key()
		if _, ok := byKey[k]; ok {
			continue // 同 key 以首行为准
		}
		byKey[k] = i
	}

	plan := EnrichPlan{
		Pending: make([]domain.SongRecord, 0, len(consolidated)),
		Reused:  make([]domain.EnrichedRecord, 0, 16),
	}
	for _, r := range consolidated {
		i, ok := byKey[r.Key()]
		if !ok || stored[i].SearchStatus == domain.SearchStatusFailed {
			plan.Pending = append(plan.Pending, r)
			continue
		}

		prev := stored[i]
		plan.Reused = append(plan.Reused, domain.EnrichedRecord{
			SongRecord:     r,
			FoundArtist:    prev.FoundArtist,
			FoundComposer:  prev.FoundComposer,
			ReleaseYear:    prev.ReleaseYear,
			SearchStatus:   prev.SearchStatus,
			Notes:          prev.Notes,
			ApprovalStatus: prev.ApprovalStatus,
		})
	}
	return plan
}
