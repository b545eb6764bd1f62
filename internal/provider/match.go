package provider

import (
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/John-Robertt/cancioneiro/internal/infra/textx"
)

// 搜索接口常把“第一条但不相关”的结果排在最前；0.85 的 Jaro-Winkler
// 阈值在折叠键上能挡掉这类误命中，同时容忍重音/标点/小拼写差异。
const matchThreshold = 0.85

// TitleMatches 判断候选标题与查询标题是否指同一首歌。
// 比较在折叠键（去重音、小写、压缩空白）上进行，绝不回写数据。
func TitleMatches(query, candidate string) bool {
	q := textx.Fold(query)
	cand := textx.Fold(candidate)
	if q == "" || cand == "" {
		return false
	}
	if q == cand {
		return true
	}
	// 包含关系视为命中：站点常在标题上追加 "(Ao Vivo)" 一类后缀。
	if strings.Contains(cand, q) || strings.Contains(q, cand) {
		return true
	}
	sim, err := edlib.StringsSimilarity(q, cand, edlib.JaroWinkler)
	if err != nil {
		return false
	}
	return sim >= matchThreshold
}
