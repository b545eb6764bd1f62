package domain

// Lookup 是 provider 查询得到的结构化富化结果（最小可用集）。
//
// 约束：
// - Found=false 表示“查无此歌”，这不是错误（错误只用于传输/解析失败）
// - Title 是 provider 侧页面/接口给出的标题，用于匹配度验证与追溯
// - 字段缺失允许为空；Year 是原样字符串，写入 EnrichedRecord 前经 NormalizeYear
type Lookup struct {
	Title    string
	Artist   string
	Composer string
	Year     string
	// URL 是命中的详情页/接口地址（来源标记，写入 notes）。
	URL   string
	Note  string
	Found bool
}
