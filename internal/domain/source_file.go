package domain

// SourceFile 描述一次扫描得到的表格文件（只做 stat，不读内容）。
//
// 不变量（实现必须遵守）：
// - AbsPath 必须是 clean + absolute
// - RelPath 相对扫描根，用 "/" 分隔（报告与 columns 配置的键）
// - 扫描阶段只做 stat，不读文件内容
type SourceFile struct {
	AbsPath string
	RelPath string
	Base    string // filename without ext
	Ext     string // ".xlsx" / ".csv"（已转小写）
	Size    int64
	ModUnix int64
}
