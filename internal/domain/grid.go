package domain

// RawGrid 是解码后的二维原始单元格网格（行优先；行长允许不一致）。
// 一旦由 sheet 解码层产出即视为只读。
type RawGrid [][]CellValue

// Role 是逻辑列角色（title/artist/composer/year/lyrics）。
type Role string

const (
	RoleTitle    Role = "title"
	RoleArtist   Role = "artist"
	RoleComposer Role = "composer"
	RoleYear     Role = "year"
	RoleLyrics   Role = "lyrics"
)

// NoColumn 表示“源数据中不存在该角色的列”。
const NoColumn = -1

// ColumnMap 把逻辑角色映射到 0-based 列下标。
//
// 不变量：Title 必须被解析（直接命中或回退规则）；其余角色允许为 NoColumn。
type ColumnMap struct {
	Title    int
	Artist   int
	Composer int
	Year     int
	Lyrics   int

	HasHeaderRow bool
}

// NewColumnMap 返回全部角色置为 NoColumn 的空映射。
// 注意：零值 ColumnMap 的列下标为 0（会误指第一列），必须经由该构造函数。
func NewColumnMap() ColumnMap {
	return ColumnMap{
		Title:    NoColumn,
		Artist:   NoColumn,
		Composer: NoColumn,
		Year:     NoColumn,
		Lyrics:   NoColumn,
	}
}

// Valid 判断映射是否满足“Title 必须存在”的不变量。
func (m ColumnMap) Valid() bool { return m.Title >= 0 }

// Set 按角色写入列下标（未知角色忽略）。
func (m *ColumnMap) Set(role Role, col int) {
	switch role {
	case RoleTitle:
		m.Title = col
	case RoleArtist:
		m.Artist = col
	case RoleComposer:
		m.Composer = col
	case RoleYear:
		m.Year = col
	case RoleLyrics:
		m.Lyrics = col
	}
}

// Index 按角色读取列下标（未知角色返回 NoColumn）。
func (m ColumnMap) Index(role Role) int {
	switch role {
	case RoleTitle:
		return m.Title
	case RoleArtist:
		return m.Artist
	case RoleComposer:
		return m.Composer
	case RoleYear:
		return m.Year
	case RoleLyrics:
		return m.Lyrics
	default:
		return NoColumn
	}
}
