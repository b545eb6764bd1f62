package extract

import (
	"testing"

	"github.com/John-Robertt/cancioneiro/internal/domain"
)

func row(cells ...string) []domain.CellValue {
	out := make([]domain.CellValue, len(cells))
	for i, s := range cells {
		if s == "" {
			out[i] = domain.EmptyCell()
		} else {
			out[i] = domain.TextCell(s)
		}
	}
	return out
}

func artistTitleMap() domain.ColumnMap {
	m := domain.NewColumnMap()
	m.Set(domain.RoleArtist, 0)
	m.Set(domain.RoleTitle, 1)
	m.HasHeaderRow = true
	return m
}

func TestTabular_FillDownInheritsArtist(t *testing.T) {
	grid := domain.RawGrid{
		row("Artista", "Música"),
		row("Luiz Gonzaga", "Asa Branca"),
		row("", "Xote Ecológico"),
	}
	recs, dropped := Tabular(grid, artistTitleMap(), 1, "lista.xlsx")
	if len(recs) != 2 || dropped != 0 {
		t.Fatalf("期望 2 条记录 0 丢弃，实际 %d/%d", len(recs), dropped)
	}
	if recs[0].Artist != "Luiz Gonzaga" || recs[1].Artist != "Luiz Gonzaga" {
		t.Fatalf("fill-down 失效：%q / %q", recs[0].Artist, recs[1].Artist)
	}
	if recs[1].Title != "Xote Ecológico" {
		t.Fatalf("期望 Xote Ecológico，实际 %q", recs[1].Title)
	}
	if recs[0].ID != "lista.xlsx#1" || recs[1].ID != "lista.xlsx#2" {
		t.Fatalf("ID 不稳定：%q / %q", recs[0].ID, recs[1].ID)
	}
}

func TestTabular_FillDownIdempotentOverBlock(t *testing.T) {
	// 块内只有首行有值，其余全空：整块继承同一个值。
	grid := domain.RawGrid{
		row("Jackson do Pandeiro", "Chiclete com Banana"),
		row("", "Sebastiana"),
		row("", "Um a Um"),
		row("", "Forró em Limoeiro"),
	}
	recs, _ := Tabular(grid, artistTitleMap(), 0, "s.csv")
	if len(recs) != 4 {
		t.Fatalf("期望 4 条记录，实际 %d", len(recs))
	}
	for i, r := range recs {
		if r.Artist != "Jackson do Pandeiro" {
			t.Fatalf("第 %d 条未继承：%q", i, r.Artist)
		}
	}
}

func TestTabular_StateSurvivesSkippedRows(t *testing.T) {
	// 有艺人无标题的行：状态更新、行丢弃——这是显式契约。
	grid := domain.RawGrid{
		row("Luiz Gonzaga", "Asa Branca"),
		row("Dominguinhos", ""),
		row("", "Eu Só Quero um Xodó"),
	}
	recs, dropped := Tabular(grid, artistTitleMap(), 0, "s.csv")
	if len(recs) != 2 {
		t.Fatalf("期望 2 条记录，实际 %d", len(recs))
	}
	if dropped != 1 {
		t.Fatalf("期望丢弃 1 行，实际 %d", dropped)
	}
	if recs[1].Artist != "Dominguinhos" {
		t.Fatalf("跳过行必须先更新状态：%q", recs[1].Artist)
	}
}

func TestTabular_TitleNeverFillsDown(t *testing.T) {
	grid := domain.RawGrid{
		row("Luiz Gonzaga", "Asa Branca"),
		row("Gal Costa", ""),
		row("Gilberto Gil", ""),
	}
	recs, dropped := Tabular(grid, artistTitleMap(), 0, "s.csv")
	if len(recs) != 1 {
		t.Fatalf("标题不允许 fill-down：期望 1 条，实际 %d", len(recs))
	}
	if dropped != 2 {
		t.Fatalf("期望丢弃 2 行，实际 %d", dropped)
	}
}

func TestTabular_EveryTitleNonBlank(t *testing.T) {
	grid := domain.RawGrid{
		row("A", "Asa Branca"),
		row("B", " "),
		row("C", "1."), // 清洗后为空
		row("D", "É"),  // 单字符
		row("E", "Lá"),
	}
	recs, dropped := Tabular(grid, artistTitleMap(), 0, "s.csv")
	if len(recs) != 2 {
		t.Fatalf("期望 2 条记录，实际 %d", len(recs))
	}
	for _, r := range recs {
		if len(r.Title) < 2 {
			t.Fatalf("产出了空/过短标题：%q", r.Title)
		}
	}
	if dropped != 3 {
		t.Fatalf("期望丢弃 3 行，实际 %d", dropped)
	}
}

func TestTabular_NoArtistColumnUsesSentinel(t *testing.T) {
	m := domain.NewColumnMap()
	m.Set(domain.RoleTitle, 0)
	grid := domain.RawGrid{
		row("Asa Branca"),
		row("Sebastiana"),
	}
	recs, _ := Tabular(grid, m, 0, "s.csv")
	if len(recs) != 2 {
		t.Fatalf("期望 2 条记录，实际 %d", len(recs))
	}
	for _, r := range recs {
		if r.Artist != domain.ArtistUnknown {
			t.Fatalf("缺艺人列时应落到哨兵值，实际 %q", r.Artist)
		}
		if r.Composer != "" {
			t.Fatalf("缺作曲列时应为空，实际 %q", r.Composer)
		}
	}
}

func TestTabular_ComposerYearLyricsColumns(t *testing.T) {
	m := domain.NewColumnMap()
	m.Set(domain.RoleTitle, 0)
	m.Set(domain.RoleComposer, 1)
	m.Set(domain.RoleYear, 2)
	m.Set(domain.RoleLyrics, 3)
	grid := domain.RawGrid{
		row("Asa Branca", "Luiz Gonzaga e Humberto Teixeira", "1947", "Quando olhei a terra ardendo..."),
		row("Sebastiana", "", "", ""),
	}
	recs, _ := Tabular(grid, m, 0, "s.csv")
	if recs[0].Composer != "Luiz Gonzaga e Humberto Teixeira" || recs[0].Year != "1947" {
		t.Fatalf("逐列读取失败：%+v", recs[0])
	}
	if recs[0].Lyrics == "" {
		t.Fatalf("lyrics 列未读取")
	}
	// composer fill-down：空白格继承上一行。
	if recs[1].Composer != "Luiz Gonzaga e Humberto Teixeira" {
		t.Fatalf("composer fill-down 失效：%q", recs[1].Composer)
	}
	// year/lyrics 不做 fill-down。
	if recs[1].Year != "" || recs[1].Lyrics != "" {
		t.Fatalf("year/lyrics 不应 fill-down：%+v", recs[1])
	}
}

func TestTabular_MergedCellActsAsValue(t *testing.T) {
	anchor := domain.TextCell("Luiz Gonzaga")
	grid := domain.RawGrid{
		{anchor, domain.TextCell("Asa Branca")},
		{domain.MergedCell(anchor), domain.TextCell("Xote Ecológico")},
	}
	recs, _ := Tabular(grid, artistTitleMap(), 0, "s.xlsx")
	if recs[1].Artist != "Luiz Gonzaga" {
		t.Fatalf("合并覆盖格应继承锚点值：%q", recs[1].Artist)
	}
}

func TestCleanTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1. Asa Branca", "Asa Branca"},
		{"2) Sebastiana", "Sebastiana"},
		{"12 - Baião", "Baião"},
		{"Música: Asa Branca", "Asa Branca"},
		{"MÚSICA: Asa Branca", "Asa Branca"},
		{"Título: Qui Nem Jiló", "Qui Nem Jiló"},
		{"nome da música: Juazeiro", "Juazeiro"},
		{"1. Música: Asa Branca", "Asa Branca"}, // 嵌套噪音
		{"Asa Branca", "Asa Branca"},
		{"2012", "2012"}, // 纯数字无分隔符：不是序号
		{"  Asa Branca  ", "Asa Branca"},
	}
	for _, c := range cases {
		if got := CleanTitle(c.in); got != c.want {
			t.Fatalf("CleanTitle(%q)=%q，期望 %q", c.in, got, c.want)
		}
	}
}

func TestAlternating_PairsAndTrailingTitle(t *testing.T) {
	grid := domain.RawGrid{
		row("Asa Branca"),
		row("Luiz Gonzaga"),
		row(""), // 空行不破坏配对
		row("Chiclete com Banana"),
		row("Jackson do Pandeiro"),
		row("Sebastiana"), // 落单
	}
	recs, _ := Alternating(grid, "roda.csv")
	if len(recs) != 3 {
		t.Fatalf("期望 3 条记录，实际 %d", len(recs))
	}
	if recs[0].Title != "Asa Branca" || recs[0].Artist != "Luiz Gonzaga" {
		t.Fatalf("第一对配对错误：%+v", recs[0])
	}
	if recs[1].Title != "Chiclete com Banana" || recs[1].Artist != "Jackson do Pandeiro" {
		t.Fatalf("第二对配对错误：%+v", recs[1])
	}
	if recs[2].Artist != domain.ArtistUnidentified {
		t.Fatalf("落单标题应配哨兵艺人，实际 %q", recs[2].Artist)
	}
	// ID 取标题行的行号。
	if recs[1].ID != "roda.csv#3" {
		t.Fatalf("ID 应取标题行行号，实际 %q", recs[1].ID)
	}
}

func TestAlternating_JunkTitleSkippedWithoutConsumingSlot(t *testing.T) {
	grid := domain.RawGrid{
		row("1."), // 噪音：不能占用标题位
		row("Asa Branca"),
		row("Luiz Gonzaga"),
	}
	recs, dropped := Alternating(grid, "s.csv")
	if len(recs) != 1 || dropped != 1 {
		t.Fatalf("期望 1 条记录 1 丢弃，实际 %d/%d", len(recs), dropped)
	}
	if recs[0].Title != "Asa Branca" || recs[0].Artist != "Luiz Gonzaga" {
		t.Fatalf("配对被噪音破坏：%+v", recs[0])
	}
}
