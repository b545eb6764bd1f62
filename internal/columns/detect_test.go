package columns

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

func TestDetect_HeaderFirstRow(t *testing.T) {
	grid := domain.RawGrid{
		row("Artista", "Música"),
		row("Luiz Gonzaga", "Asa Branca"),
		row("", "Xote Ecológico"),
	}
	d := Detect(grid, DefaultMaxScanRows)
	if d.Confidence != domain.ConfidenceHigh {
		t.Fatalf("期望 high，实际 %q", d.Confidence)
	}
	if !d.Columns.HasHeaderRow || d.HeaderRow != 0 || d.StartRow() != 1 {
		t.Fatalf("表头定位错误：%+v", d)
	}
	if d.Columns.Index(domain.RoleArtist) != 0 || d.Columns.Index(domain.RoleTitle) != 1 {
		t.Fatalf("期望 artist=0 title=1，实际 %+v", d.Columns)
	}
}

func TestDetect_AccentAndCaseInsensitive(t *testing.T) {
	grid := domain.RawGrid{
		row("TÍTULO", "INTÉRPRETE", "Compositor", "Ano de Lançamento", "Letra"),
	}
	d := Detect(grid, DefaultMaxScanRows)
	if d.Confidence != domain.ConfidenceHigh {
		t.Fatalf("期望 high，实际 %q", d.Confidence)
	}
	m := d.Columns
	if m.Index(domain.RoleTitle) != 0 || m.Index(domain.RoleArtist) != 1 ||
		m.Index(domain.RoleComposer) != 2 || m.Index(domain.RoleYear) != 3 ||
		m.Index(domain.RoleLyrics) != 4 {
		t.Fatalf("列映射不完整：%+v", m)
	}
}

func TestDetect_SpecificKeywordOverridesGeneric(t *testing.T) {
	// "Nome do Artista" 同时含泛词 nome（title）与具体词 artista（artist）：
	// 具体词必须赢，否则 title 会被错指到艺人列。
	grid := domain.RawGrid{
		row("Nome do Artista", "Nome da Música"),
	}
	d := Detect(grid, DefaultMaxScanRows)
	if d.Columns.Index(domain.RoleArtist) != 0 {
		t.Fatalf("期望 artist=0，实际 %d", d.Columns.Index(domain.RoleArtist))
	}
	if d.Columns.Index(domain.RoleTitle) != 1 {
		t.Fatalf("期望 title=1，实际 %d", d.Columns.Index(domain.RoleTitle))
	}
}

func TestDetect_LastColumnWinsSameRole(t *testing.T) {
	grid := domain.RawGrid{
		row("Música", "Título"),
	}
	d := Detect(grid, DefaultMaxScanRows)
	// 同角色命中两列：靠后的列覆盖靠前的列。
	if d.Columns.Index(domain.RoleTitle) != 1 {
		t.Fatalf("期望 title=1（后列覆盖），实际 %d", d.Columns.Index(domain.RoleTitle))
	}
}

func TestDetect_HeaderAfterJunkRows(t *testing.T) {
	grid := domain.RawGrid{
		row("Festa Junina 2023"),
		row(""),
		row("Faixa", "Cantor"),
		row("Asa Branca", "Luiz Gonzaga"),
	}
	d := Detect(grid, DefaultMaxScanRows)
	if d.Confidence != domain.ConfidenceHigh || d.HeaderRow != 2 {
		t.Fatalf("期望表头在第 2 行，实际 %+v", d)
	}
	if d.Columns.Index(domain.RoleTitle) != 0 || d.Columns.Index(domain.RoleArtist) != 1 {
		t.Fatalf("列映射错误：%+v", d.Columns)
	}
}

func TestDetect_ScanLimitStops(t *testing.T) {
	grid := domain.RawGrid{
		row("lixo", "lixo"),
		row("lixo", "lixo"),
		row("Artista", "Música"), // 在扫描窗口之外
	}
	d := Detect(grid, 2)
	if d.Confidence != domain.ConfidenceLow {
		t.Fatalf("窗口外的表头不应命中：%+v", d)
	}
}

func TestDetect_FallbackTwoColumns(t *testing.T) {
	grid := domain.RawGrid{
		row("Luiz Gonzaga", "Asa Branca"),
		row("Jackson do Pandeiro", "Chiclete com Banana"),
	}
	d := Detect(grid, DefaultMaxScanRows)
	if d.Confidence != domain.ConfidenceLow || d.Columns.HasHeaderRow {
		t.Fatalf("期望低置信度无表头，实际 %+v", d)
	}
	if d.Columns.Index(domain.RoleArtist) != 0 || d.Columns.Index(domain.RoleTitle) != 1 {
		t.Fatalf("期望 artist=0 title=1，实际 %+v", d.Columns)
	}
	if d.StartRow() != 0 {
		t.Fatalf("无表头时数据区应从第 0 行开始，实际 %d", d.StartRow())
	}
}

func TestDetect_FallbackSingleColumnAlternating(t *testing.T) {
	grid := domain.RawGrid{
		row("Asa Branca"),
		row("Luiz Gonzaga"),
		row("Chiclete com Banana"),
	}
	d := Detect(grid, DefaultMaxScanRows)
	if !d.Alternating {
		t.Fatalf("期望交替格式信号，实际 %+v", d)
	}
	if d.Columns.Valid() {
		t.Fatalf("交替格式下列映射应无效：%+v", d.Columns)
	}
}

func TestDetect_AllEmptyGrid(t *testing.T) {
	grid := domain.RawGrid{
		row("", ""),
		row(""),
	}
	d := Detect(grid, DefaultMaxScanRows)
	if d.Confidence != domain.ConfidenceLow || d.Columns.Valid() || d.Alternating {
		t.Fatalf("全空网格应返回低置信度的无效映射：%+v", d)
	}
}
