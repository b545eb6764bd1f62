package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/John-Robertt/cancioneiro/internal/domain"
)

// ErrNoRows 表示文件解码成功但没有任何行（空表按前置失败处理，错误码 no_rows）。
var ErrNoRows = errors.New("表格没有任何行")

// Decode 把一个表格文件解码为原始网格。
//
// 约定：
// - .xlsx/.xlsm 只取第一个工作表，后续工作表一律忽略
// - 合并单元格的非锚点格解码为 Merged（指向锚点值），供 NormalizeCell 追踪
// - .csv 自动嗅探 ','/';' 分隔符，容忍 UTF-8 BOM 与参差行宽
func Decode(sf domain.SourceFile) (domain.RawGrid, error) {
	switch sf.Ext {
	case ".xlsx", ".xlsm":
		return decodeExcel(sf.AbsPath)
	case ".csv":
		return decodeCSV(sf.AbsPath)
	default:
		return nil, fmt.Errorf("不支持的扩展名：%q", sf.Ext)
	}
}

func decodeExcel(path string) (domain.RawGrid, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("打开 xlsx：%w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoRows
	}
	first := sheets[0]

	// RawCellValue：取原始存储值，不套数字格式。年份按数字存储时得到 "1952"
	// 而不是区域化后的展示文本。
	rows, err := f.GetRows(first, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("读取行：%w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	grid := make(domain.RawGrid, len(rows))
	for i, row := range rows {
		cells := make([]domain.CellValue, len(row))
		for j, s := range row {
			cells[j] = toCell(s)
		}
		grid[i] = cells
	}

	overlayMerges(f, first, grid)
	return grid, nil
}

// overlayMerges 把合并区域的非锚点格改写为 Merged（指向锚点值）。
//
// GetRows 对这些格子返回空串，丢掉了“被合并覆盖”这一事实；抽取阶段
// 必须区分真空格与覆盖格才能继承锚点值，所以在网格上补回该信息。
func overlayMerges(f *excelize.File, sheet string, grid domain.RawGrid) {
	merges, err := f.GetMergeCells(sheet)
	if err != nil {
		// 拿不到合并信息时覆盖格退化为普通空格；不值得让整个文件解码失败。
		return
	}
	for _, m := range merges {
		sc, sr, err1 := excelize.CellNameToCoordinates(m.GetStartAxis())
		ec, er, err2 := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err1 != nil || err2 != nil {
			continue
		}
		anchor := toCell(m.GetCellValue())
		for r := sr; r <= er && r-1 < len(grid); r++ {
			row := grid[r-1]
			// GetRows 会裁掉行尾空格；行宽不足时补齐到合并区域右边界。
			for len(row) < ec {
				row = append(row, domain.EmptyCell())
			}
			for c := sc; c <= ec; c++ {
				if r == sr && c == sc {
					// 锚点可能因行尾裁剪丢失，补写原值。
					if row[c-1].Kind == domain.CellEmpty && anchor.Kind == domain.CellText {
						row[c-1] = anchor
					}
					continue
				}
				row[c-1] = domain.MergedCell(anchor)
			}
			grid[r-1] = row
		}
	}
}

func decodeCSV(path string) (domain.RawGrid, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 csv：%w", err)
	}
	b = bytes.TrimPrefix(b, []byte{0xEF, 0xBB, 0xBF})

	r := csv.NewReader(bytes.NewReader(b))
	r.Comma = sniffDelimiter(b)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	grid := make(domain.RawGrid, 0, 64)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解析 csv：%w", err)
		}
		cells := make([]domain.CellValue, len(rec))
		for j, s := range rec {
			cells[j] = toCell(s)
		}
		grid = append(grid, cells)
	}
	if len(grid) == 0 {
		return nil, ErrNoRows
	}
	return grid, nil
}

// sniffDelimiter 在首个非空行上数 ',' 与 ';'，分号多则取分号
// （巴西区域设置导出的 CSV 常用 ';'）。计数不理会引号，粗糙但够用。
func sniffDelimiter(b []byte) rune {
	rest := b
	for len(rest) > 0 {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			rest = nil
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
			return ';'
		}
		return ','
	}
	return ','
}

func toCell(s string) domain.CellValue {
	if strings.TrimSpace(s) == "" {
		return domain.EmptyCell()
	}
	return domain.TextCell(s)
}
