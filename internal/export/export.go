package export

import (
	"bytes"
	"encoding/csv"

	"github.com/John-Robertt/cancioneiro/internal/domain"
	"github.com/John-Robertt/cancioneiro/internal/infra/fsx"
)

// FileName 是导出工件的固定文件名（落在 <path>/out/ 下）。
const FileName = "enriched.csv"

// utf8BOM：Excel 打开无 BOM 的 UTF-8 CSV 时会按本地编码解读，
// 葡语重音字符全部变成乱码。
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// header 列序固定，与 EnrichedRecord 的 JSON 字段一一对应。
var header = []string{
	"id",
	"title",
	"artist",
	"composer",
	"year",
	"lyrics",
	"source",
	"found_artist",
	"found_composer",
	"release_year",
	"search_status",
	"notes",
	"approval_status",
}

// Encode 把富化结果编码为带 BOM 的 CSV 字节串。
//
// 规则：
// - 每条记录一行，顺序保持输入顺序（即批次完成序）；
// - 字段原样输出，含换行的歌词由 csv 规则加引号，不截断；
// - 空集也输出表头，让下游始终拿到结构稳定的文件。
func Encode(records []domain.EnrichedRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range records {
		if err := w.Write(row(r)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteCSV 编码并原子写入 dir/name；旧导出被整体替换，
// 读取方任何时刻都只会看到完整文件。
func WriteCSV(dir, name string, records []domain.EnrichedRecord) error {
	b, err := Encode(records)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(dir, name, b)
}

func row(r domain.EnrichedRecord) []string {
	return []string{
		r.ID,
		r.Title,
		r.Artist,
		r.Composer,
		r.Year,
		r.Lyrics,
		r.Source,
		r.FoundArtist,
		r.FoundComposer,
		r.ReleaseYear,
		r.SearchStatus,
		r.Notes,
		r.ApprovalStatus,
	}
}
