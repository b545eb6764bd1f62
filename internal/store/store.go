package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/John-Robertt/cancioneiro/internal/domain"
)

// Store 维护 <path>/cache/songs.db 下的富化快照。
//
// 约束：
// - dry-run：只允许读（ReadOnly=true），且不创建任何目录/文件
// - apply：允许整体替换与清空；接口就是“存/取整个数组 + 清空”，
//   不做逐条更新（核心对存储技术不可知）
// - Load 还原的顺序与 Replace 写入的顺序一致（批次完成序）
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
}

var ErrReadOnly = errors.New("store: read-only")

const (
	metaRunID   = "run_id"
	metaSavedAt = "saved_at"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS snapshot_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS songs (
		position        INTEGER PRIMARY KEY,
		id              TEXT NOT NULL,
		title           TEXT NOT NULL,
		artist          TEXT NOT NULL DEFAULT '',
		composer        TEXT NOT NULL DEFAULT '',
		year            TEXT NOT NULL DEFAULT '',
		lyrics          TEXT NOT NULL DEFAULT '',
		source          TEXT NOT NULL DEFAULT '',
		found_artist    TEXT NOT NULL DEFAULT '',
		found_composer  TEXT NOT NULL DEFAULT '',
		release_year    TEXT NOT NULL DEFAULT '',
		search_status   TEXT NOT NULL DEFAULT '',
		notes           TEXT NOT NULL DEFAULT '',
		approval_status TEXT NOT NULL DEFAULT ''
	)`,
}

// Open 打开（必要时创建）快照库。
// readOnly 且库文件不存在时返回一个“空库”句柄：读为空，写被拒，不落任何文件。
func Open(root string, readOnly bool) (*Store, error) {
	root = filepath.Clean(strings.TrimSpace(root))
	if root == "" || root == "." {
		return nil, fmt.Errorf("store: root 不能为空")
	}
	dbPath := filepath.Join(root, "cache", "songs.db")

	if readOnly {
		if _, err := os.Stat(dbPath); err != nil {
			if os.IsNotExist(err) {
				return &Store{path: dbPath, readOnly: true}, nil
			}
			return nil, err
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: 打开 sqlite 失败：%w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: 执行 %q 失败：%w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: 建表失败：%w", err)
		}
	}

	return &Store{db: db, path: dbPath, readOnly: readOnly}, nil
}

// Path 返回库文件的绝对路径（报告/诊断用）。
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Replace 用整组记录原子替换当前快照，并记录本次 run 的标识。
func (s *Store) Replace(ctx context.Context, runID string, recs []domain.EnrichedRecord) error {
	if s.readOnly {
		return ErrReadOnly
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: 开启事务失败：%w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM songs`); err != nil {
		return fmt.Errorf("store: 清空旧快照失败：%w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO songs (
		position, id, title, artist, composer, year, lyrics, source,
		found_artist, found_composer, release_year, search_status, notes, approval_status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: 准备插入失败：%w", err)
	}
	defer stmt.Close()

	for i, r := range recs {
		if _, err := stmt.ExecContext(ctx,
			i, r.ID, r.Title, r.Artist, r.Composer, r.Year, r.Lyrics, r.Source,
			r.FoundArtist, r.FoundComposer, r.ReleaseYear, r.SearchStatus, r.Notes, r.ApprovalStatus,
		); err != nil {
			return fmt.Errorf("store: 插入第 %d 条失败：%w", i, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, kv := range [][2]string{
		{metaRunID, runID},
		{metaSavedAt, now},
	} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			kv[0], kv[1],
		); err != nil {
			return fmt.Errorf("store: 写入 meta 失败：%w", err)
		}
	}

	return tx.Commit()
}

// Load 按写入顺序还原整组记录；空库返回空切片。
func (s *Store) Load(ctx context.Context) ([]domain.EnrichedRecord, error) {
	if s.db == nil {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT
		id, title, artist, composer, year, lyrics, source,
		found_artist, found_composer, release_year, search_status, notes, approval_status
	FROM songs ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("store: 读取快照失败：%w", err)
	}
	defer rows.Close()

	var out []domain.EnrichedRecord
	for rows.Next() {
		var r domain.EnrichedRecord
		if err := rows.Scan(
			&r.ID, &r.Title, &r.Artist, &r.Composer, &r.Year, &r.Lyrics, &r.Source,
			&r.FoundArtist, &r.FoundComposer, &r.ReleaseYear, &r.SearchStatus, &r.Notes, &r.ApprovalStatus,
		); err != nil {
			return nil, fmt.Errorf("store: 扫描记录失败：%w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Meta 返回最近一次成功保存的 run 标识与时间；从未保存过时 ok=false。
func (s *Store) Meta(ctx context.Context) (runID string, savedAt time.Time, ok bool, err error) {
	if s.db == nil {
		return "", time.Time{}, false, nil
	}

	var raw string
	if err := s.db.QueryRowContext(ctx,
		`SELECT value FROM snapshot_meta WHERE key = ?`, metaRunID,
	).Scan(&runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, fmt.Errorf("store: 读取 meta 失败：%w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT value FROM snapshot_meta WHERE key = ?`, metaSavedAt,
	).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return runID, time.Time{}, true, nil
		}
		return "", time.Time{}, false, fmt.Errorf("store: 读取 meta 失败：%w", err)
	}
	t, perr := time.Parse(time.RFC3339Nano, raw)
	if perr != nil {
		// 坏时间戳不致命，run_id 仍然有效。
		return runID, time.Time{}, true, nil
	}
	return runID, t, true, nil
}

// Clear 清空快照与 meta（对应“重新开始”的用户动作）。
func (s *Store) Clear(ctx context.Context) error {
	if s.readOnly {
		return ErrReadOnly
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: 开启事务失败：%w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM songs`); err != nil {
		return fmt.Errorf("store: 清空快照失败：%w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_meta`); err != nil {
		return fmt.Errorf("store: 清空 meta 失败：%w", err)
	}
	return tx.Commit()
}
