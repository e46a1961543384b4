package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adamavenir/huddle/internal/types"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS huddle_cache (
  id TEXT PRIMARY KEY,
  created_at INTEGER NOT NULL,
  data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_huddle_cache_created ON huddle_cache(created_at, id);
`

// SQLiteStore keeps the cache in a single sqlite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the cache database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &SQLiteStore{db: conn}, nil
}

func (s *SQLiteStore) Put(msgs ...types.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO huddle_cache (id, created_at, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET created_at = excluded.created_at, data = excluded.data
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, msg := range msgs {
		data, err := encodeMessage(msg)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.Exec(msg.ID, sortKey(msg), string(data)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) All() ([]types.Message, error) {
	rows, err := s.db.Query(`SELECT data FROM huddle_cache ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		if msg, ok := decodeMessage([]byte(data)); ok {
			out = append(out, msg)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Remove(id string) error {
	_, err := s.db.Exec(`DELETE FROM huddle_cache WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM huddle_cache`)
	return err
}

func (s *SQLiteStore) Trim(max int) (int, error) {
	if max < 0 {
		max = 0
	}
	result, err := s.db.Exec(`
		DELETE FROM huddle_cache WHERE id IN (
			SELECT id FROM huddle_cache ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)
	`, max)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
