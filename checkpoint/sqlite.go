package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-scrape-catalogs/models"
)

// SQLiteStore keeps cursors and chunks of every source in one database.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	// modernc sqlite uses DSN like: file:foo.db?_pragma=busy_timeout(5000)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var v int
	if err := tx.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v >= 1 {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS crawl_state (
  source TEXT PRIMARY KEY,
  state TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
  source TEXT NOT NULL,
  seq INTEGER NOT NULL,
  payload TEXT NOT NULL,
  PRIMARY KEY (source, seq)
);
PRAGMA user_version = 1;`); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadState(ctx context.Context, source string) (models.CrawlState, bool, error) {
	var state models.CrawlState
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM crawl_state WHERE source = ?;`, source).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return state, false, nil
	}
	if err != nil {
		return state, false, fmt.Errorf("load state: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return state, false, fmt.Errorf("decode state: %w", err)
	}
	return state, true, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, source string, state models.CrawlState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO crawl_state (source, state, updated_at) VALUES (?, ?, ?)
ON CONFLICT(source) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at;`,
		source, string(payload), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WriteChunk(ctx context.Context, source string, products []models.Product) (int, error) {
	payload, err := json.Marshal(products)
	if err != nil {
		return 0, fmt.Errorf("encode chunk: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin chunk: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM chunks WHERE source = ?;`, source).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next chunk seq: %w", err)
	}
	// Plain INSERT: the primary key rejects an overwrite.
	if _, err := tx.ExecContext(ctx, `INSERT INTO chunks (source, seq, payload) VALUES (?, ?, ?);`, source, seq, string(payload)); err != nil {
		return 0, fmt.Errorf("insert chunk %d: %w", seq, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit chunk %d: %w", seq, err)
	}
	return seq, nil
}

func (s *SQLiteStore) LoadChunks(ctx context.Context, source string) ([][]models.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, payload FROM chunks WHERE source = ? ORDER BY seq ASC;`, source)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out [][]models.Product
	for rows.Next() {
		var (
			seq     int
			payload string
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		var chunk []models.Product
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return nil, fmt.Errorf("decode chunk %d: %w", seq, err)
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Retire(ctx context.Context, source string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin retire: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?;`, source); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM crawl_state WHERE source = ?;`, source); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
