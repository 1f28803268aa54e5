package proxy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
)

// Response is an upstream reply kept for replay.
type Response struct {
	ContentType string
	Body        []byte
}

// ResponseStore keeps upstream responses under ids it assigns.
type ResponseStore interface {
	// Save stores resp and returns its new id. Ids are never reused.
	Save(ctx context.Context, resp Response) (int64, error)
	// Get returns the response stored under id, or nil if there is none.
	Get(ctx context.Context, id int64) (*Response, error)
	Close() error
}

// SQLiteResponseStore keeps zstd-compressed response bodies in SQLite. The
// table's AUTOINCREMENT key hands out the ids.
type SQLiteResponseStore struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewSQLiteResponseStore opens or creates the database at dbPath.
// Parent directories are created if they do not exist.
func NewSQLiteResponseStore(dbPath string) (*SQLiteResponseStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content_type TEXT NOT NULL,
		body BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		_ = db.Close()
		return nil, err
	}
	return &SQLiteResponseStore{db: db, enc: enc, dec: dec}, nil
}

// Save implements ResponseStore.
func (s *SQLiteResponseStore) Save(ctx context.Context, resp Response) (int64, error) {
	blob := s.enc.EncodeAll(resp.Body, nil)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (content_type, body) VALUES (?, ?)`, resp.ContentType, blob)
	if err != nil {
		return 0, fmt.Errorf("failed to insert response: %w", err)
	}
	return res.LastInsertId()
}

// Get implements ResponseStore.
func (s *SQLiteResponseStore) Get(ctx context.Context, id int64) (*Response, error) {
	var (
		contentType string
		blob        []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, body FROM responses WHERE id = ?`, id).Scan(&contentType, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query response %d: %w", id, err)
	}
	body, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response %d: %w", id, err)
	}
	return &Response{ContentType: contentType, Body: body}, nil
}

// Count returns the number of stored responses.
func (s *SQLiteResponseStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteResponseStore) Close() error {
	s.dec.Close()
	_ = s.enc.Close()
	return s.db.Close()
}
