package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rbright/qlip/internal/media"
	_ "modernc.org/sqlite"
)

// SchemaVersion is stored in PRAGMA user_version once the slot table exists.
const SchemaVersion = 1

// SQLite is a Backend over a single-file SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating when needed) the database at path. ":memory:" is accepted for tests.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= SchemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audio_slots (
			key TEXT PRIMARY KEY,
			mime TEXT NOT NULL,
			data BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create audio_slots: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, SchemaVersion)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// Get returns the artifact stored under key.
func (s *SQLite) Get(ctx context.Context, key string) (media.Artifact, bool, error) {
	var artifact media.Artifact
	err := s.db.QueryRowContext(ctx,
		`SELECT mime, data FROM audio_slots WHERE key = ?`, key,
	).Scan(&artifact.MIMEType, &artifact.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return media.Artifact{}, false, nil
	}
	if err != nil {
		return media.Artifact{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	return artifact, true, nil
}

// Put overwrites the artifact stored under key.
func (s *SQLite) Put(ctx context.Context, key string, artifact media.Artifact) error {
	data := artifact.Data
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_slots (key, mime, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			mime = excluded.mime,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, key, artifact.MIMEType, data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM audio_slots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
