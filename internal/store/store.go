package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA cache_size = -64000;
PRAGMA busy_timeout = 5000;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    platform      TEXT NOT NULL,
    type          TEXT NOT NULL DEFAULT '',
    group_id      TEXT NOT NULL DEFAULT '',
    extra         TEXT NOT NULL DEFAULT '',
    source_path   TEXT NOT NULL DEFAULT '',
    format        TEXT NOT NULL DEFAULT '',
    source_size   INTEGER NOT NULL DEFAULT 0,
    status        TEXT NOT NULL DEFAULT 'importing',
    created_at    INTEGER NOT NULL,
    imported_at   INTEGER NOT NULL DEFAULT 0,
    duration_ms   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS members (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    platform_id  TEXT NOT NULL UNIQUE,
    name         TEXT NOT NULL DEFAULT '',
    account_name TEXT NOT NULL DEFAULT '',
    role         TEXT NOT NULL DEFAULT '',
    is_bot       INTEGER NOT NULL DEFAULT 0,
    placeholder  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS member_name_history (
    member_id INTEGER NOT NULL REFERENCES members(id),
    name      TEXT NOT NULL,
    since     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    sender_id           INTEGER NOT NULL REFERENCES members(id),
    sender_name         TEXT NOT NULL DEFAULT '',
    ts                  INTEGER NOT NULL,
    type                INTEGER NOT NULL DEFAULT 0,
    content             TEXT NOT NULL DEFAULT '',
    platform_message_id TEXT NOT NULL DEFAULT '',
    reply_to_message_id TEXT NOT NULL DEFAULT '',
    extra               TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS messages_ts ON messages(ts);
CREATE INDEX IF NOT EXISTS messages_sender ON messages(sender_id);
CREATE INDEX IF NOT EXISTS history_member ON member_name_history(member_id);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content=messages,
    content_rowid=id,
    tokenize='unicode61'
);

-- triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES('delete', old.id, old.content);
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;
`

// schemaVersion is bumped whenever the session layout changes. Sessions
// written with another version are refused rather than migrated.
const schemaVersion = "1"

var (
	ErrNotFound     = errors.New("session not found")
	ErrIncompatible = errors.New("session written by an incompatible version")
)

// Store keeps one SQLite database per imported session under a directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

func Open(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".db")
}

// validID rejects anything that is not a session id, so ids taken from the
// command line can never address files outside the data dir.
func validID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	return nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// a session is written by one goroutine; a single connection keeps the
	// pragmas above in effect for every statement
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

// OpenSession opens an existing session for reading.
func (s *Store) OpenSession(ctx context.Context, id string) (*Session, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	path := s.path(id)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	var ver string
	err = db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'schema_version'").Scan(&ver)
	if err != nil || ver != schemaVersion {
		db.Close()
		return nil, fmt.Errorf("%w: %s (schema %q)", ErrIncompatible, id, ver)
	}
	return newSession(id, db), nil
}

// DeleteSession removes a session database and its WAL files.
func (s *Store) DeleteSession(id string) error {
	if err := validID(id); err != nil {
		return err
	}
	path := s.path(id)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		os.Remove(path + suffix)
	}
	return nil
}

// ListSessions returns every readable session, newest first. Databases that
// cannot be opened are logged and skipped.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	ids, err := s.sessionIDs()
	if err != nil {
		return nil, err
	}
	var out []SessionInfo
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sess, err := s.OpenSession(ctx, id)
		if err != nil {
			s.logger.Warn("skipping session", "id", id, "error", err)
			continue
		}
		info, err := sess.Info(ctx)
		sess.Close()
		if err != nil {
			s.logger.Warn("skipping session", "id", id, "error", err)
			continue
		}
		out = append(out, info)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) sessionIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".db") {
			continue
		}
		id := strings.TrimSuffix(name, ".db")
		if validID(id) == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
