package transcript

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.mau.fi/util/dbutil"
)

// StoreBackend provides read access to the session store and transcripts.
// Keys are slash-separated paths relative to the transcript root.
type StoreBackend interface {
	Read(ctx context.Context, key string) ([]byte, bool, error)
}

// FileBackend reads keys as files below Root.
type FileBackend struct {
	Root string
}

func (b *FileBackend) Read(_ context.Context, key string) ([]byte, bool, error) {
	if b == nil {
		return nil, false, errors.New("file backend not configured")
	}
	path := filepath.Join(b.Root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// DBBackend reads keys from the webchat_state table, for hosts that mirror
// session state into a database instead of the filesystem.
type DBBackend struct {
	db *dbutil.Database
}

func NewDBBackend(db *dbutil.Database) *DBBackend {
	return &DBBackend{db: db}
}

// OpenSQLite opens a sqlite database for use with DBBackend. The caller must
// register the sqlite3 driver.
func OpenSQLite(path string) (*dbutil.Database, error) {
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(1)
	return dbutil.NewWithDB(raw, "sqlite3")
}

// EnsureSchema creates the state table if it does not exist yet.
func (b *DBBackend) EnsureSchema(ctx context.Context) error {
	if b == nil || b.db == nil {
		return errors.New("webchat state store not available")
	}
	_, err := b.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS webchat_state (
			store_key  TEXT PRIMARY KEY,
			content    TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	return err
}

func (b *DBBackend) Read(ctx context.Context, key string) ([]byte, bool, error) {
	if b == nil || b.db == nil {
		return nil, false, errors.New("webchat state store not available")
	}
	var content string
	err := b.db.QueryRow(ctx,
		`SELECT content FROM webchat_state WHERE store_key=$1`,
		strings.TrimPrefix(key, "/"),
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(content), true, nil
}

// Put stores content under key. The bridge itself never writes; this is for
// the process that owns the sessions.
func (b *DBBackend) Put(ctx context.Context, key string, data []byte) error {
	if b == nil || b.db == nil {
		return errors.New("webchat state store not available")
	}
	_, err := b.db.Exec(ctx,
		`INSERT INTO webchat_state (store_key, content, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (store_key)
		 DO UPDATE SET content=excluded.content, updated_at=excluded.updated_at`,
		strings.TrimPrefix(key, "/"), string(data), time.Now().UnixMilli(),
	)
	return err
}
