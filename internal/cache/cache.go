// Package cache keeps the signed-in identity on local disk so a relaunch can skip
// re-authentication. Nothing in it is authoritative; any entry may be discarded.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/locvowork/task_management_sample/internal/domain"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrCorrupt is returned by Load when the cached identity cannot be decoded.
var ErrCorrupt = errors.New("session cache corrupt")

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	keyIdentity   = "current_identity"
	keyProviderID = "provider_id"
)

// SQLiteCache is a key/value settings table in a SQLite file.
type SQLiteCache struct {
	db *sql.DB
}

// Open opens (or creates) the cache at path. ":memory:" keeps it in memory.
func Open(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Close releases the database.
func (c *SQLiteCache) Close() error { return c.db.Close() }

func (c *SQLiteCache) get(ctx context.Context, key string) (string, error) {
	var value string
	err := c.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// Load returns the cached identity and provider id. Either may be absent: a nil identity
// with a non-empty provider id is a partial cache. A cached identity that does not decode
// yields ErrCorrupt together with whatever provider id is still readable.
func (c *SQLiteCache) Load(ctx context.Context) (*domain.Identity, string, error) {
	providerID, err := c.get(ctx, keyProviderID)
	if err != nil {
		return nil, "", fmt.Errorf("read provider id: %w", err)
	}
	raw, err := c.get(ctx, keyIdentity)
	if err != nil {
		return nil, providerID, fmt.Errorf("read identity: %w", err)
	}
	if raw == "" {
		return nil, providerID, nil
	}

	var identity domain.Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return nil, providerID, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if identity.ID == "" {
		return nil, providerID, fmt.Errorf("%w: cached identity has no id", ErrCorrupt)
	}
	return &identity, providerID, nil
}

// Save stores identity and its provider id, replacing any previous entry.
func (c *SQLiteCache) Save(ctx context.Context, identity *domain.Identity) error {
	raw, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := tx.ExecContext(ctx, upsert, keyIdentity, string(raw)); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	if identity.ProviderID != "" {
		if _, err := tx.ExecContext(ctx, upsert, keyProviderID, identity.ProviderID); err != nil {
			return fmt.Errorf("write provider id: %w", err)
		}
	} else if _, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", keyProviderID); err != nil {
		return fmt.Errorf("clear provider id: %w", err)
	}
	return tx.Commit()
}

// Clear removes every cached entry.
func (c *SQLiteCache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM settings WHERE key IN (?, ?)", keyIdentity, keyProviderID); err != nil {
		return fmt.Errorf("clear session cache: %w", err)
	}
	return nil
}

// setRaw writes a value without encoding. Tests use it to simulate damaged entries.
func (c *SQLiteCache) setRaw(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
