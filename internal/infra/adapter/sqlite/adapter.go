// Package sqlite provides a durable adapter that mirrors the in-memory
// semantics and snapshots the full state to a single SQLite table as JSON
// blobs after every successful write.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"recordcore/internal/infra/adapter/memory"
	"recordcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Adapter = (*Adapter)(nil)

// Adapter wraps the in-memory adapter with SQLite persistence.
type Adapter struct {
	*memory.Adapter
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// New opens (or creates) the database at path and hydrates the in-memory
// state from the last snapshot. An empty path defaults to recordcore.db.
func New(path string) (*Adapter, error) {
	if path == "" {
		path = "recordcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		entity TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	a := &Adapter{Adapter: memory.New(), db: db, path: path}
	if err := a.load(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) load() error {
	rows, err := a.db.Query(`SELECT entity, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	for rows.Next() {
		var entity string
		var payload []byte
		if err := rows.Scan(&entity, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		var docs map[string]memory.RecordDoc
		if err := json.Unmarshal(payload, &docs); err != nil {
			return fmt.Errorf("decode %s: %w", entity, err)
		}
		snapshot[entity] = docs
	}
	if err := rows.Err(); err != nil {
		return err
	}
	a.ImportState(snapshot)
	return nil
}

func (a *Adapter) persist(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	snapshot := a.ExportState()
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM state`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear state: %w", err)
	}
	for entity, docs := range snapshot {
		payload, err := json.Marshal(docs)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode %s: %w", entity, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state(entity, payload) VALUES(?, ?)`, entity, payload); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %s: %w", entity, err)
		}
	}
	return tx.Commit()
}

// SaveRecord applies the write in memory, then snapshots to disk.
func (a *Adapter) SaveRecord(ctx context.Context, schema domain.EntitySchema, op domain.SaveOp, snap domain.RecordSnapshot) (*domain.Payload, error) {
	payload, err := a.Adapter.SaveRecord(ctx, schema, op, snap)
	if err != nil {
		return nil, err
	}
	if err := a.persist(ctx); err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	return payload, nil
}

// Close closes the underlying database.
func (a *Adapter) Close() error { return a.db.Close() }
