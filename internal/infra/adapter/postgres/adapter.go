// Package postgres provides a durable adapter that mirrors the in-memory
// semantics while snapshotting state to Postgres after every successful
// write.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"recordcore/internal/infra/adapter/memory"
	"recordcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Adapter = (*Adapter)(nil)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/recordcore?sslmode=disable"
)

// Adapter wraps the in-memory adapter with Postgres persistence.
type Adapter struct {
	*memory.Adapter
	db *sql.DB
	mu sync.Mutex
}

// New opens a Postgres-backed adapter using the provided DSN (falls back to
// a localhost default), ensures the snapshot table exists, and hydrates the
// in-memory state from any existing snapshot.
func New(dsn string) (*Adapter, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS record_state (
		entity TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	a := &Adapter{Adapter: memory.New(), db: db}
	if err := a.load(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) load(ctx context.Context) error {
	rows, err := a.db.QueryContext(ctx, `SELECT entity, payload FROM record_state`)
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
	if _, err := tx.ExecContext(ctx, `DELETE FROM record_state`); err != nil {
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
			`INSERT INTO record_state(entity, payload) VALUES($1, $2)`, entity, payload); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %s: %w", entity, err)
		}
	}
	return tx.Commit()
}

// SaveRecord applies the write in memory, then snapshots to Postgres.
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
