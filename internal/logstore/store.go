// Package logstore is the append-only persistence layer for
// PersistedLog records (spec §6.5 `logs` table), backed by DuckDB.
package logstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/logsentry/logsentry/internal/logstore/migrate"
)

// DefaultQueryTimeout is the store-write timeout from spec §5.
const DefaultQueryTimeout = 5 * time.Second

// Store manages the DuckDB connection backing the logs table.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	QueryTimeout time.Duration
}

// Open opens (or creates) a DuckDB database at dbPath and applies
// migrations. An empty dbPath opens an in-memory database.
func Open(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}

	if err := migrate.NewRunner(db).Run(); err != nil {
		db.Close()
		return nil, err
	}

	qt := DefaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	return &Store{db: db, dbPath: dbPath, QueryTimeout: qt}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

// SchemaStatus reports the applied schema version and any pending
// migrations, for the /health endpoint.
func (s *Store) SchemaStatus() (current int, pending int, err error) {
	return migrate.NewRunner(s.db).Status()
}
