// Package sqlite provides a SQLite-backed TokenStore, useful for
// single-process deployments that want durable claims without an
// external database.
package sqlite

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pooledstream/psep/tokenstore/sqlstore"
)

// TableConfig names the table this store reads and writes.
type TableConfig = sqlstore.TableConfig

// DefaultTableConfig returns the conventional table name.
func DefaultTableConfig() TableConfig { return sqlstore.DefaultTableConfig() }

// Store is a SQLite TokenStore implementation.
type Store = sqlstore.Store

var dialect = sqlstore.Dialect{Name: "sqlite", Placeholder: sqlstore.QuestionPlaceholder}

// New creates a SQLite store with default table names.
func New(db *sql.DB, claimTTL time.Duration) *Store {
	return NewWithConfig(db, DefaultTableConfig(), claimTTL)
}

// NewWithConfig creates a SQLite store with a custom table name.
func NewWithConfig(db *sql.DB, config TableConfig, claimTTL time.Duration) *Store {
	return sqlstore.New(db, dialect, config, claimTTL)
}
