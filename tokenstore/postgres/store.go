// Package postgres provides a PostgreSQL-backed TokenStore.
package postgres

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/pooledstream/psep/tokenstore/sqlstore"
)

// TableConfig names the table this store reads and writes.
type TableConfig = sqlstore.TableConfig

// DefaultTableConfig returns the conventional table name.
func DefaultTableConfig() TableConfig { return sqlstore.DefaultTableConfig() }

// Store is a PostgreSQL TokenStore implementation.
type Store = sqlstore.Store

var dialect = sqlstore.Dialect{Name: "postgres", Placeholder: sqlstore.DollarPlaceholder}

// New creates a PostgreSQL store with default table names.
func New(db *sql.DB, claimTTL time.Duration) *Store {
	return NewWithConfig(db, DefaultTableConfig(), claimTTL)
}

// NewWithConfig creates a PostgreSQL store with a custom table name.
func NewWithConfig(db *sql.DB, config TableConfig, claimTTL time.Duration) *Store {
	return sqlstore.New(db, dialect, config, claimTTL)
}
