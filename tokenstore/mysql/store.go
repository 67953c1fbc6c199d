// Package mysql provides a MySQL/MariaDB-backed TokenStore.
package mysql

import (
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/pooledstream/psep/tokenstore/sqlstore"
)

// TableConfig names the table this store reads and writes.
type TableConfig = sqlstore.TableConfig

// DefaultTableConfig returns the conventional table name.
func DefaultTableConfig() TableConfig { return sqlstore.DefaultTableConfig() }

// Store is a MySQL/MariaDB TokenStore implementation.
type Store = sqlstore.Store

var dialect = sqlstore.Dialect{Name: "mysql", Placeholder: sqlstore.QuestionPlaceholder}

// New creates a MySQL store with default table names.
func New(db *sql.DB, claimTTL time.Duration) *Store {
	return NewWithConfig(db, DefaultTableConfig(), claimTTL)
}

// NewWithConfig creates a MySQL store with a custom table name.
func NewWithConfig(db *sql.DB, config TableConfig, claimTTL time.Duration) *Store {
	return sqlstore.New(db, dialect, config, claimTTL)
}
