//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/pooledstream/psep/tokenstore"
	"github.com/pooledstream/psep/tokenstore/conformance"
	mysqlstore "github.com/pooledstream/psep/tokenstore/mysql"
)

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PSEP_MYSQL_DSN")
	if dsn == "" {
		t.Skip("PSEP_MYSQL_DSN not set, skipping integration test")
	}
	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	return db
}

func TestMySQLTokenStoreConformance(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	var seq int

	conformance.RunConformanceSuite(t, func(t *testing.T, claimTTL time.Duration) (tokenstore.TokenStore, func()) {
		seq++
		config := mysqlstore.TableConfig{SegmentsTable: fmt.Sprintf("psep_token_segments_it_%d", seq)}

		ctx := context.Background()
		require.NoError(t, mysqlstore.Migrate(ctx, db, config))

		store := mysqlstore.NewWithConfig(db, config, claimTTL)
		cleanup := func() {
			_, _ = db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", config.SegmentsTable))
		}
		return store, cleanup
	})
}
