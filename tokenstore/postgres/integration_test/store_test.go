//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/pooledstream/psep/tokenstore"
	"github.com/pooledstream/psep/tokenstore/conformance"
	pgstore "github.com/pooledstream/psep/tokenstore/postgres"
)

// TestMain ensures integration tests run sequentially; they share a
// database and must not interleave table setup/teardown.
func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbURL := os.Getenv("PSEP_POSTGRES_URL")
	if dbURL == "" {
		t.Skip("PSEP_POSTGRES_URL not set, skipping integration test")
	}
	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	return db
}

func TestPostgresTokenStoreConformance(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	var seq int

	conformance.RunConformanceSuite(t, func(t *testing.T, claimTTL time.Duration) (tokenstore.TokenStore, func()) {
		seq++
		config := pgstore.TableConfig{SegmentsTable: fmt.Sprintf("psep_token_segments_it_%d", seq)}

		ctx := context.Background()
		require.NoError(t, pgstore.Migrate(ctx, db, config))

		store := pgstore.NewWithConfig(db, config, claimTTL)
		cleanup := func() {
			_, _ = db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", config.SegmentsTable))
		}
		return store, cleanup
	})
}
