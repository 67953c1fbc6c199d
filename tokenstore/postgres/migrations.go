package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pooledstream/psep/tokenstore/sqlstore"
)

// Migrate creates the segments table and its indexes if they do not
// already exist. Safe to call on every process start.
func Migrate(ctx context.Context, db *sql.DB, config TableConfig) error {
	if config.SegmentsTable == "" {
		config = DefaultTableConfig()
	}
	_, err := db.ExecContext(ctx, ddl(config))
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func ddl(config sqlstore.TableConfig) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    processor     TEXT NOT NULL,
    segment_id    INTEGER NOT NULL,
    segment_mask  BIGINT NOT NULL,
    owner_id      TEXT NOT NULL DEFAULT '',
    claimed       BOOLEAN NOT NULL DEFAULT false,
    last_updated  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    token_data    BYTEA,
    PRIMARY KEY (processor, segment_id)
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_claimed
    ON %[1]s (processor, claimed, last_updated);
`, config.SegmentsTable)
}
