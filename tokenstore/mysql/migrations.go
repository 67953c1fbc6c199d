package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

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
		return fmt.Errorf("mysql: migrate: %w", err)
	}
	_, err = db.ExecContext(ctx, indexDDL(config))
	if err != nil && !isDuplicateKeyError(err) {
		return fmt.Errorf("mysql: migrate index: %w", err)
	}
	return nil
}

func ddl(config sqlstore.TableConfig) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    processor     VARCHAR(255) NOT NULL,
    segment_id    INT NOT NULL,
    segment_mask  BIGINT NOT NULL,
    owner_id      VARCHAR(255) NOT NULL DEFAULT '',
    claimed       BOOLEAN NOT NULL DEFAULT false,
    last_updated  TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    token_data    BLOB,
    PRIMARY KEY (processor, segment_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`, config.SegmentsTable)
}

func indexDDL(config sqlstore.TableConfig) string {
	return fmt.Sprintf(`CREATE INDEX idx_%s_claimed ON %s (processor, claimed, last_updated)`,
		config.SegmentsTable, config.SegmentsTable)
}

// isDuplicateKeyError reports whether err is MySQL's "index already
// exists" error, which CREATE INDEX has no IF NOT EXISTS guard against.
func isDuplicateKeyError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "1061") || strings.Contains(err.Error(), "Duplicate key name"))
}
