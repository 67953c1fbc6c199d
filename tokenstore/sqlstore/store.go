// Package sqlstore implements the TokenStore contract once, against
// database/sql, parameterized by a small Dialect so the postgres, mysql
// and sqlite packages can each supply their own driver import, parameter
// placeholder style and DDL while sharing one query implementation.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pooledstream/psep"
	"github.com/pooledstream/psep/tokenstore"
	"github.com/pooledstream/psep/tokenstore/tokencodec"
)

// Dialect captures the handful of ways postgres, mysql and sqlite differ
// for this store's purposes.
type Dialect struct {
	// Name identifies the dialect for RetrieveStorageIdentifier.
	Name string

	// Placeholder returns the positional parameter marker for the n-th
	// (1-indexed) bound argument in a query.
	Placeholder func(n int) string
}

// DollarPlaceholder returns "$1", "$2", ... for PostgreSQL.
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// QuestionPlaceholder returns "?" for every argument, as MySQL and SQLite expect.
func QuestionPlaceholder(int) string { return "?" }

// TableConfig names the single table this store reads and writes.
type TableConfig struct {
	SegmentsTable string
}

// DefaultTableConfig returns the conventional table name used when none
// is supplied.
func DefaultTableConfig() TableConfig {
	return TableConfig{SegmentsTable: "psep_token_segments"}
}

// Store is a database/sql-backed TokenStore shared by the postgres,
// mysql and sqlite packages.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	table    string
	claimTTL time.Duration
}

// New creates a Store. claimTTL is the duration after which an
// unrefreshed claim is considered expired and claimable by another
// owner; claim expiry is evaluated in the application process, not the
// database, so clock skew between this process and the database server
// is not accounted for.
func New(db *sql.DB, dialect Dialect, config TableConfig, claimTTL time.Duration) *Store {
	if claimTTL <= 0 {
		claimTTL = 10 * time.Second
	}
	table := config.SegmentsTable
	if table == "" {
		table = DefaultTableConfig().SegmentsTable
	}
	return &Store{db: db, dialect: dialect, table: table, claimTTL: claimTTL}
}

var _ tokenstore.TokenStore = (*Store)(nil)

func (s *Store) ph(n int) string { return s.dialect.Placeholder(n) }

func (s *Store) InitializeTokenSegments(ctx context.Context, processor string, segmentCount int, initialToken psep.TrackingToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", tokenstore.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE processor = %s`, s.table, s.ph(1))
	var count int
	if err := tx.QueryRowContext(ctx, countQuery, processor).Scan(&count); err != nil {
		return fmt.Errorf("%w: count: %v", tokenstore.ErrStoreUnavailable, err)
	}
	if count > 0 {
		return tokenstore.ErrUnableToInitialize
	}

	tokenData, err := tokencodec.Encode(initialToken)
	if err != nil {
		return fmt.Errorf("encode initial token: %w", err)
	}
	mask := segmentMask(segmentCount)

	insertQuery := fmt.Sprintf(
		`INSERT INTO %s (processor, segment_id, segment_mask, owner_id, claimed, last_updated, token_data)
		 VALUES (%s, %s, %s, '', %s, %s, %s)`,
		s.table, s.ph(1), s.ph(2), s.ph(3), s.falseLiteral(), s.nowLiteral(4), s.ph(5))
	for i := 0; i < segmentCount; i++ {
		if _, err := tx.ExecContext(ctx, insertQuery, processor, i, mask, time.Now(), tokenData); err != nil {
			return fmt.Errorf("%w: insert segment %d: %v", tokenstore.ErrStoreUnavailable, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", tokenstore.ErrStoreUnavailable, err)
	}
	return nil
}

// segmentMask returns the smallest mask covering segmentCount segments.
func segmentMask(segmentCount int) uint32 {
	if segmentCount <= 1 {
		return 0
	}
	bits := uint32(0)
	for (1 << bits) < segmentCount {
		bits++
	}
	return (1 << bits) - 1
}

// nowLiteral and falseLiteral exist because this store stamps timestamps
// from bound Go values and writes booleans as the SQL literal false
// rather than calling database functions, so every dialect uses the same
// query shape; kept as methods so a future dialect with different column
// types has a seam to override.
func (s *Store) nowLiteral(n int) string { return s.ph(n) }
func (s *Store) falseLiteral() string    { return "false" }

func (s *Store) InitializeSegment(ctx context.Context, processor string, segment psep.Segment, initialToken psep.TrackingToken) error {
	tokenData, err := tokencodec.Encode(initialToken)
	if err != nil {
		return fmt.Errorf("encode initial token: %w", err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (processor, segment_id, segment_mask, owner_id, claimed, last_updated, token_data)
		 VALUES (%s, %s, %s, '', false, %s, %s)`,
		s.table, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	if _, err := s.db.ExecContext(ctx, query, processor, segment.ID, segment.Mask, time.Now(), tokenData); err != nil {
		return fmt.Errorf("%w: %v", tokenstore.ErrUnableToInitialize, err)
	}
	return nil
}

func (s *Store) DeleteSegment(ctx context.Context, processor string, segmentID uint32, ownerID string) error {
	if _, err := s.fetchRow(ctx, processor, segmentID); err != nil {
		return err
	}
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE processor = %s AND segment_id = %s AND owner_id = %s AND claimed = true`,
		s.table, s.ph(1), s.ph(2), s.ph(3))
	res, err := s.db.ExecContext(ctx, query, processor, segmentID, ownerID)
	if err != nil {
		return fmt.Errorf("%w: %v", tokenstore.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", tokenstore.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return tokenstore.ErrUnableToClaim
	}
	return nil
}

func (s *Store) FetchSegments(ctx context.Context, processor string) ([]uint32, error) {
	query := fmt.Sprintf(`SELECT segment_id FROM %s WHERE processor = %s ORDER BY segment_id ASC`, s.table, s.ph(1))
	rows, err := s.db.QueryContext(ctx, query, processor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tokenstore.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var ids []uint32
	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", tokenstore.ErrStoreUnavailable, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", tokenstore.ErrStoreUnavailable, err)
	}
	return ids, nil
}

type segmentRow struct {
	ownerID     string
	claimed     bool
	lastUpdated time.Time
	tokenData   []byte
}

func (s *Store) fetchRow(ctx context.Context, processor string, segmentID uint32) (*segmentRow, error) {
	query := fmt.Sprintf(
		`SELECT owner_id, claimed, last_updated, token_data FROM %s WHERE processor = %s AND segment_id = %s`,
		s.table, s.ph(1), s.ph(2))
	var r segmentRow
	err := s.db.QueryRowContext(ctx, query, processor, segmentID).Scan(&r.ownerID, &r.claimed, &r.lastUpdated, &r.tokenData)
	if err == sql.ErrNoRows {
		return nil, tokenstore.ErrSegmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tokenstore.ErrStoreUnavailable, err)
	}
	return &r, nil
}

func (s *Store) validClaim(r *segmentRow) bool {
	return r.claimed && time.Since(r.lastUpdated) < s.claimTTL
}

// claimRow performs the claim as a single compare-and-set UPDATE: the row
// is only touched if it is unclaimed, already owned by ownerID, or its
// claim has expired, so two owners racing to claim the same segment can
// never both believe they hold it. It reports whether the claim was
// acquired.
func (s *Store) claimRow(ctx context.Context, processor string, segmentID uint32, ownerID string) (bool, error) {
	cutoff := time.Now().Add(-s.claimTTL)
	query := fmt.Sprintf(
		`UPDATE %s SET owner_id = %s, claimed = true, last_updated = %s
		 WHERE processor = %s AND segment_id = %s AND (claimed = false OR owner_id = %s OR last_updated < %s)`,
		s.table, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	res, err := s.db.ExecContext(ctx, query, ownerID, time.Now(), processor, segmentID, ownerID, cutoff)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) FetchToken(ctx context.Context, processor string, segmentID uint32, ownerID string) (psep.TrackingToken, error) {
	if _, err := s.fetchRow(ctx, processor, segmentID); err != nil {
		return nil, err
	}
	claimed, err := s.claimRow(ctx, processor, segmentID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tokenstore.ErrStoreUnavailable, err)
	}
	if !claimed {
		return nil, tokenstore.ErrUnableToClaim
	}
	r, err := s.fetchRow(ctx, processor, segmentID)
	if err != nil {
		return nil, err
	}
	return tokencodec.Decode(r.tokenData)
}

func (s *Store) ExtendClaim(ctx context.Context, processor string, segmentID uint32, ownerID string) error {
	if _, err := s.fetchRow(ctx, processor, segmentID); err != nil {
		return err
	}
	query := fmt.Sprintf(
		`UPDATE %s SET last_updated = %s WHERE processor = %s AND segment_id = %s AND owner_id = %s AND claimed = true`,
		s.table, s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	res, err := s.db.ExecContext(ctx, query, time.Now(), processor, segmentID, ownerID)
	if err != nil {
		return fmt.Errorf("%w: %v", tokenstore.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", tokenstore.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return tokenstore.ErrUnableToClaim
	}
	return nil
}

func (s *Store) StoreToken(ctx context.Context, processor string, segmentID uint32, ownerID string, token psep.TrackingToken) error {
	if _, err := s.fetchRow(ctx, processor, segmentID); err != nil {
		return err
	}
	tokenData, err := tokencodec.Encode(token)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	query := fmt.Sprintf(
		`UPDATE %s SET token_data = %s, last_updated = %s WHERE processor = %s AND segment_id = %s AND owner_id = %s AND claimed = true`,
		s.table, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	res, err := s.db.ExecContext(ctx, query, tokenData, time.Now(), processor, segmentID, ownerID)
	if err != nil {
		return fmt.Errorf("%w: %v", tokenstore.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", tokenstore.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return tokenstore.ErrUnableToClaim
	}
	return nil
}

func (s *Store) ReleaseClaim(ctx context.Context, processor string, segmentID uint32, ownerID string) error {
	query := fmt.Sprintf(
		`UPDATE %s SET claimed = false, owner_id = '' WHERE processor = %s AND segment_id = %s AND owner_id = %s`,
		s.table, s.ph(1), s.ph(2), s.ph(3))
	// Best-effort: releasing a claim you don't hold affects zero rows,
	// which is not an error.
	_, _ = s.db.ExecContext(ctx, query, processor, segmentID, ownerID)
	return nil
}

func (s *Store) RequiresExplicitSegmentInitialization() bool { return true }

func (s *Store) RetrieveStorageIdentifier(ctx context.Context) (string, bool, error) {
	return s.dialect.Name, true, nil
}
