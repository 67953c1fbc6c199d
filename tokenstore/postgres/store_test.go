package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewReportsDialectAsStorageIdentifier(t *testing.T) {
	s := New(nil, time.Second)
	id, ok, err := s.RetrieveStorageIdentifier(nil)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "postgres", id)
}

func TestNewWithConfigRequiresExplicitSegmentInitialization(t *testing.T) {
	config := TableConfig{SegmentsTable: "custom_psep_segments"}
	s := NewWithConfig(nil, config, time.Second)
	assert.True(t, s.RequiresExplicitSegmentInitialization())
}

func TestDDLIncludesTableName(t *testing.T) {
	config := DefaultTableConfig()
	assert.Contains(t, ddl(config), config.SegmentsTable)
}
