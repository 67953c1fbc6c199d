package sqlite

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
	assert.Equal(t, "sqlite", id)
}

func TestDDLIncludesTableName(t *testing.T) {
	config := DefaultTableConfig()
	assert.Contains(t, ddl(config), config.SegmentsTable)
}
