package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pooledstream/psep"
	"github.com/pooledstream/psep/tokenstore"
)

func TestInitializeTokenSegments(t *testing.T) {
	ctx := context.Background()
	s := New(time.Second)

	err := s.InitializeTokenSegments(ctx, "proc", 4, psep.NewGlobalSequenceToken(0))
	require.NoError(t, err)

	ids, err := s.FetchSegments(ctx, "proc")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 3}, ids)

	err = s.InitializeTokenSegments(ctx, "proc", 4, psep.NewGlobalSequenceToken(0))
	assert.ErrorIs(t, err, tokenstore.ErrUnableToInitialize)
}

func TestFetchTokenClaimsAndExcludesOthers(t *testing.T) {
	ctx := context.Background()
	s := New(time.Minute)
	require.NoError(t, s.InitializeTokenSegments(ctx, "proc", 1, psep.NewGlobalSequenceToken(0)))

	tok, err := s.FetchToken(ctx, "proc", 0, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, psep.NewGlobalSequenceToken(0), tok)

	_, err = s.FetchToken(ctx, "proc", 0, "owner-b")
	assert.ErrorIs(t, err, tokenstore.ErrUnableToClaim)

	_, err = s.FetchToken(ctx, "proc", 0, "owner-a")
	require.NoError(t, err)
}

func TestClaimExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	s := New(10 * time.Millisecond)
	require.NoError(t, s.InitializeTokenSegments(ctx, "proc", 1, psep.NewGlobalSequenceToken(0)))

	_, err := s.FetchToken(ctx, "proc", 0, "owner-a")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = s.FetchToken(ctx, "proc", 0, "owner-b")
	require.NoError(t, err)
}

func TestExtendClaimRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	s := New(time.Minute)
	require.NoError(t, s.InitializeTokenSegments(ctx, "proc", 1, psep.NewGlobalSequenceToken(0)))
	_, err := s.FetchToken(ctx, "proc", 0, "owner-a")
	require.NoError(t, err)

	require.NoError(t, s.ExtendClaim(ctx, "proc", 0, "owner-a"))
	assert.ErrorIs(t, s.ExtendClaim(ctx, "proc", 0, "owner-b"), tokenstore.ErrUnableToClaim)
}

func TestStoreTokenRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	s := New(time.Minute)
	require.NoError(t, s.InitializeTokenSegments(ctx, "proc", 1, psep.NewGlobalSequenceToken(0)))
	_, err := s.FetchToken(ctx, "proc", 0, "owner-a")
	require.NoError(t, err)

	require.NoError(t, s.StoreToken(ctx, "proc", 0, "owner-a", psep.NewGlobalSequenceToken(42)))
	assert.ErrorIs(t, s.StoreToken(ctx, "proc", 0, "owner-b", psep.NewGlobalSequenceToken(43)), tokenstore.ErrUnableToClaim)

	tok, err := s.FetchToken(ctx, "proc", 0, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, psep.NewGlobalSequenceToken(42), tok)
}

func TestReleaseClaimAllowsOtherOwner(t *testing.T) {
	ctx := context.Background()
	s := New(time.Minute)
	require.NoError(t, s.InitializeTokenSegments(ctx, "proc", 1, psep.NewGlobalSequenceToken(0)))
	_, err := s.FetchToken(ctx, "proc", 0, "owner-a")
	require.NoError(t, err)

	require.NoError(t, s.ReleaseClaim(ctx, "proc", 0, "owner-a"))
	// Releasing a claim you don't hold is a no-op, never an error.
	require.NoError(t, s.ReleaseClaim(ctx, "proc", 0, "owner-a"))

	_, err = s.FetchToken(ctx, "proc", 0, "owner-b")
	require.NoError(t, err)
}

func TestInitializeAndDeleteSegment(t *testing.T) {
	ctx := context.Background()
	s := New(time.Minute)
	require.NoError(t, s.InitializeSegment(ctx, "proc", psep.Segment{ID: 0, Mask: 1}, psep.NewGlobalSequenceToken(0)))
	require.NoError(t, s.InitializeSegment(ctx, "proc", psep.Segment{ID: 1, Mask: 1}, psep.NewGlobalSequenceToken(0)))

	err := s.InitializeSegment(ctx, "proc", psep.Segment{ID: 0, Mask: 1}, psep.NewGlobalSequenceToken(0))
	assert.ErrorIs(t, err, tokenstore.ErrUnableToInitialize)

	_, err = s.FetchToken(ctx, "proc", 1, "owner-a")
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteSegment(ctx, "proc", 1, "owner-b"), tokenstore.ErrUnableToClaim)
	require.NoError(t, s.DeleteSegment(ctx, "proc", 1, "owner-a"))

	ids, err := s.FetchSegments(ctx, "proc")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, ids)
}

func TestUnknownSegmentReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := New(time.Minute)
	_, err := s.FetchToken(ctx, "proc", 99, "owner-a")
	assert.ErrorIs(t, err, tokenstore.ErrSegmentNotFound)
}

func TestRequiresExplicitSegmentInitialization(t *testing.T) {
	s := New(time.Minute)
	assert.True(t, s.RequiresExplicitSegmentInitialization())
}

func TestRetrieveStorageIdentifier(t *testing.T) {
	s := New(time.Minute)
	id, ok, err := s.RetrieveStorageIdentifier(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "memory", id)
}
