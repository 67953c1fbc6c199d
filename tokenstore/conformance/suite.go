// Package conformance exercises the TokenStore contract against any
// implementation, so the memory, postgres, mysql and sqlite packages can
// each prove they satisfy the same claim-and-token semantics with one
// shared test body.
package conformance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pooledstream/psep"
	"github.com/pooledstream/psep/tokenstore"
)

// Factory builds a fresh, empty TokenStore for one test case, plus a
// cleanup function the caller must run when done with it.
type Factory func(t *testing.T, claimTTL time.Duration) (store tokenstore.TokenStore, cleanup func())

// RunConformanceSuite runs every conformance test against stores built
// by newStore. Backends are expected to pass the full suite; if one
// requires a narrower claimTTL than the default to keep runtime
// reasonable (a real database round trip is slower than an in-memory
// map), pass it through newStore.
func RunConformanceSuite(t *testing.T, newStore Factory) {
	t.Run("InitializeTokenSegments", func(t *testing.T) { testInitialize(t, newStore) })
	t.Run("FetchTokenClaims", func(t *testing.T) { testFetchTokenClaims(t, newStore) })
	t.Run("ClaimExpires", func(t *testing.T) { testClaimExpires(t, newStore) })
	t.Run("ExtendClaim", func(t *testing.T) { testExtendClaim(t, newStore) })
	t.Run("StoreToken", func(t *testing.T) { testStoreToken(t, newStore) })
	t.Run("ReleaseClaim", func(t *testing.T) { testReleaseClaim(t, newStore) })
	t.Run("SplitAndMergeLifecycle", func(t *testing.T) { testSplitMerge(t, newStore) })
	t.Run("UnknownSegment", func(t *testing.T) { testUnknownSegment(t, newStore) })
}

func testInitialize(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t, time.Minute)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.InitializeTokenSegments(ctx, "proc", 4, psep.NewGlobalSequenceToken(0)))

	ids, err := store.FetchSegments(ctx, "proc")
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{0, 1, 2, 3}, ids)

	err = store.InitializeTokenSegments(ctx, "proc", 4, psep.NewGlobalSequenceToken(0))
	assert.ErrorIs(t, err, tokenstore.ErrUnableToInitialize)
}

func testFetchTokenClaims(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t, time.Minute)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, store.InitializeTokenSegments(ctx, "proc", 1, psep.NewGlobalSequenceToken(7)))

	tok, err := store.FetchToken(ctx, "proc", 0, "owner-a")
	require.NoError(t, err)
	pos, ok := tok.Position()
	require.True(t, ok)
	assert.Equal(t, int64(7), pos)

	_, err = store.FetchToken(ctx, "proc", 0, "owner-b")
	assert.ErrorIs(t, err, tokenstore.ErrUnableToClaim)
}

func testClaimExpires(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t, 20*time.Millisecond)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, store.InitializeTokenSegments(ctx, "proc", 1, psep.NewGlobalSequenceToken(0)))

	_, err := store.FetchToken(ctx, "proc", 0, "owner-a")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, err = store.FetchToken(ctx, "proc", 0, "owner-b")
	assert.NoError(t, err)
}

func testExtendClaim(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t, time.Minute)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, store.InitializeTokenSegments(ctx, "proc", 1, psep.NewGlobalSequenceToken(0)))
	_, err := store.FetchToken(ctx, "proc", 0, "owner-a")
	require.NoError(t, err)

	assert.NoError(t, store.ExtendClaim(ctx, "proc", 0, "owner-a"))
	assert.ErrorIs(t, store.ExtendClaim(ctx, "proc", 0, "owner-b"), tokenstore.ErrUnableToClaim)
}

func testStoreToken(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t, time.Minute)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, store.InitializeTokenSegments(ctx, "proc", 1, psep.NewGlobalSequenceToken(0)))
	_, err := store.FetchToken(ctx, "proc", 0, "owner-a")
	require.NoError(t, err)

	require.NoError(t, store.StoreToken(ctx, "proc", 0, "owner-a", psep.NewGlobalSequenceToken(99)))
	assert.ErrorIs(t, store.StoreToken(ctx, "proc", 0, "owner-b", psep.NewGlobalSequenceToken(100)), tokenstore.ErrUnableToClaim)

	tok, err := store.FetchToken(ctx, "proc", 0, "owner-a")
	require.NoError(t, err)
	pos, _ := tok.Position()
	assert.Equal(t, int64(99), pos)
}

func testReleaseClaim(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t, time.Minute)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, store.InitializeTokenSegments(ctx, "proc", 1, psep.NewGlobalSequenceToken(0)))
	_, err := store.FetchToken(ctx, "proc", 0, "owner-a")
	require.NoError(t, err)

	require.NoError(t, store.ReleaseClaim(ctx, "proc", 0, "owner-a"))
	require.NoError(t, store.ReleaseClaim(ctx, "proc", 0, "owner-a")) // no-op, never errors

	_, err = store.FetchToken(ctx, "proc", 0, "owner-b")
	assert.NoError(t, err)
}

func testSplitMerge(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t, time.Minute)
	defer cleanup()
	ctx := context.Background()

	if !store.RequiresExplicitSegmentInitialization() {
		t.Skip("store derives segments implicitly; split/merge initialization is a no-op")
	}

	whole := psep.NewSegment(0)
	require.NoError(t, store.InitializeSegment(ctx, "proc", whole, psep.NewGlobalSequenceToken(5)))

	lower, upper := whole.Split()
	require.NoError(t, store.InitializeSegment(ctx, "proc", upper, psep.NewGlobalSequenceToken(5)))
	err := store.InitializeSegment(ctx, "proc", lower, psep.NewGlobalSequenceToken(5))
	assert.ErrorIs(t, err, tokenstore.ErrUnableToInitialize)

	ids, err := store.FetchSegments(ctx, "proc")
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{lower.ID, upper.ID}, ids)

	_, err = store.FetchToken(ctx, "proc", upper.ID, "owner-a")
	require.NoError(t, err)
	require.NoError(t, store.DeleteSegment(ctx, "proc", upper.ID, "owner-a"))

	ids, err = store.FetchSegments(ctx, "proc")
	require.NoError(t, err)
	assert.Equal(t, []uint32{lower.ID}, ids)
}

func testUnknownSegment(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t, time.Minute)
	defer cleanup()
	ctx := context.Background()

	_, err := store.FetchToken(ctx, "proc", 999, "owner-a")
	assert.Error(t, err)
}
