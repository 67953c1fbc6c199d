package psep

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegmentSplitProducesDisjointSiblings(t *testing.T) {
	s := NewSegment(0)
	lower, upper := s.Split()

	assert.Equal(t, uint32(0), lower.ID)
	assert.Equal(t, uint32(1), upper.ID)
	assert.Equal(t, lower.Mask, upper.Mask)

	for hash := uint32(0); hash < 64; hash++ {
		matchesLower := lower.Matches(hash)
		matchesUpper := upper.Matches(hash)
		assert.NotEqual(t, matchesLower, matchesUpper, "hash %d must route to exactly one sibling", hash)
	}
}

func TestSegmentSplitIsRepeatable(t *testing.T) {
	s := NewSegment(0)
	_, upper := s.Split()
	lowerLower, lowerUpper := upper.Split()

	assert.NotEqual(t, lowerLower.ID, lowerUpper.ID)
	assert.Greater(t, lowerLower.Mask, upper.Mask)
}

func TestSegmentMergeTargetReversesSplit(t *testing.T) {
	s := NewSegment(0)
	lower, upper := s.Split()

	merged, siblingID, ok := lower.MergeTarget()
	assert.True(t, ok)
	assert.Equal(t, upper.ID, siblingID)
	assert.Equal(t, s, merged)
}

func TestSegmentMergeTargetFailsOnRootSegment(t *testing.T) {
	s := NewSegment(0)
	_, _, ok := s.MergeTarget()
	assert.False(t, ok)
}

func TestGlobalSequenceTokenCovers(t *testing.T) {
	a := NewGlobalSequenceToken(5)
	b := NewGlobalSequenceToken(3)

	assert.True(t, a.Covers(b))
	assert.False(t, b.Covers(a))
}

func TestReplayTokenAdvanceCompletesIntoPlainToken(t *testing.T) {
	start := NewGlobalSequenceToken(10)
	replay := NewReplayToken(start, NewGlobalSequenceToken(0))

	mid := replay.Advance(NewGlobalSequenceToken(5))
	assert.True(t, IsReplayToken(mid))

	done := mid.(*ReplayToken).Advance(NewGlobalSequenceToken(10))
	assert.False(t, IsReplayToken(done))
	pos, ok := done.Position()
	assert.True(t, ok)
	assert.Equal(t, int64(10), pos)
}

func TestReplayTokenNilCurrentTokenIsSafe(t *testing.T) {
	var rt *ReplayToken
	_, ok := rt.Position()
	assert.False(t, ok)
	assert.False(t, rt.Covers(NewGlobalSequenceToken(0)))
}
