package tokenstore

import (
	"context"
	"sync"

	"github.com/pooledstream/psep"
)

// MockTokenStore is a configurable TokenStore for use in tests. It
// allows setting up return values per method, tracking calls, and
// injecting errors for testing error paths — the same shape as the rest
// of this module's mocks.
type MockTokenStore struct {
	mu sync.Mutex

	InitializeTokenSegmentsFunc func(ctx context.Context, processor string, segmentCount int, initialToken psep.TrackingToken) error
	InitializeSegmentFunc       func(ctx context.Context, processor string, segment psep.Segment, initialToken psep.TrackingToken) error
	DeleteSegmentFunc           func(ctx context.Context, processor string, segmentID uint32, ownerID string) error
	FetchSegmentsFunc           func(ctx context.Context, processor string) ([]uint32, error)
	FetchTokenFunc              func(ctx context.Context, processor string, segmentID uint32, ownerID string) (psep.TrackingToken, error)
	ExtendClaimFunc             func(ctx context.Context, processor string, segmentID uint32, ownerID string) error
	StoreTokenFunc              func(ctx context.Context, processor string, segmentID uint32, ownerID string, token psep.TrackingToken) error
	ReleaseClaimFunc            func(ctx context.Context, processor string, segmentID uint32, ownerID string) error
	RequiresExplicitFunc        func() bool
	RetrieveStorageIDFunc       func(ctx context.Context) (string, bool, error)

	ExtendClaimCalls []ExtendClaimCall
	StoreTokenCalls  []StoreTokenCall
	FetchTokenCalls  []FetchTokenCall
}

type ExtendClaimCall struct {
	SegmentID uint32
	OwnerID   string
}

type StoreTokenCall struct {
	SegmentID uint32
	OwnerID   string
	Token     psep.TrackingToken
}

type FetchTokenCall struct {
	SegmentID uint32
	OwnerID   string
}

var _ TokenStore = (*MockTokenStore)(nil)

func NewMockTokenStore() *MockTokenStore { return &MockTokenStore{} }

func (m *MockTokenStore) InitializeTokenSegments(ctx context.Context, processor string, segmentCount int, initialToken psep.TrackingToken) error {
	if m.InitializeTokenSegmentsFunc != nil {
		return m.InitializeTokenSegmentsFunc(ctx, processor, segmentCount, initialToken)
	}
	return nil
}

func (m *MockTokenStore) InitializeSegment(ctx context.Context, processor string, segment psep.Segment, initialToken psep.TrackingToken) error {
	if m.InitializeSegmentFunc != nil {
		return m.InitializeSegmentFunc(ctx, processor, segment, initialToken)
	}
	return nil
}

func (m *MockTokenStore) DeleteSegment(ctx context.Context, processor string, segmentID uint32, ownerID string) error {
	if m.DeleteSegmentFunc != nil {
		return m.DeleteSegmentFunc(ctx, processor, segmentID, ownerID)
	}
	return nil
}

func (m *MockTokenStore) FetchSegments(ctx context.Context, processor string) ([]uint32, error) {
	if m.FetchSegmentsFunc != nil {
		return m.FetchSegmentsFunc(ctx, processor)
	}
	return nil, nil
}

func (m *MockTokenStore) FetchToken(ctx context.Context, processor string, segmentID uint32, ownerID string) (psep.TrackingToken, error) {
	m.mu.Lock()
	m.FetchTokenCalls = append(m.FetchTokenCalls, FetchTokenCall{SegmentID: segmentID, OwnerID: ownerID})
	m.mu.Unlock()

	if m.FetchTokenFunc != nil {
		return m.FetchTokenFunc(ctx, processor, segmentID, ownerID)
	}
	return nil, nil
}

func (m *MockTokenStore) ExtendClaim(ctx context.Context, processor string, segmentID uint32, ownerID string) error {
	m.mu.Lock()
	m.ExtendClaimCalls = append(m.ExtendClaimCalls, ExtendClaimCall{SegmentID: segmentID, OwnerID: ownerID})
	m.mu.Unlock()

	if m.ExtendClaimFunc != nil {
		return m.ExtendClaimFunc(ctx, processor, segmentID, ownerID)
	}
	return nil
}

func (m *MockTokenStore) StoreToken(ctx context.Context, processor string, segmentID uint32, ownerID string, token psep.TrackingToken) error {
	m.mu.Lock()
	m.StoreTokenCalls = append(m.StoreTokenCalls, StoreTokenCall{SegmentID: segmentID, OwnerID: ownerID, Token: token})
	m.mu.Unlock()

	if m.StoreTokenFunc != nil {
		return m.StoreTokenFunc(ctx, processor, segmentID, ownerID, token)
	}
	return nil
}

func (m *MockTokenStore) ReleaseClaim(ctx context.Context, processor string, segmentID uint32, ownerID string) error {
	if m.ReleaseClaimFunc != nil {
		return m.ReleaseClaimFunc(ctx, processor, segmentID, ownerID)
	}
	return nil
}

func (m *MockTokenStore) RequiresExplicitSegmentInitialization() bool {
	if m.RequiresExplicitFunc != nil {
		return m.RequiresExplicitFunc()
	}
	return false
}

func (m *MockTokenStore) RetrieveStorageIdentifier(ctx context.Context) (string, bool, error) {
	if m.RetrieveStorageIDFunc != nil {
		return m.RetrieveStorageIDFunc(ctx)
	}
	return "", false, nil
}

// Reset clears all call-tracking data.
func (m *MockTokenStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExtendClaimCalls = nil
	m.StoreTokenCalls = nil
	m.FetchTokenCalls = nil
}
