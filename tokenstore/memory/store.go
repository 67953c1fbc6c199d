// Package memory provides an in-memory TokenStore, useful for tests and
// single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pooledstream/psep"
	"github.com/pooledstream/psep/tokenstore"
)

type row struct {
	segment     psep.Segment
	token       psep.TrackingToken
	ownerID     string
	lastUpdated time.Time
	claimed     bool
}

// Store is a thread-safe, in-memory TokenStore implementation. It treats
// segment IDs as always requiring explicit initialization, matching
// stores that materialize one row per segment.
type Store struct {
	mu          sync.Mutex
	claimTTL    time.Duration
	identifier  string
	byProcessor map[string]map[uint32]*row
}

// New creates an in-memory store. claimTTL is the duration after which
// an unrefreshed claim is considered expired and claimable by another
// owner.
func New(claimTTL time.Duration) *Store {
	if claimTTL <= 0 {
		claimTTL = 10 * time.Second
	}
	return &Store{
		claimTTL:    claimTTL,
		identifier:  "memory",
		byProcessor: make(map[string]map[uint32]*row),
	}
}

var _ tokenstore.TokenStore = (*Store)(nil)

func (s *Store) InitializeTokenSegments(ctx context.Context, processor string, segmentCount int, initialToken psep.TrackingToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byProcessor[processor]; exists && len(s.byProcessor[processor]) > 0 {
		return tokenstore.ErrUnableToInitialize
	}

	segs := make(map[uint32]*row, segmentCount)
	for i := 0; i < segmentCount; i++ {
		id := uint32(i)
		segs[id] = &row{
			segment: psep.Segment{ID: id, Mask: segmentMask(segmentCount)},
			token:   initialToken,
		}
	}
	s.byProcessor[processor] = segs
	return nil
}

// segmentMask returns the smallest mask covering segmentCount segments,
// e.g. 8 segments -> mask 0x7.
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

func (s *Store) InitializeSegment(ctx context.Context, processor string, segment psep.Segment, initialToken psep.TrackingToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	segs, ok := s.byProcessor[processor]
	if !ok {
		segs = make(map[uint32]*row)
		s.byProcessor[processor] = segs
	}
	if _, exists := segs[segment.ID]; exists {
		return tokenstore.ErrUnableToInitialize
	}
	segs[segment.ID] = &row{segment: segment, token: initialToken}
	return nil
}

func (s *Store) DeleteSegment(ctx context.Context, processor string, segmentID uint32, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	segs, ok := s.byProcessor[processor]
	if !ok {
		return tokenstore.ErrSegmentNotFound
	}
	r, ok := segs[segmentID]
	if !ok {
		return tokenstore.ErrSegmentNotFound
	}
	if !s.validClaim(r) || r.ownerID != ownerID {
		return tokenstore.ErrUnableToClaim
	}
	delete(segs, segmentID)
	return nil
}

func (s *Store) FetchSegments(ctx context.Context, processor string) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	segs := s.byProcessor[processor]
	ids := make([]uint32, 0, len(segs))
	for id := range segs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) validClaim(r *row) bool {
	return r.claimed && time.Since(r.lastUpdated) < s.claimTTL
}

func (s *Store) FetchToken(ctx context.Context, processor string, segmentID uint32, ownerID string) (psep.TrackingToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.get(processor, segmentID)
	if err != nil {
		return nil, err
	}
	if s.validClaim(r) && r.ownerID != ownerID {
		return nil, tokenstore.ErrUnableToClaim
	}

	r.claimed = true
	r.ownerID = ownerID
	r.lastUpdated = time.Now()
	return r.token, nil
}

func (s *Store) ExtendClaim(ctx context.Context, processor string, segmentID uint32, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.get(processor, segmentID)
	if err != nil {
		return err
	}
	if !r.claimed || r.ownerID != ownerID {
		return tokenstore.ErrUnableToClaim
	}
	r.lastUpdated = time.Now()
	return nil
}

func (s *Store) StoreToken(ctx context.Context, processor string, segmentID uint32, ownerID string, token psep.TrackingToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.get(processor, segmentID)
	if err != nil {
		return err
	}
	if !r.claimed || r.ownerID != ownerID {
		return tokenstore.ErrUnableToClaim
	}
	r.token = token
	r.lastUpdated = time.Now()
	return nil
}

func (s *Store) ReleaseClaim(ctx context.Context, processor string, segmentID uint32, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.get(processor, segmentID)
	if err != nil {
		return nil
	}
	if r.claimed && r.ownerID == ownerID {
		r.claimed = false
		r.ownerID = ""
	}
	return nil
}

func (s *Store) RequiresExplicitSegmentInitialization() bool { return true }

func (s *Store) RetrieveStorageIdentifier(ctx context.Context) (string, bool, error) {
	return s.identifier, true, nil
}

func (s *Store) get(processor string, segmentID uint32) (*row, error) {
	segs, ok := s.byProcessor[processor]
	if !ok {
		return nil, tokenstore.ErrSegmentNotFound
	}
	r, ok := segs[segmentID]
	if !ok {
		return nil, tokenstore.ErrSegmentNotFound
	}
	return r, nil
}
