package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/clock"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/idempotency"
)

// DefaultRetention is how long a stored response stays replayable.
const DefaultRetention = 24 * time.Hour

// Store is an in-memory implementation of idempotency.Store.
// It is safe for concurrent use. Expired records are pruned lazily on Put.
type Store struct {
	clk       clock.Clock
	retention time.Duration

	mu sync.RWMutex
	m  map[idempotency.Fingerprint]idempotency.Record
}

// NewStore returns a store that keeps records for retention. A non-positive
// retention uses DefaultRetention.
func NewStore(clk clock.Clock, retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		clk:       clk,
		retention: retention,
		m:         make(map[idempotency.Fingerprint]idempotency.Record),
	}
}

func (s *Store) Get(ctx context.Context, fp idempotency.Fingerprint) (idempotency.Record, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.m[fp]
	if !ok || s.expired(rec, s.clk.Now()) {
		return idempotency.Record{}, false, nil
	}
	rec.Body = append([]byte(nil), rec.Body...)
	return rec, true, nil
}

func (s *Store) Put(ctx context.Context, fp idempotency.Fingerprint, rec idempotency.Record) error {
	_ = ctx
	now := s.clk.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.Body = append([]byte(nil), rec.Body...)

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.m {
		if s.expired(r, now) {
			delete(s.m, k)
		}
	}
	s.m[fp] = rec
	return nil
}

// Len reports the number of records held, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *Store) expired(rec idempotency.Record, now time.Time) bool {
	return !now.Before(rec.CreatedAt.Add(s.retention))
}
