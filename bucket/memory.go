package bucket

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryStore is an in-memory Store. Values are copied in and out so
// callers may reuse their buffers.
type MemoryStore struct {
	buckets []memBucket
	closed  atomic.Bool
}

type memBucket struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemoryStore creates a MemoryStore with the given number of bins.
func NewMemoryStore(bins int) *MemoryStore {
	if bins < 0 {
		bins = 0
	}
	s := &MemoryStore{buckets: make([]memBucket, bins)}
	for i := range s.buckets {
		s.buckets[i].m = make(map[string][]byte)
	}
	return s
}

// Bins returns the number of buckets.
func (s *MemoryStore) Bins() int { return len(s.buckets) }

// Write upserts recs into bin.
func (s *MemoryStore) Write(ctx context.Context, bin int, recs []Record) error {
	b, err := s.bucket(ctx, bin)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range recs {
		b.m[string(r.Key)] = append([]byte(nil), r.Value...)
	}
	return nil
}

// Read returns a copy of the value for key.
func (s *MemoryStore) Read(ctx context.Context, bin int, key []byte) ([]byte, error) {
	b, err := s.bucket(ctx, bin)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.m[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Delete removes key from bin.
func (s *MemoryStore) Delete(ctx context.Context, bin int, key []byte) error {
	b, err := s.bucket(ctx, bin)
	if err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.m, string(key))
	b.mu.Unlock()
	return nil
}

// Count returns the number of keys in bin (0 for an invalid bin).
func (s *MemoryStore) Count(bin int) int {
	if checkBin(bin, len(s.buckets)) != nil {
		return 0
	}
	b := &s.buckets[bin]
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.m)
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) bucket(ctx context.Context, bin int) (*memBucket, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkBin(bin, len(s.buckets)); err != nil {
		return nil, err
	}
	return &s.buckets[bin], nil
}

var _ Store = (*MemoryStore)(nil)
