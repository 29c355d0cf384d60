package index

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/shardindex/bucket"
)

type fakeClock struct{ t atomic.Int64 }

func (f *fakeClock) NowUnixNano() int64  { return f.t.Load() }
func (f *fakeClock) add(d time.Duration) { f.t.Add(int64(d)) }

// flakyStore wraps a MemoryStore and fails writes while failing is set
// and reads while readErr is set.
type flakyStore struct {
	*bucket.MemoryStore
	failing atomic.Bool
	writes  atomic.Int64
	readErr atomic.Pointer[error]
}

var errDiskFull = errors.New("disk full")

func (s *flakyStore) Write(ctx context.Context, bin int, recs []bucket.Record) error {
	s.writes.Add(1)
	if s.failing.Load() {
		return errDiskFull
	}
	return s.MemoryStore.Write(ctx, bin, recs)
}

func (s *flakyStore) Read(ctx context.Context, bin int, key []byte) ([]byte, error) {
	if err := s.readErr.Load(); err != nil {
		return nil, *err
	}
	return s.MemoryStore.Read(ctx, bin, key)
}

// countingMetrics records hook invocations.
type countingMetrics struct {
	mu      sync.Mutex
	flushed map[int]int
	failed  int
	scans   int
	reports int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{flushed: make(map[int]int)}
}

func (m *countingMetrics) Flushed(bin, written, _ int, _ time.Duration) {
	m.mu.Lock()
	m.flushed[bin] += written
	m.mu.Unlock()
}

func (m *countingMetrics) FlushFailed(int) {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}

func (m *countingMetrics) ScanCompleted(time.Duration) {
	m.mu.Lock()
	m.scans++
	m.mu.Unlock()
}

func (m *countingMetrics) Report(StatsSnapshot) {
	m.mu.Lock()
	m.reports++
	m.mu.Unlock()
}

// runBackground drives Background on its own goroutine and returns a stop
// function that sets exit, shuts the wake signal and waits for the worker
// to return. The storage is not usable by other workers after stop.
func runBackground[K comparable, V any](t *testing.T, storage *Storage, shards []*Shard[K, V]) (stop func()) {
	t.Helper()
	exit := new(atomic.Bool)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Background(storage, exit, shards)
	}()
	var once sync.Once
	stop = func() {
		once.Do(func() {
			exit.Store(true)
			storage.Shutdown()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("background worker did not exit")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

// newTestShards builds storage and shards without starting any worker.
func newTestShards[K comparable, V any](t *testing.T, bins int, opt *Options[K, V]) (*Storage, []*Shard[K, V]) {
	t.Helper()
	storage, err := NewStorage(bins, opt)
	require.NoError(t, err)
	shards := make([]*Shard[K, V], bins)
	for bin := range shards {
		shards[bin] = NewShard(storage, bin, opt)
	}
	return storage, shards
}
