package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/IvanBrykalov/shardindex/bucket"
	"github.com/IvanBrykalov/shardindex/internal/util"
	"github.com/IvanBrykalov/shardindex/policy"
)

// Storage is the state shared by the orchestrator, every shard and every
// flush worker: the optional persistent bucket store, the wake signal,
// the flush selection policy and the statistics counters.
//
// A Storage outlives every flush; the orchestrator closes it only after
// all workers have been joined.
type Storage struct {
	bins     int
	disk     bucket.Store // nil => memory-only
	ownsDisk bool

	wake        WaitSignal
	waitTimeout time.Duration

	selector  policy.Selector
	dirty     []util.PaddedAtomicInt64 // per-bin dirty counts
	dirtyWake int64                    // <= 0 disables early wakeups

	limiter *rate.Limiter // nil => unlimited

	stats       Stats
	metrics     Metrics
	logger      *slog.Logger
	clock       Clock
	reportEvery int64

	reportMu   sync.Mutex // held while a caller reports
	reported   bool
	lastReport int64
}

// NewStorage creates the shared storage for bins bins. When opt names a
// BucketDir, the bucket store is opened here and owned by the Storage.
func NewStorage[K comparable, V any](bins int, opt *Options[K, V]) (*Storage, error) {
	if bins < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBins, bins)
	}
	o := opt.withDefaults()

	s := &Storage{
		bins:        bins,
		waitTimeout: o.WaitTimeout,
		dirty:       make([]util.PaddedAtomicInt64, bins),
		dirtyWake:   int64(o.DirtyWakeThreshold),
		metrics:     o.Metrics,
		logger:      o.Logger,
		clock:       o.Clock,
		reportEvery: int64(o.ReportInterval),
	}

	switch {
	case o.Buckets != nil:
		if o.Buckets.Bins() != bins {
			return nil, fmt.Errorf("%w: store has %d, index has %d", ErrBinsMismatch, o.Buckets.Bins(), bins)
		}
		s.disk = o.Buckets
	case o.BucketDir != "":
		fo := o.FileStore
		if fo.Logger == nil {
			fo.Logger = o.Logger
		}
		fs, err := bucket.OpenFileStore(o.BucketDir, bins, fo)
		if err != nil {
			return nil, fmt.Errorf("index: open bucket storage: %w", err)
		}
		s.disk, s.ownsDisk = fs, true
	}

	if o.FlushRateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(o.FlushRateLimit), o.FlushRateLimit)
	}
	s.selector = o.Policy.New(s)
	return s, nil
}

// Bins returns the fixed number of bins.
func (s *Storage) Bins() int { return s.bins }

// Persistent reports whether a persistent bucket store is configured.
func (s *Storage) Persistent() bool { return s.disk != nil }

// Disk returns the persistent bucket store, or nil in memory-only mode.
func (s *Storage) Disk() bucket.Store { return s.disk }

// Stats returns the shared statistics counters.
func (s *Storage) Stats() *Stats { return &s.stats }

// Signal returns the wake signal the flush workers sleep on.
func (s *Storage) Signal() *WaitSignal { return &s.wake }

// WaitDirtyOrAged blocks until the workers are woken or the wait timeout
// elapses. It reports whether a broadcast ended the wait.
func (s *Storage) WaitDirtyOrAged() bool {
	return s.wake.WaitTimeout(s.waitTimeout)
}

// Wake broadcasts the wake signal to every waiting worker.
func (s *Storage) Wake() { s.wake.NotifyAll() }

// Shutdown broadcasts the wake signal and keeps it raised, so workers that
// had not yet started waiting see the shutdown without sleeping first.
func (s *Storage) Shutdown() { s.wake.Close() }

// NextBucketToFlush asks the selection policy for the next bin to flush.
func (s *Storage) NextBucketToFlush() int {
	return s.selector.Next()
}

// Dirty returns the number of dirty entries resident in bin.
// It implements policy.Hooks.
func (s *Storage) Dirty(bin int) int {
	if bin < 0 || bin >= len(s.dirty) {
		return 0
	}
	return int(s.dirty[bin].Load())
}

// ReportStats publishes a statistics snapshot to Metrics and the logger,
// at most once per ReportInterval across all callers. A caller that finds
// another report in progress returns without waiting.
func (s *Storage) ReportStats() {
	if !s.reportMu.TryLock() {
		return
	}
	defer s.reportMu.Unlock()

	now := s.clock.NowUnixNano()
	if s.reported && now-s.lastReport < s.reportEvery {
		return
	}
	s.reported, s.lastReport = true, now
	s.publishStats()
}

func (s *Storage) publishStats() {
	snap := s.stats.Snapshot()
	s.metrics.Report(snap)
	s.logger.Debug("index stats", "stats", snap)
}

// addDirty adjusts the dirty count of bin and wakes the workers when it
// reaches the configured threshold.
func (s *Storage) addDirty(bin int, delta int64) {
	n := s.dirty[bin].Add(delta)
	s.stats.Dirty.Add(delta)
	if delta > 0 && s.dirtyWake > 0 && n == s.dirtyWake {
		s.wake.NotifyAll()
	}
}

// throttle waits until the flush rate limit admits n more entries.
func (s *Storage) throttle(n int) {
	if s.limiter == nil {
		return
	}
	burst := s.limiter.Burst()
	for n > 0 {
		k := min(n, burst)
		// Background never expires, so WaitN only fails for k > burst.
		_ = s.limiter.WaitN(context.Background(), k)
		n -= k
	}
}

// scanCompleted records the end of one worker scan pass.
func (s *Storage) scanCompleted(took time.Duration) {
	s.stats.ScanPasses.Add(1)
	s.metrics.ScanCompleted(took)
}

// Close publishes a final statistics report and closes the bucket store
// if the Storage opened it.
func (s *Storage) Close() error {
	s.publishStats()
	if s.ownsDisk {
		if err := s.disk.Close(); err != nil {
			return fmt.Errorf("index: close bucket storage: %w", err)
		}
	}
	return nil
}

var _ policy.Hooks = (*Storage)(nil)
