package index

import (
	"log/slog"
	"sync/atomic"

	"github.com/IvanBrykalov/shardindex/internal/util"
)

// Stats holds the counters shared by every flush worker and shard.
// All fields are updated with atomic operations only.
type Stats struct {
	// ActiveThreads is the number of workers currently in a scan pass.
	// It stays within [0, FlushThreads].
	ActiveThreads atomic.Int64
	// PeakActiveThreads is the highest ActiveThreads value observed.
	PeakActiveThreads atomic.Int64

	_ util.CacheLinePad

	ScanPasses     atomic.Uint64
	FlushCalls     atomic.Uint64
	FlushedEntries atomic.Uint64
	EvictedEntries atomic.Uint64
	FlushErrors    atomic.Uint64
	LoadedEntries  atomic.Uint64

	_ util.CacheLinePad

	// Resident and Dirty track entries held in memory across all bins.
	Resident atomic.Int64
	Dirty    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	ActiveThreads     int64
	PeakActiveThreads int64
	ScanPasses        uint64
	FlushCalls        uint64
	FlushedEntries    uint64
	EvictedEntries    uint64
	FlushErrors       uint64
	LoadedEntries     uint64
	Resident          int64
	Dirty             int64
}

// enterScan marks a worker as mid-scan and records the peak.
func (s *Stats) enterScan() {
	n := s.ActiveThreads.Add(1)
	for {
		peak := s.PeakActiveThreads.Load()
		if n <= peak || s.PeakActiveThreads.CompareAndSwap(peak, n) {
			return
		}
	}
}

// exitScan marks a worker as no longer mid-scan. It runs even when the
// pass was cut short by a panic.
func (s *Stats) exitScan() {
	s.ActiveThreads.Add(-1)
}

// Snapshot copies the counters. Fields are loaded one at a time, so the
// snapshot is not atomic across fields.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		ActiveThreads:     s.ActiveThreads.Load(),
		PeakActiveThreads: s.PeakActiveThreads.Load(),
		ScanPasses:        s.ScanPasses.Load(),
		FlushCalls:        s.FlushCalls.Load(),
		FlushedEntries:    s.FlushedEntries.Load(),
		EvictedEntries:    s.EvictedEntries.Load(),
		FlushErrors:       s.FlushErrors.Load(),
		LoadedEntries:     s.LoadedEntries.Load(),
		Resident:          s.Resident.Load(),
		Dirty:             s.Dirty.Load(),
	}
}

// LogValue implements slog.LogValuer.
func (s StatsSnapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("active_threads", s.ActiveThreads),
		slog.Uint64("scan_passes", s.ScanPasses),
		slog.Uint64("flush_calls", s.FlushCalls),
		slog.Uint64("flushed", s.FlushedEntries),
		slog.Uint64("evicted", s.EvictedEntries),
		slog.Uint64("flush_errors", s.FlushErrors),
		slog.Uint64("loaded", s.LoadedEntries),
		slog.Int64("resident", s.Resident),
		slog.Int64("dirty", s.Dirty),
	)
}
