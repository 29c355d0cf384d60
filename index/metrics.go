package index

import "time"

// Metrics exposes flush-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
// Hooks are called from flush workers concurrently and must be safe for
// concurrent use.
type Metrics interface {
	// Flushed is called after a successful flush of bin that wrote
	// written entries and evicted evicted entries from memory.
	Flushed(bin, written, evicted int, took time.Duration)
	// FlushFailed is called when writing a bin to persistent storage failed.
	FlushFailed(bin int)
	// ScanCompleted is called once per worker scan pass over all bins.
	ScanCompleted(took time.Duration)
	// Report receives a throttled snapshot of the shared statistics.
	Report(s StatsSnapshot)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Flushed(int, int, int, time.Duration) {}
func (NoopMetrics) FlushFailed(int)                      {}
func (NoopMetrics) ScanCompleted(time.Duration)          {}
func (NoopMetrics) Report(StatsSnapshot)                 {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}
