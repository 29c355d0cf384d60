package index

import (
	"sync/atomic"
	"time"
)

// Background is the flush worker loop. Each orchestrator worker goroutine
// runs it; tests may drive it directly on their own goroutine.
//
// Each iteration waits on the storage's wake signal (bounded by the wait
// timeout), returns once exit is set, and otherwise performs one scan pass:
// for every bin it flushes the shard chosen by the selection policy (only
// when persistent storage is configured) and reports statistics.
//
// exit is checked only between passes: a pass that has started always
// completes before the worker returns.
func Background[K comparable, V any](storage *Storage, exit *atomic.Bool, shards []*Shard[K, V]) {
	flush := storage.Persistent()
	for {
		storage.WaitDirtyOrAged()
		if exit.Load() {
			return
		}

		start := time.Now()
		scan(storage, shards, flush)
		storage.scanCompleted(time.Since(start))
	}
}

// scan performs one pass of len(shards) steps. The active-thread counter
// is restored on every exit path, panics included.
func scan[K comparable, V any](storage *Storage, shards []*Shard[K, V], flush bool) {
	storage.stats.enterScan()
	defer storage.stats.exitScan()

	for i := 0; i < len(shards); i++ {
		if flush {
			bin := storage.NextBucketToFlush()
			// Flush errors are logged and counted by the shard; the
			// entries stay dirty and are retried by a later pass.
			_ = shards[bin].Flush()
		}
		storage.ReportStats()
	}
}
