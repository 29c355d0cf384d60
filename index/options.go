package index

import (
	"log/slog"
	"time"

	"github.com/IvanBrykalov/shardindex/bucket"
	"github.com/IvanBrykalov/shardindex/policy"
	"github.com/IvanBrykalov/shardindex/policy/roundrobin"
)

const (
	// DefaultFlushThreads is the number of background flush workers when
	// Options.FlushThreads is not set.
	DefaultFlushThreads = 1
	// DefaultWaitTimeout bounds how long an idle flush worker sleeps before
	// re-checking for shutdown and scanning again.
	DefaultWaitTimeout = 10 * time.Second
	// DefaultAgeThreshold is how long an entry may stay untouched in memory
	// before a flush moves it out.
	DefaultAgeThreshold = 30 * time.Second
	// DefaultDirtyWakeThreshold is the per-bin dirty count that wakes the
	// flush workers early.
	DefaultDirtyWakeThreshold = 1024
	// DefaultReportInterval throttles statistics publication.
	DefaultReportInterval = time.Second
)

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

type realClock struct{}

func (realClock) NowUnixNano() int64 { return time.Now().UnixNano() }

// Options configures the index storage. Zero values are safe;
// defaults are applied in New():
//   - FlushThreads <= 0    => DefaultFlushThreads
//   - nil Buckets and ""   => memory-only (no flushing)
//   - nil Policy           => round-robin bin selection
//   - nil Codec            => StringCodec when K=string,V=[]byte, JSONCodec otherwise
//   - nil Metrics          => NoopMetrics
//   - nil Logger           => discard
type Options[K comparable, V any] struct {
	// FlushThreads is the number of background flush workers.
	FlushThreads int

	// WaitTimeout bounds an idle worker's wait on the wake signal.
	// A broadcast wakes workers earlier; the timeout keeps them live when
	// a broadcast is missed.
	WaitTimeout time.Duration

	// AgeThreshold: entries untouched for longer than this are written
	// (if dirty) and dropped from memory by the next flush of their bin.
	// 0 => DefaultAgeThreshold; negative keeps entries resident forever.
	AgeThreshold time.Duration

	// DirtyWakeThreshold wakes the workers as soon as a bin accumulates
	// this many dirty entries. 0 => DefaultDirtyWakeThreshold; negative disables.
	DirtyWakeThreshold int

	// ReportInterval is the minimum gap between two statistics reports.
	ReportInterval time.Duration

	// FlushRateLimit caps flushed entries per second across all workers
	// (0 = unlimited).
	FlushRateLimit int

	// Persistent storage. Buckets takes precedence over BucketDir.
	// A store passed in Buckets is not closed by the index; a store opened
	// from BucketDir is.
	Buckets   bucket.Store
	BucketDir string
	FileStore bucket.FileOptions

	// Policy selects the next bin to flush.
	Policy policy.Policy

	// Codec serializes entries for persistent storage.
	Codec Codec[K, V]

	// Observability
	Metrics Metrics
	Logger  *slog.Logger

	// Clock allows overriding the time source used for ageing (tests). Nil => time.Now().
	Clock Clock
}

// withDefaults returns a copy of opt (nil-safe) with defaults filled in.
func (opt *Options[K, V]) withDefaults() Options[K, V] {
	var o Options[K, V]
	if opt != nil {
		o = *opt
	}
	if o.FlushThreads <= 0 {
		o.FlushThreads = DefaultFlushThreads
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	if o.AgeThreshold == 0 {
		o.AgeThreshold = DefaultAgeThreshold
	}
	if o.DirtyWakeThreshold == 0 {
		o.DirtyWakeThreshold = DefaultDirtyWakeThreshold
	}
	if o.ReportInterval <= 0 {
		o.ReportInterval = DefaultReportInterval
	}
	if o.Policy == nil {
		o.Policy = roundrobin.New()
	}
	if o.Codec == nil {
		o.Codec = defaultCodec[K, V]()
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	return o
}
