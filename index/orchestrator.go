package index

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/shardindex/internal/util"
)

// Orchestrator owns the shards of a sharded index, the storage they share
// and the background workers that flush them.
//
// Close must be called exactly when the orchestrator is no longer needed,
// typically via defer right after New. Close sets the shutdown flag, wakes
// every sleeping worker, waits for all of them to finish their current
// scan pass, and only then releases the shared storage.
type Orchestrator[K comparable, V any] struct {
	exit    *atomic.Bool
	workers *errgroup.Group
	threads int
	fatal   []error // per worker, written before the worker returns

	storage *Storage
	shards  []*Shard[K, V]
	logger  *slog.Logger
}

// New constructs the storage and bins shards, then starts
// Options.FlushThreads background flush workers.
// Defaults:
//   - nil opt            -> all defaults (see Options)
//   - FlushThreads <= 0  -> DefaultFlushThreads
//
// New fails if bins is negative or the persistent store cannot be opened.
func New[K comparable, V any](bins int, opt *Options[K, V]) (*Orchestrator[K, V], error) {
	if bins < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBins, bins)
	}
	o := opt.withDefaults()

	storage, err := NewStorage(bins, &o)
	if err != nil {
		return nil, err
	}

	shards := make([]*Shard[K, V], bins)
	for bin := range shards {
		shards[bin] = NewShard(storage, bin, &o)
	}

	exit := new(atomic.Bool)
	workers := new(errgroup.Group)
	fatal := make([]error, o.FlushThreads)
	for w := 0; w < o.FlushThreads; w++ {
		workers.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &WorkerPanicError{Worker: w, Value: r, Stack: debug.Stack()}
					fatal[w] = err
				}
			}()
			Background(storage, exit, shards)
			return nil
		})
	}

	o.Logger.Info("index storage started",
		"bins", bins,
		"flush_threads", o.FlushThreads,
		"persistent", storage.Persistent(),
	)
	return &Orchestrator[K, V]{
		exit:    exit,
		workers: workers,
		threads: o.FlushThreads,
		fatal:   fatal,
		storage: storage,
		shards:  shards,
		logger:  o.Logger,
	}, nil
}

// Storage returns the shared storage handle.
func (o *Orchestrator[K, V]) Storage() *Storage { return o.storage }

// Shards returns the shard array, indexed by bin.
func (o *Orchestrator[K, V]) Shards() []*Shard[K, V] { return o.shards }

// Bins returns the fixed number of bins.
func (o *Orchestrator[K, V]) Bins() int { return len(o.shards) }

// Workers returns the number of background flush workers.
func (o *Orchestrator[K, V]) Workers() int { return o.threads }

// ShardFor routes k to the shard of its bin. It returns nil when the
// index has zero bins.
func (o *Orchestrator[K, V]) ShardFor(k K) *Shard[K, V] {
	if len(o.shards) == 0 {
		return nil
	}
	return o.shards[util.BinIndex(util.KeyHash(k), len(o.shards))]
}

// Stats returns a snapshot of the shared statistics.
func (o *Orchestrator[K, V]) Stats() StatsSnapshot { return o.storage.stats.Snapshot() }

// Close stops the background workers and releases the shared storage.
//
// Order: shutdown flag set, wake signal broadcast, every worker joined,
// storage closed. The broadcast stays raised, so a worker that was not yet
// waiting does not sleep out its timeout. Every worker that panicked is
// reported as a *WorkerPanicError. Calls after the first return nil.
func (o *Orchestrator[K, V]) Close() error {
	if !o.exit.CompareAndSwap(false, true) {
		return nil
	}
	start := time.Now()
	o.storage.Shutdown()

	// Wait returns only the first error; fatal holds all of them.
	_ = o.workers.Wait()
	var errs []error
	for _, err := range o.fatal {
		if err != nil {
			o.logger.Error("flush worker terminated abnormally", "err", err)
			errs = append(errs, err)
		}
	}
	err := errors.Join(append(errs, o.storage.Close())...)

	o.logger.Info("index storage stopped",
		"flush_threads", o.threads,
		"elapsed", time.Since(start),
	)
	return err
}
