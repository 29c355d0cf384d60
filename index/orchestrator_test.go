package index

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/shardindex/bucket"
)

// Constructing with B bins yields exactly B shards, each bound to its bin.
func TestOrchestrator_ShardCount(t *testing.T) {
	t.Parallel()

	for _, bins := range []int{0, 1, 4, 17} {
		o, err := New[string, []byte](bins, &Options[string, []byte]{WaitTimeout: 10 * time.Millisecond})
		require.NoError(t, err)

		require.Len(t, o.Shards(), bins)
		assert.Equal(t, bins, o.Bins())
		assert.Equal(t, bins, o.Storage().Bins())
		for i, s := range o.Shards() {
			assert.Equal(t, i, s.Bin())
		}
		require.NoError(t, o.Close())
	}
}

// N configured workers are all running: each of them ends up waiting on the signal.
func TestOrchestrator_WorkerCount(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 5} {
		o, err := New[string, []byte](4, &Options[string, []byte]{FlushThreads: n})
		require.NoError(t, err)

		assert.Equal(t, n, o.Workers())
		require.Eventually(t, func() bool { return o.Storage().Signal().Waiters() == n },
			2*time.Second, time.Millisecond, "want %d waiting workers", n)
		require.NoError(t, o.Close())
	}
}

// No options means one worker.
func TestOrchestrator_DefaultFlushThreads(t *testing.T) {
	t.Parallel()

	o, err := New[string, []byte](2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	assert.Equal(t, DefaultFlushThreads, o.Workers())
	assert.False(t, o.Storage().Persistent())
}

// Close wakes sleeping workers instead of waiting out the full timeout.
func TestOrchestrator_CloseWakesSleepingWorkers(t *testing.T) {
	t.Parallel()

	o, err := New[string, []byte](4, &Options[string, []byte]{
		FlushThreads: 3,
		WaitTimeout:  DefaultWaitTimeout,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return o.Storage().Signal().Waiters() == 3 },
		2*time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, o.Close())
	assert.Less(t, time.Since(start), time.Second, "shutdown must not wait for the %v timeout", DefaultWaitTimeout)
	assert.Zero(t, o.Storage().Signal().Waiters())
}

// After Close returns no worker touches the shared state any more.
func TestOrchestrator_NoWorkAfterClose(t *testing.T) {
	t.Parallel()

	o, err := New[string, []byte](4, &Options[string, []byte]{
		FlushThreads: 2,
		WaitTimeout:  2 * time.Millisecond,
		Buckets:      bucket.NewMemoryStore(4),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return o.Stats().ScanPasses >= 4 }, 2*time.Second, time.Millisecond)
	require.NoError(t, o.Close())

	before := o.Stats()
	time.Sleep(30 * time.Millisecond)
	after := o.Stats()
	assert.Equal(t, before.ScanPasses, after.ScanPasses)
	assert.Equal(t, before.FlushCalls, after.FlushCalls)
	assert.Zero(t, after.ActiveThreads)
}

// Scenario: 4 bins, 1 worker, memory-only; two scan cycles; no flushes.
func TestOrchestrator_MemoryOnlyScenario(t *testing.T) {
	t.Parallel()

	o, err := New[string, []byte](4, &Options[string, []byte]{
		FlushThreads: 1,
		WaitTimeout:  5 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Len(t, o.Shards(), 4)

	o.ShardFor("a").Upsert("a", []byte("1"))
	require.Eventually(t, func() bool { return o.Stats().ScanPasses >= 2 }, 2*time.Second, time.Millisecond)
	require.NoError(t, o.Close())

	for _, s := range o.Shards() {
		assert.Zero(t, s.Flushes(), "bin %d flushed in memory-only mode", s.Bin())
	}
	assert.Zero(t, o.Stats().FlushCalls)
	assert.Equal(t, int64(1), o.Stats().Dirty, "memory-only entries stay dirty")
}

// Scenario: 0 bins, 2 workers; construct and immediately release.
func TestOrchestrator_ZeroBinsScenario(t *testing.T) {
	t.Parallel()

	o, err := New[string, []byte](0, &Options[string, []byte]{FlushThreads: 2, Buckets: bucket.NewMemoryStore(0)})
	require.NoError(t, err)
	assert.Nil(t, o.ShardFor("x"))

	require.NotPanics(t, func() { require.NoError(t, o.Close()) })
	assert.Zero(t, o.Stats().FlushCalls)
	assert.Zero(t, o.Stats().ActiveThreads)
}

// Scenario: 8 bins, 3 workers, persistent; several cycles; counter back to 0.
func TestOrchestrator_PersistentScenario(t *testing.T) {
	t.Parallel()

	store := bucket.NewMemoryStore(8)
	o, err := New[string, []byte](8, &Options[string, []byte]{
		FlushThreads: 3,
		WaitTimeout:  time.Millisecond,
		Buckets:      store,
	})
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("k%03d", i)
		o.ShardFor(k).Upsert(k, []byte(k))
	}
	require.Eventually(t, func() bool {
		st := o.Stats()
		return st.ScanPasses >= 10 && st.Dirty == 0
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, o.Close())
	st := o.Stats()
	assert.Zero(t, st.ActiveThreads)
	assert.LessOrEqual(t, st.PeakActiveThreads, int64(3))
	assert.Equal(t, uint64(200), st.FlushedEntries)

	total := 0
	for bin := 0; bin < 8; bin++ {
		total += store.Count(bin)
	}
	assert.Equal(t, 200, total)
	require.NoError(t, store.Close(), "caller-provided store must not be closed by the index")
}

// Dirty writes past the threshold wake the workers long before the timeout.
func TestOrchestrator_DirtyThresholdWakesWorkers(t *testing.T) {
	t.Parallel()

	o, err := New[int, string](1, &Options[int, string]{
		WaitTimeout:        DefaultWaitTimeout,
		DirtyWakeThreshold: 10,
		Buckets:            bucket.NewMemoryStore(1),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	require.Eventually(t, func() bool { return o.Storage().Signal().Waiters() == 1 }, 2*time.Second, time.Millisecond)
	s := o.Shards()[0]
	for i := 0; i < 10; i++ {
		s.Upsert(i, "v")
	}
	require.Eventually(t, func() bool { return s.Dirty() == 0 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, uint64(10), o.Stats().FlushedEntries)
}

func TestOrchestrator_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New[string, []byte](-1, nil)
	require.ErrorIs(t, err, ErrInvalidBins)

	_, err = New[string, []byte](4, &Options[string, []byte]{Buckets: bucket.NewMemoryStore(2)})
	require.ErrorIs(t, err, ErrBinsMismatch)
}

func TestOrchestrator_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	o, err := New[string, []byte](2, &Options[string, []byte]{BucketDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
}

// panicCodec blows up while a worker encodes entries for flushing.
type panicCodec struct{ StringCodec }

func (panicCodec) EncodeValue([]byte) ([]byte, error) { panic(errors.New("codec exploded")) }

// A panicking worker is surfaced as a fatal error by Close, not swallowed.
func TestOrchestrator_WorkerPanicSurfacesOnClose(t *testing.T) {
	t.Parallel()

	o, err := New[string, []byte](1, &Options[string, []byte]{
		WaitTimeout: time.Millisecond,
		Buckets:     bucket.NewMemoryStore(1),
		Codec:       panicCodec{},
	})
	require.NoError(t, err)

	o.Shards()[0].Upsert("k", []byte("v"))
	require.Eventually(t, func() bool { return o.Stats().FlushCalls >= 1 }, 2*time.Second, time.Millisecond)

	err = o.Close()
	var wpe *WorkerPanicError
	require.ErrorAs(t, err, &wpe)
	assert.Equal(t, 0, wpe.Worker)
	assert.NotEmpty(t, wpe.Stack)
	assert.EqualError(t, errors.Unwrap(wpe), "codec exploded")
	assert.Zero(t, o.Stats().ActiveThreads, "a pass cut short by a panic restores the counter")
}

// Every worker that panicked is reported, not only the first one.
func TestOrchestrator_EveryWorkerPanicSurfaces(t *testing.T) {
	t.Parallel()

	o, err := New[string, []byte](1, &Options[string, []byte]{
		FlushThreads: 2,
		WaitTimeout:  time.Millisecond,
		Buckets:      bucket.NewMemoryStore(1),
		Codec:        panicCodec{},
	})
	require.NoError(t, err)

	// The entry stays dirty after each panic, so both workers hit it.
	o.Shards()[0].Upsert("k", []byte("v"))
	require.Eventually(t, func() bool { return o.Stats().FlushCalls >= 2 }, 2*time.Second, time.Millisecond)

	err = o.Close()
	require.Error(t, err)
	joined, ok := err.(interface{ Unwrap() []error })
	require.True(t, ok, "want joined errors, got %T", err)

	workers := map[int]bool{}
	for _, e := range joined.Unwrap() {
		var wpe *WorkerPanicError
		require.ErrorAs(t, e, &wpe)
		workers[wpe.Worker] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true}, workers)
	assert.Zero(t, o.Stats().ActiveThreads)
}

// Close right after New does not wait out the timeout of workers that had
// not started waiting yet.
func TestOrchestrator_CloseRightAfterNewIsPrompt(t *testing.T) {
	t.Parallel()

	for i := 0; i < 10; i++ {
		o, err := New[string, []byte](0, &Options[string, []byte]{
			FlushThreads: 2,
			WaitTimeout:  DefaultWaitTimeout,
		})
		require.NoError(t, err)

		start := time.Now()
		require.NoError(t, o.Close())
		require.Less(t, time.Since(start), time.Second, "iteration %d", i)
	}
}

// Entries flushed to a directory survive a restart and are loaded on demand.
func TestOrchestrator_BucketDirSurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	opt := &Options[string, string]{
		FlushThreads: 2,
		WaitTimeout:  time.Millisecond,
		BucketDir:    dir,
	}

	o, err := New[string, string](4, opt)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("key-%d", i)
		o.ShardFor(k).Upsert(k, "value-"+k)
	}
	require.Eventually(t, func() bool { return o.Stats().Dirty == 0 }, 5*time.Second, time.Millisecond)
	require.NoError(t, o.Close())

	o, err = New[string, string](4, opt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("key-%d", i)
		v, ok, err := o.ShardFor(k).Get(ctx, k)
		require.NoError(t, err)
		require.True(t, ok, "key %s missing after restart", k)
		assert.Equal(t, "value-"+k, v)
	}
	assert.Equal(t, uint64(50), o.Stats().LoadedEntries)
}
