// Package index is the orchestration and lifecycle layer of a sharded
// key/value index whose entries overflow from memory into persistent
// bucket storage.
//
// Design
//
//   - Bins: the index is split into a fixed number of bins, each served by
//     one Shard (a map plus an intrusive MRU↔LRU list). Keys are routed to
//     bins by xxhash (Orchestrator.ShardFor).
//
//   - Storage: state shared by every shard and worker: the optional
//     bucket.Store (nil means memory-only), the wake signal, the flush
//     selection policy and the Stats counters.
//
//   - Workers: New starts Options.FlushThreads goroutines running
//     Background. A worker sleeps on the wake signal (bounded by
//     Options.WaitTimeout), checks the shutdown flag, then scans every bin
//     once, flushing the bin chosen by the policy and reporting statistics.
//     Writes wake the workers early once a bin collects
//     Options.DirtyWakeThreshold dirty entries.
//
//   - Flush: a shard writes its dirty entries to its bucket and drops
//     entries untouched for longer than Options.AgeThreshold. Reads that
//     miss memory fall back to the bucket.
//
//   - Shutdown: Close sets the shutdown flag, broadcasts the wake signal
//     and keeps it raised, joins every worker and only then closes the
//     storage. Shutdown is observed between scan passes, so Close waits for
//     at most one pass per worker. Each worker panic is returned from Close
//     as a *WorkerPanicError.
//
// Basic usage
//
//	o, err := index.New[string, []byte](16, &index.Options[string, []byte]{
//	    FlushThreads: 2,
//	    BucketDir:    "/var/lib/myindex",
//	})
//	if err != nil {
//	    return err
//	}
//	defer o.Close()
//
//	o.ShardFor("a").Upsert("a", []byte("1"))
//	v, ok, err := o.ShardFor("a").Get(ctx, "a")
//
// Memory-only mode
//
// Without Buckets or BucketDir the workers still wake, scan and report,
// but never flush.
//
// Exporting metrics
//
//	m := prom.New(nil, "shardindex", "flush", nil) // implements Metrics
//	o, err := index.New[string, []byte](16, &index.Options[string, []byte]{Metrics: m})
package index
