// Package policy defines how background flush workers pick the next bin
// to flush. The orchestrator only asks "which bin next?"; what makes a bin
// worth flushing is decided here.
package policy

// Hooks expose read-only views of the shared index storage that a selector
// may use. Implementations are provided by the storage.
//
// Concurrency: hooks may be called from several flush workers at once and
// must be safe for concurrent use.
type Hooks interface {
	// Bins returns the fixed number of bins.
	Bins() int
	// Dirty returns the current number of dirty resident entries in bin.
	Dirty(bin int) int
}

// Selector is a storage-wide bin selector bound to storage hooks.
//
// Semantics:
//   - Next returns a bin index in [0, Bins()). It is only called when
//     Bins() > 0.
//   - Next is called concurrently by every flush worker; two workers may
//     be handed the same bin, and the shard serializes its own flushes.
//   - Over repeated calls every bin must eventually be returned, so aged
//     entries in clean bins still get flushed.
type Selector interface {
	Next() int
}

// Policy is a factory that creates a selector bound to a particular
// storage's hooks.
type Policy interface {
	New(Hooks) Selector
}
