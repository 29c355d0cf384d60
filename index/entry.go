package index

// entry is an intrusive doubly linked list element owned by a shard.
// It stores the key/value alongside list links and the bookkeeping the
// flush pass needs.
type entry[K comparable, V any] struct {
	key K
	val V

	// Intrusive list links: head is MRU, tail is LRU.
	prev *entry[K, V]
	next *entry[K, V]

	// Last access (read or write) in UnixNano; drives ageing.
	touched int64

	// Bumped on every write. A flush only marks an entry clean if the
	// version it wrote is still current.
	version uint64

	// dirty is set when the in-memory value differs from persistent storage.
	dirty bool
}
