package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IvanBrykalov/shardindex/bucket"
	"github.com/IvanBrykalov/shardindex/internal/singleflight"
	"github.com/IvanBrykalov/shardindex/internal/util"
)

// Shard is the in-memory part of one bin: a map plus an intrusive
// MRU↔LRU list, with dirty and aged entries moved to the persistent
// bucket store by Flush.
//
// All methods are safe for concurrent use. Several flush workers may call
// Flush on the same shard at once; flushes are serialized per shard.
type Shard[K comparable, V any] struct {
	bin     int
	storage *Storage
	codec   Codec[K, V]
	clock   Clock
	age     int64 // ageing threshold in ns; <= 0 disables
	logger  *slog.Logger

	// flushMu serializes Flush and orders Remove's disk delete against
	// in-flight flush writes so removed keys are not written back.
	flushMu sync.Mutex

	// ---- guarded by mu ----
	mu       sync.RWMutex
	m        map[K]*entry[K, V]
	head     *entry[K, V] // MRU
	tail     *entry[K, V] // LRU
	len      int
	dirty    int
	removals uint64 // bumped by Remove; invalidates in-flight loads

	loads singleflight.Group[K, V]

	_       util.CacheLinePad
	flushes util.PaddedAtomicUint64
}

// NewShard creates the shard for bin, bound to the shared storage.
func NewShard[K comparable, V any](storage *Storage, bin int, opt *Options[K, V]) *Shard[K, V] {
	o := opt.withDefaults()
	return &Shard[K, V]{
		bin:     bin,
		storage: storage,
		codec:   o.Codec,
		clock:   o.Clock,
		age:     int64(o.AgeThreshold),
		logger:  o.Logger.With("bin", bin),
		m:       make(map[K]*entry[K, V]),
	}
}

// Bin returns the bin index this shard serves.
func (s *Shard[K, V]) Bin() int { return s.bin }

// Upsert inserts or updates k→v in memory, marks it dirty and promotes it to MRU.
func (s *Shard[K, V]) Upsert(k K, v V) {
	now := s.clock.NowUnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.m[k]; ok {
		e.val = v
		e.version++
		e.touched = now
		s.markDirtyLocked(e)
		s.moveToFront(e)
		return
	}

	e := &entry[K, V]{key: k, val: v, touched: now}
	s.m[k] = e
	s.insertFront(e)
	s.storage.stats.Resident.Add(1)
	s.markDirtyLocked(e)
}

// Get returns the value for k. On a memory miss with persistent storage
// configured, the value is loaded from the bin's bucket (concurrent loads
// of the same key are coalesced) and cached as a clean entry.
func (s *Shard[K, V]) Get(ctx context.Context, k K) (V, bool, error) {
	if v, ok := s.getResident(k); ok {
		return v, true, nil
	}
	disk := s.storage.Disk()
	if disk == nil {
		var zero V
		return zero, false, nil
	}
	return s.loads.Do(ctx, k, func() (V, bool, error) {
		return s.load(ctx, disk, k)
	})
}

// Remove deletes k from memory and, when persistent, from the bin's bucket.
// It reports whether the key was present in either.
func (s *Shard[K, V]) Remove(ctx context.Context, k K) (bool, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	e, inMem := s.m[k]
	if inMem {
		s.detachLocked(e)
	}
	s.removals++
	s.mu.Unlock()

	disk := s.storage.Disk()
	if disk == nil {
		return inMem, nil
	}
	kb, err := s.codec.EncodeKey(k)
	if err != nil {
		return inMem, err
	}
	onDisk := true
	if _, err := disk.Read(ctx, s.bin, kb); errors.Is(err, bucket.ErrNotFound) {
		onDisk = false
	} else if err != nil {
		return inMem, fmt.Errorf("index: remove from bin %d: %w", s.bin, err)
	}
	if err := disk.Delete(ctx, s.bin, kb); err != nil {
		return inMem, fmt.Errorf("index: delete from bin %d: %w", s.bin, err)
	}
	return inMem || onDisk, nil
}

// Len returns the number of entries resident in memory.
func (s *Shard[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.len
}

// Dirty returns the number of resident entries not yet written to persistent storage.
func (s *Shard[K, V]) Dirty() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Flushes returns how many times Flush has been invoked on this shard.
func (s *Shard[K, V]) Flushes() uint64 { return s.flushes.Load() }

// flushItem is an entry selected by the collect phase of Flush.
type flushItem[K comparable, V any] struct {
	e       *entry[K, V]
	version uint64
	touched int64
	write   bool
	aged    bool
}

// Flush writes dirty entries to the bin's bucket and drops aged entries
// from memory. In memory-only mode it does nothing.
//
// Entries are collected under a read lock, written without holding the
// shard lock, then marked clean (or evicted) only if they were not changed
// while the write was in flight. On a write error every collected entry
// stays dirty for the next pass.
func (s *Shard[K, V]) Flush() error {
	s.flushes.Add(1)
	s.storage.stats.FlushCalls.Add(1)
	disk := s.storage.Disk()
	if disk == nil {
		return nil
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	start := time.Now()
	items, recs, err := s.collect(s.clock.NowUnixNano())
	if err != nil {
		s.flushFailed(err)
		return err
	}
	if len(items) == 0 {
		return nil
	}

	if len(recs) > 0 {
		s.storage.throttle(len(recs))
		if err := disk.Write(context.Background(), s.bin, recs); err != nil {
			err = fmt.Errorf("index: flush bin %d: %w", s.bin, err)
			s.flushFailed(err)
			return err
		}
	}

	written, evicted := s.apply(items)
	took := time.Since(start)

	stats := &s.storage.stats
	stats.FlushedEntries.Add(uint64(written))
	stats.EvictedEntries.Add(uint64(evicted))
	s.storage.metrics.Flushed(s.bin, written, evicted, took)
	s.logger.Debug("bin flushed", "written", written, "evicted", evicted, "elapsed", took)
	return nil
}

// collect walks the list from LRU to MRU and encodes every dirty entry.
func (s *Shard[K, V]) collect(now int64) ([]flushItem[K, V], []bucket.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []flushItem[K, V]
	var recs []bucket.Record
	for e := s.tail; e != nil; e = e.prev {
		aged := s.age > 0 && now-e.touched > s.age
		if !e.dirty && !aged {
			continue
		}
		it := flushItem[K, V]{e: e, version: e.version, touched: e.touched, aged: aged}
		if e.dirty {
			kb, err := s.codec.EncodeKey(e.key)
			if err != nil {
				return nil, nil, fmt.Errorf("index: flush bin %d: %w", s.bin, err)
			}
			vb, err := s.codec.EncodeValue(e.val)
			if err != nil {
				return nil, nil, fmt.Errorf("index: flush bin %d: %w", s.bin, err)
			}
			recs = append(recs, bucket.Record{Key: kb, Value: vb})
			it.write = true
		}
		items = append(items, it)
	}
	return items, recs, nil
}

// apply marks written entries clean and evicts aged ones that were left
// untouched while the write was in flight.
func (s *Shard[K, V]) apply(items []flushItem[K, V]) (written, evicted int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range items {
		e := it.e
		if s.m[e.key] != e {
			continue // removed or replaced meanwhile
		}
		if it.write && e.dirty && e.version == it.version {
			e.dirty = false
			s.dirty--
			s.storage.addDirty(s.bin, -1)
			written++
		}
		if it.aged && !e.dirty && e.touched == it.touched {
			s.detachLocked(e)
			evicted++
		}
	}
	return written, evicted
}

func (s *Shard[K, V]) flushFailed(err error) {
	s.storage.stats.FlushErrors.Add(1)
	s.storage.metrics.FlushFailed(s.bin)
	s.logger.Warn("bin flush failed", "err", err)
}

// -------------------- internals --------------------

func (s *Shard[K, V]) getResident(k K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[k]
	if !ok {
		var zero V
		return zero, false
	}
	e.touched = s.clock.NowUnixNano()
	s.moveToFront(e)
	return e.val, true
}

// load reads k from the bucket and caches it clean unless a write or
// Remove raced with the read.
func (s *Shard[K, V]) load(ctx context.Context, disk bucket.Store, k K) (V, bool, error) {
	var zero V

	s.mu.RLock()
	if e, ok := s.m[k]; ok {
		v := e.val
		s.mu.RUnlock()
		return v, true, nil
	}
	removals := s.removals
	s.mu.RUnlock()

	kb, err := s.codec.EncodeKey(k)
	if err != nil {
		return zero, false, err
	}
	raw, err := disk.Read(ctx, s.bin, kb)
	if errors.Is(err, bucket.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("index: load from bin %d: %w", s.bin, err)
	}
	v, err := s.codec.DecodeValue(raw)
	if err != nil {
		return zero, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[k]; ok {
		return e.val, true, nil // a concurrent Upsert wins
	}
	if s.removals != removals {
		return v, true, nil
	}
	e := &entry[K, V]{key: k, val: v, touched: s.clock.NowUnixNano()}
	s.m[k] = e
	s.insertFront(e)
	s.storage.stats.Resident.Add(1)
	s.storage.stats.LoadedEntries.Add(1)
	return v, true, nil
}

func (s *Shard[K, V]) markDirtyLocked(e *entry[K, V]) {
	if e.dirty {
		return
	}
	e.dirty = true
	s.dirty++
	s.storage.addDirty(s.bin, 1)
}

// detachLocked removes e from the map and list and settles the counters.
func (s *Shard[K, V]) detachLocked(e *entry[K, V]) {
	s.removeNode(e)
	delete(s.m, e.key)
	s.storage.stats.Resident.Add(-1)
	if e.dirty {
		e.dirty = false
		s.dirty--
		s.storage.addDirty(s.bin, -1)
	}
}

// insertFront inserts e at MRU in O(1).
func (s *Shard[K, V]) insertFront(e *entry[K, V]) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
	s.len++
}

// moveToFront promotes e to MRU in O(1).
func (s *Shard[K, V]) moveToFront(e *entry[K, V]) {
	if e == s.head {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if s.tail == e {
		s.tail = e.prev
	}
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

// removeNode unlinks e from the list in O(1).
func (s *Shard[K, V]) removeNode(e *entry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if s.head == e {
		s.head = e.next
	}
	if s.tail == e {
		s.tail = e.prev
	}
	e.prev, e.next = nil, nil
	s.len--
}
