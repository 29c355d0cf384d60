package bucket

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Read when the key has no live record in the bin.
	ErrNotFound = errors.New("bucket: not found")
	// ErrCorrupt is returned when a stored record fails its checksum.
	ErrCorrupt = errors.New("bucket: corrupt record")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("bucket: store closed")
)

// Record is one key/value pair handed to Store.Write.
type Record struct {
	Key   []byte
	Value []byte
}

// Store is the persistent bucket storage behind a sharded index.
// Each bin owns an independent bucket; operations on different bins never
// contend. All methods are safe for concurrent use.
type Store interface {
	// Bins returns the number of buckets the store was opened with.
	Bins() int
	// Write upserts recs into the bucket of bin as one batch.
	Write(ctx context.Context, bin int, recs []Record) error
	// Read returns a copy of the value stored for key, or ErrNotFound.
	Read(ctx context.Context, bin int, key []byte) ([]byte, error)
	// Delete removes key from the bucket. Deleting a missing key is not an error.
	Delete(ctx context.Context, bin int, key []byte) error
	// Count returns the number of live keys in the bucket.
	Count(bin int) int
	// Close releases all buckets. Further calls return ErrClosed.
	Close() error
}

// checkBin validates bin against the configured bucket count.
func checkBin(bin, bins int) error {
	if bin < 0 || bin >= bins {
		return fmt.Errorf("bucket: bin %d out of range [0, %d)", bin, bins)
	}
	return nil
}
