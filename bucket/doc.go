// Package bucket provides the persistent bucket storage that in-memory
// index shards flush dirty and aged entries into.
//
// A Store is partitioned into a fixed number of bins, one bucket per index
// bin. Two implementations are provided:
//
//   - MemoryStore keeps buckets in maps. It is intended for tests and for
//     running the flush machinery without touching the filesystem.
//
//   - FileStore keeps one append-only log per bin under a directory
//     (bucket-00000.log, bucket-00001.log, …). Every record carries an
//     xxhash64 checksum; values above FileOptions.CompressThreshold are
//     zstd compressed. Logs are replayed into an in-memory offset index on
//     open, a torn tail left by a crash is truncated, and a log is
//     compacted once its dead records outnumber the live ones.
//
// Record layout (little endian):
//
//	keyLen  uint32
//	valLen  uint32   // length of the stored payload (compressed if flagged)
//	flags   uint8    // bit 0: tombstone, bit 1: zstd
//	sum     uint64   // xxhash64(keyLen|valLen|flags|key|payload)
//	key     [keyLen]byte
//	payload [valLen]byte
package bucket
