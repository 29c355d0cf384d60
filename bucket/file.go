package bucket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

const (
	// DefaultCompressThreshold is the value size above which payloads are zstd compressed.
	DefaultCompressThreshold = 256
	// DefaultCompactMinDead is the minimum number of dead records before a log is compacted.
	DefaultCompactMinDead = 1024
)

// FileOptions configures a FileStore. Zero values are safe.
type FileOptions struct {
	// CompressThreshold: values longer than this are zstd compressed.
	// 0 => DefaultCompressThreshold; negative disables compression.
	CompressThreshold int

	// CompactMinDead: a log is rewritten once it holds at least this many
	// dead records and more dead than live ones. 0 => DefaultCompactMinDead.
	CompactMinDead int

	// SyncOnWrite fsyncs the log after every Write and Delete.
	SyncOnWrite bool

	// Logger receives recovery and compaction events. Nil => discard.
	Logger *slog.Logger
}

// FileStore is a Store backed by one append-only log file per bin.
type FileStore struct {
	dir    string
	opt    FileOptions
	logs   []*bucketLog
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	closed atomic.Bool
}

// bucketLog is the on-disk bucket of a single bin.
type bucketLog struct {
	// ---- guarded by mu ----
	mu    sync.RWMutex
	path  string
	f     *os.File
	index map[string]int64 // key -> offset of its live record
	size  int64            // bytes of valid log
	dead  int              // superseded records and tombstones
}

// OpenFileStore opens (creating if needed) a FileStore with bins buckets
// under dir. Existing logs are replayed; a corrupt or torn tail is truncated.
func OpenFileStore(dir string, bins int, opt FileOptions) (*FileStore, error) {
	if bins < 0 {
		return nil, fmt.Errorf("bucket: negative bin count %d", bins)
	}
	if opt.CompressThreshold == 0 {
		opt.CompressThreshold = DefaultCompressThreshold
	}
	if opt.CompactMinDead <= 0 {
		opt.CompactMinDead = DefaultCompactMinDead
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("bucket: create dir %s: %w", dir, err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("bucket: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("bucket: zstd decoder: %w", err)
	}

	s := &FileStore{dir: dir, opt: opt, enc: enc, dec: dec}
	for bin := 0; bin < bins; bin++ {
		path := filepath.Join(dir, fmt.Sprintf("bucket-%05d.log", bin))
		l, err := openLog(path, opt.Logger)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("bucket: open bin %d: %w", bin, err)
		}
		s.logs = append(s.logs, l)
	}
	opt.Logger.Debug("bucket store opened", "dir", dir, "bins", bins)
	return s, nil
}

// Dir returns the directory holding the bucket logs.
func (s *FileStore) Dir() string { return s.dir }

// Bins returns the number of buckets.
func (s *FileStore) Bins() int { return len(s.logs) }

// Write appends recs to the log of bin as a single write.
func (s *FileStore) Write(ctx context.Context, bin int, recs []Record) error {
	l, err := s.log(ctx, bin)
	if err != nil || len(recs) == 0 {
		return err
	}

	var buf []byte
	rel := make([]int64, len(recs))
	for i, r := range recs {
		payload, flags := s.encodeValue(r.Value)
		rel[i] = int64(len(buf))
		buf = appendRecord(buf, r.Key, payload, flags)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return ErrClosed
	}
	if _, err := l.f.WriteAt(buf, l.size); err != nil {
		return fmt.Errorf("bucket: write bin %d (%s): %w", bin, l.path, err)
	}
	if s.opt.SyncOnWrite {
		if err := l.f.Sync(); err != nil {
			return fmt.Errorf("bucket: sync bin %d: %w", bin, err)
		}
	}
	for i, r := range recs {
		k := string(r.Key)
		if _, ok := l.index[k]; ok {
			l.dead++
		}
		l.index[k] = l.size + rel[i]
	}
	l.size += int64(len(buf))
	return s.maybeCompactLocked(l)
}

// Read returns the live value for key in bin.
func (s *FileStore) Read(ctx context.Context, bin int, key []byte) ([]byte, error) {
	l, err := s.log(ctx, bin)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	if l.f == nil {
		l.mu.RUnlock()
		return nil, ErrClosed
	}
	off, ok := l.index[string(key)]
	if !ok {
		l.mu.RUnlock()
		return nil, ErrNotFound
	}
	raw := make([]byte, headerSize)
	if _, err := l.f.ReadAt(raw, off); err != nil {
		l.mu.RUnlock()
		return nil, fmt.Errorf("bucket: read bin %d at %d: %w", bin, off, err)
	}
	h := decodeHeader(raw)
	body := make([]byte, h.bodyLen())
	_, err = l.f.ReadAt(body, off+headerSize)
	l.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("bucket: read bin %d at %d: %w", bin, off, err)
	}

	payload := body[h.keyLen:]
	if !h.valid(raw, body[:h.keyLen], payload) {
		return nil, fmt.Errorf("bin %d offset %d: %w", bin, off, ErrCorrupt)
	}
	if h.flags&flagZstd != 0 {
		out, err := s.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("bin %d offset %d: %w: %v", bin, off, ErrCorrupt, err)
		}
		return out, nil
	}
	return payload, nil
}

// Delete appends a tombstone for key. Missing keys are ignored.
func (s *FileStore) Delete(ctx context.Context, bin int, key []byte) error {
	l, err := s.log(ctx, bin)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return ErrClosed
	}
	if _, ok := l.index[string(key)]; !ok {
		return nil
	}
	rec := appendRecord(nil, key, nil, flagTombstone)
	if _, err := l.f.WriteAt(rec, l.size); err != nil {
		return fmt.Errorf("bucket: delete in bin %d (%s): %w", bin, l.path, err)
	}
	if s.opt.SyncOnWrite {
		if err := l.f.Sync(); err != nil {
			return fmt.Errorf("bucket: sync bin %d: %w", bin, err)
		}
	}
	delete(l.index, string(key))
	l.size += int64(len(rec))
	l.dead += 2 // the superseded record and the tombstone itself
	return s.maybeCompactLocked(l)
}

// Count returns the number of live keys in bin (0 for an invalid bin).
func (s *FileStore) Count(bin int) int {
	if checkBin(bin, len(s.logs)) != nil {
		return 0
	}
	l := s.logs[bin]
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.index)
}

// Sync flushes every log to stable storage.
func (s *FileStore) Sync() error {
	if s.closed.Load() {
		return ErrClosed
	}
	var errs []error
	for bin, l := range s.logs {
		l.mu.Lock()
		if l.f != nil {
			if err := l.f.Sync(); err != nil {
				errs = append(errs, fmt.Errorf("bucket: sync bin %d: %w", bin, err))
			}
		}
		l.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Close syncs and closes every log. It returns ErrClosed when called twice.
func (s *FileStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	var errs []error
	for bin, l := range s.logs {
		l.mu.Lock()
		if l.f != nil {
			if err := l.f.Sync(); err != nil {
				errs = append(errs, fmt.Errorf("bucket: sync bin %d: %w", bin, err))
			}
			if err := l.f.Close(); err != nil {
				errs = append(errs, fmt.Errorf("bucket: close bin %d: %w", bin, err))
			}
			l.f = nil
		}
		l.mu.Unlock()
	}
	if err := s.enc.Close(); err != nil {
		errs = append(errs, err)
	}
	s.dec.Close()
	return errors.Join(errs...)
}

func (s *FileStore) log(ctx context.Context, bin int) (*bucketLog, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkBin(bin, len(s.logs)); err != nil {
		return nil, err
	}
	return s.logs[bin], nil
}

// encodeValue compresses v when it is large enough and compression pays off.
func (s *FileStore) encodeValue(v []byte) ([]byte, uint8) {
	if s.opt.CompressThreshold < 0 || len(v) <= s.opt.CompressThreshold {
		return v, 0
	}
	c := s.enc.EncodeAll(v, nil)
	if len(c) >= len(v) {
		return v, 0
	}
	return c, flagZstd
}

// -------------------- log internals --------------------

func openLog(path string, logger *slog.Logger) (*bucketLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	l := &bucketLog{path: path, f: f, index: make(map[string]int64)}
	if err := l.replay(logger); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

// replay rebuilds the offset index from the log and truncates anything
// after the last record that passes its checksum.
func (l *bucketLog) replay(logger *slog.Logger) error {
	st, err := l.f.Stat()
	if err != nil {
		return err
	}
	fileSize := st.Size()
	r := bufio.NewReaderSize(io.NewSectionReader(l.f, 0, fileSize), 64<<10)

	raw := make([]byte, headerSize)
	var body []byte
	var off int64
	for off < fileSize {
		if _, err := io.ReadFull(r, raw); err != nil {
			break
		}
		h := decodeHeader(raw)
		n := h.bodyLen()
		if off+headerSize+n > fileSize {
			break
		}
		if int64(cap(body)) < n {
			body = make([]byte, n)
		}
		body = body[:n]
		if _, err := io.ReadFull(r, body); err != nil {
			break
		}
		if !h.valid(raw, body[:h.keyLen], body[h.keyLen:]) {
			break
		}

		key := string(body[:h.keyLen])
		_, existed := l.index[key]
		if existed {
			l.dead++
		}
		if h.flags&flagTombstone != 0 {
			delete(l.index, key)
			l.dead++
		} else {
			l.index[key] = off
		}
		off += headerSize + n
	}

	if off < fileSize {
		logger.Warn("truncating torn bucket log tail", "path", l.path, "offset", off, "size", fileSize)
		if err := l.f.Truncate(off); err != nil {
			return fmt.Errorf("truncate %s: %w", l.path, err)
		}
	}
	l.size = off
	return nil
}

func (s *FileStore) maybeCompactLocked(l *bucketLog) error {
	if l.dead < s.opt.CompactMinDead || l.dead <= len(l.index) {
		return nil
	}
	before := l.size
	if err := l.compactLocked(); err != nil {
		return fmt.Errorf("bucket: compact %s: %w", l.path, err)
	}
	s.opt.Logger.Debug("bucket log compacted", "path", l.path, "before", before, "after", l.size)
	return nil
}

// compactLocked copies live records into a fresh file and swaps it in.
func (l *bucketLog) compactLocked() (err error) {
	tmp := l.path + ".compact"
	out, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
		}
	}()

	w := bufio.NewWriterSize(out, 64<<10)
	index := make(map[string]int64, len(l.index))
	raw := make([]byte, headerSize)
	var off int64
	for key, old := range l.index {
		if _, err = l.f.ReadAt(raw, old); err != nil {
			return err
		}
		rec := make([]byte, headerSize+decodeHeader(raw).bodyLen())
		if _, err = l.f.ReadAt(rec, old); err != nil {
			return err
		}
		if _, err = w.Write(rec); err != nil {
			return err
		}
		index[key] = off
		off += int64(len(rec))
	}
	if err = w.Flush(); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = os.Rename(tmp, l.path); err != nil {
		return err
	}

	_ = l.f.Close()
	l.f, l.index, l.size, l.dead = out, index, off, 0
	return nil
}

var _ Store = (*FileStore)(nil)
