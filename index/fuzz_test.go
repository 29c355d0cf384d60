//go:build go1.18

package index

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/IvanBrykalov/shardindex/bucket"
)

// Fuzz Upsert/Flush/Get/Remove under arbitrary string inputs.
// Values must survive a flush that ages them out of memory.
func FuzzShard_UpsertFlushGetRemove(f *testing.F) {
	f.Add("", "")
	f.Add("a", "1")
	f.Add("αβγ", "δ")
	f.Add("emoji🙂", "🙂🙂")
	f.Add("long", strings.Repeat("x", 1024))

	f.Fuzz(func(t *testing.T, k, v string) {
		const limit = 1 << 12
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) > limit {
			v = v[:limit]
		}
		ctx := context.Background()

		clk := &fakeClock{}
		opt := &Options[string, []byte]{
			Buckets:      bucket.NewMemoryStore(1),
			AgeThreshold: time.Second,
			Clock:        clk,
		}
		storage, err := NewStorage(1, opt)
		if err != nil {
			t.Fatal(err)
		}
		s := NewShard(storage, 0, opt)

		s.Upsert(k, []byte(v))
		clk.add(2 * time.Second)
		if err := s.Flush(); err != nil {
			t.Fatalf("flush: %v", err)
		}
		if s.Len() != 0 {
			t.Fatalf("aged entry still resident")
		}

		got, ok, err := s.Get(ctx, k)
		if err != nil || !ok || string(got) != v {
			t.Fatalf("after flush/Get: want %q, got %q ok=%v err=%v", v, got, ok, err)
		}

		removed, err := s.Remove(ctx, k)
		if err != nil || !removed {
			t.Fatalf("Remove: removed=%v err=%v", removed, err)
		}
		if _, ok, _ := s.Get(ctx, k); ok {
			t.Fatalf("key must be absent after Remove")
		}
	})
}
