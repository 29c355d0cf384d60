package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/shardindex/bucket"
)

func TestDefaultCodec(t *testing.T) {
	t.Parallel()

	_, ok := defaultCodec[string, []byte]().(StringCodec)
	assert.True(t, ok, "string/[]byte uses StringCodec")

	_, ok = defaultCodec[int, string]().(JSONCodec[int, string])
	assert.True(t, ok, "other types fall back to JSONCodec")
}

type point struct {
	X, Y int
	Tag  string
}

// JSON-coded entries survive a flush, age out of memory and load back.
func TestJSONCodec_RoundTripThroughFileStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fs, err := bucket.OpenFileStore(t.TempDir(), 2, bucket.FileOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	clk := &fakeClock{}
	storage, shards := newTestShards(t, 2, &Options[int, point]{
		Buckets:      fs,
		AgeThreshold: time.Minute,
		Clock:        clk,
	})

	want := point{X: 3, Y: -4, Tag: "p"}
	shards[1].Upsert(42, want)
	require.NoError(t, shards[1].Flush())
	assert.Equal(t, 1, fs.Count(1))
	assert.Equal(t, 1, shards[1].Len(), "not aged yet")

	clk.add(2 * time.Minute)
	require.NoError(t, shards[1].Flush())
	assert.Equal(t, 0, shards[1].Len())

	got, ok, err := shards[1].Get(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, uint64(1), storage.Stats().LoadedEntries.Load())
}

func TestJSONCodec_DecodeError(t *testing.T) {
	t.Parallel()

	_, err := JSONCodec[int, point]{}.DecodeValue([]byte("{not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode value")
}
