package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_CoalescesConcurrentLoads(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	var calls atomic.Int32
	release := make(chan struct{})

	const callers = 32
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			v, found, err := g.Do(context.Background(), "k", func() (int, bool, error) {
				calls.Add(1)
				<-release
				return 7, true, nil
			})
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, 7, v)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(callers))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestGroup_PropagatesMissAndError(t *testing.T) {
	t.Parallel()

	var g Group[int, string]

	_, found, err := g.Do(context.Background(), 1, func() (string, bool, error) { return "", false, nil })
	require.NoError(t, err)
	require.False(t, found)

	boom := errors.New("boom")
	_, _, err = g.Do(context.Background(), 1, func() (string, bool, error) { return "", false, boom })
	require.ErrorIs(t, err, boom)
}

func TestGroup_FollowerHonoursContext(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	started := make(chan struct{})
	release := make(chan struct{})
	leaderDone := make(chan struct{})

	go func() {
		defer close(leaderDone)
		_, _, _ = g.Do(context.Background(), "k", func() (int, bool, error) {
			close(started)
			<-release
			return 1, true, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := g.Do(ctx, "k", func() (int, bool, error) { return 2, true, nil })
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	<-leaderDone
}
