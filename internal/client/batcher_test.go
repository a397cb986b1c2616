package client

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatcherMergesOverlappingRequests(t *testing.T) {
	var mu sync.Mutex
	var calls [][]string
	b := NewBatcher("test", func(keys []string) map[string]int {
		mu.Lock()
		sorted := append([]string(nil), keys...)
		sort.Strings(sorted)
		calls = append(calls, sorted)
		mu.Unlock()
		out := make(map[string]int, len(keys))
		for _, k := range keys {
			out[k] = len(k)
		}
		return out
	}, 50*time.Millisecond, 0, nil)

	reqs := [][]string{{"a", "bb", "ccc"}, {"a", "dddd"}, {"bb", "eeeee"}}
	results := make([]map[string]int, len(reqs))
	var wg sync.WaitGroup
	for i, keys := range reqs {
		wg.Add(1)
		go func(i int, keys []string) {
			defer wg.Done()
			res, err := b.GetMultiple(context.Background(), keys)
			require.NoError(t, err)
			results[i] = res
		}(i, keys)
	}
	wg.Wait()

	require.Len(t, calls, 1)
	assert.Equal(t, []string{"a", "bb", "ccc", "dddd", "eeeee"}, calls[0])
	assert.Equal(t, map[string]int{"a": 1, "dddd": 4}, results[1])
	keys, waiters := b.Stats()
	assert.Zero(t, keys)
	assert.Zero(t, waiters)
}

func TestBatcherFlushesAtMaxBatch(t *testing.T) {
	b := NewBatcher("test", func(keys []string) map[string]bool {
		out := make(map[string]bool)
		for _, k := range keys {
			out[k] = true
		}
		return out
	}, time.Hour, 2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := b.GetMultiple(ctx, []string{"x", "y"})
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestBatcherHonoursContext(t *testing.T) {
	release := make(chan struct{})
	b := NewBatcher("test", func(keys []string) map[string]bool {
		<-release
		return nil
	}, time.Millisecond, 0, nil)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.GetMultiple(ctx, []string{"slow"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
