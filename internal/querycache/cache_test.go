package querycache

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

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(stale time.Duration) (*Cache, *MemoryStore, *clock) {
	store := NewMemoryStore()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	cache := New(store, stale)
	cache.now = clk.Now
	return cache, store, clk
}

func counting(calls *int32, value []string) func(context.Context) ([]string, error) {
	return func(context.Context) ([]string, error) {
		atomic.AddInt32(calls, 1)
		return value, nil
	}
}

func TestFetchCachesFreshValue(t *testing.T) {
	cache, _, clk := newTestCache(30 * time.Second)
	var calls int32
	ctx := context.Background()

	got, err := Fetch(ctx, cache, Key{"agents", "0xA"}, counting(&calls, []string{"a1"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, got)

	clk.Advance(10 * time.Second)
	got, err = Fetch(ctx, cache, Key{"agents", "0xA"}, counting(&calls, []string{"other"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, got)
	assert.EqualValues(t, 1, calls)

	clk.Advance(30 * time.Second)
	got, err = Fetch(ctx, cache, Key{"agents", "0xA"}, counting(&calls, []string{"a2"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, got)
	assert.EqualValues(t, 2, calls)
}

func TestZeroStaleKeepsUntilInvalidated(t *testing.T) {
	cache, _, clk := newTestCache(0)
	var calls int32
	ctx := context.Background()

	_, err := Fetch(ctx, cache, Key{"market-services", ""}, counting(&calls, []string{"s"}))
	require.NoError(t, err)
	clk.Advance(24 * time.Hour)
	_, err = Fetch(ctx, cache, Key{"market-services", ""}, counting(&calls, []string{"s"}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls)

	require.NoError(t, cache.Invalidate(ctx, "market-services"))
	_, err = Fetch(ctx, cache, Key{"market-services", ""}, counting(&calls, []string{"s"}))
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls)
}

func TestInvalidateMatchesWholeParts(t *testing.T) {
	cache, store, _ := newTestCache(time.Minute)
	ctx := context.Background()
	var calls int32

	for _, key := range []Key{
		{"agents", "0xA"},
		{"agents", "0xB"},
		{"agents"},
		{"agent-balance", "0xC"},
		{"agentsx", "0xA"},
	} {
		_, err := Fetch(ctx, cache, key, counting(&calls, []string{"v"}))
		require.NoError(t, err)
	}
	require.Equal(t, 5, store.Len())

	require.NoError(t, cache.Invalidate(ctx, "agents"))
	assert.Equal(t, 2, store.Len())

	_, ok, _ := store.Get(ctx, Key{"agent-balance", "0xC"}.String())
	assert.True(t, ok)
	_, ok, _ = store.Get(ctx, Key{"agentsx", "0xA"}.String())
	assert.True(t, ok)

	require.NoError(t, cache.Invalidate(ctx, "agent-balance", "0xC"))
	assert.Equal(t, 1, store.Len())

	require.NoError(t, cache.Invalidate(ctx))
	assert.Equal(t, 0, store.Len())
}

func TestKeyEscapesSeparator(t *testing.T) {
	assert.Equal(t, "a%3Ab:c", Key{"a:b", "c"}.String())
	assert.NotEqual(t, Key{"a", "b"}.String(), Key{"a:b"}.String())
}

func TestConcurrentFetchRunsOnce(t *testing.T) {
	cache, _, _ := newTestCache(time.Minute)
	var calls int32
	release := make(chan struct{})
	fn := func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 42, nil
	}

	const workers = 8
	var started, done sync.WaitGroup
	results := make([]int, workers)
	started.Add(workers)
	done.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			v, err := Fetch(context.Background(), cache, Key{"agents", "0xA"}, fn)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	assert.EqualValues(t, 1, calls)
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestCancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	cache, _, _ := newTestCache(time.Minute)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fn := func(ctx context.Context) (int, error) {
		once.Do(func() { close(entered) })
		<-release
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return 7, nil
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := Fetch(firstCtx, cache, Key{"agents", "0xA"}, fn)
		firstErr <- err
	}()
	<-entered

	type result struct {
		v   int
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := Fetch(context.Background(), cache, Key{"agents", "0xA"}, fn)
		second <- result{v, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, 7, got.v)
}

func TestFetchErrorIsNotCached(t *testing.T) {
	cache, store, _ := newTestCache(time.Minute)
	boom := errors.New("backend down")

	_, err := Fetch(context.Background(), cache, Key{"agents", "0xA"}, func(context.Context) ([]string, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len())
}
