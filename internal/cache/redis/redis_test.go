package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

func TestOptions(t *testing.T) {
	opts, err := options(ClientConfig{URL: "redis://:secret@cache:6380/2", PoolSize: 7})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Nil(t, opts.TLSConfig)

	opts, err = options(ClientConfig{Addr: "localhost:6379", TLSEnabled: true})
	require.NoError(t, err)
	assert.NotNil(t, opts.TLSConfig)

	_, err = options(ClientConfig{URL: "http://nope"})
	assert.Error(t, err)
}

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: "pm:"}
	assert.Equal(t, "pm:market:abc", c.key("market", "abc"))
	assert.Equal(t, "pm:lock:parimutuel:sweeper", c.key("lock", "parimutuel:sweeper"))
}

// Live tests run against PARIMUTUEL_TEST_REDIS, e.g. redis://localhost:6379/15.
func testClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("PARIMUTUEL_TEST_REDIS")
	if url == "" {
		t.Skip("PARIMUTUEL_TEST_REDIS not set")
	}
	c, err := New(context.Background(), ClientConfig{URL: url, Prefix: "pmtest:" + t.Name() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMarketCacheLive(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	mc := NewMarketCache(c, time.Minute)

	_, err := mc.Get(ctx, "m1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	m := domain.Market{ID: "m1", Question: "cached?", TotalYes: 9, WinningOutcome: domain.SideYes}
	require.NoError(t, mc.Set(ctx, m))
	got, err := mc.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.TotalYes)
	assert.Equal(t, domain.SideYes, got.WinningOutcome)

	require.NoError(t, mc.Invalidate(ctx, "m1"))
	_, err = mc.Get(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockLive(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	_, err = lm.Acquire(ctx, "job", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	again()
}

func TestRateLimiterLive(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)
	now := time.Now()
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "alice", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "alice", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Second)
	ok, err = rl.Allow(ctx, "alice", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBusStreamLive(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	sb := NewSignalBus(c)
	stream := c.key("stream")
	t.Cleanup(func() { c.rdb.Del(context.Background(), stream) })

	require.NoError(t, sb.StreamAppend(ctx, stream, []byte(`{"n":1}`)))
	require.NoError(t, sb.StreamAppend(ctx, stream, []byte(`{"n":2}`)))

	msgs, err := sb.StreamRead(ctx, stream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"n":2}`, string(msgs[1].Payload))

	msgs, err = sb.StreamRead(ctx, stream, msgs[1].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
