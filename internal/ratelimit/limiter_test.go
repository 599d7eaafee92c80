package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewLimiter(rdb, "salt"), mr
}

func TestCheckCameraWindow(t *testing.T) {
	l, mr := newTestLimiter(t)
	cfg := LimitConfig{Rate: 2, Window: 2 * time.Second}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.CheckCamera(ctx, "ip:10.0.0.1", cfg)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := l.CheckCamera(ctx, "ip:10.0.0.1", cfg)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, ScopeCamera, d.Scope)
	assert.Equal(t, 2, d.RetryAfter)

	// Another camera has its own window.
	d, err = l.CheckCamera(ctx, "ip:10.0.0.2", cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	mr.FastForward(3 * time.Second)
	d, err = l.CheckCamera(ctx, "ip:10.0.0.1", cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckClientHashesIP(t *testing.T) {
	l, mr := newTestLimiter(t)
	_, err := l.CheckClient(context.Background(), "1.2.3.4", LimitConfig{Rate: 1, Window: time.Second})
	require.NoError(t, err)

	assert.True(t, mr.Exists("rl:ptz:client:"+l.HashIP("1.2.3.4")))
	assert.False(t, mr.Exists("rl:ptz:client:1.2.3.4"))
}

func TestDisabledLimitSkipsRedis(t *testing.T) {
	l, mr := newTestLimiter(t)
	mr.Close()

	d, err := l.CheckCamera(context.Background(), "cam", LimitConfig{})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisDown(t *testing.T) {
	l, mr := newTestLimiter(t)
	mr.Close()

	_, err := l.CheckCamera(context.Background(), "cam", LimitConfig{Rate: 1, Window: time.Second})
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}
