package autostop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func counter(n *int32) StopFunc {
	return func(ctx context.Context) error {
		atomic.AddInt32(n, 1)
		return nil
	}
}

func TestArmFiresOnce(t *testing.T) {
	r := New(Options{Coalesce: true}, zap.NewNop())
	defer r.Close()

	var fired int32
	assert.True(t, r.Arm("ip:10.0.0.1", 10*time.Millisecond, counter(&fired)))
	assert.Equal(t, 1, r.Pending())

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.Equal(t, 0, r.Pending())
}

func TestCoalesceCancelsPending(t *testing.T) {
	r := New(Options{Coalesce: true}, zap.NewNop())
	defer r.Close()

	var first, second int32
	r.Arm("cam", 40*time.Millisecond, counter(&first))
	r.Arm("cam", 40*time.Millisecond, counter(&second))
	assert.Equal(t, 1, r.PendingFor("cam"))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&second) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
}

func TestLegacyModeFiresEveryTimer(t *testing.T) {
	r := New(Options{Coalesce: false}, zap.NewNop())
	defer r.Close()

	var fired int32
	r.Arm("cam", 20*time.Millisecond, counter(&fired))
	r.Arm("cam", 20*time.Millisecond, counter(&fired))
	assert.Equal(t, 2, r.PendingFor("cam"))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 2 }, time.Second, 5*time.Millisecond)
}

func TestKeysAreIndependent(t *testing.T) {
	r := New(Options{Coalesce: true}, zap.NewNop())
	defer r.Close()

	var fired int32
	r.Arm("a", 10*time.Millisecond, counter(&fired))
	r.Arm("b", 10*time.Millisecond, counter(&fired))
	assert.Equal(t, 2, r.Pending())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 2 }, time.Second, 5*time.Millisecond)
}

func TestCancel(t *testing.T) {
	r := New(Options{Coalesce: true}, zap.NewNop())
	defer r.Close()

	var fired int32
	r.Arm("cam", 20*time.Millisecond, counter(&fired))
	_, ok := r.NextFire("cam")
	assert.True(t, ok)

	assert.Equal(t, 1, r.Cancel("cam"))
	assert.Equal(t, 0, r.Cancel("cam"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestErrorsAreSwallowedAndReported(t *testing.T) {
	var mu sync.Mutex
	var gotKey string
	var gotErr error
	r := New(Options{Coalesce: true, OnFire: func(key string, err error) {
		mu.Lock()
		gotKey, gotErr = key, err
		mu.Unlock()
	}}, zap.NewNop())
	defer r.Close()

	r.Arm("cam", time.Millisecond, func(ctx context.Context) error {
		return errors.New("camera offline")
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotErr != nil
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "cam", gotKey)
	mu.Unlock()
}

func TestFireUsesDetachedContextWithTimeout(t *testing.T) {
	r := New(Options{Coalesce: true, FireTimeout: 50 * time.Millisecond}, zap.NewNop())
	defer r.Close()

	done := make(chan bool, 1)
	r.Arm("cam", time.Millisecond, func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		done <- hasDeadline
		return nil
	})

	select {
	case hasDeadline := <-done:
		assert.True(t, hasDeadline)
	case <-time.After(time.Second):
		t.Fatal("auto-stop never fired")
	}
}

func TestCloseFiresPendingAndRejects(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	r := New(Options{Coalesce: false, OnFire: func(key string, err error) {
		mu.Lock()
		keys = append(keys, key)
		mu.Unlock()
	}}, zap.NewNop())

	var fired int32
	r.Arm("a", time.Hour, counter(&fired))
	r.Arm("b", time.Hour, counter(&fired))
	r.Arm("b", time.Hour, counter(&fired))
	r.Close()

	// Close waits for the flushed stops.
	assert.Equal(t, int32(3), atomic.LoadInt32(&fired))
	assert.Equal(t, 0, r.Pending())
	mu.Lock()
	assert.ElementsMatch(t, []string{"a", "b", "b"}, keys)
	mu.Unlock()

	assert.False(t, r.Arm("c", time.Millisecond, counter(&fired)))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&fired))

	r.Close()
	assert.Equal(t, int32(3), atomic.LoadInt32(&fired))
}

func TestCloseBoundsFlushedStops(t *testing.T) {
	r := New(Options{FireTimeout: 20 * time.Millisecond}, zap.NewNop())
	r.Arm("cam", time.Hour, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the fire timeout")
	}
}
