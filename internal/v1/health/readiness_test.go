package health

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

// flakyDependency answers pings according to a switchable flag.
type flakyDependency struct {
	healthy atomic.Bool
	pings   atomic.Int64
}

func (d *flakyDependency) Name() string { return "flaky" }

func (d *flakyDependency) Ping(ctx context.Context) error {
	d.pings.Add(1)
	if d.healthy.Load() {
		return nil
	}
	return errors.New("unreachable")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "alive", StateAlive.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestConnectableFunc(t *testing.T) {
	called := false
	c := ConnectableFunc("redis", func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.Equal(t, "redis", c.Name())
	require.NoError(t, c.Ping(context.Background()))
	assert.True(t, called)
}

func TestWaitForStartup_Success(t *testing.T) {
	r := NewReadiness()
	r.Register(ConnectableFunc("redis", func(ctx context.Context) error { return nil }))

	require.Equal(t, StateStarting, r.State())
	require.NoError(t, r.WaitForStartup(context.Background(), time.Second))
	assert.Equal(t, StateAlive, r.State())
	assert.True(t, r.IsAlive())
}

func TestWaitForStartup_Timeout(t *testing.T) {
	r := NewReadiness()
	r.Register(ConnectableFunc("redis", func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	err := r.WaitForStartup(context.Background(), 200*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
	assert.Equal(t, StateFailed, r.State())
	assert.False(t, r.IsAlive())
}

func TestWaitForStartup_RetriesUntilHealthy(t *testing.T) {
	dep := &flakyDependency{}
	r := NewReadiness()
	r.Register(dep)

	// The dependency comes up shortly after the process starts waiting.
	go func() {
		time.Sleep(300 * time.Millisecond)
		dep.healthy.Store(true)
	}()

	require.NoError(t, r.WaitForStartup(context.Background(), 10*time.Second))
	assert.Equal(t, StateAlive, r.State())
	assert.Greater(t, dep.pings.Load(), int64(1), "startup kept retrying")
}

func TestMonitor_DetectsOutageAndRecovers(t *testing.T) {
	dep := &flakyDependency{}
	dep.healthy.Store(true)

	r := NewReadiness()
	r.Register(dep)
	var recoveries atomic.Int64
	r.OnRecover(func(ctx context.Context) error {
		recoveries.Add(1)
		return nil
	})
	require.NoError(t, r.WaitForStartup(context.Background(), time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	r.Monitor(ctx, &wg, 20*time.Millisecond)

	dep.healthy.Store(false)
	assert.Eventually(t, func() bool {
		return r.State() == StateFailed
	}, 3*time.Second, 10*time.Millisecond, "outage flips to failed")

	dep.healthy.Store(true)
	assert.Eventually(t, func() bool {
		return r.State() == StateAlive
	}, 10*time.Second, 20*time.Millisecond, "healing flips back to alive")
	assert.GreaterOrEqual(t, recoveries.Load(), int64(1), "recovery actions ran")

	cancel()
	wg.Wait()
}

func TestMonitor_StopsOnCancel(t *testing.T) {
	r := NewReadiness()
	require.NoError(t, r.WaitForStartup(context.Background(), time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	r.Monitor(ctx, &wg, 10*time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestCheckAll_MixedHealth(t *testing.T) {
	r := NewReadiness()
	r.Register(ConnectableFunc("redis", func(ctx context.Context) error { return nil }))
	r.Register(ConnectableFunc("collector", func(ctx context.Context) error {
		return errors.New("down")
	}))

	checks, healthy := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Equal(t, "healthy", checks["redis"])
	assert.Equal(t, "unhealthy", checks["collector"])
}
