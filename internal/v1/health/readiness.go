package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/metrics"
)

// State is the process readiness state. The tick engine only advances while
// the state is Alive.
type State int32

const (
	StateStarting State = iota
	StateAlive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateAlive:
		return "alive"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Connectable is external infrastructure the process cannot serve without.
type Connectable interface {
	Name() string
	Ping(ctx context.Context) error
}

type connectableFunc struct {
	name string
	ping func(ctx context.Context) error
}

func (c *connectableFunc) Name() string                   { return c.name }
func (c *connectableFunc) Ping(ctx context.Context) error { return c.ping(ctx) }

// ConnectableFunc adapts a named ping function into a Connectable.
func ConnectableFunc(name string, ping func(ctx context.Context) error) Connectable {
	return &connectableFunc{name: name, ping: ping}
}

// pingTimeout bounds a single connectable probe.
const pingTimeout = 3 * time.Second

// Readiness tracks whether every registered Connectable is reachable and
// drives the Starting -> Alive -> Failed -> Alive lifecycle. Register and
// OnRecover are startup-time calls; everything else is safe concurrently.
type Readiness struct {
	mu           sync.RWMutex
	state        atomic.Int32
	connectables []Connectable
	onRecover    []func(ctx context.Context) error
}

func NewReadiness() *Readiness {
	r := &Readiness{}
	r.setState(StateStarting)
	return r
}

// Register adds a dependency gating readiness.
func (r *Readiness) Register(c Connectable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectables = append(r.connectables, c)
}

// OnRecover adds an action re-run after an outage heals, before the state
// returns to Alive. Bridge resubscription and pending flushes live here.
func (r *Readiness) OnRecover(fn func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRecover = append(r.onRecover, fn)
}

// State returns the current readiness state.
func (r *Readiness) State() State {
	return State(r.state.Load())
}

// IsAlive reports whether the process may do work. The engine loop polls
// this every iteration, so it is a single atomic load.
func (r *Readiness) IsAlive() bool {
	return r.State() == StateAlive
}

func (r *Readiness) setState(s State) {
	old := State(r.state.Swap(int32(s)))
	metrics.ReadinessState.Set(float64(s))
	if old != s {
		logging.Info(context.Background(), "Readiness state changed",
			zap.String("from", old.String()),
			zap.String("to", s.String()),
		)
	}
}

// WaitForStartup pings every connectable with exponential backoff until all
// answer or the timeout passes. Success transitions to Alive; failure
// transitions to Failed and returns the last error so main can exit.
func (r *Readiness) WaitForStartup(ctx context.Context, timeout time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = timeout

	err := backoff.Retry(func() error {
		return r.pingAll(ctx)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		r.setState(StateFailed)
		return fmt.Errorf("startup dependencies not ready within %s: %w", timeout, err)
	}
	r.setState(StateAlive)
	return nil
}

// Monitor watches the connectables in the background. A failed ping flips
// the state to Failed and holds it there until the dependency heals and the
// recovery actions succeed, then returns to Alive.
func (r *Readiness) Monitor(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if r.State() != StateAlive {
					continue
				}
				if err := r.pingAll(ctx); err != nil {
					logging.Error(ctx, "Dependency lost, pausing work", zap.Error(err))
					r.setState(StateFailed)
					r.recover(ctx)
				}
			}
		}
	}()
}

// recover retries until the dependencies answer and the recovery actions
// complete, then flips back to Alive. Only a canceled context gives up.
func (r *Readiness) recover(ctx context.Context) {
	op := func() error {
		if err := r.pingAll(ctx); err != nil {
			return err
		}
		r.mu.RLock()
		actions := make([]func(ctx context.Context) error, len(r.onRecover))
		copy(actions, r.onRecover)
		r.mu.RUnlock()
		for _, fn := range actions {
			if err := fn(ctx); err != nil {
				return fmt.Errorf("recovery action: %w", err)
			}
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return
	}
	logging.Info(ctx, "Dependencies recovered, resuming work")
	r.setState(StateAlive)
}

func (r *Readiness) pingAll(ctx context.Context) error {
	r.mu.RLock()
	connectables := make([]Connectable, len(r.connectables))
	copy(connectables, r.connectables)
	r.mu.RUnlock()

	for _, c := range connectables {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := c.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", c.Name(), err)
		}
	}
	return nil
}

// CheckAll probes every connectable once and reports per-dependency status.
func (r *Readiness) CheckAll(ctx context.Context) (map[string]string, bool) {
	r.mu.RLock()
	connectables := make([]Connectable, len(r.connectables))
	copy(connectables, r.connectables)
	r.mu.RUnlock()

	checks := make(map[string]string, len(connectables))
	healthy := true
	for _, c := range connectables {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := c.Ping(pingCtx)
		cancel()
		if err != nil {
			checks[c.Name()] = "unhealthy"
			healthy = false
		} else {
			checks[c.Name()] = "healthy"
		}
	}
	return checks, healthy
}
