// Package engine drives the server's main loop. A single goroutine advances
// the tick counter at a fixed rate and launches the cyclic jobs whose
// cadence is due; a second goroutine steps the physics coordinator. Both
// loops pause while the process readiness is not Alive.
package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/metrics"
	"github.com/altruist-engine/altruist/internal/v1/world"
)

// pollInterval is how long the loops park between clock checks.
const pollInterval = time.Millisecond

// AliveChecker gates the loops. health.Readiness satisfies it.
type AliveChecker interface {
	IsAlive() bool
}

// cyclicTask is a job with a fixed cadence. elapsed accumulates engine time
// and is owned by the loop goroutine; inFlight guards against overlap when a
// run outlasts its interval.
type cyclicTask struct {
	name     string
	interval time.Duration
	elapsed  time.Duration
	fn       func(context.Context)
	inFlight atomic.Bool
}

// Engine owns the tick loop, the physics loop, and every scheduled job.
type Engine struct {
	rate        time.Duration
	physicsRate time.Duration
	readiness   AliveChecker
	coordinator *world.Coordinator

	currentTick atomic.Int64

	servicesMu sync.RWMutex
	services   map[reflect.Type]reflect.Value

	tasksMu sync.Mutex
	tasks   []*cyclicTask
	crons   []*cronTask
	started bool

	dynamicPending sync.Map
	dynamicRunning sync.Map
}

// New builds an engine ticking at rate. A nil readiness never pauses; a nil
// coordinator skips the physics loop.
func New(rate, physicsRate time.Duration, readiness AliveChecker, coordinator *world.Coordinator) (*Engine, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("engine rate must be positive, got %s", rate)
	}
	if physicsRate <= 0 {
		return nil, fmt.Errorf("physics rate must be positive, got %s", physicsRate)
	}
	return &Engine{
		rate:        rate,
		physicsRate: physicsRate,
		readiness:   readiness,
		coordinator: coordinator,
		services:    make(map[reflect.Type]reflect.Value),
	}, nil
}

// CurrentTick returns the number of completed engine iterations.
func (e *Engine) CurrentTick() int64 {
	return e.currentTick.Load()
}

// Rate returns the engine's tick interval.
func (e *Engine) Rate() time.Duration { return e.rate }

func (e *Engine) alive() bool {
	return e.readiness == nil || e.readiness.IsAlive()
}

// Schedule registers a cyclic job. The function's parameters are resolved
// from the service registry now; scheduling closes once Start runs.
func (e *Engine) Schedule(name string, fn any, rate CycleRate) error {
	interval, err := rate.normalize(e.rate)
	if err != nil {
		return fmt.Errorf("task %q: %w", name, err)
	}
	bound, err := e.bind(name, fn)
	if err != nil {
		return err
	}

	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	if e.started {
		return fmt.Errorf("task %q: cannot schedule after start", name)
	}
	if e.taskNameTakenLocked(name) {
		return fmt.Errorf("task %q already scheduled", name)
	}
	e.tasks = append(e.tasks, &cyclicTask{name: name, interval: interval, fn: bound})
	return nil
}

// SendTask queues a one-shot job for the next engine iteration. Queuing the
// same id again before the iteration replaces the pending function; an id
// whose previous run is still in flight is dropped at drain time.
func (e *Engine) SendTask(taskID string, fn func(context.Context)) {
	if fn == nil {
		return
	}
	e.dynamicPending.Store(taskID, fn)
}

// Start launches the loops. It runs at most once; ctx cancellation stops
// everything.
func (e *Engine) Start(ctx context.Context, wg *sync.WaitGroup) error {
	e.tasksMu.Lock()
	if e.started {
		e.tasksMu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	crons := make([]*cronTask, len(e.crons))
	copy(crons, e.crons)
	e.tasksMu.Unlock()

	logging.Info(ctx, "Engine starting",
		zap.Duration("rate", e.rate),
		zap.Duration("physics_rate", e.physicsRate),
		zap.Int("cyclic_tasks", len(e.tasks)),
		zap.Int("cron_tasks", len(crons)),
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.run(ctx)
	}()

	if e.coordinator != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runPhysics(ctx)
		}()
	}

	for _, c := range crons {
		wg.Add(1)
		go func(c *cronTask) {
			defer wg.Done()
			e.runCron(ctx, c)
		}(c)
	}
	return nil
}

// run is the tick loop. Exactly one tick advance per iteration, before any
// launches, so every job observing CurrentTick inside one iteration reads
// the same value.
func (e *Engine) run(ctx context.Context) {
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !e.alive() {
			time.Sleep(pollInterval)
			last = time.Now()
			continue
		}

		now := time.Now()
		elapsed := now.Sub(last)
		if elapsed < e.rate {
			time.Sleep(pollInterval)
			continue
		}
		last = now

		e.currentTick.Add(1)
		metrics.EngineTicks.Inc()

		e.launchCyclic(ctx, elapsed)
		e.drainDynamic(ctx)
		time.Sleep(pollInterval)
	}
}

// launchCyclic credits the elapsed engine time to every cyclic task and
// launches the ones whose interval is covered. A task still running from a
// previous launch skips this occurrence.
func (e *Engine) launchCyclic(ctx context.Context, elapsed time.Duration) {
	e.tasksMu.Lock()
	tasks := e.tasks
	e.tasksMu.Unlock()

	for _, task := range tasks {
		task.elapsed += elapsed
		if task.elapsed < task.interval {
			continue
		}
		task.elapsed -= task.interval
		if !task.inFlight.CompareAndSwap(false, true) {
			metrics.TaskExecutions.WithLabelValues(task.name, "skipped").Inc()
			continue
		}
		t := task
		go func() {
			defer t.inFlight.Store(false)
			e.execute(ctx, t.name, t.fn)
		}()
	}
}

// drainDynamic empties the one-shot table. LoadAndDelete keeps the latest
// queued function even if SendTask raced the drain.
func (e *Engine) drainDynamic(ctx context.Context) {
	e.dynamicPending.Range(func(k, _ any) bool {
		key := k.(string)
		v, loaded := e.dynamicPending.LoadAndDelete(key)
		if !loaded {
			return true
		}
		if _, running := e.dynamicRunning.LoadOrStore(key, struct{}{}); running {
			metrics.TaskExecutions.WithLabelValues("dynamic", "dropped").Inc()
			return true
		}
		fn := v.(func(context.Context))
		go func() {
			defer e.dynamicRunning.Delete(key)
			e.execute(ctx, "dynamic", fn)
		}()
		return true
	})
}

// runPhysics steps the coordinator at the physics cadence with the measured
// elapsed time, so substep counts stay correct under scheduling jitter.
func (e *Engine) runPhysics(ctx context.Context) {
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !e.alive() {
			time.Sleep(pollInterval)
			last = time.Now()
			continue
		}

		now := time.Now()
		elapsed := now.Sub(last)
		if elapsed >= e.physicsRate {
			last = now
			e.coordinator.Step(elapsed.Seconds())
		}
		time.Sleep(pollInterval)
	}
}

// execute wraps every task run: timing, outcome counters, and a recover so
// a panicking job cannot take the loop down.
func (e *Engine) execute(ctx context.Context, name string, fn func(context.Context)) {
	start := time.Now()
	defer func() {
		metrics.TaskDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			logging.Error(ctx, "Task panicked",
				zap.String("task", name),
				zap.Any("panic", r),
			)
			metrics.TaskExecutions.WithLabelValues(name, "panic").Inc()
			return
		}
		metrics.TaskExecutions.WithLabelValues(name, "success").Inc()
	}()
	fn(ctx)
}

func (e *Engine) taskNameTakenLocked(name string) bool {
	for _, t := range e.tasks {
		if t.name == name {
			return true
		}
	}
	for _, c := range e.crons {
		if c.name == name {
			return true
		}
	}
	return false
}
