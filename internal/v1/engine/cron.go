package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronTask fires on a calendar schedule instead of a tick cadence.
type cronTask struct {
	name     string
	schedule cron.Schedule
	fn       func(context.Context)
}

// ScheduleCron registers a job on a standard five-field cron expression.
// The expression is parsed now; a bad one never reaches the loop. Fires that
// land while the process is paused are skipped, not backfilled.
func (e *Engine) ScheduleCron(name, expr string, fn any) error {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("task %q: invalid cron expression %q: %w", name, expr, err)
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
	e.crons = append(e.crons, &cronTask{name: name, schedule: schedule, fn: bound})
	return nil
}

// runCron sleeps to each fire time. Runs are sequential per job, so a slow
// run simply delays the next computation of the fire time.
func (e *Engine) runCron(ctx context.Context, t *cronTask) {
	for {
		next := t.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if e.alive() {
				e.execute(ctx, t.name, t.fn)
			}
		}
	}
}
