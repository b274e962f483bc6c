package engine

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/altruist-engine/altruist/internal/v1/logging"
)

var (
	ctxType   = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType = reflect.TypeOf((*error)(nil)).Elem()
)

// RegisterService makes a value injectable into scheduled task parameters.
// Registration happens once at startup; tasks resolve against the registry
// when they are scheduled, never while running.
func (e *Engine) RegisterService(svc any) error {
	if svc == nil {
		return fmt.Errorf("cannot register nil service")
	}
	t := reflect.TypeOf(svc)

	e.servicesMu.Lock()
	defer e.servicesMu.Unlock()
	if _, exists := e.services[t]; exists {
		return fmt.Errorf("service %s already registered", t)
	}
	e.services[t] = reflect.ValueOf(svc)
	return nil
}

// bind turns an arbitrary task function into a func(ctx) closure with every
// parameter resolved up front. Accepted shapes: any parameter list drawn
// from context.Context plus registered service types, returning nothing or
// an error.
func (e *Engine) bind(name string, fn any) (func(context.Context), error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, fmt.Errorf("task %q: fn must be a function, got %T", name, fn)
	}
	t := v.Type()

	if t.NumOut() > 1 || (t.NumOut() == 1 && !t.Out(0).Implements(errorType)) {
		return nil, fmt.Errorf("task %q: fn may only return an error", name)
	}
	returnsErr := t.NumOut() == 1

	args := make([]reflect.Value, t.NumIn())
	ctxIndex := -1
	for i := 0; i < t.NumIn(); i++ {
		pt := t.In(i)
		if pt == ctxType {
			if ctxIndex >= 0 {
				return nil, fmt.Errorf("task %q: multiple context parameters", name)
			}
			ctxIndex = i
			continue
		}
		svc, err := e.lookupService(pt)
		if err != nil {
			return nil, fmt.Errorf("task %q: parameter %d: %w", name, i, err)
		}
		args[i] = svc
	}

	return func(ctx context.Context) {
		call := args
		if ctxIndex >= 0 {
			call = make([]reflect.Value, len(args))
			copy(call, args)
			call[ctxIndex] = reflect.ValueOf(ctx)
		}
		out := v.Call(call)
		if returnsErr && !out[0].IsNil() {
			logging.Error(ctx, "Task returned error",
				zap.String("task", name),
				zap.Error(out[0].Interface().(error)),
			)
		}
	}, nil
}

// lookupService finds the registered value satisfying a parameter type.
// Exact matches win; otherwise a single assignable candidate is accepted.
func (e *Engine) lookupService(pt reflect.Type) (reflect.Value, error) {
	e.servicesMu.RLock()
	defer e.servicesMu.RUnlock()

	if v, ok := e.services[pt]; ok {
		return v, nil
	}

	var found reflect.Value
	matches := 0
	for t, v := range e.services {
		if t.AssignableTo(pt) {
			found = v
			matches++
		}
	}
	switch matches {
	case 0:
		return reflect.Value{}, fmt.Errorf("no registered service satisfies %s", pt)
	case 1:
		return found, nil
	default:
		return reflect.Value{}, fmt.Errorf("%d registered services satisfy %s", matches, pt)
	}
}
