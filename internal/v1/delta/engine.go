package delta

import (
	"reflect"
	"sync"

	"github.com/altruist-engine/altruist/internal/v1/types"
)

type stateKey struct {
	entityType string
	ownerID    types.ConnectionID
	viewerID   types.ConnectionID
}

// viewerState remembers what one viewer last saw of one entity instance.
type viewerState struct {
	mu          sync.Mutex
	lastValues  []any
	changed     map[string]any
	emittedOnce Bitset
}

// Engine computes per-viewer field deltas. Every (entity, viewer) pair gets
// independent state, so a newly joined client receives values a long-joined
// client already has.
type Engine struct {
	mu     sync.Mutex
	states map[stateKey]*viewerState
}

func NewEngine() *Engine {
	return &Engine{states: make(map[stateKey]*viewerState)}
}

func (e *Engine) state(key stateKey, span int) *viewerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[key]
	if !ok {
		st = &viewerState{
			lastValues:  make([]any, span),
			changed:     make(map[string]any),
			emittedOnce: NewBitset(span),
		}
		e.states[key] = st
	}
	return st
}

// ChangedData scans an entity against what viewerID last saw and returns the
// bits and values due this tick. The map is reused on the next scan of the
// same pair, so consume it before calling again.
//
// forceAll emits every field at its current value, including OneTime fields
// that already went out. Frequency-gated fields otherwise emit purely on the
// tick schedule; value-diffed fields purely on inequality. SyncAlways fields
// ride along only when the scan already emits something else.
//
// An unregistered entity type yields (nil, nil).
func (e *Engine) ChangedData(entity Entity, viewerID types.ConnectionID, currentTick int64, forceAll bool) (Bitset, map[string]any) {
	schema, ok := SchemaFor(entity.EntityType())
	if !ok {
		return nil, nil
	}

	key := stateKey{
		entityType: schema.entityType,
		ownerID:    entity.ConnectionID(),
		viewerID:   viewerID,
	}
	st := e.state(key, schema.bitSpan)

	st.mu.Lock()
	defer st.mu.Unlock()

	for k := range st.changed {
		delete(st.changed, k)
	}
	bits := NewBitset(schema.bitSpan)

	var riders []int
	emitted := false
	for i := range schema.fields {
		f := &schema.fields[i]
		if f.SyncAlways && !forceAll {
			riders = append(riders, i)
			continue
		}
		if f.OneTime && !forceAll && st.emittedOnce.Has(f.BitIndex) {
			continue
		}

		value := f.Get(entity)
		due := forceAll
		if !due {
			if f.Frequency > 0 {
				due = currentTick%f.Frequency == 0
			} else {
				due = !equalValues(st.lastValues[f.BitIndex], value)
			}
		}
		if !due {
			continue
		}

		bits.Set(f.BitIndex)
		st.changed[f.Name] = value
		st.lastValues[f.BitIndex] = cloneValue(value)
		if f.OneTime {
			st.emittedOnce.Set(f.BitIndex)
		}
		emitted = true
	}

	// Ride-along fields go out exactly when the scan carries real changes.
	if emitted {
		for _, i := range riders {
			f := &schema.fields[i]
			value := f.Get(entity)
			bits.Set(f.BitIndex)
			st.changed[f.Name] = value
			st.lastValues[f.BitIndex] = cloneValue(value)
		}
	}

	return bits, st.changed
}

// ForgetViewer drops all state a disconnected viewer accumulated.
func (e *Engine) ForgetViewer(viewerID types.ConnectionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.states {
		if key.viewerID == viewerID {
			delete(e.states, key)
		}
	}
}

// ForgetEntity drops every viewer's state for a despawned entity instance.
func (e *Engine) ForgetEntity(entityType string, ownerID types.ConnectionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.states {
		if key.entityType == entityType && key.ownerID == ownerID {
			delete(e.states, key)
		}
	}
}

// StateCount reports tracked (entity, viewer) pairs.
func (e *Engine) StateCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

// equalValues compares two snapshots. Comparable values use Go equality;
// slices and maps fall back to structural comparison.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// cloneValue snapshots slices and maps so later in-place mutation of the
// entity's value cannot corrupt the remembered one.
func cloneValue(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		c := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(c, rv)
		return c.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		c := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			c.SetMapIndex(iter.Key(), iter.Value())
		}
		return c.Interface()
	default:
		return v
	}
}
