package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altruist-engine/altruist/internal/v1/types"
)

// soldier is a hand-rolled entity for exercising scans.
type soldier struct {
	id     types.ConnectionID
	typ    string
	pos    [2]float64
	health int
	name   string
	tags   []string
}

func (s *soldier) ConnectionID() types.ConnectionID { return s.id }
func (s *soldier) EntityType() string               { return s.typ }

func mustRegisterSchema(t *testing.T, fields ...FieldSpec) string {
	t.Helper()
	s, err := NewSchema(t.Name(), fields...)
	require.NoError(t, err)
	require.NoError(t, RegisterSchema(s))
	return t.Name()
}

func posField(bit int) FieldSpec {
	return FieldSpec{Name: "position", BitIndex: bit, Get: func(e Entity) any { return e.(*soldier).pos }}
}

func healthField(bit int, freq int64) FieldSpec {
	return FieldSpec{Name: "health", BitIndex: bit, Frequency: freq, Get: func(e Entity) any { return e.(*soldier).health }}
}

func TestValueDiffEmitsOnChange(t *testing.T) {
	typ := mustRegisterSchema(t, posField(0))
	e := NewEngine()
	s := &soldier{id: "c1", typ: typ, pos: [2]float64{1, 2}}

	bits, data := e.ChangedData(s, "viewer", 1, false)
	require.True(t, bits.Has(0), "initial value differs from the empty baseline")
	assert.Equal(t, [2]float64{1, 2}, data["position"])

	bits, _ = e.ChangedData(s, "viewer", 2, false)
	assert.False(t, bits.Any(), "unchanged value stays quiet")

	s.pos = [2]float64{3, 2}
	bits, data = e.ChangedData(s, "viewer", 3, false)
	assert.True(t, bits.Has(0))
	assert.Equal(t, [2]float64{3, 2}, data["position"])
}

func TestFrequencyIsAPureTickGate(t *testing.T) {
	typ := mustRegisterSchema(t, healthField(0, 5))
	e := NewEngine()
	s := &soldier{id: "c1", typ: typ, health: 100}

	// Off-schedule ticks never emit, no matter how much the value moves.
	for tick := int64(1); tick <= 4; tick++ {
		s.health -= 10
		bits, _ := e.ChangedData(s, "viewer", tick, false)
		assert.False(t, bits.Any(), "tick %d is off schedule", tick)
	}

	bits, data := e.ChangedData(s, "viewer", 5, false)
	require.True(t, bits.Has(0))
	assert.Equal(t, 60, data["health"])

	// On-schedule ticks emit even when the value did not move.
	bits, data = e.ChangedData(s, "viewer", 10, false)
	require.True(t, bits.Has(0))
	assert.Equal(t, 60, data["health"])
}

func TestSyncAlwaysRidesAlongOnly(t *testing.T) {
	typ := mustRegisterSchema(t,
		posField(0),
		FieldSpec{Name: "rotation", BitIndex: 1, SyncAlways: true, Get: func(e Entity) any { return e.(*soldier).health }},
	)
	e := NewEngine()
	s := &soldier{id: "c1", typ: typ, pos: [2]float64{1, 1}, health: 90}

	bits, data := e.ChangedData(s, "viewer", 1, false)
	assert.True(t, bits.Has(0))
	assert.True(t, bits.Has(1), "ride-along joins a scan that emits")
	assert.Equal(t, 90, data["rotation"])

	// Rotation alone cannot trigger a packet.
	s.health = 180
	bits, _ = e.ChangedData(s, "viewer", 2, false)
	assert.False(t, bits.Any())

	s.pos = [2]float64{2, 1}
	bits, data = e.ChangedData(s, "viewer", 3, false)
	assert.True(t, bits.Has(0))
	assert.True(t, bits.Has(1))
	assert.Equal(t, 180, data["rotation"], "ride-along carries its current value")
}

func TestOneTimeEmitsOncePerViewer(t *testing.T) {
	typ := mustRegisterSchema(t,
		FieldSpec{Name: "name", BitIndex: 0, OneTime: true, Get: func(e Entity) any { return e.(*soldier).name }},
	)
	e := NewEngine()
	s := &soldier{id: "c1", typ: typ, name: "Ada"}

	bits, data := e.ChangedData(s, "viewer", 1, false)
	require.True(t, bits.Has(0))
	assert.Equal(t, "Ada", data["name"])

	s.name = "Grace"
	bits, _ = e.ChangedData(s, "viewer", 2, false)
	assert.False(t, bits.Any(), "one-time fields never re-emit on change")

	bits, data = e.ChangedData(s, "viewer", 3, true)
	require.True(t, bits.Has(0), "a full resync re-emits one-time fields")
	assert.Equal(t, "Grace", data["name"])

	bits, _ = e.ChangedData(s, "viewer", 4, false)
	assert.False(t, bits.Any(), "suppression resumes after the resync")
}

func TestForceAllEmitsEveryField(t *testing.T) {
	typ := mustRegisterSchema(t,
		posField(0),
		healthField(1, 5),
		FieldSpec{Name: "rotation", BitIndex: 2, SyncAlways: true, Get: func(e Entity) any { return 0.5 }},
	)
	e := NewEngine()
	s := &soldier{id: "c1", typ: typ, pos: [2]float64{1, 1}, health: 70}

	_, _ = e.ChangedData(s, "viewer", 1, false)

	// Tick 7 is off the health schedule and nothing changed, yet a full
	// resync carries all three fields.
	bits, data := e.ChangedData(s, "viewer", 7, true)
	assert.Equal(t, 3, bits.Count())
	assert.Len(t, data, 3)
	assert.Equal(t, 70, data["health"])
}

func TestViewersTrackIndependently(t *testing.T) {
	typ := mustRegisterSchema(t, posField(0))
	e := NewEngine()
	s := &soldier{id: "c1", typ: typ, pos: [2]float64{5, 5}}

	bits, _ := e.ChangedData(s, "veteran", 1, false)
	require.True(t, bits.Has(0))
	bits, _ = e.ChangedData(s, "veteran", 2, false)
	require.False(t, bits.Any())

	// A viewer that just joined still needs the current position.
	bits, data := e.ChangedData(s, "newcomer", 2, false)
	require.True(t, bits.Has(0))
	assert.Equal(t, [2]float64{5, 5}, data["position"])
}

func TestSliceValuesAreSnapshotted(t *testing.T) {
	typ := mustRegisterSchema(t,
		FieldSpec{Name: "tags", BitIndex: 0, Get: func(e Entity) any { return e.(*soldier).tags }},
	)
	e := NewEngine()
	s := &soldier{id: "c1", typ: typ, tags: []string{"alpha"}}

	bits, _ := e.ChangedData(s, "viewer", 1, false)
	require.True(t, bits.Has(0))

	// In-place mutation must still read as a change on the next scan.
	s.tags[0] = "bravo"
	bits, data := e.ChangedData(s, "viewer", 2, false)
	require.True(t, bits.Has(0))
	assert.Equal(t, []string{"bravo"}, data["tags"])
}

func TestChangedMapHoldsOnlyCurrentScan(t *testing.T) {
	typ := mustRegisterSchema(t,
		posField(0),
		FieldSpec{Name: "name", BitIndex: 1, Get: func(e Entity) any { return e.(*soldier).name }},
	)
	e := NewEngine()
	s := &soldier{id: "c1", typ: typ, pos: [2]float64{1, 1}, name: "Ada"}

	_, data := e.ChangedData(s, "viewer", 1, false)
	assert.Len(t, data, 2)

	s.pos = [2]float64{2, 2}
	_, data = e.ChangedData(s, "viewer", 2, false)
	assert.Len(t, data, 1, "stale keys from the prior scan are cleared")
	assert.Contains(t, data, "position")
}

func TestForgetViewerResetsBaseline(t *testing.T) {
	typ := mustRegisterSchema(t, posField(0))
	e := NewEngine()
	s := &soldier{id: "c1", typ: typ, pos: [2]float64{5, 5}}

	_, _ = e.ChangedData(s, "viewer", 1, false)
	require.Equal(t, 1, e.StateCount())

	e.ForgetViewer("viewer")
	assert.Equal(t, 0, e.StateCount())

	bits, _ := e.ChangedData(s, "viewer", 2, false)
	assert.True(t, bits.Has(0), "a reconnected viewer starts from scratch")
}

func TestForgetEntityDropsAllViewers(t *testing.T) {
	typ := mustRegisterSchema(t, posField(0))
	e := NewEngine()
	s := &soldier{id: "c1", typ: typ, pos: [2]float64{5, 5}}

	_, _ = e.ChangedData(s, "a", 1, false)
	_, _ = e.ChangedData(s, "b", 1, false)
	require.Equal(t, 2, e.StateCount())

	e.ForgetEntity(typ, "c1")
	assert.Equal(t, 0, e.StateCount())
}

func TestUnknownEntityTypeYieldsNothing(t *testing.T) {
	e := NewEngine()
	s := &soldier{id: "c1", typ: "never-registered"}

	bits, data := e.ChangedData(s, "viewer", 1, false)
	assert.Nil(t, bits)
	assert.Nil(t, data)
	assert.Equal(t, 0, e.StateCount())
}
