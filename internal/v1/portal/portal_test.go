package portal

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altruist-engine/altruist/internal/v1/packet"
	"github.com/altruist-engine/altruist/internal/v1/types"
)

// captureReplier records failure replies a portal sends back.
type captureReplier struct {
	mu      sync.Mutex
	packets []packet.Packet
	clients []types.ConnectionID
}

func (r *captureReplier) Send(_ context.Context, clientID types.ConnectionID, pkt packet.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, pkt)
	r.clients = append(r.clients, clientID)
	return nil
}

func (r *captureReplier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

func pingPacket() *packet.PingPacket {
	return &packet.PingPacket{Head: packet.NewHeader("c1", "")}
}

func TestNewPortalValidation(t *testing.T) {
	_, err := New("", nil)
	assert.Error(t, err)

	p, err := New("game", nil)
	require.NoError(t, err)
	assert.Equal(t, "game", p.Path())
}

func TestGateAcceptsBothSignatures(t *testing.T) {
	p, err := New("game", nil)
	require.NoError(t, err)

	require.NoError(t, p.Gate(packet.TypePing, func(_ context.Context, _ packet.Packet) error {
		return nil
	}))
	require.NoError(t, p.Gate(packet.TypeJoinGame, func(_ context.Context, _ packet.Packet, _ types.ConnectionID) error {
		return nil
	}))
	assert.ElementsMatch(t, []string{packet.TypePing, packet.TypeJoinGame}, p.Events())
}

func TestGateRejections(t *testing.T) {
	p, err := New("game", nil)
	require.NoError(t, err)

	assert.Error(t, p.Gate("", func(_ context.Context, _ packet.Packet) error { return nil }),
		"empty event")
	assert.Error(t, p.Gate(packet.TypePing, "not a function"),
		"non-function handler")
	assert.Error(t, p.Gate(packet.TypePing, func(_ packet.Packet) error { return nil }),
		"missing context parameter")
	assert.Error(t, p.Gate(packet.TypePing, func(_ context.Context, _ packet.Packet) {}),
		"missing error return")

	require.NoError(t, p.Gate(packet.TypePing, func(_ context.Context, _ packet.Packet) error { return nil }))
	assert.Error(t, p.Gate(packet.TypePing, func(_ context.Context, _ packet.Packet) error { return nil }),
		"duplicate event")
}

func TestDispatchRoutesToGate(t *testing.T) {
	p, err := New("game", nil)
	require.NoError(t, err)

	var gotClient types.ConnectionID
	var gotType string
	require.NoError(t, p.Gate(packet.TypePing, func(_ context.Context, pkt packet.Packet, clientID types.ConnectionID) error {
		gotClient = clientID
		gotType = pkt.Type()
		return nil
	}))

	p.Dispatch(context.Background(), "c1", pingPacket())

	assert.Equal(t, types.ConnectionID("c1"), gotClient)
	assert.Equal(t, packet.TypePing, gotType)
}

func TestDispatchDropsUnknownTypes(t *testing.T) {
	replies := &captureReplier{}
	p, err := New("game", replies)
	require.NoError(t, err)

	// No gates registered at all; nothing should blow up or reply.
	p.Dispatch(context.Background(), "c1", pingPacket())
	assert.Equal(t, 0, replies.count())
}

func TestDispatchRepliesWithFailureOnHandlerError(t *testing.T) {
	replies := &captureReplier{}
	p, err := New("game", replies)
	require.NoError(t, err)

	require.NoError(t, p.Gate(packet.TypePing, func(_ context.Context, _ packet.Packet) error {
		return errors.New("room is full")
	}))

	p.Dispatch(context.Background(), "c1", pingPacket())

	require.Equal(t, 1, replies.count())
	failed, ok := replies.packets[0].(*packet.FailedPacket)
	require.True(t, ok)
	assert.Equal(t, packet.TypePing, failed.FailType)
	assert.Equal(t, "room is full", failed.Reason)
	assert.Equal(t, types.ConnectionID("c1"), replies.clients[0])
}

func TestDispatchContainsHandlerPanic(t *testing.T) {
	replies := &captureReplier{}
	p, err := New("game", replies)
	require.NoError(t, err)

	require.NoError(t, p.Gate(packet.TypePing, func(_ context.Context, _ packet.Packet) error {
		panic("handler bug")
	}))

	assert.NotPanics(t, func() {
		p.Dispatch(context.Background(), "c1", pingPacket())
	})

	require.Equal(t, 1, replies.count())
	failed, ok := replies.packets[0].(*packet.FailedPacket)
	require.True(t, ok)
	assert.Contains(t, failed.Reason, "handler bug")
}

func TestDispatchWithoutReplierStaysQuiet(t *testing.T) {
	p, err := New("game", nil)
	require.NoError(t, err)
	require.NoError(t, p.Gate(packet.TypePing, func(_ context.Context, _ packet.Packet) error {
		return errors.New("nope")
	}))

	assert.NotPanics(t, func() {
		p.Dispatch(context.Background(), "c1", pingPacket())
	})
}

func TestRegistryPaths(t *testing.T) {
	r := NewRegistry()

	game, err := New("game", nil)
	require.NoError(t, err)
	lobby, err := New("lobby", nil)
	require.NoError(t, err)

	require.NoError(t, r.Add(game))
	require.NoError(t, r.Add(lobby))
	assert.ElementsMatch(t, []string{"game", "lobby"}, r.Paths())

	got, ok := r.Get("game")
	require.True(t, ok)
	assert.Same(t, game, got)

	_, ok = r.Get("unknown")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicatePath(t *testing.T) {
	r := NewRegistry()
	first, err := New("game", nil)
	require.NoError(t, err)
	second, err := New("game", nil)
	require.NoError(t, err)

	require.NoError(t, r.Add(first))
	assert.Error(t, r.Add(second))
	assert.Error(t, r.Add(nil))
}
