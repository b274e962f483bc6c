package transport

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altruist-engine/altruist/internal/v1/packet"
	"github.com/altruist-engine/altruist/internal/v1/types"
)

// mockConn is a scripted wsConnection. Reads are fed through a channel;
// writes are captured for assertions.
type mockConn struct {
	reads chan mockFrame

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

type mockFrame struct {
	messageType int
	data        []byte
}

func newMockConn() *mockConn {
	return &mockConn{reads: make(chan mockFrame, 16)}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	frame, ok := <-m.reads
	if !ok {
		return 0, nil, io.EOF
	}
	return frame.messageType, frame.data, nil
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if messageType == websocket.BinaryMessage {
		m.writes = append(m.writes, data)
	}
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) SetWriteDeadline(time.Time) error { return nil }

func (m *mockConn) writtenFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// recordingDispatcher captures every dispatched packet.
type recordingDispatcher struct {
	mu      sync.Mutex
	packets []packet.Packet
	clients []types.ConnectionID
}

func (d *recordingDispatcher) Dispatch(_ context.Context, clientID types.ConnectionID, pkt packet.Packet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.packets = append(d.packets, pkt)
	d.clients = append(d.clients, clientID)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.packets)
}

func newTestClient(t *testing.T) (*Client, *mockConn, *recordingDispatcher) {
	t.Helper()
	codec, err := packet.NewCodec(packet.CodecJSON)
	require.NoError(t, err)
	conn := newMockConn()
	dispatcher := &recordingDispatcher{}
	return newClient("client-1", conn, codec, dispatcher), conn, dispatcher
}

func encodeFrame(t *testing.T, p packet.Packet) []byte {
	t.Helper()
	codec, err := packet.NewCodec(packet.CodecJSON)
	require.NoError(t, err)
	data, err := codec.Encode(p)
	require.NoError(t, err)
	return data
}

func TestReadPump_DispatchesDecodedPackets(t *testing.T) {
	client, conn, dispatcher := newTestClient(t)

	ping := &packet.PingPacket{Head: packet.NewHeader("client-1", "")}
	conn.reads <- mockFrame{websocket.BinaryMessage, encodeFrame(t, ping)}
	close(conn.reads)

	done := make(chan struct{})
	go func() {
		client.readPump()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read pump did not exit")
	}

	require.Equal(t, 1, dispatcher.count())
	assert.Equal(t, packet.TypePing, dispatcher.packets[0].Type())
	assert.Equal(t, types.ConnectionID("client-1"), dispatcher.clients[0])
}

func TestReadPump_DropsMalformedFrameAndStaysOpen(t *testing.T) {
	client, conn, dispatcher := newTestClient(t)

	conn.reads <- mockFrame{websocket.BinaryMessage, []byte("not a packet")}
	conn.reads <- mockFrame{websocket.BinaryMessage, encodeFrame(t, &packet.PingPacket{})}
	close(conn.reads)

	done := make(chan struct{})
	go func() {
		client.readPump()
		close(done)
	}()
	<-done

	// The garbage frame is dropped; the valid one behind it still arrives.
	require.Equal(t, 1, dispatcher.count())
	assert.Equal(t, packet.TypePing, dispatcher.packets[0].Type())
}

func TestReadPump_SkipsNonDataFrames(t *testing.T) {
	client, conn, dispatcher := newTestClient(t)

	conn.reads <- mockFrame{websocket.PongMessage, nil}
	close(conn.reads)

	client.readPump()
	assert.Zero(t, dispatcher.count())
}

func TestReadPump_RunsOnCloseHook(t *testing.T) {
	client, conn, _ := newTestClient(t)

	var hookID types.ConnectionID
	client.onClose = func(id types.ConnectionID) { hookID = id }

	close(conn.reads)
	client.readPump()

	assert.Equal(t, types.ConnectionID("client-1"), hookID)
	assert.True(t, conn.closed)
}

func TestWritePump_DeliversQueuedFrames(t *testing.T) {
	client, conn, _ := newTestClient(t)

	require.NoError(t, client.Write([]byte("frame-1")))
	require.NoError(t, client.Write([]byte("frame-2")))
	client.Close()

	client.writePump()

	frames := conn.writtenFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, []byte("frame-1"), frames[0])
	assert.Equal(t, []byte("frame-2"), frames[1])
}

func TestWrite_FailsWhenBufferFull(t *testing.T) {
	client, _, _ := newTestClient(t)

	for range sendBuffer {
		require.NoError(t, client.Write([]byte("x")))
	}
	assert.ErrorIs(t, client.Write([]byte("overflow")), ErrSendBufferFull)
}

func TestWrite_FailsAfterClose(t *testing.T) {
	client, _, _ := newTestClient(t)
	client.Close()
	assert.Error(t, client.Write([]byte("late")))
}

func TestClose_Idempotent(t *testing.T) {
	client, _, _ := newTestClient(t)
	client.Close()
	assert.NotPanics(t, func() { client.Close() })
}
