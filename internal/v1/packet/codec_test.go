package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodec(t *testing.T) {
	jsonCodec, err := NewCodec(CodecJSON)
	require.NoError(t, err)
	assert.Equal(t, CodecJSON, jsonCodec.Name())

	binCodec, err := NewCodec(CodecBinary)
	require.NoError(t, err)
	assert.Equal(t, CodecBinary, binCodec.Name())

	_, err = NewCodec("carrier-pigeon")
	assert.Error(t, err)
}

func TestJSONCodec_RoundTripSync(t *testing.T) {
	codec := &JSONCodec{}
	original := &SyncPacket{
		Head:       NewHeader(SenderServer, "client-1"),
		EntityType: "player",
		EntityID:   "client-7",
		Data: map[string]any{
			"position": []any{12.5, -3.0},
			"name":     "ada",
		},
	}

	frame, err := codec.Encode(original)
	require.NoError(t, err)

	decoded, err := codec.Decode(frame)
	require.NoError(t, err)

	sync, ok := decoded.(*SyncPacket)
	require.True(t, ok, "expected *SyncPacket, got %T", decoded)
	assert.Equal(t, "player", sync.EntityType)
	assert.Equal(t, "client-7", sync.EntityID)
	assert.Equal(t, "client-1", sync.Head.Receiver)
	assert.Equal(t, "ada", sync.Data["name"])
	assert.Equal(t, []any{12.5, -3.0}, sync.Data["position"])
}

func TestJSONCodec_DecodeRejectsGarbage(t *testing.T) {
	codec := &JSONCodec{}

	_, err := codec.Decode([]byte("{not json"))
	assert.Error(t, err)

	_, err = codec.Decode([]byte(`{"data":{}}`))
	assert.Error(t, err, "missing discriminator must fail")

	_, err = codec.Decode([]byte(`{"type":"no_such_packet","data":{}}`))
	assert.Error(t, err)
}

func TestBinaryCodec_RoundTripHandshake(t *testing.T) {
	codec := &BinaryCodec{}
	original := &HandshakePacket{
		Head:         NewHeader(SenderServer, "client-9"),
		ConnectionID: "client-9",
	}

	frame, err := codec.Encode(original)
	require.NoError(t, err)

	decoded, err := codec.Decode(frame)
	require.NoError(t, err)

	hs, ok := decoded.(*HandshakePacket)
	require.True(t, ok, "expected *HandshakePacket, got %T", decoded)
	assert.Equal(t, "client-9", hs.ConnectionID)
	assert.Equal(t, original.Head.Timestamp, hs.Head.Timestamp)
}

func TestBinaryCodec_EncodesPositionally(t *testing.T) {
	codec := &BinaryCodec{}
	frame, err := codec.Encode(&HandshakePacket{
		Head:         NewHeader(SenderServer, ""),
		ConnectionID: "abc",
	})
	require.NoError(t, err)

	// Array encoding keeps field names off the wire entirely.
	assert.NotContains(t, string(frame), "connectionId")
	assert.NotContains(t, string(frame), "timestamp")
}

func TestBinaryCodec_RoundTripInterprocess(t *testing.T) {
	inner, err := (&JSONCodec{}).Encode(&PingPacket{Head: NewHeader("client-3", SenderServer)})
	require.NoError(t, err)

	codec := &BinaryCodec{}
	frame, err := codec.Encode(&InterprocessPacket{
		Head:      NewHeader(SenderServer, "client-3"),
		ProcessID: "proc-a",
		Inner:     inner,
	})
	require.NoError(t, err)

	decoded, err := codec.Decode(frame)
	require.NoError(t, err)

	ip, ok := decoded.(*InterprocessPacket)
	require.True(t, ok)
	assert.Equal(t, "proc-a", ip.ProcessID)
	assert.Equal(t, inner, ip.Inner)
}

func TestBinaryCodec_DecodeRejectsGarbage(t *testing.T) {
	codec := &BinaryCodec{}

	_, err := codec.Decode([]byte{0xc1})
	assert.Error(t, err)

	_, err = codec.Decode([]byte{})
	assert.Error(t, err)
}
