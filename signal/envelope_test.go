package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{Type: TypeOffer, From: "alice", To: "bob", Payload: `{"type":"offer","sdp":"v=0..."}`}
	decoded, err := DecodeEnvelope(env.Encode())
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
}

func TestDecodeUnknownTagQuarantined(t *testing.T) {
	decoded, err := DecodeEnvelope([]byte(`{"type":"telemetry","from":"x","to":"y","payload":"z"}`))
	require.NoError(t, err)
	assert.Equal(t, Envelope{Type: TypeError}, decoded, "unknown tag should yield error type with empty fields")
}

func TestDecodeMalformedFrame(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"type":`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeMissingFields(t *testing.T) {
	decoded, err := DecodeEnvelope([]byte(`{"type":"peer_list"}`))
	require.NoError(t, err)
	assert.Equal(t, TypePeerList, decoded.Type)
	assert.Empty(t, decoded.From)
	assert.Empty(t, decoded.To)
}

func TestRelayRecordTextRoundTrip(t *testing.T) {
	rec, err := ParseRelayRecord(NewTextRecord("hi").Marshal())
	require.NoError(t, err)
	assert.False(t, rec.IsBinary)

	data, err := rec.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)
}

func TestRelayRecordBinaryRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("Hello"),
		{0x00, 0xff, 0x7f, 0x80},
		{},
	}
	for _, payload := range payloads {
		rec, err := ParseRelayRecord(NewBinaryRecord(payload).Marshal())
		require.NoError(t, err)
		assert.True(t, rec.IsBinary)

		data, err := rec.Bytes()
		require.NoError(t, err)
		assert.Equal(t, payload, data)
	}
}

func TestRelayRecordKnownEncoding(t *testing.T) {
	// Wire-exact check: "Hello" travels as SGVsbG8= with standard padding.
	rec := NewBinaryRecord([]byte("Hello"))
	assert.Equal(t, "SGVsbG8=", rec.Data)

	parsed, err := ParseRelayRecord(`{"is_binary":true,"data":"SGVsbG8="}`)
	require.NoError(t, err)
	data, err := parsed.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("Hello"), data)
}

func TestMarshalPeerListEmpty(t *testing.T) {
	assert.Equal(t, "[]", MarshalPeerList(nil))

	peers, err := ParsePeerList(`["bob"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, peers)
}

func TestAuthResultRoundTrip(t *testing.T) {
	res, err := ParseAuthResult(AuthResult{Success: true, Message: "Authentication successful"}.Marshal())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Authentication successful", res.Message)
}
