package protocol

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDGeneratorStrictlyIncreasing(t *testing.T) {
	var gen IDGenerator
	last := gen.Next()
	for i := 0; i < 10000; i++ {
		next := gen.Next()
		require.Greater(t, next, last)
		last = next
	}
}

func TestEnvelopeEncodeHasTrailingNewlineAndNoInternalOne(t *testing.T) {
	var gen IDGenerator
	env, err := NewEnvelope(&gen, "kdeconnect.ping", map[string]string{"message": "hi"})
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)
	require.Equal(t, byte('\n'), data[len(data)-1])
	require.NotContains(t, string(data[:len(data)-1]), "\n")
}

func TestReadEnvelopeRoundTrip(t *testing.T) {
	raw := `{"id":1,"type":"kdeconnect.identity","body":{"deviceId":"peerA","deviceName":"A","deviceType":"phone","incomingCapabilities":["kdeconnect.ping"],"outgoingCapabilities":["kdeconnect.ping"],"protocolVersion":7,"tcpPort":1716}}` + "\n"
	r := bufio.NewReader(strings.NewReader(raw))
	env, err := ReadEnvelope(r)
	require.NoError(t, err)
	require.Equal(t, int64(1), env.ID)
	require.Equal(t, IdentityType, env.Type)

	id, err := env.DecodeIdentity()
	require.NoError(t, err)
	require.Equal(t, "peerA", id.DeviceID)
	require.Equal(t, 7, id.ProtocolVersion)
	require.NotNil(t, id.TCPPort)
	require.Equal(t, uint16(1716), *id.TCPPort)
}

func TestReadEnvelopeMultipleFrames(t *testing.T) {
	var gen IDGenerator
	e1, _ := NewEnvelope(&gen, "kdeconnect.ping", map[string]string{"message": "a"})
	e2, _ := NewEnvelope(&gen, "kdeconnect.ping", map[string]string{"message": "b"})
	d1, _ := e1.Encode()
	d2, _ := e2.Encode()

	var buf bytes.Buffer
	buf.Write(d1)
	buf.Write(d2)

	r := bufio.NewReader(&buf)
	got1, err := ReadEnvelope(r)
	require.NoError(t, err)
	got2, err := ReadEnvelope(r)
	require.NoError(t, err)
	require.Less(t, got1.ID, got2.ID)
}

func TestDecodeIdentityRejectsWrongType(t *testing.T) {
	env := &Envelope{Type: "kdeconnect.ping", Body: []byte(`{}`)}
	_, err := env.DecodeIdentity()
	require.Error(t, err)
}
