package plugins

import (
	"encoding/json"
	"testing"

	"github.com/deep-gaurav/rusty-connect/internal/protocol"
	"github.com/stretchr/testify/require"
)

func envelopeOf(t *testing.T, typ string, body interface{}) *protocol.Envelope {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return &protocol.Envelope{ID: 1, Type: typ, Body: data}
}

func pingEnvelope(t *testing.T) *protocol.Envelope {
	return envelopeOf(t, capPing, PingPayload{Message: "hi"})
}
