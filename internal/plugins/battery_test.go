package plugins

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatteryShouldSendSuppressesDuplicate(t *testing.T) {
	b := NewBattery()
	payload := BatteryPayload{CurrentCharge: 80, IsCharging: true, ThresholdEvent: ThresholdNone}

	state, send := b.ShouldSend(nil, nil, payload)
	require.True(t, send)

	_, send = b.ShouldSend(nil, state, payload)
	require.False(t, send, "identical status should not be resent")

	changed := payload
	changed.CurrentCharge = 79
	_, send = b.ShouldSend(nil, state, changed)
	require.True(t, send, "changed status should be resent")
}

func TestBatteryParseRejectsOtherCapability(t *testing.T) {
	b := NewBattery()
	_, ok := b.Parse(pingEnvelope(t), "peer")
	require.False(t, ok)
}
