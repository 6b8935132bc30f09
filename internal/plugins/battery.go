package plugins

import (
	"encoding/json"

	"github.com/deep-gaurav/rusty-connect/internal/protocol"
)

const capBattery = "kdeconnect.battery"

// ThresholdEvent enumerates the battery threshold states (spec §4.E),
// serialized as the bare integer on the wire.
type ThresholdEvent int

const (
	ThresholdNone       ThresholdEvent = 0
	ThresholdBatteryLow ThresholdEvent = 1
)

// BatteryPayload is the body of a kdeconnect.battery envelope.
type BatteryPayload struct {
	CurrentCharge  float32        `json:"currentCharge"`
	IsCharging     bool           `json:"isCharging"`
	ThresholdEvent ThresholdEvent `json:"thresholdEvent"`
}

// batteryState is the in-memory plugin_states shape for battery: the
// last status actually sent, used to suppress duplicate sends.
type batteryState struct {
	LastSentStatus *BatteryPayload `json:"lastSentStatus,omitempty"`
}

// Battery tracks the local device's battery status and forwards the
// remote's. ShouldSend suppresses resending an unchanged status (spec
// §4.E "compares the new payload with state.last_sent_status").
type Battery struct{}

func NewBattery() *Battery { return &Battery{} }

func (b *Battery) Name() string                   { return "battery" }
func (b *Battery) IncomingCapabilities() []string  { return []string{capBattery} }
func (b *Battery) OutgoingCapabilities() []string  { return []string{capBattery} }
func (b *Battery) IsEnabled(_ json.RawMessage) bool { return true }

func (b *Battery) Parse(env *protocol.Envelope, _ string) (interface{}, bool) {
	if env.Type != capBattery {
		return nil, false
	}
	var payload BatteryPayload
	if err := json.Unmarshal(env.Body, &payload); err != nil {
		return nil, false
	}
	return payload, true
}

func (b *Battery) UpdateState(_ interface{}, state json.RawMessage) (json.RawMessage, error) {
	// Inbound battery reports from the peer are forwarded via the
	// emitted event only; local plugin_states tracks only what we
	// have sent, so nothing to fold in here.
	return state, nil
}

func (b *Battery) ShouldSend(_ json.RawMessage, state json.RawMessage, payload interface{}) (json.RawMessage, bool) {
	current, ok := payload.(BatteryPayload)
	if !ok {
		return state, false
	}

	var st batteryState
	if len(state) > 0 {
		if err := json.Unmarshal(state, &st); err != nil {
			st = batteryState{}
		}
	}

	if st.LastSentStatus != nil && *st.LastSentStatus == current {
		return state, false
	}

	st.LastSentStatus = &current
	next, err := json.Marshal(st)
	if err != nil {
		return state, false
	}
	return next, true
}
