// Package events defines the tagged inbound event stream that the
// device manager and plugin registry publish to, and that external
// subscribers (the control surface, tests) consume (spec §9 "Tagged
// inbound event stream" design note).
package events

import "github.com/deep-gaurav/rusty-connect/internal/protocol"

// Kind discriminates the Event.Payload field, standing in for the
// Rust source's ReceivedPayload enum arms.
type Kind string

const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindIdentity     Kind = "identity"
	KindPair         Kind = "pair"
	KindPlugin       Kind = "plugin"
	KindUnknown      Kind = "unknown"
)

// Event is the single type flowing through the process-wide broadcast
// feed. DeviceID is always set except it is meaningless for events
// that predate device-table attachment. Plugin names the originating
// plugin when Kind == KindPlugin. Payload holds:
//   - KindConnected / KindDisconnected: nil (DeviceID is enough)
//   - KindIdentity: protocol.Identity
//   - KindPair: protocol.Pair
//   - KindPlugin: the plugin's payload struct
//   - KindUnknown: *protocol.Envelope
type Event struct {
	Kind     Kind
	DeviceID string
	Plugin   string
	Payload  interface{}
}

// Connected builds a KindConnected event for deviceID.
func Connected(deviceID string) Event { return Event{Kind: KindConnected, DeviceID: deviceID} }

// Disconnected builds a KindDisconnected event for deviceID.
func Disconnected(deviceID string) Event { return Event{Kind: KindDisconnected, DeviceID: deviceID} }

// IdentityEvent builds a KindIdentity event.
func IdentityEvent(deviceID string, id protocol.Identity) Event {
	return Event{Kind: KindIdentity, DeviceID: deviceID, Payload: id}
}

// PairEvent builds a KindPair event.
func PairEvent(deviceID string, p protocol.Pair) Event {
	return Event{Kind: KindPair, DeviceID: deviceID, Payload: p}
}

// Plugin builds a KindPlugin event carrying an already-decoded payload.
func Plugin(deviceID, plugin string, payload interface{}) Event {
	return Event{Kind: KindPlugin, DeviceID: deviceID, Plugin: plugin, Payload: payload}
}

// Unknown builds a KindUnknown event wrapping the envelope nobody
// claimed.
func Unknown(deviceID string, env *protocol.Envelope) Event {
	return Event{Kind: KindUnknown, DeviceID: deviceID, Payload: env}
}
