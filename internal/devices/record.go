package devices

import (
	"encoding/json"

	"github.com/deep-gaurav/rusty-connect/internal/protocol"
	"github.com/google/uuid"
)

// State is the connection lifecycle of a device (spec §3 Lifecycle).
type State int

const (
	StateInactive State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "inactive"
}

// Active holds the connection-scoped state attached to a device while
// State == StateActive. The outbound channel is zero-capacity
// rendezvous (spec §5, §9): sends block until the duplex writer is
// ready, so back-pressure flows to the caller.
type Active struct {
	Token    uuid.UUID
	PeerAddr string
	outbound chan *protocol.Envelope
	ids      *protocol.IDGenerator
}

// Record is the persisted half of a device: everything written to the
// devices file (spec §3, §6). PluginConfigs is optional per-plugin
// configuration keyed by plugin name.
type Record struct {
	ID            string                     `json:"id"`
	Identity      protocol.Identity          `json:"identity"`
	Paired        bool                       `json:"paired"`
	PluginConfigs map[string]json.RawMessage `json:"pluginConfigs,omitempty"`
}

// Device is the full in-memory entry: the persisted Record plus the
// in-memory-only extension (plugin_states, connection state) that spec
// §3 says is never written to disk.
type Device struct {
	Record       Record
	PluginStates map[string]json.RawMessage
	State        State
	Active       *Active
}

func newDevice(identity protocol.Identity) *Device {
	return &Device{
		Record: Record{
			ID:       identity.DeviceID,
			Identity: identity,
			Paired:   false,
		},
		PluginStates: make(map[string]json.RawMessage),
		State:        StateInactive,
	}
}

// Snapshot is a defensive copy of the fields callers outside the
// manager's lock are allowed to read (it deliberately omits the live
// outbound channel and id generator).
type Snapshot struct {
	Record       Record
	PluginStates map[string]json.RawMessage
	State        State
	PeerAddr     string
}

func (d *Device) snapshot() Snapshot {
	states := make(map[string]json.RawMessage, len(d.PluginStates))
	for k, v := range d.PluginStates {
		states[k] = v
	}
	s := Snapshot{Record: d.Record, PluginStates: states, State: d.State}
	if d.Active != nil {
		s.PeerAddr = d.Active.PeerAddr
	}
	return s
}
