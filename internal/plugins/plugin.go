// Package plugins implements the compile-time-fixed plugin registry
// (spec §4.E): capability-string routing of inbound envelopes to
// plugin parsers, per-device per-plugin state, and the outbound send
// gate. Grounded on the teacher's pkgs/consensus engine-registration
// shape (a fixed slice of named engines consulted in order) and on
// pkgs/trace.TraceService for the logger-per-component idiom.
package plugins

import (
	"encoding/json"

	"github.com/deep-gaurav/rusty-connect/internal/protocol"
)

// Plugin is the contract every registered plugin satisfies (spec
// §4.B "Plugin binding"). Config and State are opaque JSON values
// owned by the device manager; plugins marshal/unmarshal their own
// shape out of them.
type Plugin interface {
	// Name identifies the plugin in plugin_configs/plugin_states keys
	// and in KindPlugin events.
	Name() string

	// IncomingCapabilities and OutgoingCapabilities are unioned by the
	// registry to build the local Identity envelope.
	IncomingCapabilities() []string
	OutgoingCapabilities() []string

	// IsEnabled reports whether this plugin should run for a device
	// given its (possibly absent) per-plugin config.
	IsEnabled(config json.RawMessage) bool

	// Parse attempts to decode env as this plugin's payload. ok is
	// false if env does not belong to this plugin's capability.
	Parse(env *protocol.Envelope, peerAddr string) (payload interface{}, ok bool)

	// UpdateState folds payload into the plugin's in-memory state,
	// returning the new state to store.
	UpdateState(payload interface{}, state json.RawMessage) (json.RawMessage, error)

	// ShouldSend decides whether an outbound payload is worth sending
	// given config and current state, returning the state to persist
	// if the caller goes on to actually send it.
	ShouldSend(config json.RawMessage, state json.RawMessage, payload interface{}) (nextState json.RawMessage, send bool)
}

// TransferRequester is implemented by plugins whose inbound payload
// may carry a side-channel transfer (spec §4.E notification/share,
// §4.F). The registry calls RequestTransfer after every successful
// Parse; the plugin itself checks whether the envelope advertises
// PayloadTransferInfo.
type TransferRequester interface {
	Plugin

	// RequestTransfer inspects env/payload and, if a side-channel
	// download should be started, returns a TransferSpec describing
	// it plus the payload to emit in its place (e.g. share stamps a
	// fresh download_id into it). ok is false when the envelope
	// carries no transferable payload (e.g. a notification without
	// payloadHash), in which case the original payload is emitted
	// unchanged.
	RequestTransfer(env *protocol.Envelope, peerAddr string, payload interface{}) (spec TransferSpec, updatedPayload interface{}, ok bool)
}

// TransferSpec parameterizes one side-channel download (spec §4.F).
type TransferSpec struct {
	PeerHost     string
	PeerPort     uint16
	ExpectedSize int64
	DestPath     string
	ChunkSize    int

	// DownloadID, if non-empty, registers this transfer in the
	// process-wide downloads table (spec §4.E share behavior).
	DownloadID string

	// OnComplete runs once dest is fully written, before Completed is
	// published. May be nil; none of the plugins here set it.
	OnComplete func(destPath string)
}
