package plugins

import (
	"encoding/json"

	"github.com/deep-gaurav/rusty-connect/internal/protocol"
)

const capPing = "kdeconnect.ping"

// PingPayload is the body of a kdeconnect.ping envelope (spec §4.E).
type PingPayload struct {
	Message string `json:"message,omitempty"`
}

// Ping has no persisted state and no side effects: it exists purely
// to round-trip a liveness probe.
type Ping struct{}

func NewPing() *Ping { return &Ping{} }

func (p *Ping) Name() string                   { return "ping" }
func (p *Ping) IncomingCapabilities() []string { return []string{capPing} }
func (p *Ping) OutgoingCapabilities() []string { return []string{capPing} }
func (p *Ping) IsEnabled(_ json.RawMessage) bool { return true }

func (p *Ping) Parse(env *protocol.Envelope, _ string) (interface{}, bool) {
	if env.Type != capPing {
		return nil, false
	}
	var payload PingPayload
	if err := json.Unmarshal(env.Body, &payload); err != nil {
		return nil, false
	}
	return payload, true
}

func (p *Ping) UpdateState(_ interface{}, state json.RawMessage) (json.RawMessage, error) {
	return state, nil
}

func (p *Ping) ShouldSend(_ json.RawMessage, state json.RawMessage, _ interface{}) (json.RawMessage, bool) {
	return state, true
}
