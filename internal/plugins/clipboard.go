package plugins

import (
	"encoding/json"

	"github.com/deep-gaurav/rusty-connect/internal/protocol"
)

const capClipboard = "kdeconnect.clipboard"

// ClipboardPayload is the body of a kdeconnect.clipboard envelope.
type ClipboardPayload struct {
	Content string `json:"content"`
}

// Clipboard mirrors the remote clipboard content. It keeps no state:
// every inbound update is forwarded as-is.
type Clipboard struct{}

func NewClipboard() *Clipboard { return &Clipboard{} }

func (c *Clipboard) Name() string                   { return "clipboard" }
func (c *Clipboard) IncomingCapabilities() []string  { return []string{capClipboard} }
func (c *Clipboard) OutgoingCapabilities() []string  { return []string{capClipboard} }
func (c *Clipboard) IsEnabled(_ json.RawMessage) bool { return true }

func (c *Clipboard) Parse(env *protocol.Envelope, _ string) (interface{}, bool) {
	if env.Type != capClipboard {
		return nil, false
	}
	var payload ClipboardPayload
	if err := json.Unmarshal(env.Body, &payload); err != nil {
		return nil, false
	}
	return payload, true
}

func (c *Clipboard) UpdateState(_ interface{}, state json.RawMessage) (json.RawMessage, error) {
	return state, nil
}

func (c *Clipboard) ShouldSend(_ json.RawMessage, state json.RawMessage, _ interface{}) (json.RawMessage, bool) {
	return state, true
}
