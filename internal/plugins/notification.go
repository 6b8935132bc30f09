package plugins

import (
	"encoding/json"
	"net"
	"path/filepath"

	"github.com/deep-gaurav/rusty-connect/internal/protocol"
)

const capNotification = "kdeconnect.notification"

// notificationIconChunk is the read buffer size for icon side-channel
// downloads (spec §4.F).
const notificationIconChunk = 1024

// NotificationPayload is the body of a kdeconnect.notification
// envelope (spec §4.E). IconPath is populated locally with the icon's
// destination path when a side-channel icon download is requested,
// before the event is emitted and before the download finishes; it is
// never set by the peer.
type NotificationPayload struct {
	ID             string `json:"id"`
	AppName        string `json:"appName,omitempty"`
	Ticker         string `json:"ticker,omitempty"`
	IsClearable    bool   `json:"isClearable,omitempty"`
	IsCancel       bool   `json:"isCancel,omitempty"`
	Title          string `json:"title,omitempty"`
	Text           string `json:"text,omitempty"`
	RequestReplyID string `json:"requestReplyId,omitempty"`
	Silent         bool   `json:"silent,omitempty"`
	PayloadHash    string `json:"payloadHash,omitempty"`
	IconPath       string `json:"iconPath,omitempty"`
}

// Notification forwards remote notifications, downloading the
// notification icon over a side channel when one is advertised.
type Notification struct {
	iconsDir string
}

func NewNotification(iconsDir string) *Notification {
	return &Notification{iconsDir: iconsDir}
}

func (n *Notification) Name() string                    { return "notification" }
func (n *Notification) IncomingCapabilities() []string   { return []string{capNotification} }
func (n *Notification) OutgoingCapabilities() []string   { return []string{capNotification} }
func (n *Notification) IsEnabled(_ json.RawMessage) bool { return true }

func (n *Notification) Parse(env *protocol.Envelope, _ string) (interface{}, bool) {
	if env.Type != capNotification {
		return nil, false
	}
	var payload NotificationPayload
	if err := json.Unmarshal(env.Body, &payload); err != nil {
		return nil, false
	}
	return payload, true
}

func (n *Notification) UpdateState(_ interface{}, state json.RawMessage) (json.RawMessage, error) {
	return state, nil
}

func (n *Notification) ShouldSend(_ json.RawMessage, state json.RawMessage, _ interface{}) (json.RawMessage, bool) {
	return state, true
}

// RequestTransfer opens an icon side-channel when the envelope
// advertises a payload and a hash to name the destination file (spec
// §4.E notification behavior).
func (n *Notification) RequestTransfer(env *protocol.Envelope, peerAddr string, payload interface{}) (TransferSpec, interface{}, bool) {
	note, ok := payload.(NotificationPayload)
	if !ok || note.PayloadHash == "" {
		return TransferSpec{}, payload, false
	}
	if env.PayloadSize == nil || env.PayloadTransferInfo == nil {
		return TransferSpec{}, payload, false
	}

	host, _, err := net.SplitHostPort(peerAddr)
	if err != nil {
		host = peerAddr
	}

	dest := filepath.Join(n.iconsDir, note.PayloadHash)
	note.IconPath = dest
	return TransferSpec{
		PeerHost:     host,
		PeerPort:     env.PayloadTransferInfo.Port,
		ExpectedSize: *env.PayloadSize,
		DestPath:     dest,
		ChunkSize:    notificationIconChunk,
	}, note, true
}
