package plugins

import (
	"encoding/json"
	"net"
	"path/filepath"

	"github.com/deep-gaurav/rusty-connect/internal/protocol"
	"github.com/google/uuid"
)

const capShareRequest = "kdeconnect.share.request"

// shareFileChunk is the read buffer size for file side-channel
// downloads (spec §4.F).
const shareFileChunk = 10 * 1024

// SharePayload is the body of a kdeconnect.share.request envelope
// (spec §4.E). DownloadID is assigned locally once a transfer starts
// and is never present on the wire.
type SharePayload struct {
	Text             string `json:"text,omitempty"`
	Filename         string `json:"filename,omitempty"`
	LastModified     int64  `json:"lastModified,omitempty"`
	NumberOfFiles    int    `json:"numberOfFiles,omitempty"`
	TotalPayloadSize int64  `json:"totalPayloadSize,omitempty"`
	DownloadID       string `json:"downloadId,omitempty"`
}

// Share receives single-file transfers into downloadsDir. Only
// numberOfFiles == 1 is supported (spec §4.E); multi-file batches and
// text-only shares are forwarded as an event with no transfer.
type Share struct {
	downloadsDir string
}

func NewShare(downloadsDir string) *Share {
	return &Share{downloadsDir: downloadsDir}
}

func (s *Share) Name() string                   { return "share" }
func (s *Share) IncomingCapabilities() []string  { return []string{capShareRequest} }
func (s *Share) OutgoingCapabilities() []string  { return []string{capShareRequest} }
func (s *Share) IsEnabled(_ json.RawMessage) bool { return true }

func (s *Share) Parse(env *protocol.Envelope, _ string) (interface{}, bool) {
	if env.Type != capShareRequest {
		return nil, false
	}
	var payload SharePayload
	if err := json.Unmarshal(env.Body, &payload); err != nil {
		return nil, false
	}
	return payload, true
}

func (s *Share) UpdateState(_ interface{}, state json.RawMessage) (json.RawMessage, error) {
	return state, nil
}

func (s *Share) ShouldSend(_ json.RawMessage, state json.RawMessage, _ interface{}) (json.RawMessage, bool) {
	return state, true
}

// RequestTransfer opens a file side-channel for single-file shares
// that advertise a total size, a transfer port and a filename (spec
// §4.E share behavior). It stamps a fresh download_id so the
// registry registers this transfer in the downloads table.
func (s *Share) RequestTransfer(env *protocol.Envelope, peerAddr string, payload interface{}) (TransferSpec, interface{}, bool) {
	sh, ok := payload.(SharePayload)
	if !ok {
		return TransferSpec{}, payload, false
	}
	if sh.NumberOfFiles != 1 || sh.Filename == "" || sh.TotalPayloadSize == 0 {
		return TransferSpec{}, payload, false
	}
	if env.PayloadTransferInfo == nil {
		return TransferSpec{}, payload, false
	}

	host, _, err := net.SplitHostPort(peerAddr)
	if err != nil {
		host = peerAddr
	}

	sh.DownloadID = uuid.NewString()
	return TransferSpec{
		PeerHost:     host,
		PeerPort:     env.PayloadTransferInfo.Port,
		ExpectedSize: sh.TotalPayloadSize,
		DestPath:     filepath.Join(s.downloadsDir, filepath.Base(sh.Filename)),
		ChunkSize:    shareFileChunk,
		DownloadID:   sh.DownloadID,
	}, sh, true
}
