package plugins

import (
	"path/filepath"
	"testing"

	"github.com/deep-gaurav/rusty-connect/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestShareRequestTransferStampsDownloadID(t *testing.T) {
	s := NewShare(t.TempDir())
	env := envelopeOf(t, capShareRequest, SharePayload{
		Filename:         "photo.png",
		NumberOfFiles:    1,
		TotalPayloadSize: 4096,
	})
	env.PayloadTransferInfo = &protocol.PayloadTransferInfo{Port: 9000}

	payload, ok := s.Parse(env, "10.0.0.2:1716")
	require.True(t, ok)

	spec, updated, ok := s.RequestTransfer(env, "10.0.0.2:1716", payload)
	require.True(t, ok)
	require.NotEmpty(t, spec.DownloadID)
	require.Equal(t, uint16(9000), spec.PeerPort)
	require.Equal(t, "10.0.0.2", spec.PeerHost)
	require.Equal(t, filepath.Join(s.downloadsDir, "photo.png"), spec.DestPath)

	sh, ok := updated.(SharePayload)
	require.True(t, ok)
	require.Equal(t, spec.DownloadID, sh.DownloadID)
}

func TestShareRequestTransferRejectsMultiFile(t *testing.T) {
	s := NewShare(t.TempDir())
	env := envelopeOf(t, capShareRequest, SharePayload{
		Filename:         "a.png",
		NumberOfFiles:    3,
		TotalPayloadSize: 4096,
	})
	env.PayloadTransferInfo = &protocol.PayloadTransferInfo{Port: 9000}

	payload, ok := s.Parse(env, "10.0.0.2:1716")
	require.True(t, ok)

	_, _, ok = s.RequestTransfer(env, "10.0.0.2:1716", payload)
	require.False(t, ok)
}
