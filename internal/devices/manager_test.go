package devices

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/deep-gaurav/rusty-connect/internal/events"
	"github.com/deep-gaurav/rusty-connect/internal/protocol"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testIdentity(id string) protocol.Identity {
	return protocol.Identity{
		DeviceID:             id,
		DeviceName:           "Test Device",
		DeviceType:           "phone",
		ProtocolVersion:      protocol.ProtocolVersion,
		IncomingCapabilities: []string{"kdeconnect.ping"},
		OutgoingCapabilities: []string{"kdeconnect.ping"},
	}
}

func TestAttachCreatesDeviceAndEmitsConnected(t *testing.T) {
	m, err := LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	ch := make(chan events.Event, 4)
	sub := m.Events().Subscribe(ch)
	defer sub.Unsubscribe()

	_, token, err := m.Attach("10.0.0.5:1716", testIdentity("peerA"))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, token)

	ev := <-ch
	require.Equal(t, events.KindConnected, ev.Kind)
	require.Equal(t, "peerA", ev.DeviceID)

	snap, ok := m.Get("peerA")
	require.True(t, ok)
	require.Equal(t, StateActive, snap.State)
	require.False(t, snap.Record.Paired)
}

func TestAttachPersistsDeviceRecord(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadOrCreate(dir)
	require.NoError(t, err)

	_, _, err = m.Attach("10.0.0.5:1716", testIdentity("peerA"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "devices"))
	require.NoError(t, err)
	var records fileRecords
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records.Devices, 1)
	require.Equal(t, "peerA", records.Devices[0].ID)
}

func TestDetachWithStaleTokenIsRejected(t *testing.T) {
	m, err := LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	_, token1, err := m.Attach("10.0.0.5:1716", testIdentity("peerA"))
	require.NoError(t, err)

	_, token2, err := m.Attach("10.0.0.6:1716", testIdentity("peerA"))
	require.NoError(t, err)
	require.NotEqual(t, token1, token2)

	err = m.Detach("peerA", token1)
	require.ErrorIs(t, err, ErrStaleToken)

	snap, _ := m.Get("peerA")
	require.Equal(t, StateActive, snap.State)

	require.NoError(t, m.Detach("peerA", token2))
	snap, _ = m.Get("peerA")
	require.Equal(t, StateInactive, snap.State)
}

func TestSupersedingAttachClosesPriorOutboundChannel(t *testing.T) {
	m, err := LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	outbound1, _, err := m.Attach("10.0.0.5:1716", testIdentity("peerA"))
	require.NoError(t, err)

	_, _, err = m.Attach("10.0.0.6:1716", testIdentity("peerA"))
	require.NoError(t, err)

	_, open := <-outbound1
	require.False(t, open, "prior outbound channel should be closed once superseded")
}

func TestPairRequiresActiveAndSetsFlag(t *testing.T) {
	m, err := LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	err = m.Pair("peerA", true)
	require.ErrorIs(t, err, ErrUnknownDevice)

	outbound, _, err := m.Attach("10.0.0.5:1716", testIdentity("peerA"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Pair("peerA", true) }()

	env := <-outbound
	require.Equal(t, protocol.PairType, env.Type)
	require.NoError(t, <-done)

	require.True(t, m.Paired("peerA"))
}

func TestSendEnvelopeRejectsUnpairedDevice(t *testing.T) {
	m, err := LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	_, _, err = m.Attach("10.0.0.5:1716", testIdentity("peerA"))
	require.NoError(t, err)

	env, err := m.NewEnvelopeFor("peerA", "kdeconnect.ping", map[string]string{})
	require.NoError(t, err)

	err = m.SendEnvelope("peerA", env, true)
	require.ErrorIs(t, err, ErrNotPaired)
}

func TestLoadOrCreateToleratesCorruptDevicesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, devicesFileName), []byte("not json"), 0o644))

	m, err := LoadOrCreate(dir)
	require.NoError(t, err)
	require.Empty(t, m.All())
}
