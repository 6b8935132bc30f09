package plugins

import (
	"testing"

	"github.com/deep-gaurav/rusty-connect/internal/devices"
	"github.com/deep-gaurav/rusty-connect/internal/events"
	"github.com/deep-gaurav/rusty-connect/internal/protocol"
	"github.com/stretchr/testify/require"
)

type fakeTransferer struct {
	started []TransferSpec
}

func (f *fakeTransferer) Start(spec TransferSpec, watch *Watch) error {
	f.started = append(f.started, spec)
	watch.Publish(DownloadProgress{Kind: ProgressCompleted, TotalBytes: spec.ExpectedSize, Path: spec.DestPath})
	return nil
}

func testIdentity(id string) protocol.Identity {
	return protocol.Identity{
		DeviceID:             id,
		DeviceName:           "Test Device",
		DeviceType:           "phone",
		ProtocolVersion:      protocol.ProtocolVersion,
		IncomingCapabilities: []string{capPing, capBattery},
		OutgoingCapabilities: []string{capPing, capBattery},
	}
}

func TestDispatchRoutesToMatchingPlugin(t *testing.T) {
	dir := t.TempDir()
	mgr, err := devices.LoadOrCreate(dir)
	require.NoError(t, err)

	registry := New(mgr, nil, NewPing(), NewClipboard(), NewBattery())

	ch := make(chan events.Event, 4)
	sub := mgr.Events().Subscribe(ch)
	defer sub.Unsubscribe()

	_, _, err = mgr.Attach("10.0.0.2:1716", testIdentity("peerA"))
	require.NoError(t, err)
	<-ch // Connected

	env := envelopeOf(t, capPing, PingPayload{Message: "hi"})
	registry.Dispatch("peerA", env, "10.0.0.2:1716")

	ev := <-ch
	require.Equal(t, events.KindPlugin, ev.Kind)
	require.Equal(t, "ping", ev.Plugin)
}

func TestDispatchEmitsUnknownWhenNoPluginMatches(t *testing.T) {
	dir := t.TempDir()
	mgr, err := devices.LoadOrCreate(dir)
	require.NoError(t, err)

	registry := New(mgr, nil, NewPing())

	ch := make(chan events.Event, 4)
	sub := mgr.Events().Subscribe(ch)
	defer sub.Unsubscribe()

	_, _, err = mgr.Attach("10.0.0.2:1716", testIdentity("peerA"))
	require.NoError(t, err)
	<-ch // Connected

	env := envelopeOf(t, capClipboard, ClipboardPayload{Content: "hello"})
	registry.Dispatch("peerA", env, "10.0.0.2:1716")

	ev := <-ch
	require.Equal(t, events.KindUnknown, ev.Kind)
}

func TestDispatchIdentityAndPairAreSpecialCased(t *testing.T) {
	dir := t.TempDir()
	mgr, err := devices.LoadOrCreate(dir)
	require.NoError(t, err)

	registry := New(mgr, nil, NewPing())

	ch := make(chan events.Event, 4)
	sub := mgr.Events().Subscribe(ch)
	defer sub.Unsubscribe()

	_, _, err = mgr.Attach("10.0.0.2:1716", testIdentity("peerA"))
	require.NoError(t, err)
	<-ch // Connected

	registry.Dispatch("peerA", envelopeOf(t, protocol.PairType, protocol.Pair{Pair: true}), "10.0.0.2:1716")
	ev := <-ch
	require.Equal(t, events.KindPair, ev.Kind)
}

func TestStartTransferRegistersDownloadAndPublishesCompletion(t *testing.T) {
	dir := t.TempDir()
	mgr, err := devices.LoadOrCreate(dir)
	require.NoError(t, err)

	transferer := &fakeTransferer{}
	registry := New(mgr, transferer, NewShare(mgr.DownloadsDir))

	ch := make(chan events.Event, 4)
	sub := mgr.Events().Subscribe(ch)
	defer sub.Unsubscribe()

	_, _, err = mgr.Attach("10.0.0.2:1716", testIdentity("peerA"))
	require.NoError(t, err)
	<-ch // Connected

	env := envelopeOf(t, capShareRequest, SharePayload{
		Filename:         "a.bin",
		NumberOfFiles:    1,
		TotalPayloadSize: 2048,
	})
	env.PayloadTransferInfo = &protocol.PayloadTransferInfo{Port: 9001}
	registry.Dispatch("peerA", env, "10.0.0.2:1716")

	ev := <-ch
	require.Equal(t, events.KindPlugin, ev.Kind)
	sh, ok := ev.Payload.(SharePayload)
	require.True(t, ok)
	require.NotEmpty(t, sh.DownloadID)

	require.Len(t, transferer.started, 1)
	watch, ok := registry.Downloads().Get(sh.DownloadID)
	require.True(t, ok)
	require.Equal(t, ProgressCompleted, watch.Value().Kind)
}
