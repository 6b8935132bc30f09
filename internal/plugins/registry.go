package plugins

import (
	"fmt"

	"github.com/deep-gaurav/rusty-connect/internal/devices"
	"github.com/deep-gaurav/rusty-connect/internal/events"
	"github.com/deep-gaurav/rusty-connect/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Transferer starts a side-channel download in the background (spec
// §4.F). Implemented by internal/sidechannel; kept as an interface
// here so plugins stays free of the TLS/socket layer and is easy to
// unit test with a fake.
type Transferer interface {
	Start(spec TransferSpec, watch *Watch) error
}

// Registry dispatches inbound envelopes to the fixed plugin set and
// gates outbound sends (spec §4.E). It holds no device state itself —
// all of that lives in *devices.Manager, which Registry drives under
// its WithWriteLock contract.
type Registry struct {
	plugins   []Plugin
	byCap     map[string]Plugin
	manager   *devices.Manager
	transfer  Transferer
	downloads *DownloadTable
	log       *logrus.Entry
}

// New builds a registry over the given plugins in registration order
// (spec §4.E "registration order" is the tie-breaker for capability
// matching). Capability collisions between plugins are a programmer
// error and panic at construction, matching the teacher's
// pkgs/consensus fixed-registration-site pattern.
func New(manager *devices.Manager, transfer Transferer, plugins ...Plugin) *Registry {
	r := &Registry{
		plugins:   plugins,
		byCap:     make(map[string]Plugin),
		manager:   manager,
		transfer:  transfer,
		downloads: NewDownloadTable(),
		log:       logrus.WithField("component", "plugins"),
	}
	for _, p := range plugins {
		for _, cap := range p.IncomingCapabilities() {
			if existing, ok := r.byCap[cap]; ok {
				panic(fmt.Sprintf("plugins: capability %q claimed by both %q and %q", cap, existing.Name(), p.Name()))
			}
			r.byCap[cap] = p
		}
	}
	return r
}

// Downloads exposes the share-transfer progress table to the control
// surface.
func (r *Registry) Downloads() *DownloadTable { return r.downloads }

// Identity builds the local Identity payload by unioning every
// registered plugin's declared capabilities (spec §4.E "Identity
// payload construction").
func (r *Registry) Identity(deviceID, deviceName, deviceType string, tcpPort uint16) protocol.Identity {
	var incoming, outgoing []string
	for _, p := range r.plugins {
		incoming = append(incoming, p.IncomingCapabilities()...)
		outgoing = append(outgoing, p.OutgoingCapabilities()...)
	}
	return protocol.Identity{
		DeviceID:             deviceID,
		DeviceName:           deviceName,
		DeviceType:           deviceType,
		ProtocolVersion:      protocol.ProtocolVersion,
		IncomingCapabilities: incoming,
		OutgoingCapabilities: outgoing,
		TCPPort:              &tcpPort,
	}
}

// Dispatch routes one inbound (deviceID, envelope, peerAddr) triple
// (spec §4.E steps 1-4), publishing the resulting tagged event onto
// the manager's feed.
func (r *Registry) Dispatch(deviceID string, env *protocol.Envelope, peerAddr string) {
	switch env.Type {
	case protocol.IdentityType:
		id, err := env.DecodeIdentity()
		if err != nil {
			r.log.WithError(err).WithField("device", deviceID).Warn("malformed identity envelope")
			return
		}
		r.manager.Publish(events.IdentityEvent(deviceID, id))
		return
	case protocol.PairType:
		p, err := env.DecodePair()
		if err != nil {
			r.log.WithError(err).WithField("device", deviceID).Warn("malformed pair envelope")
			return
		}
		r.manager.Publish(events.PairEvent(deviceID, p))
		return
	}

	snap, ok := r.manager.Get(deviceID)
	if !ok || snap.State != devices.StateActive {
		r.manager.Publish(events.Unknown(deviceID, env))
		return
	}

	for _, p := range r.plugins {
		config := snap.Record.PluginConfigs[p.Name()]
		if !p.IsEnabled(config) {
			continue
		}
		payload, matched := p.Parse(env, peerAddr)
		if !matched {
			continue
		}

		var updateErr error
		writeErr := r.manager.WithWriteLock(deviceID, func(dev *devices.Device) {
			next, err := p.UpdateState(payload, dev.PluginStates[p.Name()])
			if err != nil {
				updateErr = err
				return
			}
			dev.PluginStates[p.Name()] = next
		})
		if writeErr != nil {
			r.log.WithError(writeErr).WithField("device", deviceID).Warn("plugin state update: device vanished")
			return
		}
		if updateErr != nil {
			r.log.WithError(updateErr).WithFields(logrus.Fields{"device": deviceID, "plugin": p.Name()}).Warn("plugin rejected payload")
			return
		}

		if tr, ok := p.(TransferRequester); ok {
			if spec, updated, ok := tr.RequestTransfer(env, peerAddr, payload); ok {
				r.startTransfer(deviceID, p.Name(), spec)
				payload = updated
			}
		}

		r.manager.Publish(events.Plugin(deviceID, p.Name(), payload))
		return
	}

	r.manager.Publish(events.Unknown(deviceID, env))
}

func (r *Registry) startTransfer(deviceID, pluginName string, spec TransferSpec) {
	if r.transfer == nil {
		r.log.WithFields(logrus.Fields{"device": deviceID, "plugin": pluginName}).Warn("no transferer configured, skipping side-channel download")
		return
	}
	watch := NewWatch(DownloadProgress{Kind: ProgressNotStarted, TotalBytes: spec.ExpectedSize})
	if spec.DownloadID != "" {
		r.downloads.Register(spec.DownloadID, watch)
	}
	if err := r.transfer.Start(spec, watch); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"device": deviceID, "plugin": pluginName}).Warn("side-channel transfer failed to start")
		watch.Publish(DownloadProgress{Kind: ProgressFailed, Reason: err.Error()})
	}
}

// SendTo implements the `device_id` given branch of send_payload (spec
// §4.E Outbound send): require paired, require ShouldSend, require
// Active, then push onto the outbound rendezvous channel.
func (r *Registry) SendTo(deviceID, pluginName string, payload interface{}) error {
	p, ok := r.byName(pluginName)
	if !ok {
		return fmt.Errorf("plugins: unknown plugin %q", pluginName)
	}
	snap, ok := r.manager.Get(deviceID)
	if !ok {
		return devices.ErrUnknownDevice
	}
	if !snap.Record.Paired {
		return devices.ErrNotPaired
	}
	config := snap.Record.PluginConfigs[p.Name()]
	state := snap.PluginStates[p.Name()]
	nextState, send := p.ShouldSend(config, state, payload)
	if !send {
		return nil
	}

	env, err := r.manager.NewEnvelopeFor(deviceID, outgoingType(p, payload), payload)
	if err != nil {
		return fmt.Errorf("plugins: build envelope for %s: %w", pluginName, err)
	}
	if err := r.manager.SendEnvelope(deviceID, env, true); err != nil {
		return err
	}

	return r.manager.WithWriteLock(deviceID, func(dev *devices.Device) {
		dev.PluginStates[p.Name()] = nextState
	})
}

// Broadcast implements the no-`device_id` branch of send_payload: a
// best-effort fan-out to every device, skipping unpaired devices and
// devices where ShouldSend declines, logging individual failures
// rather than aborting (spec §4.E).
func (r *Registry) Broadcast(pluginName string, payload interface{}) {
	p, ok := r.byName(pluginName)
	if !ok {
		r.log.WithField("plugin", pluginName).Warn("broadcast to unknown plugin")
		return
	}
	for _, deviceID := range r.manager.AllDeviceIDs() {
		if err := r.SendTo(deviceID, p.Name(), payload); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{"device": deviceID, "plugin": pluginName}).Debug("broadcast send skipped")
		}
	}
}

func (r *Registry) byName(pluginName string) (Plugin, bool) {
	for _, p := range r.plugins {
		if p.Name() == pluginName {
			return p, true
		}
	}
	return nil, false
}

// outgoingType picks the first outgoing capability a plugin declares,
// falling back to the plugin name for one that declares none
// (mousepad).
func outgoingType(p Plugin, _ interface{}) string {
	caps := p.OutgoingCapabilities()
	if len(caps) == 0 {
		return p.Name()
	}
	return caps[0]
}
