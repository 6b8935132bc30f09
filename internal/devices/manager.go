// Package devices implements the device registry, state machine, and
// persistence described in spec §4.D. Grounded on the teacher's
// network/p2p.Server for the "hold a table behind a lock, mutations
// take the writer" shape, and on
// original_source/rusty_connect/src/devices/mod.rs for the exact
// attach/detach/pair contract this was distilled from.
package devices

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/deep-gaurav/rusty-connect/internal/event"
	"github.com/deep-gaurav/rusty-connect/internal/events"
	"github.com/deep-gaurav/rusty-connect/internal/protocol"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const devicesFileName = "devices"
const devicesDirPerm = 0o755

// fileRecords is the on-disk shape of the devices file (spec §6):
// {"devices": [Record, ...]}.
type fileRecords struct {
	Devices []Record `json:"devices"`
}

// Manager holds the device table and the process-wide inbound event
// feed that the plugin registry and connection engine publish to.
type Manager struct {
	mu      sync.RWMutex
	devices map[string]*Device

	feed *event.Feed

	devicesPath  string
	IconsDir     string
	DownloadsDir string

	log *logrus.Entry
}

// LoadOrCreate reads the devices file under configDir if present
// (spec §4.D); any parse or read failure is tolerated by continuing
// with an empty table, matching the Rust source's
// `if let Ok(data) = ... { if let Ok(config) = ... { break } } Default`
// chain. It also ensures the icons and downloads directories exist.
func LoadOrCreate(configDir string) (*Manager, error) {
	log := logrus.WithField("component", "devices")

	m := &Manager{
		devices:      make(map[string]*Device),
		feed:         &event.Feed{},
		devicesPath:  filepath.Join(configDir, devicesFileName),
		IconsDir:     filepath.Join(configDir, "icons"),
		DownloadsDir: filepath.Join(configDir, "downloads"),
		log:          log,
	}

	if err := os.MkdirAll(m.IconsDir, devicesDirPerm); err != nil {
		return nil, fmt.Errorf("devices: create icons dir: %w", err)
	}
	if err := os.MkdirAll(m.DownloadsDir, devicesDirPerm); err != nil {
		return nil, fmt.Errorf("devices: create downloads dir: %w", err)
	}

	data, err := os.ReadFile(m.devicesPath)
	if err != nil {
		log.WithError(err).Debug("no existing devices file, starting empty")
		return m, nil
	}
	var records fileRecords
	if err := json.Unmarshal(data, &records); err != nil {
		log.WithError(err).Warn("devices file is corrupt, starting empty")
		return m, nil
	}
	for _, rec := range records.Devices {
		m.devices[rec.ID] = &Device{
			Record:       rec,
			PluginStates: make(map[string]json.RawMessage),
			State:        StateInactive,
		}
	}
	return m, nil
}

// Events returns the subscribable feed of inbound events.
func (m *Manager) Events() *event.Feed { return m.feed }

// Publish allows other components (the plugin registry) to emit
// events onto the same process-wide feed the manager uses for
// Connected/Disconnected, per spec §4.D/§4.E sharing one broadcast
// channel.
func (m *Manager) Publish(ev events.Event) {
	m.feed.TrySend(ev)
}

// Attach upserts the device record (seeding defaults on first sight),
// unconditionally transitions state to Active, and returns the
// channel the connection engine's writer task should drain to push
// envelopes onto the wire, plus the fencing token for this connection
// (spec §4.D). If an Active state already existed its outbound
// channel is closed, which is how the superseded writer observes it is
// done (spec §3 invariant, §9 "zero-capacity outbound sender").
func (m *Manager) Attach(peerAddr string, identity protocol.Identity) (<-chan *protocol.Envelope, uuid.UUID, error) {
	m.mu.Lock()

	dev, ok := m.devices[identity.DeviceID]
	if !ok {
		dev = newDevice(identity)
		m.devices[identity.DeviceID] = dev
	} else {
		dev.Record.Identity = identity
	}

	if dev.State == StateActive && dev.Active != nil {
		close(dev.Active.outbound)
	}

	token := uuid.New()
	outbound := make(chan *protocol.Envelope) // zero-capacity rendezvous
	dev.Active = &Active{
		Token:    token,
		PeerAddr: peerAddr,
		outbound: outbound,
		ids:      &protocol.IDGenerator{},
	}
	dev.State = StateActive
	deviceID := dev.Record.ID

	m.mu.Unlock()

	if err := m.save(); err != nil {
		m.log.WithError(err).Warn("failed to persist devices file after attach")
	}
	m.feed.TrySend(events.Connected(deviceID))

	return outbound, token, nil
}

// Detach transitions a device to InActive and emits Disconnected, but
// only if token still matches the stored connection token — a later
// attach has already superseded a stale detach (spec §4.D, §5
// fencing).
func (m *Manager) Detach(deviceID string, token uuid.UUID) error {
	m.mu.Lock()
	dev, ok := m.devices[deviceID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if dev.State != StateActive || dev.Active == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotActive, deviceID)
	}
	if dev.Active.Token != token {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStaleToken, deviceID)
	}
	dev.State = StateInactive
	dev.Active = nil
	m.mu.Unlock()

	m.feed.TrySend(events.Disconnected(deviceID))
	return nil
}

// Pair sends a kdeconnect.pair envelope on the device's outbound
// channel and flips the persisted paired flag (spec §4.D). Requires
// Active state.
func (m *Manager) Pair(deviceID string, pair bool) error {
	m.mu.Lock()
	dev, ok := m.devices[deviceID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if dev.State != StateActive || dev.Active == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotActive, deviceID)
	}
	active := dev.Active
	env, err := protocol.NewEnvelope(active.ids, protocol.PairType, protocol.Pair{Pair: pair})
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("devices: build pair envelope: %w", err)
	}
	m.mu.Unlock()

	// Release the table lock before the rendezvous send so a slow
	// peer writer can't block the whole table (spec §5, §9
	// "rendezvous-under-lock hazard").
	active.outbound <- env

	m.mu.Lock()
	dev.Record.Paired = pair
	m.mu.Unlock()

	return m.save()
}

// Save writes all device records (without plugin_states) to the
// devices file. Overwrite is acceptable per spec §4.D.
func (m *Manager) Save() error { return m.save() }

func (m *Manager) save() error {
	m.mu.RLock()
	records := make([]Record, 0, len(m.devices))
	for _, dev := range m.devices {
		records = append(records, dev.Record)
	}
	m.mu.RUnlock()

	data, err := json.Marshal(fileRecords{Devices: records})
	if err != nil {
		return fmt.Errorf("devices: marshal devices file: %w", err)
	}
	if err := os.WriteFile(m.devicesPath, data, 0o644); err != nil {
		m.log.WithError(err).Warn("failed to write devices file")
		return fmt.Errorf("devices: write devices file: %w", err)
	}
	return nil
}

// Get returns a defensive snapshot of a device, for callers outside
// the manager's own lock (e.g. the plugin registry, tests).
func (m *Manager) Get(deviceID string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dev, ok := m.devices[deviceID]
	if !ok {
		return Snapshot{}, false
	}
	return dev.snapshot(), true
}

// All returns a snapshot of every known device, keyed by id.
func (m *Manager) All() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Snapshot, len(m.devices))
	for id, dev := range m.devices {
		out[id] = dev.snapshot()
	}
	return out
}

// WithWriteLock runs fn with the table held for writing, handing it
// the live *Device so callers (the plugin registry) can mutate
// PluginStates in place. fn must not perform blocking I/O — in
// particular it must not send on an Active.outbound channel, since
// that would violate the no-I/O-under-lock rule (spec §5).
func (m *Manager) WithWriteLock(deviceID string, fn func(dev *Device)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev, ok := m.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	fn(dev)
	return nil
}

// SendEnvelope pushes env onto deviceID's outbound rendezvous channel,
// requiring the device to be paired and Active (spec §4.E outbound
// send gate). It reads the channel reference under lock and sends
// outside of it, per the rendezvous-under-lock hazard note.
func (m *Manager) SendEnvelope(deviceID string, env *protocol.Envelope, requirePaired bool) error {
	m.mu.RLock()
	dev, ok := m.devices[deviceID]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if requirePaired && !dev.Record.Paired {
		m.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrNotPaired, deviceID)
	}
	if dev.State != StateActive || dev.Active == nil {
		m.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrNotActive, deviceID)
	}
	active := dev.Active
	m.mu.RUnlock()

	active.outbound <- env
	return nil
}

// NewEnvelopeFor builds an envelope tagged with the id sequence of
// deviceID's current connection, so the wire sees one
// strictly-increasing sequence per writer lifetime (spec §3, §9).
func (m *Manager) NewEnvelopeFor(deviceID, typ string, body interface{}) (*protocol.Envelope, error) {
	m.mu.RLock()
	dev, ok := m.devices[deviceID]
	if !ok || dev.State != StateActive || dev.Active == nil {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrNotActive, deviceID)
	}
	ids := dev.Active.ids
	m.mu.RUnlock()
	return protocol.NewEnvelope(ids, typ, body)
}

// Paired reports whether deviceID is currently paired.
func (m *Manager) Paired(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dev, ok := m.devices[deviceID]
	return ok && dev.Record.Paired
}

// AllDeviceIDs returns every known device id, for fan-out sends.
func (m *Manager) AllDeviceIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	return ids
}
