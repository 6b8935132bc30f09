// Package daemon wires the certificate store, device manager, plugin
// registry, connection engine, and discovery into the single running
// process described by spec §4.A. Grounded on the teacher's top-level
// node struct (cmd/gdchain's construction of chain, network and
// consensus objects before entering its run loop), adapted to this
// daemon's accept/dial/discover triple.
package daemon

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"

	"github.com/deep-gaurav/rusty-connect/internal/certstore"
	"github.com/deep-gaurav/rusty-connect/internal/connengine"
	"github.com/deep-gaurav/rusty-connect/internal/devices"
	"github.com/deep-gaurav/rusty-connect/internal/discovery"
	"github.com/deep-gaurav/rusty-connect/internal/plugins"
	"github.com/deep-gaurav/rusty-connect/internal/protocol"
	"github.com/deep-gaurav/rusty-connect/internal/sidechannel"
	"github.com/sirupsen/logrus"
)

// Config is the set of knobs SPEC_FULL.md's configuration section
// (§10.3) exposes to the CLI entrypoint.
type Config struct {
	DeviceID   string
	DeviceName string
	DeviceType string
	ConfigDir  string

	// ListenAddr is the TCP accept address; defaults to
	// ":<discovery.Port>" so the bound port matches the port this
	// daemon advertises over mDNS/UDP.
	ListenAddr string

	// Input is the mousepad plugin's injection target. Left nil to
	// fall back to plugins.NoopInjector, which every platform build
	// of this package is safe to link without a GUI backend.
	Input plugins.InputInjector

	Log *logrus.Entry
}

// Daemon owns the full set of long-lived components for one running
// instance (spec §4.A).
type Daemon struct {
	cfg Config
	log *logrus.Entry

	manager   *devices.Manager
	registry  *plugins.Registry
	engine    *connengine.Engine
	discovery *discovery.Discovery

	mu      sync.RWMutex
	tcpPort uint16
}

// New constructs every component but does not start network I/O; call
// Run to do that.
func New(cfg Config) (*Daemon, error) {
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("daemon: device id is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf(":%d", discovery.Port)
	}
	log := cfg.Log
	if log == nil {
		log = logrus.WithField("component", "daemon")
	}

	certPair, err := certstore.LoadOrGenerate(
		cfg.DeviceID,
		filepath.Join(cfg.ConfigDir, "certificate.pem"),
		filepath.Join(cfg.ConfigDir, "privateKey.pem"),
	)
	if err != nil {
		return nil, fmt.Errorf("daemon: load or generate cert: %w", err)
	}

	manager, err := devices.LoadOrCreate(cfg.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("daemon: load device table: %w", err)
	}

	injector := cfg.Input
	if injector == nil {
		injector = plugins.NoopInjector{}
	}

	transferer := sidechannel.New(certPair)
	registry := plugins.New(manager, transferer,
		plugins.NewPing(),
		plugins.NewClipboard(),
		plugins.NewBattery(),
		plugins.NewNotification(manager.IconsDir),
		plugins.NewShare(manager.DownloadsDir),
		plugins.NewMousepad(injector),
	)

	d := &Daemon{
		cfg:      cfg,
		log:      log,
		manager:  manager,
		registry: registry,
	}
	d.engine = connengine.New(certPair, manager, registry, d.identity)
	d.discovery = discovery.New(cfg.DeviceID, d.identity)

	return d, nil
}

// Manager exposes the device table, e.g. for a future control
// surface.
func (d *Daemon) Manager() *devices.Manager { return d.manager }

// Registry exposes the plugin registry, e.g. for a future control
// surface.
func (d *Daemon) Registry() *plugins.Registry { return d.registry }

// identity builds the Identity this daemon presents on every
// handshake and announcement; it reflects whatever port the accept
// loop ended up bound to (spec §4.A, §4.C, §4.B all need the same
// value).
func (d *Daemon) identity() protocol.Identity {
	d.mu.RLock()
	port := d.tcpPort
	d.mu.RUnlock()
	return d.registry.Identity(d.cfg.DeviceID, d.cfg.DeviceName, d.cfg.DeviceType, port)
}

// Run starts the accept loop, discovery, and the dial loop that turns
// discovery requests into outbound connections, and blocks until ctx
// is cancelled or the listener fails.
func (d *Daemon) Run(ctx context.Context) error {
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- d.engine.ListenAndServe(d.cfg.ListenAddr)
	}()

	addr := d.engine.Addr()
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		d.mu.Lock()
		d.tcpPort = uint16(tcpAddr.Port)
		d.mu.Unlock()
	}
	d.log.WithField("addr", addr).Info("rusty-connect daemon listening")

	if err := d.discovery.Start(); err != nil {
		d.engine.Close()
		return fmt.Errorf("daemon: start discovery: %w", err)
	}

	dialLoopDone := make(chan struct{})
	go func() {
		defer close(dialLoopDone)
		d.dialLoop()
	}()

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		if err != nil {
			d.log.WithError(err).Warn("accept loop exited unexpectedly")
		}
	}

	d.discovery.Stop()
	d.engine.Close()
	<-dialLoopDone

	if err := d.manager.Save(); err != nil {
		return fmt.Errorf("daemon: save device table on shutdown: %w", err)
	}
	return nil
}

// dialLoop turns discovery's bring-up requests into outbound
// connections (spec §4.B/§4.C handoff). A failed dial is logged and
// dropped; the peer's own broadcast/mDNS retransmission will surface
// another request later.
func (d *Daemon) dialLoop() {
	for req := range d.discovery.Requests() {
		if err := d.engine.Dial(req.PeerIP, req.Port, req.Identity); err != nil {
			d.log.WithError(err).WithField("peer", req.PeerIP).Debug("dial from discovery request failed")
		}
	}
}
