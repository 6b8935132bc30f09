// Package discovery implements spec §4.B: a UDP broadcast listener
// for identity datagrams on the KDE Connect port, and mDNS
// registration/browsing of `_kdeconnect._udp.local.`. Its only output
// is a stream of dial requests for the connection engine.
//
// Grounded on original_source/rusty_connect/src/lib.rs's
// listen_to_broadcast, which combines a UDP socket and an mdns_sd
// browse loop the same way; adapted here onto
// github.com/grandcat/zeroconf, the mDNS library the rest of the
// retrieval pack uses for Go.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/deep-gaurav/rusty-connect/internal/protocol"
	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

// Port is the KDE Connect UDP/mDNS/TCP port.
const Port = 1716

const mdnsService = "_kdeconnect._udp"
const mdnsDomain = "local."

// Request is a bring-up instruction the connection engine should dial
// (spec §4.B "stream of (peer_addr, identity) bring-up requests").
type Request struct {
	PeerIP   string
	Port     uint16
	Identity protocol.Identity
}

// Discovery owns the UDP socket and mDNS registration/browse; it
// holds no device state.
type Discovery struct {
	localDeviceID string
	identity      func() protocol.Identity
	log           *logrus.Entry

	udpConn    *net.UDPConn
	mdnsServer *zeroconf.Server

	requests chan Request
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a Discovery for localDeviceID. identity is called fresh
// whenever an outbound announcement needs the current capability set
// and listening port.
func New(localDeviceID string, identity func() protocol.Identity) *Discovery {
	return &Discovery{
		localDeviceID: localDeviceID,
		identity:      identity,
		log:           logrus.WithField("component", "discovery"),
		requests:      make(chan Request, 16),
	}
}

// Requests returns the stream of dial instructions.
func (d *Discovery) Requests() <-chan Request { return d.requests }

// Start binds the UDP socket, registers the mDNS service, and begins
// browsing for the same service (spec §4.B). Call Stop to tear both
// down.
func (d *Discovery) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: Port})
	if err != nil {
		cancel()
		return fmt.Errorf("discovery: listen udp: %w", err)
	}
	d.udpConn = conn

	id := d.identity()
	txt := []string{
		"id=" + id.DeviceID,
		"name=" + id.DeviceName,
		"type=" + id.DeviceType,
		fmt.Sprintf("protocol=%d", id.ProtocolVersion),
	}
	mdnsServer, err := zeroconf.Register(id.DeviceID, mdnsService, mdnsDomain, Port, txt, nil)
	if err != nil {
		conn.Close()
		cancel()
		return fmt.Errorf("discovery: register mdns service: %w", err)
	}
	d.mdnsServer = mdnsServer

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		mdnsServer.Shutdown()
		conn.Close()
		cancel()
		return fmt.Errorf("discovery: new mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, mdnsService, mdnsDomain, entries); err != nil {
		mdnsServer.Shutdown()
		conn.Close()
		cancel()
		return fmt.Errorf("discovery: browse mdns service: %w", err)
	}

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.browseLoop(ctx, entries)
	}()
	go func() {
		defer d.wg.Done()
		d.recvLoop(conn)
	}()

	return nil
}

// browseLoop announces our identity to every resolved peer, prompting
// it to dial us back (spec §4.B source 2).
func (d *Discovery) browseLoop(ctx context.Context, entries chan *zeroconf.ServiceEntry) {
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			d.announceTo(entry)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Discovery) announceTo(entry *zeroconf.ServiceEntry) {
	if len(entry.AddrIPv4) == 0 {
		return
	}
	addr := &net.UDPAddr{IP: entry.AddrIPv4[0], Port: entry.Port}

	sock, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		d.log.WithError(err).Debug("dial mdns-resolved peer for identity announce")
		return
	}
	defer sock.Close()

	env, err := protocol.NewEnvelope(&protocol.IDGenerator{}, protocol.IdentityType, d.identity())
	if err != nil {
		d.log.WithError(err).Warn("build identity envelope for mdns announce")
		return
	}
	data, err := env.Encode()
	if err != nil {
		return
	}
	if _, err := sock.Write(data); err != nil {
		d.log.WithError(err).Debug("send identity announce over udp")
	}
}

// recvLoop parses inbound UDP broadcast identity datagrams (spec
// §4.B source 1).
func (d *Discovery) recvLoop(conn *net.UDPConn) {
	buf := make([]byte, 64*1024)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		d.handleDatagram(buf[:n], src)
	}
}

func (d *Discovery) handleDatagram(data []byte, src *net.UDPAddr) {
	line := bytes.TrimRight(data, "\n")
	var env protocol.Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		d.log.WithError(err).Debug("malformed udp datagram")
		return
	}
	if env.Type != protocol.IdentityType {
		return
	}
	id, err := env.DecodeIdentity()
	if err != nil {
		d.log.WithError(err).Debug("malformed identity in udp datagram")
		return
	}
	if id.DeviceID == d.localDeviceID {
		return // self-discovery filter (spec §4.B)
	}
	if id.TCPPort == nil {
		return
	}

	req := Request{PeerIP: src.IP.String(), Port: *id.TCPPort, Identity: id}
	select {
	case d.requests <- req:
	default:
		d.log.Warn("dropping discovery request, subscriber not keeping up")
	}
}

// Stop tears down the UDP socket and mDNS registration/browse and
// waits for both loops to exit.
func (d *Discovery) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.mdnsServer != nil {
		d.mdnsServer.Shutdown()
	}
	if d.udpConn != nil {
		d.udpConn.Close()
	}
	d.wg.Wait()
	close(d.requests)
}
