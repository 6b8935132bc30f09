// Package sidechannel implements the secondary-connection file and
// icon transfers described in spec §4.F: dial the peer-advertised
// transient port, upgrade to TLS as the client (no role inversion
// here — only the primary connection inverts, per spec §3 note),
// and stream the payload to disk while publishing progress.
//
// Grounded on the teacher's network/p2p.Server dial path for the
// "dial, upgrade, then hand off to a long-lived task" shape, adapted
// from a full duplex peer connection to a one-shot download.
package sidechannel

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/deep-gaurav/rusty-connect/internal/certstore"
	"github.com/deep-gaurav/rusty-connect/internal/plugins"
	"github.com/sirupsen/logrus"
)

const dialTimeout = 10 * time.Second

// Downloader implements plugins.Transferer against real TCP/TLS
// sockets.
type Downloader struct {
	certPair certstore.Pair
	log      *logrus.Entry
}

// New builds a Downloader that presents certPair when TLS-upgrading
// as the client of a side-channel connection.
func New(certPair certstore.Pair) *Downloader {
	return &Downloader{
		certPair: certPair,
		log:      logrus.WithField("component", "sidechannel"),
	}
}

// Start launches the transfer in the background and returns
// immediately; terminal status is reported on watch (spec §4.F).
func (d *Downloader) Start(spec plugins.TransferSpec, watch *plugins.Watch) error {
	if spec.ExpectedSize <= 0 {
		return fmt.Errorf("sidechannel: expected size must be positive, got %d", spec.ExpectedSize)
	}
	go d.run(spec, watch)
	return nil
}

func (d *Downloader) run(spec plugins.TransferSpec, watch *plugins.Watch) {
	log := d.log.WithFields(logrus.Fields{
		"peer": fmt.Sprintf("%s:%d", spec.PeerHost, spec.PeerPort),
		"dest": spec.DestPath,
	})

	cert, err := d.certPair.TLSCertificate()
	if err != nil {
		fail(watch, fmt.Errorf("sidechannel: load local cert: %w", err))
		return
	}

	addr := net.JoinHostPort(spec.PeerHost, fmt.Sprintf("%d", spec.PeerPort))
	rawConn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		log.WithError(err).Warn("side-channel dial failed")
		fail(watch, err)
		return
	}

	tlsConn := tls.Client(rawConn, &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, // trust-on-first-use, no chain validation (spec §2)
	})
	defer tlsConn.Close()

	if err := tlsConn.Handshake(); err != nil {
		log.WithError(err).Warn("side-channel TLS handshake failed")
		fail(watch, err)
		return
	}

	f, err := os.Create(spec.DestPath)
	if err != nil {
		log.WithError(err).Warn("failed to open destination file")
		fail(watch, err)
		return
	}
	defer f.Close()

	chunkSize := spec.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1024
	}
	buf := make([]byte, chunkSize)

	var read int64
	for read < spec.ExpectedSize {
		n, err := tlsConn.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				fail(watch, werr)
				return
			}
			read += int64(n)
			watch.Publish(plugins.DownloadProgress{
				Kind:       plugins.ProgressDownloading,
				ReadBytes:  read,
				TotalBytes: spec.ExpectedSize,
			})
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			fail(watch, err)
			return
		}
	}

	if read != spec.ExpectedSize {
		fail(watch, fmt.Errorf("sidechannel: short read, got %d of %d bytes", read, spec.ExpectedSize))
		return
	}

	if spec.OnComplete != nil {
		spec.OnComplete(spec.DestPath)
	}
	watch.Publish(plugins.DownloadProgress{
		Kind:       plugins.ProgressCompleted,
		TotalBytes: spec.ExpectedSize,
		Path:       spec.DestPath,
	})
}

func fail(watch *plugins.Watch, err error) {
	watch.Publish(plugins.DownloadProgress{Kind: plugins.ProgressFailed, Reason: err.Error()})
}
