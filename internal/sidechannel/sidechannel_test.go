package sidechannel

import (
	"crypto/tls"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/deep-gaurav/rusty-connect/internal/certstore"
	"github.com/deep-gaurav/rusty-connect/internal/plugins"
	"github.com/stretchr/testify/require"
)

func serveOnce(t *testing.T, serverPair certstore.Pair, payload []byte) string {
	t.Helper()
	cert, err := serverPair.TLSCertificate()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		tlsConn := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{cert}})
		defer tlsConn.Close()
		_ = tlsConn.Handshake()
		_, _ = tlsConn.Write(payload)
	}()

	return ln.Addr().String()
}

func TestDownloaderWritesExpectedBytesAndPublishesCompletion(t *testing.T) {
	dir := t.TempDir()
	serverPair, err := certstore.LoadOrGenerate("peer-device", filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key"))
	require.NoError(t, err)
	clientPair, err := certstore.LoadOrGenerate("local-device", filepath.Join(dir, "client.crt"), filepath.Join(dir, "client.key"))
	require.NoError(t, err)

	payload := []byte("hello side channel")
	addr := serveOnce(t, serverPair, payload)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	dest := filepath.Join(dir, "out.bin")
	d := New(clientPair)
	watch := plugins.NewWatch(plugins.DownloadProgress{Kind: plugins.ProgressNotStarted, TotalBytes: int64(len(payload))})

	require.NoError(t, d.Start(plugins.TransferSpec{
		PeerHost:     host,
		PeerPort:     uint16(port),
		ExpectedSize: int64(len(payload)),
		DestPath:     dest,
		ChunkSize:    4,
	}, watch))

	ch := watch.Subscribe()
	var last plugins.DownloadProgress
	for v := range ch {
		last = v
	}
	require.Equal(t, plugins.ProgressCompleted, last.Kind)

	written, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, written)
}

func TestStartRejectsNonPositiveExpectedSize(t *testing.T) {
	dir := t.TempDir()
	clientPair, err := certstore.LoadOrGenerate("local-device", filepath.Join(dir, "client.crt"), filepath.Join(dir, "client.key"))
	require.NoError(t, err)

	d := New(clientPair)
	watch := plugins.NewWatch(plugins.DownloadProgress{Kind: plugins.ProgressNotStarted})
	err = d.Start(plugins.TransferSpec{ExpectedSize: 0}, watch)
	require.Error(t, err)
}
