// Command rustyconnectd runs the device-pairing daemon: certificate
// store, discovery, connection engine and plugin registry wired
// together by internal/daemon.
//
// Flag handling follows pkgs/trace/service.go's
// gopkg.in/urfave/cli.v1 usage — the only CLI flag library anywhere
// in the retrieval pack.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/deep-gaurav/rusty-connect/internal/daemon"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	cli "gopkg.in/urfave/cli.v1"
)

func main() {
	app := cli.NewApp()
	app.Name = "rustyconnectd"
	app.Usage = "KDE Connect compatible device-pairing daemon"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "device-id", Usage: "stable identifier for this device, generated and persisted on first run if omitted"},
		cli.StringFlag{Name: "device-name", Usage: "friendly name advertised to peers, defaults to the OS hostname"},
		cli.StringFlag{Name: "device-type", Value: "desktop", Usage: "desktop, laptop, phone or tablet"},
		cli.StringFlag{Name: "config-dir", Usage: "directory for the device table, certificate and downloaded files"},
		cli.StringFlag{Name: "control-addr", Usage: "placeholder: address for a future external control surface"},
		cli.StringFlag{Name: "loglevel", Value: "info", Usage: "panic, fatal, error, warn, info, debug or trace"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("rustyconnectd exited with error")
	}
}

func run(c *cli.Context) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(c.String("loglevel"))
	if err != nil {
		return fmt.Errorf("invalid -loglevel: %w", err)
	}
	logrus.SetLevel(level)
	log := logrus.WithField("component", "cmd")

	configDir := c.String("config-dir")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve default -config-dir: %w", err)
		}
		configDir = filepath.Join(home, ".config", "rustyconnectd")
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create -config-dir %s: %w", configDir, err)
	}

	deviceID := c.String("device-id")
	if deviceID == "" {
		deviceID, err = loadOrGenerateDeviceID(filepath.Join(configDir, "device-id"))
		if err != nil {
			return err
		}
	}

	deviceName := c.String("device-name")
	if deviceName == "" {
		host, err := os.Hostname()
		if err != nil {
			host = deviceID
		}
		deviceName = host
	}

	if controlAddr := c.String("control-addr"); controlAddr != "" {
		log.WithField("control-addr", controlAddr).Warn("control surface is not implemented yet, ignoring -control-addr")
	}

	d, err := daemon.New(daemon.Config{
		DeviceID:   deviceID,
		DeviceName: deviceName,
		DeviceType: c.String("device-type"),
		ConfigDir:  configDir,
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("construct daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	log.WithFields(logrus.Fields{"device_id": deviceID, "device_name": deviceName}).Info("starting rustyconnectd")
	return d.Run(ctx)
}

// loadOrGenerateDeviceID persists a generated device id under path so
// it stays stable across restarts, matching the original's
// once-per-install identity (spec §4.A).
func loadOrGenerateDeviceID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil && len(data) > 0 {
		return string(data), nil
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("persist generated device id: %w", err)
	}
	return id, nil
}
