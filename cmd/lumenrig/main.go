// main.go — lumenrig show-control engine entrypoint.
//
// Loads a show document (rig + playback sections), starts the Rig's
// tick loop, attaches Playback as an additional tick function, and
// serves the control API until SIGTERM/SIGINT.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"github.com/lumenrig/lumenrig/internal/api"
	"github.com/lumenrig/lumenrig/internal/audit"
	"github.com/lumenrig/lumenrig/internal/config"
	"github.com/lumenrig/lumenrig/internal/device"
	"github.com/lumenrig/lumenrig/internal/logging"
	"github.com/lumenrig/lumenrig/internal/playback"
	"github.com/lumenrig/lumenrig/internal/rig"
	"github.com/lumenrig/lumenrig/internal/shutdown"
)

// additionalFuncPlaybackID is the key Playback registers itself under
// in the Rig's additional-tick-functions registry.
const additionalFuncPlaybackID = 1

const drainTimeout = 10 * time.Second
const broadcastInterval = 50 * time.Millisecond

func main() {
	log := logging.New("lumenrig")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config")
	}

	if dsn := os.Getenv("LUMENRIG_SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			log.WithError(err).Warn("sentry init failed, continuing without error reporting")
		} else {
			defer sentry.Flush(2 * time.Second)
			defer sentry.Recover()
		}
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("lumenrig exited with error")
	}
}

func run(cfg *config.Config, log *logrus.Entry) error {
	data, err := os.ReadFile(cfg.ShowPath)
	if err != nil {
		return fmt.Errorf("read show file %s: %w", cfg.ShowPath, err)
	}

	r, err := rig.Load(data, log)
	if err != nil {
		return fmt.Errorf("load rig from show document: %w", err)
	}
	if err := r.SetRefreshRate(cfg.RefreshHz); err != nil {
		return fmt.Errorf("apply refresh rate: %w", err)
	}

	pb, err := playback.LoadFromShow(data, r.AllDevices(), log)
	if err != nil {
		return fmt.Errorf("load playback from show document: %w", err)
	}

	var trail *audit.Trail
	if cfg.AuditPostgresURL != "" {
		trail, err = audit.Open(cfg.AuditPostgresURL, log)
		if err != nil {
			log.WithError(err).Warn("audit trail unavailable, continuing without it")
			trail = audit.New(nil, log)
		} else {
			defer trail.Close()
		}
	} else {
		trail = audit.New(nil, log)
	}

	r.OnDeviceAdded(func(d *device.Device) {
		trail.DeviceAdded(context.Background(), d.ID(), d.Type())
	})
	r.OnDeviceRemoved(func(d *device.Device) {
		trail.DeviceRemoved(context.Background(), d.ID(), d.Type())
	})

	if err := r.Start(); err != nil {
		return fmt.Errorf("start rig tick loop: %w", err)
	}
	pb.AttachToRig(r, additionalFuncPlaybackID)
	trail.PlaybackStarted(context.Background(), cfg.ShowPath)

	server := api.NewServer(r, pb, []byte(cfg.JWTSecret), log)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Routes(),
	}

	stopBroadcast := make(chan struct{})
	go server.BroadcastLoop(broadcastInterval, stopBroadcast)
	defer close(stopBroadcast)

	stop := stopperFunc(func() {
		pb.DetachFromRig(r, additionalFuncPlaybackID)
		r.Stop()
		trail.PlaybackStopped(context.Background(), cfg.ShowPath)
	})

	return shutdown.GracefulServe(httpServer, stop, drainTimeout, log)
}

// stopperFunc adapts a plain func() to shutdown.Stopper.
type stopperFunc func()

func (f stopperFunc) Stop() { f() }
