// Package shutdown provides graceful draining for lumenrig's control HTTP
// server and the playback tick loop on process termination.
package shutdown

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Stopper is anything whose tick loop can be halted between iterations.
type Stopper interface {
	Stop()
}

// GracefulServe starts srv, then blocks until SIGTERM or SIGINT, or until
// srv fails to serve (that error is returned). On signal: stops playback,
// then stops accepting new HTTP connections and drains active connections
// up to drainTimeout, then returns.
func GracefulServe(srv *http.Server, playback Stopper, drainTimeout time.Duration, log *logrus.Entry) error {
	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("control server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	if playback != nil {
		playback.Stop()
	}

	log.WithField("timeout", drainTimeout.String()).Info("draining connections")
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
		return err
	}

	log.Info("server stopped cleanly")
	return nil
}
