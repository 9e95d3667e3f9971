// p1relay reads DSMR telegrams from the P1 port, validates them and relays
// the latest one to a single TCP or websocket client.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/NotCoffee418/smart_meter_relay/pkg/config"
	"github.com/NotCoffee418/smart_meter_relay/pkg/logging"
	"github.com/NotCoffee418/smart_meter_relay/pkg/port_reader"
	"github.com/NotCoffee418/smart_meter_relay/pkg/relay"
	"github.com/NotCoffee418/smart_meter_relay/pkg/slot"
	"github.com/NotCoffee418/smart_meter_relay/pkg/statusapi"
	"github.com/NotCoffee418/smart_meter_relay/pkg/telegram"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load config
	if err := config.LoadRelayConfig(); err != nil {
		logrus.WithError(err).Fatal("Failed to load relay config")
	}
	cfg := config.ActiveRelayConfig

	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	latest := slot.New(cfg.MaxTelegramSize, slot.WithLockTimeout(cfg.LockTimeout()))
	framer, err := telegram.NewFramer(latest, telegram.WithMaxSize(cfg.MaxTelegramSize))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create framer")
	}
	gate := relay.NewGate()

	reader := port_reader.NewP1Reader(cfg.SerialDevice, cfg.Baudrate, framer,
		port_reader.WithReadTimeout(cfg.ReadTimeout()),
		port_reader.WithBufferSize(cfg.SerialBufferSize),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reader.Run(ctx)
	})
	g.Go(func() error {
		return relay.NewServer(cfg.RelayServerConfig(), latest, gate).ListenAndServe(ctx)
	})
	if cfg.HTTPListenAddress != "" {
		g.Go(func() error {
			api := statusapi.New(latest, framer, gate, cfg.SessionConfig())
			return api.ListenAndServe(ctx, cfg.HTTPListenAddress)
		})
	}

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Fatal("Relay stopped")
	}
	logrus.Info("Relay shut down")
}
