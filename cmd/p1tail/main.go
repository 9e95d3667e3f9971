// p1tail connects to a running p1relay and prints every valid telegram.
// Depends on the relay being reachable.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/NotCoffee418/smart_meter_relay/pkg/logging"
	"github.com/NotCoffee418/smart_meter_relay/pkg/relayclient"
	"github.com/sirupsen/logrus"
)

func main() {
	defaultHost := os.Getenv("P1RELAY_HOST")
	if defaultHost == "" {
		defaultHost = "raspberrypi.local:2323"
	}
	host := flag.String("host", defaultHost, "relay host:port")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	if err := logging.Configure(*level, "text"); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}
	// Telegrams go to stdout, logs to stderr.
	logrus.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := relayclient.StartListener(ctx, *host, relayclient.DefaultOptions(), handleTelegram)
	if err != nil {
		logrus.WithError(err).Fatal("Relay listener stopped")
	}
}

func handleTelegram(data []byte) {
	os.Stdout.Write(data)
}
