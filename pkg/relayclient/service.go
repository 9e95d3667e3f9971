// Package relayclient consumes a relay TCP stream and re-validates every
// telegram before handing it on.
package relayclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/NotCoffee418/smart_meter_relay/pkg/telegram"
	"github.com/sirupsen/logrus"
)

var ErrMaxRetries = errors.New("relay client gave up reconnecting")

type Options struct {
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	// Meters send a telegram every second; silence this long means a dead link.
	ReadTimeout    time.Duration
	MaxSize        int
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:     10,
		BaseRetryDelay: 2 * time.Second,
		MaxRetryDelay:  60 * time.Second,
		ReadTimeout:    10 * time.Second,
		MaxSize:        telegram.DefaultMaxSize,
	}
}

type handlerSink struct {
	handle   func(data []byte)
	failures int
}

func (s *handlerSink) Publish(data []byte) error {
	s.handle(append([]byte(nil), data...))
	return nil
}

func (s *handlerSink) RecordChecksumFailure() error {
	s.failures++
	return nil
}

// StartListener keeps a connection to host open and calls funcToCall for
// each valid telegram. It returns nil when ctx is done.
func StartListener(ctx context.Context, host string, opts Options, funcToCall func(data []byte)) error {
	log := logrus.WithFields(logrus.Fields{
		"component": "relayclient",
		"host":      host,
	})
	retryCount := 0
	dialer := net.Dialer{Timeout: 10 * time.Second}

	for {
		if ctx.Err() != nil {
			return nil
		}

		if retryCount > 0 {
			// Exponential backoff
			retryDelay := time.Duration(1<<(retryCount-1)) * opts.BaseRetryDelay
			if retryDelay > opts.MaxRetryDelay || retryDelay <= 0 {
				retryDelay = opts.MaxRetryDelay
			}
			log.WithFields(logrus.Fields{
				"delay":   retryDelay,
				"attempt": retryCount + 1,
				"max":     opts.MaxRetries,
			}).Info("Retrying connection")
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil
			}
		}

		log.Info("Connecting to relay")
		conn, err := dialer.DialContext(ctx, "tcp", host)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("Connection failed")
			retryCount++
			if retryCount >= opts.MaxRetries {
				return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, retryCount, err)
			}
			continue
		}

		log.Info("Connected! Accepting telegrams.")
		retryCount = 0

		err = handleConnection(ctx, conn, opts, funcToCall)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.WithError(err).Warn("Connection lost, will retry")
		retryCount++
	}
}

func handleConnection(ctx context.Context, conn net.Conn, opts Options, funcToCall func(data []byte)) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sink := &handlerSink{handle: funcToCall}
	framer, err := telegram.NewFramer(sink,
		telegram.WithMaxSize(opts.MaxSize),
		telegram.WithLogger(logrus.WithField("component", "relayclient_framer")),
	)
	if err != nil {
		return err
	}

	buf := make([]byte, opts.MaxSize)
	for {
		if opts.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			framer.Write(buf[:n])
		}
		if err != nil {
			return err
		}
	}
}
