// Package relay streams the latest validated telegram to one network peer
// at a time.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/NotCoffee418/smart_meter_relay/pkg/metrics"
	"github.com/NotCoffee418/smart_meter_relay/pkg/slot"
	"github.com/NotCoffee418/smart_meter_relay/pkg/telegram"
	"github.com/sirupsen/logrus"
)

const DefaultPollInterval = 20 * time.Millisecond

var ErrIdleTimeout = errors.New("relay session idle timeout")

// Fetcher is the query surface of the shared slot.
type Fetcher interface {
	FetchIfNewer(cur *slot.Cursor, dst []byte) (int, error)
}

type SessionConfig struct {
	PollInterval time.Duration
	// IdleTimeout closes a session that delivered nothing for this long.
	// Zero disables it.
	IdleTimeout  time.Duration
	BufferSize   int
	Transport    string
}

// Session relays telegrams to a single peer until a write fails.
type Session struct {
	peer   io.WriteCloser
	src    Fetcher
	cfg    SessionConfig
	log    *logrus.Entry
	buf    []byte
	cursor slot.Cursor
	sent   uint64
}

func NewSession(peer io.WriteCloser, src Fetcher, cfg SessionConfig, log *logrus.Entry) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = telegram.DefaultMaxSize
	}
	if cfg.Transport == "" {
		cfg.Transport = "tcp"
	}
	if log == nil {
		log = logrus.WithField("component", "relay")
	}
	return &Session{
		peer: peer,
		src:  src,
		cfg:  cfg,
		log:  log,
		buf:  make([]byte, cfg.BufferSize),
	}
}

// Sent reports how many telegrams were written in full.
func (s *Session) Sent() uint64 {
	return s.sent
}

// Run polls the source and streams every newer telegram. The peer is
// always closed on return.
func (s *Session) Run(ctx context.Context) error {
	defer s.peer.Close()
	defer metrics.SessionStarted(s.cfg.Transport)()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	lastDelivery := time.Now()

	for {
		n, err := s.src.FetchIfNewer(&s.cursor, s.buf)
		var tooSmall *slot.BufferTooSmallError
		switch {
		case errors.As(err, &tooSmall):
			s.log.WithFields(logrus.Fields{
				"have": tooSmall.Have,
				"need": tooSmall.Need,
			}).Warn("Relay buffer too small, growing")
			s.buf = make([]byte, tooSmall.Need)
			continue
		case err != nil:
			// Slot already logged it; retry on the next tick.
			s.log.WithError(err).Debug("Fetch failed")
		case n > 0:
			if err := writeFull(s.peer, s.buf[:n]); err != nil {
				s.log.WithError(err).Warn("Error occurred during sending, closing session")
				return fmt.Errorf("relay write: %w", err)
			}
			metrics.RecordRelayedBytes(s.cfg.Transport, n)
			s.sent++
			lastDelivery = time.Now()
			tag, _ := s.cursor.Tag()
			s.log.WithFields(logrus.Fields{
				"tag":  tag,
				"size": n,
			}).Debug("Telegram relayed")
			continue
		}

		if s.cfg.IdleTimeout > 0 {
			if idle := time.Since(lastDelivery); idle > s.cfg.IdleTimeout {
				s.log.WithField("idle", idle).Warn("Relay session timed out")
				return ErrIdleTimeout
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// writeFull re-issues the remainder after partial writes.
func writeFull(w io.Writer, p []byte) error {
	for off := 0; off < len(p); {
		n, err := w.Write(p[off:])
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		off += n
	}
	return nil
}
