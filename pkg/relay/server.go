package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

type ServerConfig struct {
	Address   string
	KeepAlive net.KeepAliveConfig
	Session   SessionConfig
}

// Server accepts TCP peers and serves them one at a time. While a session
// is active the next peer is held unserved and the rest wait in the
// listen backlog. The gate is only taken once a peer is connected.
type Server struct {
	cfg  ServerConfig
	src  Fetcher
	gate *Gate
	log  *logrus.Entry
}

func NewServer(cfg ServerConfig, src Fetcher, gate *Gate) *Server {
	if gate == nil {
		gate = NewGate()
	}
	cfg.Session.Transport = "tcp"
	return &Server{
		cfg:  cfg,
		src:  src,
		gate: gate,
		log:  logrus.WithField("component", "relay_server"),
	}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("relay listen on %s: %w", s.cfg.Address, err)
	}
	s.log.WithField("address", ln.Addr().String()).Info("Relay listener bound")
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop until ctx is done. It closes ln and waits
// for the active session before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		s.log.Debug("Listening for new connection")
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("relay accept: %w", err)
		}

		// Hold the accepted peer until the session slot frees up; later
		// peers stay in the listen backlog meanwhile.
		if !s.gate.TryEnter() {
			s.log.WithField("peer", conn.RemoteAddr().String()).Debug("Relay session active, peer waiting")
			if err := s.gate.Enter(ctx); err != nil {
				conn.Close()
				return nil
			}
		}

		s.configure(conn)
		log := s.log.WithField("peer", conn.RemoteAddr().String())
		log.Info("Relay connection accepted")

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.gate.Leave()
			closeOnCancel := context.AfterFunc(ctx, func() { conn.Close() })
			defer closeOnCancel()

			sess := NewSession(conn, s.src, s.cfg.Session, log)
			err := sess.Run(ctx)
			log.WithFields(logrus.Fields{
				"sent":   sess.Sent(),
				"reason": err,
			}).Info("Relay connection closed")
		}()
	}
}

func (s *Server) configure(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok || !s.cfg.KeepAlive.Enable {
		return
	}
	if err := tc.SetKeepAliveConfig(s.cfg.KeepAlive); err != nil {
		s.log.WithError(err).Warn("Unable to set TCP keep-alive")
	}
}
