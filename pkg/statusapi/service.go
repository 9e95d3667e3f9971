// Package statusapi serves operator endpoints and a websocket relay.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/NotCoffee418/smart_meter_relay/pkg/metrics"
	"github.com/NotCoffee418/smart_meter_relay/pkg/relay"
	"github.com/NotCoffee418/smart_meter_relay/pkg/slot"
	"github.com/NotCoffee418/smart_meter_relay/pkg/telegram"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Store is the part of the slot the API reads.
type Store interface {
	relay.Fetcher
	Snapshot() ([]byte, uint8, error)
	Stats() (slot.Stats, error)
}

type FramerStats interface {
	Stats() telegram.Stats
}

type Server struct {
	store    Store
	framer   FramerStats
	gate     *relay.Gate
	session  relay.SessionConfig
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

type statusResponse struct {
	Slot          slot.Stats     `json:"slot"`
	Framer        telegram.Stats `json:"framer"`
	SessionActive bool           `json:"session_active"`
}

func New(store Store, framer FramerStats, gate *relay.Gate, session relay.SessionConfig) *Server {
	session.Transport = "websocket"
	return &Server{
		store:   store,
		framer:  framer,
		gate:    gate,
		session: session,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		log: logrus.WithField("component", "statusapi"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/latest", s.handleLatest)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// ListenAndServe runs until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.WithField("address", addr).Info("Starting status API")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Smart Meter P1 Relay",
		"status":  "running",
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	data, tag, err := s.store.Snapshot()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if data == nil {
		writeError(w, http.StatusNotFound, "No telegram available yet")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=us-ascii")
	w.Header().Set("X-Telegram-Tag", strconv.Itoa(int(tag)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.WithError(err).Debug("Failed to write latest telegram")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp := statusResponse{
		Slot:          st,
		SessionActive: s.gate.Active(),
	}
	if s.framer != nil {
		resp.Framer = s.framer.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWebSocket relays telegrams as text messages. It shares the relay
// gate with the TCP listener.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.gate.TryEnter() {
		writeError(w, http.StatusServiceUnavailable, "relay session already active")
		return
	}
	defer s.gate.Leave()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade error")
		return
	}
	log := s.log.WithField("peer", conn.RemoteAddr().String())
	log.Info("WebSocket relay connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Keep reading so control frames are handled and a close is noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sess := relay.NewSession(&wsPeer{conn: conn}, s.store, s.session, log)
	err = sess.Run(ctx)
	log.WithFields(logrus.Fields{
		"sent":   sess.Sent(),
		"reason": err,
	}).Info("WebSocket relay closed")
}

type wsPeer struct {
	conn *websocket.Conn
}

func (p *wsPeer) Write(b []byte) (int, error) {
	if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *wsPeer) Close() error {
	p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return p.conn.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).WithField("component", "statusapi").Debug("Failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
