package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// upgrader accepts any origin: the hub authenticates nothing at the HTTP
// layer, identity is established by the register frame.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes the hub over HTTP: the /ws signaling endpoint plus the
// admin JSON API, health and metrics.
type Server struct {
	hub  *Hub
	addr string

	httpSrv *http.Server
	ln      net.Listener
}

// NewServer wraps the hub with its HTTP surface on the given address.
func NewServer(hub *Hub, addr string) *Server {
	s := &Server{hub: hub, addr: addr}

	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/peers", s.handlePeers)
	r.Get("/api/relay", s.handleRelayPairs)
	r.Handle("/metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests that mount the server on
// httptest.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins accepting connections. It returns once the listener is
// bound; serving continues in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ln = ln
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("[Server] http serve error")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Bool("relay", s.hub.RelayEnabled()).Msg("[Server] signaling hub started")
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("[Server] shutdown error")
	}
	log.Info().Msg("[Server] stopped")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("[Server] websocket upgrade failed")
		return
	}
	log.Debug().Str("remote", r.RemoteAddr).Msg("[Server] client connected")
	s.hub.ServeConn(ws)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status":        "ok",
		"relay_enabled": s.hub.RelayEnabled(),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.hub.Peers())
}

func (s *Server) handleRelayPairs(w http.ResponseWriter, _ *http.Request) {
	pairs := s.hub.RelayPairs()
	out := make([][]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, []string{p[0], p[1]})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
