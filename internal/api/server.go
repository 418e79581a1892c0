// Package api exposes the desktop UI contract of the state server over HTTP
// on a local socket, so a UI running in another process can read and set
// the Focus state and consume extension commands.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chemonoworld/focusbridge/internal/config"
	"github.com/chemonoworld/focusbridge/internal/focus"
	"github.com/chemonoworld/focusbridge/internal/localsock"
	"github.com/chemonoworld/focusbridge/internal/logger"
	"github.com/chemonoworld/focusbridge/internal/stateserver"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ClientCounter reports how many bridge clients are connected
type ClientCounter interface {
	Clients() int
}

// Server represents the desktop API server
type Server struct {
	router    *mux.Router
	hub       *stateserver.Hub
	clients   ClientCounter
	configMgr *config.Manager
	upgrader  websocket.Upgrader
	log       *zerolog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	done       chan struct{}
}

// NewServer creates a new API server. clients and configMgr may be nil.
func NewServer(hub *stateserver.Hub, clients ClientCounter, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		hub:       hub,
		clients:   clients,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			// Reachable only through a user-owned local socket.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:  logger.WithComponent("api"),
		done: make(chan struct{}),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Focus state
	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/state", s.handleUpdateState).Methods("PUT")
	api.HandleFunc("/state/stream", s.handleStateStream)

	// Extension commands
	api.HandleFunc("/commands/take", s.handleTakeCommand).Methods("POST")
	api.HandleFunc("/commands/stream", s.handleCommandStream)

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API on the local socket name
func (s *Server) Start(name string) error {
	l, err := localsock.Listen(name)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves the API on l in the background
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		_ = l.Close()
		return errors.New("api server already started")
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := s.httpServer
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Desktop API stopped")
		}
	}()

	s.log.Info().Str("address", l.Addr().String()).Msg("Desktop API listening")
	return nil
}

// Stop shuts the server down and ends open streams
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.State())
}

func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	var st focus.State
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.hub.UpdateState(st)
	writeJSON(w, http.StatusOK, s.hub.State())
}

func (s *Server) handleTakeCommand(w http.ResponseWriter, r *http.Request) {
	cmd, ok := s.hub.TakePendingCommand()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "configuration unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if s.clients != nil {
		clients = s.clients.Clients()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"clients":     clients,
		"subscribers": s.hub.Subscribers(),
	})
}

// handleStateStream sends the current state, then every broadcast
func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.hub.Subscribe()
	defer s.hub.Unsubscribe(updates)

	if err := conn.WriteJSON(s.hub.State()); err != nil {
		return
	}

	closed := watchClose(conn)
	for {
		select {
		case <-s.done:
			return
		case <-closed:
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(st); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

// handleCommandStream pushes extension commands as they are emitted.
// Delivery is best effort; consumers still drain /api/commands/take.
func (s *Server) handleCommandStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	cmds := s.hub.SubscribeCommands()
	defer s.hub.UnsubscribeCommands(cmds)

	closed := watchClose(conn)
	for {
		select {
		case <-s.done:
			return
		case <-closed:
			return
		case cmd, ok := <-cmds:
			if !ok {
				return
			}
			if err := conn.WriteJSON(cmd); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

// watchClose reads and discards client frames so control messages are
// processed, and closes the returned channel once the peer goes away.
func watchClose(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	return closed
}
