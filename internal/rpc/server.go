// Package rpc is Sherpa's WebSocket RPC control plane: a single /ws
// endpoint multiplexing request/response, server-initiated status
// progress, and log frames over one bi-directional connection. Every
// frame a connection emits goes through a single mutex-guarded writer,
// so concurrent handlers can interleave responses and progress safely.
package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/bwks/sherpa/internal/auth"
	"github.com/bwks/sherpa/internal/containers"
	"github.com/bwks/sherpa/internal/images"
	"github.com/bwks/sherpa/internal/lifecycle"
	"github.com/bwks/sherpa/internal/store"
)

// Server is Sherpa's control-plane HTTP/WebSocket server: one /ws endpoint
// plus a /health probe, wired to every subsystem an RPC method might need.
type Server struct {
	router *chi.Mux
	logger *logrus.Logger

	store      store.Store
	issuer     *auth.Issuer
	engine     *lifecycle.Engine
	images     *images.Registry
	containers *containers.Adapter

	upgrader websocket.Upgrader

	connsMu sync.Mutex
	conns   map[string]*Connection

	// labLocks backs the per-lab advisory lock: only one
	// up/destroy/down/resume may run against a given lab_id (or, for a
	// not-yet-created lab, a given user/name pair) at a time.
	labLocksMu sync.Mutex
	labLocks   map[string]*sync.Mutex
}

// New builds a Server from its persistence and infrastructure dependencies.
// It registers itself as a logrus hook on logger so every log entry fans
// out to connections that have subscribed.
func New(db store.Store, issuer *auth.Issuer, engine *lifecycle.Engine, imgs *images.Registry, cnt *containers.Adapter, logger *logrus.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		logger:     logger,
		store:      db,
		issuer:     issuer,
		engine:     engine,
		images:     imgs,
		containers: cnt,
		conns:      make(map[string]*Connection),
		labLocks:   make(map[string]*sync.Mutex),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	logger.AddHook(&logHook{s: s})
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	// The timeout is scoped to plain HTTP routes: /ws is a long-lived
	// upgraded connection and must outlive any request deadline.
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Get("/health", s.handleHealth)
	})
	s.router.Get("/ws", s.handleWS)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleWS upgrades the request to a WebSocket, registers the connection,
// and reads rpc_request frames off it until the client disconnects,
// dispatching each onto its own goroutine.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("websocket upgrade failed")
		return
	}

	conn := newConnection(ws)
	s.registerConn(conn)
	defer s.unregisterConn(conn)

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stopPing := make(chan struct{})
	go s.pingLoop(conn, stopPing)
	defer close(stopPing)

	for {
		var req Request
		if err := ws.ReadJSON(&req); err != nil {
			conn.markClosed()
			return
		}
		if req.Type != frameRPCRequest {
			continue
		}
		go s.dispatch(conn, req)
	}
}

// pingLoop keeps an idle connection's intermediaries (load balancers,
// NAT gateways) from reaping it; it exits as soon as stop is closed or a
// write fails.
func (s *Server) pingLoop(conn *Connection, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.writeMu.Lock()
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.ws.WriteMessage(websocket.PingMessage, nil)
			conn.writeMu.Unlock()
			if err != nil {
				conn.markClosed()
				return
			}
		}
	}
}

func (s *Server) registerConn(conn *Connection) {
	s.connsMu.Lock()
	s.conns[conn.ID] = conn
	s.connsMu.Unlock()
}

func (s *Server) unregisterConn(conn *Connection) {
	conn.markClosed()
	s.connsMu.Lock()
	delete(s.conns, conn.ID)
	s.connsMu.Unlock()
}

// broadcastLog fans ev out to every connection with subscribed_logs set.
func (s *Server) broadcastLog(ev LogEvent) {
	s.connsMu.Lock()
	targets := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		if c.wantsLogs() {
			targets = append(targets, c)
		}
	}
	s.connsMu.Unlock()

	for _, c := range targets {
		c.writeJSON(ev)
	}
}

// labMutex returns the advisory lock for key, creating it on first use.
// Locks are never removed: the number of distinct lab_ids (and in-flight
// user/name pairs) a process sees over its lifetime is small enough that
// leaking one *sync.Mutex per key is not worth the complexity of eviction.
func (s *Server) labMutex(key string) *sync.Mutex {
	s.labLocksMu.Lock()
	defer s.labLocksMu.Unlock()
	mu, ok := s.labLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.labLocks[key] = mu
	}
	return mu
}
