// Package api implements the HTTP/WebSocket dashboard surface (spec §6
// "Output — dashboard"): a snapshot endpoint returning the engine's latest
// market metrics, level info, and broker stats as JSON, plus a websocket
// that pushes the same snapshot on every telemetry pulse.
//
// Grounded on atlas-desktop's internal/api/server.go + websocket.go for the
// mux + cors + upgrader wiring and the read/write pump shape; narrowed to a
// single broadcast snapshot instead of a backtest-job/method-dispatch API
// since this engine has no client-driven RPC surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/rhizooai/sweepengine/internal/broker"
	"github.com/rhizooai/sweepengine/internal/levels"
	"github.com/rhizooai/sweepengine/internal/market"
)

// Snapshot is the dashboard's full state view, served both over GET
// /api/v1/snapshot and pushed to every websocket client on each pulse.
type Snapshot struct {
	Symbol      string             `json:"symbol"`
	TimestampMs int64              `json:"timestamp_ms"`
	Price       float64            `json:"price"`
	Metrics     market.MarketMetrics `json:"metrics"`
	Levels      levels.LevelInfo   `json:"levels"`
	Broker      broker.Stats       `json:"broker"`
}

// client is one connected websocket dashboard viewer.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server is the HTTP/WebSocket API server. It holds no trading state of its
// own — SnapshotFunc is called fresh on every request/broadcast, reading
// whatever the orchestrator most recently cached.
type Server struct {
	mu     sync.RWMutex
	log    *zap.Logger
	addr   string
	router *mux.Router
	http   *http.Server

	upgrader websocket.Upgrader
	clients  map[string]*client

	// SnapshotFunc returns the current dashboard snapshot. Set by the
	// caller after wiring the orchestrator; never nil once Start is called.
	SnapshotFunc func() Snapshot
}

// New builds a Server listening on addr. Routes are registered immediately;
// SnapshotFunc must be assigned before Start is called.
func New(log *zap.Logger, addr string) *Server {
	s := &Server{
		log:     log,
		addr:    addr,
		router:  mux.NewRouter(),
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/snapshot", s.handleSnapshot).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
	return s
}

// Start begins serving; blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}).Handler(s.router)

	s.http = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.log.Info("starting api server", zap.String("addr", s.addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down and closes all websocket
// connections.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.SnapshotFunc == nil {
		http.Error(w, "snapshot not ready", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.SnapshotFunc())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 16)}
	id := uuid.New().String()

	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()

	if s.SnapshotFunc != nil {
		if b, err := json.Marshal(s.SnapshotFunc()); err == nil {
			select {
			case c.send <- b:
			default:
			}
		}
	}

	go s.writePump(id, c)
	go s.readPump(id, c)
}

// readPump only drains and discards incoming frames (the dashboard is
// read-only/push-driven) and detects disconnects.
func (s *Server) readPump(id string, c *client) {
	defer s.dropClient(id, c)
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(id string, c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		s.dropClient(id, c)
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) dropClient(id string, c *client) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
	c.conn.Close()
}

// Broadcast marshals snap and pushes it to every connected client, skipping
// any client whose send buffer is full (it misses this snapshot but stays
// connected) rather than blocking the pulse task.
func (s *Server) Broadcast(snap Snapshot) {
	b, err := json.Marshal(snap)
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- b:
		default:
		}
	}
}
