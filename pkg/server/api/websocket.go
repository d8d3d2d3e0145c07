package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"tc.com/omni-oracle/pkg/fixedpoint"
	"tc.com/omni-oracle/pkg/logging"
	"tc.com/omni-oracle/pkg/oracle"
)

// WebSocketServer streams accepted price updates to connected clients.
type WebSocketServer struct {
	addr     string
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]bool

	updates chan oracle.Update

	ctx    context.Context
	cancel context.CancelFunc
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	server *WebSocketServer
}

// priceUpdateMessage is sent to clients on every accepted update.
type priceUpdateMessage struct {
	Type      string `json:"type"` // "price_update"
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
	Degraded  bool   `json:"degraded"`
	FromPeer  uint64 `json:"from_peer,omitempty"`
}

// NewWebSocketServer creates a WebSocket streaming server.
func NewWebSocketServer(addr string, logger *logging.Logger) *WebSocketServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &WebSocketServer{
		addr:   addr,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		clients: make(map[*wsClient]bool),
		updates: make(chan oracle.Update, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Push queues an update for broadcast. Drops when the queue is full rather
// than blocking the pricing path.
func (s *WebSocketServer) Push(update oracle.Update) {
	select {
	case s.updates <- update:
	default:
		s.logger.Warn("WebSocket update queue full, dropping update")
	}
}

// Start starts the WebSocket server and blocks until Stop is called.
func (s *WebSocketServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go s.broadcastUpdates()

	s.logger.Info("Starting WebSocket server", "addr", s.addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server error", "error", err)
		}
	}()

	<-s.ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Stop stops the WebSocket server.
func (s *WebSocketServer) Stop() {
	s.cancel()
}

func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, 64),
		server: s,
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

func (s *WebSocketServer) broadcastUpdates() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case update := <-s.updates:
			msg := priceUpdateMessage{
				Type:      "price_update",
				Price:     decimal.NewFromBigInt(update.Price, -fixedpoint.Decimals).String(),
				Timestamp: update.Timestamp.Unix(),
				Degraded:  update.Degraded,
				FromPeer:  update.FromPeer,
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("Failed to marshal price update", "error", err)
				continue
			}

			s.mu.RLock()
			for client := range s.clients {
				select {
				case client.send <- data:
				default:
					// Slow client, skip this update for it.
				}
			}
			s.mu.RUnlock()
		}
	}
}

func (s *WebSocketServer) removeClient(client *wsClient) {
	s.mu.Lock()
	if s.clients[client] {
		delete(s.clients, client)
		close(client.send)
	}
	s.mu.Unlock()
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	for {
		// Clients send nothing meaningful; reads only detect disconnects.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
