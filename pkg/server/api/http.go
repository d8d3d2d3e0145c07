// Package api provides the HTTP and WebSocket query surface of an oracle
// instance.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"tc.com/omni-oracle/pkg/fixedpoint"
	"tc.com/omni-oracle/pkg/logging"
	"tc.com/omni-oracle/pkg/metrics"
	"tc.com/omni-oracle/pkg/oracle"
	"tc.com/omni-oracle/pkg/oracle/feed"
)

// Server is the HTTP API server.
type Server struct {
	addr     string
	instance *oracle.Oracle
	feeds    []feed.Source
	server   *http.Server
	logger   *logging.Logger
	wsServer *WebSocketServer // optional
}

// NewServer creates an HTTP API server over one oracle instance.
func NewServer(addr string, instance *oracle.Oracle, feeds []feed.Source, logger *logging.Logger) *Server {
	return &Server{
		addr:     addr,
		instance: instance,
		feeds:    feeds,
		logger:   logger,
	}
}

// SetWebSocketServer sets the WebSocket server for streaming updates.
func (s *Server) SetWebSocketServer(ws *WebSocketServer) {
	s.wsServer = ws
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/price", s.handlePrice)
	mux.HandleFunc("/v1/feeds", s.handleFeeds)
	mux.HandleFunc("/v1/peers", s.handlePeers)
	mux.HandleFunc("/v1/validate", s.handleValidate)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleHealth handles /health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPRequest("/health", "200", time.Since(start))
	}()

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// priceResponse is the JSON shape of /v1/price.
type priceResponse struct {
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
	Degraded  bool   `json:"degraded"`
	Mode      string `json:"mode"`
}

// handlePrice handles /v1/price. A zero price with a zero timestamp means
// "no data", mirroring the latestPrice contract.
func (s *Server) handlePrice(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPRequest("/v1/price", "200", time.Since(start))
	}()

	price, ts := s.instance.LatestPrice()

	resp := priceResponse{
		Price:    decimal.NewFromBigInt(price, -fixedpoint.Decimals).String(),
		Degraded: s.instance.Degraded(),
		Mode:     s.instance.Mode().String(),
	}
	if !ts.IsZero() {
		resp.Timestamp = ts.Unix()
	}

	s.sendJSON(w, resp)
}

// feedStatus is the JSON shape of one entry in /v1/feeds.
type feedStatus struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	Weight       uint8  `json:"weight"`
	MaxStaleness string `json:"max_staleness"`
	Active       bool   `json:"active"`
}

// handleFeeds handles /v1/feeds.
func (s *Server) handleFeeds(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPRequest("/v1/feeds", "200", time.Since(start))
	}()

	out := make([]feedStatus, 0, len(s.feeds))
	for _, src := range s.feeds {
		out = append(out, feedStatus{
			Name:         src.Name,
			Kind:         string(src.Kind),
			Weight:       src.Weight,
			MaxStaleness: src.MaxStaleness.String(),
			Active:       src.Active,
		})
	}

	s.sendJSON(w, out)
}

// peerStatus is the JSON shape of one entry in /v1/peers.
type peerStatus struct {
	ChainID   uint64 `json:"chain_id"`
	Price     string `json:"price,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Valid     bool   `json:"valid"`
}

// handlePeers handles /v1/peers.
func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPRequest("/v1/peers", "200", time.Since(start))
	}()

	mgr := s.instance.Peers()
	ids := mgr.ActiveIDs()
	now := time.Now()

	out := make([]peerStatus, 0, len(ids))
	for _, id := range ids {
		price, ts, valid := mgr.PeerPrice(id, now)
		status := peerStatus{ChainID: id, Valid: valid}
		if price != nil {
			status.Price = decimal.NewFromBigInt(price, -fixedpoint.Decimals).String()
		}
		if !ts.IsZero() {
			status.Timestamp = ts.Unix()
		}
		out = append(out, status)
	}

	s.sendJSON(w, out)
}

// validateResponse is the JSON shape of /v1/validate.
type validateResponse struct {
	LocalValid      bool `json:"local_valid"`
	CrossChainValid bool `json:"cross_chain_valid"`
}

// handleValidate handles /v1/validate.
func (s *Server) handleValidate(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPRequest("/v1/validate", "200", time.Since(start))
	}()

	local, crossChain := s.instance.Validate()
	s.sendJSON(w, validateResponse{LocalValid: local, CrossChainValid: crossChain})
}

func (s *Server) sendJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
		http.Error(w, strconv.Quote("encoding failure"), http.StatusInternalServerError)
	}
}
