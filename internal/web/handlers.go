package web

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ShopScout/server/internal/config"
	"ShopScout/server/internal/engine"
	"ShopScout/server/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// ChatRequest is one user message over HTTP or WebSocket.
type ChatRequest struct {
	SessionID   string                  `json:"session_id"`
	UserID      string                  `json:"user_id"`
	Query       string                  `json:"query"`
	Attachments []interfaces.Attachment `json:"attachments,omitempty"`
	Shopping    *bool                   `json:"shopping,omitempty"`
	Model       string                  `json:"model,omitempty"`
}

type Handlers struct {
	config      *config.Config
	coordinator *engine.Coordinator
	hub         *ChatHub
	log         *zap.Logger
}

func NewHandlers(cfg *config.Config, coordinator *engine.Coordinator, hub *ChatHub, log *zap.Logger) *Handlers {
	return &Handlers{
		config:      cfg,
		coordinator: coordinator,
		hub:         hub,
		log:         log,
	}
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	total, failed := h.coordinator.Stats()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "ok",
		"service":      "shopscout",
		"turns_total":  total,
		"turns_failed": failed,
		"ws_clients":   h.hub.ClientCount(),
	})
}

// Chat handles a single turn over HTTP, streaming events as NDJSON. The
// connection stays open until the terminal event.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.UserID == "" {
		writeErrorJSON(w, http.StatusBadRequest, "session_id and user_id are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorJSON(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	stream := h.coordinator.HandleTurn(r.Context(), engine.TurnRequest{
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		Query:       req.Query,
		Attachments: req.Attachments,
		Shopping:    req.Shopping,
		Model:       req.Model,
	})

	enc := json.NewEncoder(w)
	for ev := range stream.Events() {
		if err := enc.Encode(ev); err != nil {
			h.log.Warn("event write failed, client likely gone", zap.Error(err))
			return
		}
		flusher.Flush()
	}
}

// ChatWS upgrades to WebSocket for multi-turn chat on one connection.
func (h *Handlers) ChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h.hub, conn)
	h.hub.register <- client

	go client.readPump()
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func newClientID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func NewRouter(cfg *config.Config, coordinator *engine.Coordinator, hub *ChatHub, log *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, req)
			log.Debug("request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Duration("elapsed", time.Since(start)))
		})
	})
	r.Use(corsMiddleware)

	handlers := NewHandlers(cfg, coordinator, hub, log)

	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat", handlers.Chat)
		r.Get("/chat/ws", handlers.ChatWS)
	})

	return r
}
