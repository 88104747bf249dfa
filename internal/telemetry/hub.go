// Package telemetry broadcasts engine and risk snapshots to dashboard
// clients over websockets. Dashboards are read-only consumers; nothing ever
// flows back into the engine.
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sensextrader/internal/logs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans snapshot messages out to every connected dashboard. A slow or
// dead client is dropped, never allowed to back up the engine.
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	last      []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 16),
	}
}

// Run pumps broadcasts to clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case message := <-h.broadcast:
			h.mu.Lock()
			h.last = message
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish marshals v and queues it for broadcast. Drops the message when the
// queue is full rather than blocking the caller.
func (h *Hub) Publish(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logs.Warnf("telemetry marshal failed: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logs.Debugf("telemetry queue full, dropping snapshot")
	}
}

// Handler upgrades dashboard connections. A new client immediately receives
// the most recent snapshot so the dashboard renders without waiting for the
// next poll cycle.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logs.Warnf("telemetry upgrade failed: %v", err)
			return
		}
		h.mu.Lock()
		h.clients[conn] = true
		if h.last != nil {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, h.last); err != nil {
				conn.Close()
				delete(h.clients, conn)
			}
		}
		h.mu.Unlock()
	}
}

// Serve runs the websocket endpoint at /ws on addr until ctx is cancelled.
func Serve(ctx context.Context, hub *Hub, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logs.Infof("telemetry listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logs.Errorf("telemetry server: %v", err)
	}
}
