package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"PerpRisk/internal/core"
	"PerpRisk/internal/observability"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// StreamHub fans committed events out to websocket clients. It is an
// engine sink; clients may subscribe to one market with ?symbol=.
type StreamHub struct {
	clients    map[*websocket.Conn]string // conn -> symbol filter
	broadcast  chan core.Output
	register   chan wsClient
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex

	metrics  *observability.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

type wsClient struct {
	conn   *websocket.Conn
	symbol string
}

func NewStreamHub(metrics *observability.Metrics, logger zerolog.Logger) *StreamHub {
	if metrics == nil {
		metrics = observability.NewTestMetrics()
	}
	return &StreamHub{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan core.Output, 256),
		register:   make(chan wsClient),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     logger.With().Str("component", "stream").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Publish implements core.Sink. Outputs are dropped when the hub is behind.
func (h *StreamHub) Publish(out core.Output) {
	select {
	case h.broadcast <- out:
	default:
		h.metrics.PublishDrops.WithLabelValues("websocket").Inc()
	}
}

// Clients returns the number of connected clients.
func (h *StreamHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run is the hub loop. It closes every client when ctx is cancelled.
func (h *StreamHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			h.metrics.WSClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c.symbol
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.WSClients.Set(float64(n))
			h.logger.Debug().Int("total", n).Str("symbol", c.symbol).Msg("stream client connected")

		case conn := <-h.unregister:
			h.drop(conn)

		case out := <-h.broadcast:
			h.send(out)
		}
	}
}

func (h *StreamHub) send(out core.Output) {
	for _, env := range out.Envelopes {
		msg, err := json.Marshal(env)
		if err != nil {
			h.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("stream encode failed")
			continue
		}
		var dead []*websocket.Conn
		h.mu.RLock()
		for conn, symbol := range h.clients {
			if symbol != "" && symbol != env.Symbol {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				dead = append(dead, conn)
			}
		}
		h.mu.RUnlock()
		for _, conn := range dead {
			h.drop(conn)
		}
	}
}

func (h *StreamHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.WSClients.Set(float64(n))
}

// HandleWS upgrades GET /v1/stream.
func (h *StreamHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("stream upgrade failed")
		return
	}
	select {
	case h.register <- wsClient{conn: conn, symbol: r.URL.Query().Get("symbol")}:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}()
}
