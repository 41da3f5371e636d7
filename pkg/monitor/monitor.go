// Package monitor exposes a websocket endpoint streaming decoded trace
// indications and forwarded log lines to observers. It is a read-only
// tap; observers cannot inject anything into the control plane.
package monitor

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"ballplate-go/pkg/acp"
	"ballplate-go/pkg/log"
)

// TraceEvent is the JSON form of a ball trace indication.
type TraceEvent struct {
	Type         string  `json:"type"`
	SampleNumber uint64  `json:"sample_number"`
	SetpointX    float32 `json:"setpoint_x_mm"`
	PositionX    float32 `json:"position_x_mm"`
	SetpointY    float32 `json:"setpoint_y_mm"`
	PositionY    float32 `json:"position_y_mm"`
}

// LogEvent is the JSON form of a forwarded log line.
type LogEvent struct {
	Type string `json:"type"`
	Line string `json:"line"`
}

// Broadcaster fans events out to all connected websocket observers.
type Broadcaster struct {
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	server *http.Server
}

// New creates an idle broadcaster.
func New(logger *log.Logger) *Broadcaster {
	return &Broadcaster{
		logger: logger,
		upgrader: websocket.Upgrader{
			// Observers connect from anywhere on the bench network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// Handler returns the websocket upgrade handler.
func (b *Broadcaster) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.logger.Warn("websocket upgrade failed: %v", err)
			return
		}
		b.mu.Lock()
		b.clients[conn] = true
		count := len(b.clients)
		b.mu.Unlock()
		b.logger.Info("observer connected from %s (%d total)", r.RemoteAddr, count)

		// Drain (and ignore) client frames so pings are answered and
		// closure is noticed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					b.drop(conn)
					return
				}
			}
		}()
	})
}

// Start serves the handler on addr in the background.
func (b *Broadcaster) Start(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/ws", b.Handler())
	b.server = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := b.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			b.logger.Error("monitor endpoint failed: %v", err)
		}
	}()
	b.logger.Info("monitor endpoint listening on %s", addr)
}

// Close disconnects all observers and stops the server if one was
// started.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	for conn := range b.clients {
		conn.Close()
	}
	b.clients = make(map[*websocket.Conn]bool)
	b.mu.Unlock()
	if b.server != nil {
		return b.server.Close()
	}
	return nil
}

// BroadcastTrace fans a decoded trace indication out to all observers.
func (b *Broadcaster) BroadcastTrace(ind acp.BallTraceInd) {
	b.broadcast(TraceEvent{
		Type:         "trace",
		SampleNumber: ind.SampleNumber,
		SetpointX:    ind.SetpointX,
		PositionX:    ind.PositionX,
		SetpointY:    ind.SetpointY,
		PositionY:    ind.PositionY,
	})
}

// BroadcastLog fans a forwarded log line out to all observers.
func (b *Broadcaster) BroadcastLog(line string) {
	b.broadcast(LogEvent{Type: "log", Line: line})
}

func (b *Broadcaster) broadcast(v any) {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for conn := range b.clients {
		conns = append(conns, conn)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(v); err != nil {
			b.drop(conn)
		}
	}
}

func (b *Broadcaster) drop(conn *websocket.Conn) {
	b.mu.Lock()
	if b.clients[conn] {
		delete(b.clients, conn)
		conn.Close()
	}
	b.mu.Unlock()
}
