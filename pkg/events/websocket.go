package events

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/phoenix-pocx/phoenixd/pkg/plotter"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StreamConfig configures the websocket handler.
type StreamConfig struct {
	// State, when set, is sampled every ProgressInterval while the plotter is
	// running and streamed as progress events.
	State            func() plotter.State
	ProgressInterval time.Duration

	Logger *zap.Logger
}

// Handler streams hub events to websocket clients as JSON text frames.
func Handler(h *Hub, cfg StreamConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		// The control API binds to localhost; browsers on the same machine
		// may connect from any origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("Websocket upgrade failed", zap.Error(err))
			return
		}
		defer func() { _ = conn.Close() }()

		events, cancel := h.Subscribe()
		defer cancel()

		logger.Debug("Event stream client connected", zap.String("remote", r.RemoteAddr))

		closed := make(chan struct{})
		go readPump(conn, closed)

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()

		var progress <-chan time.Time
		if cfg.State != nil {
			t := time.NewTicker(interval)
			defer t.Stop()
			progress = t.C
		}

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeJSON(conn, ev); err != nil {
					return
				}
			case <-progress:
				st := cfg.State()
				if !st.Running {
					continue
				}
				if err := writeJSON(conn, Event{Kind: KindProgress, Time: time.Now().UTC(), State: &st}); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// readPump drains client frames so control messages are processed, and
// closes done when the client goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
