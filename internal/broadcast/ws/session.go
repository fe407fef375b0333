// Package ws exposes the streaming fabric over WebSocket, grounded on the
// teacher's internal/net/ws/handler.go: an upgrade-then-read-loop session
// per connection, generalized here from client input intake to read-only
// subscriber control messages (spec.md §4.6, §5 external interfaces).
package ws

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"raceline/internal/broadcast"
	"raceline/internal/telemetry"
)

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Logger         telemetry.Logger
	PingInterval   time.Duration
	RequireToken   bool
	ValidateToken  func(token string) bool
}

// Handler upgrades incoming HTTP requests to WebSocket subscriber sessions
// against a single Fabric.
type Handler struct {
	fabric   *broadcast.Fabric
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler bound to fabric.
func NewHandler(fabric *broadcast.Fabric, cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return &Handler{fabric: fabric, cfg: cfg, upgrader: upgrader}
}

// clientMessage is the only inbound shape a subscriber may send: a request
// to replay a bounded tick range (spec.md §4.6 "sync:request"). Everything
// else on this stream is server-to-client.
type clientMessage struct {
	Type     string `json:"type"`
	RaceID   string `json:"raceId"`
	FromTick *int   `json:"fromTick"`
}

// ServeHTTP upgrades the connection, registers a subscriber, spawns the
// write pump that drains its FrameQueue, and blocks reading sync:request
// messages until the connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := parseSubscriberOptions(r)
	if h.cfg.RequireToken && (opts.Token == "" || (h.cfg.ValidateToken != nil && !h.cfg.ValidateToken(opts.Token))) {
		http.Error(w, "missing or invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.cfg.Logger.Printf("broadcast/ws: upgrade failed: %v", err)
		return
	}

	sub, info := h.fabric.Subscribe(opts)
	defer h.fabric.Unsubscribe(sub.ID)

	conn.SetReadDeadline(time.Now().Add(h.cfg.PingInterval))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.cfg.PingInterval))
		return nil
	})

	done := make(chan struct{})
	go h.writePump(conn, sub, done)

	if info.Data != nil {
		_ = conn.WriteMessage(wireMessageType(opts.Binary), info.Data)
	}

	h.readLoop(conn, sub)
	close(done)
	conn.Close()
}

// readLoop consumes sync:request messages until the client disconnects or
// stops responding to pings: ServeHTTP arms a read deadline of one
// PingInterval and the pong handler pushes it forward on every pong, so a
// subscriber that misses a beat has its ReadMessage call fail here and the
// session torn down (spec.md §4.6 "Keepalive"). Any other frame is
// discarded rather than rejected: the stream is read-mostly and a
// malformed message must not tear down the session.
func (h *Handler) readLoop(conn *websocket.Conn, sub *broadcast.Subscriber) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.cfg.Logger.Printf("broadcast/ws: discarding malformed message from %s: %v", sub.ID, err)
			continue
		}
		if msg.Type != "sync:request" {
			continue
		}
		frame := h.fabric.HandleSyncRequest(sub, msg.RaceID, msg.FromTick)
		if frame.Data != nil {
			sub.Queue().Push(frame)
		}
		if frame.Type == string(broadcast.FrameCatchup) {
			sub.Queue().Push(h.fabric.SyncComplete(msg.RaceID))
		}
	}
}

// writePump drains the subscriber's outbound queue and keeps the
// connection alive with periodic pings (spec.md §4.6 "Keepalive"). It never
// touches the tick path: Fabric.BroadcastTick only enqueues, this goroutine
// is the only place that performs the actual network write.
func (h *Handler) writePump(conn *websocket.Conn, sub *broadcast.Subscriber, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.cfg.PingInterval))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.Queue().Wake():
			for {
				frame, ok := sub.Queue().Pop()
				if !ok {
					break
				}
				if err := conn.WriteMessage(wireMessageType(sub.Opts.Binary), frame.Data); err != nil {
					return
				}
			}
		}
	}
}

func wireMessageType(binary bool) int {
	if binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// parseSubscriberOptions reads the connect-time query parameters (spec.md
// §4.6 "Connection parameters"): binary, mode, token.
func parseSubscriberOptions(r *http.Request) broadcast.SubscriberOptions {
	q := r.URL.Query()
	opts := broadcast.SubscriberOptions{
		Mode:  broadcast.ModePlain,
		Token: q.Get("token"),
	}
	if v := q.Get("mode"); v == string(broadcast.ModeDelta) {
		opts.Mode = broadcast.ModeDelta
	}
	if v := q.Get("binary"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.Binary = b
		}
	}
	return opts
}
