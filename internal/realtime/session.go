package realtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/events"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 8192

	// maxPendingIntents bounds queued and running intents per connection.
	maxPendingIntents = 64
)

// checkOrigin lets through non-browser clients, which send no Origin header.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.AllowedOrigin == "" || h.AllowedOrigin == "*" {
		return true
	}
	return strings.EqualFold(origin, h.AllowedOrigin)
}

// ServeWS upgrades /ws?role=passenger|driver&userId=... to a channel.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	role := events.Role(strings.ToLower(r.URL.Query().Get("role")))
	if role != events.RolePassenger && role != events.RoleDriver {
		http.Error(w, "role must be passenger or driver", http.StatusBadRequest)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("ws_upgrade_failed", "error", err)
		return
	}
	c := h.Hub.Attach(userID, role)
	ctx := context.WithoutCancel(r.Context())

	go writePump(conn, c)
	go h.readPump(ctx, conn, c)
}

// readPump decodes frames and hands each intent to its ride's lane, so a slow
// intent for one ride does not hold up another ride on the same connection.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, c *Client) {
	l := newLanes(maxPendingIntents)
	defer func() {
		l.Wait()
		h.Hub.Detach(c)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Logger.Warn("ws_read_error", "client_id", c.ID, "error", err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Event == "" {
			h.fail(c, f.Event, "malformed frame")
			continue
		}
		h.enqueue(ctx, l, c, f)
	}
}

// enqueue hands f to its ride's lane, or answers with an error event when the
// connection already has too many intents in flight.
func (h *Handler) enqueue(ctx context.Context, l *lanes, c *Client, f Frame) {
	if !l.Go(laneKey(f), func() { h.Handle(ctx, c, f) }) {
		h.fail(c, f.Event, "too many pending requests")
	}
}

// laneKey is the frame's ride id; intents without one share a lane.
func laneKey(f Frame) string {
	var ref struct {
		RideID string `json:"rideId"`
	}
	_ = json.Unmarshal(f.Data, &ref)
	return ref.RideID
}

func writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
