// Package realtime keeps the set of connected passenger and driver channels
// and fans lifecycle events out to them over websockets.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/observability"
)

const defaultSendBuffer = 256

// Frame is the wire shape of every message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Client is one connected channel.
type Client struct {
	ID     string
	UserID string
	Role   events.Role

	send   chan []byte
	groups map[string]struct{} // guarded by Hub.mu
}

func roleGroup(r events.Role) string { return "role:" + string(r) }
func userGroup(id string) string     { return "user:" + id }
func rideGroup(id string) string     { return "ride:" + id }

// Hub routes events to clients by role, user and ride groups. Delivery is
// best effort: a client whose queue is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]*Client

	sendBuffer int
	log        *slog.Logger
}

func NewHub(log *slog.Logger, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Hub{
		clients:    make(map[string]*Client),
		groups:     make(map[string]map[string]*Client),
		sendBuffer: sendBuffer,
		log:        log,
	}
}

// Attach registers a new client and joins its role and user groups.
func (h *Hub) Attach(userID string, role events.Role) *Client {
	c := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Role:   role,
		send:   make(chan []byte, h.sendBuffer),
		groups: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[c.ID] = c
	h.join(c, roleGroup(role))
	if userID != "" {
		h.join(c, userGroup(userID))
	}
	n := len(h.clients)
	h.mu.Unlock()

	observability.ConnectedChannels.Set(float64(n))
	h.log.Info("client_registered", "client_id", c.ID, "user_id", userID, "role", role)
	return c
}

// Detach removes the client from every group and closes its queue.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	for g := range c.groups {
		h.leave(c, g)
	}
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	observability.ConnectedChannels.Set(float64(n))
	h.log.Info("client_unregistered", "client_id", c.ID)
}

// JoinRide subscribes c to a ride's location and status events.
func (h *Hub) JoinRide(c *Client, rideID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; ok {
		h.join(c, rideGroup(rideID))
	}
}

func (h *Hub) LeaveRide(c *Client, rideID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(c, rideGroup(rideID))
}

func (h *Hub) join(c *Client, group string) {
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*Client)
		h.groups[group] = members
	}
	members[c.ID] = c
	c.groups[group] = struct{}{}
}

func (h *Hub) leave(c *Client, group string) {
	if members, ok := h.groups[group]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	delete(c.groups, group)
}

// Publish implements events.Publisher.
func (h *Hub) Publish(ctx context.Context, e events.Event) {
	if e.Audience.Empty() {
		return
	}
	b, err := json.Marshal(outFrame{Event: e.Name, Data: e.Payload})
	if err != nil {
		h.log.Error("event_encode_failed", "event", e.Name, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.recipients(e.Audience) {
		select {
		case c.send <- b:
			observability.EventsDelivered.WithLabelValues(e.Name).Inc()
		default:
			observability.EventsDropped.WithLabelValues(e.Name).Inc()
			h.log.Warn("event_dropped", "event", e.Name, "client_id", c.ID)
		}
	}
}

// Send delivers one event to a single client.
func (h *Hub) Send(c *Client, name string, payload any) {
	h.Publish(context.Background(), events.Event{Name: name, Payload: payload, Audience: events.Audience{Channel: c.ID}})
}

// recipients resolves an audience to distinct clients. Callers hold h.mu.
func (h *Hub) recipients(a events.Audience) []*Client {
	seen := make(map[string]struct{})
	var out []*Client
	add := func(c *Client) {
		if _, dup := seen[c.ID]; dup {
			return
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	addGroup := func(g string) {
		for _, c := range h.groups[g] {
			add(c)
		}
	}
	for _, r := range a.Roles {
		addGroup(roleGroup(r))
	}
	for _, u := range a.Users {
		addGroup(userGroup(u))
	}
	for _, r := range a.Rides {
		addGroup(rideGroup(r))
	}
	if a.Channel != "" {
		if c, ok := h.clients[a.Channel]; ok {
			add(c)
		}
	}
	return out
}

// Connected returns the number of attached clients.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
