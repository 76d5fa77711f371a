package services

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/openlift/carpool-backend/internal/observability"
)

// Publisher is the outbound side of the event bus. The hub implements it;
// the coordinator and relay depend only on this surface.
type Publisher interface {
	// PublishToRide delivers to every subscriber of the ride's room.
	PublishToRide(rideID uint, env Envelope)
	// PublishToRideExcept delivers to the ride room, skipping one client.
	PublishToRideExcept(rideID uint, skip *Client, env Envelope)
	// PublishToUser delivers to every connection of one user.
	PublishToUser(userID uint, env Envelope)
	// PublishToAll announces to every connected client.
	PublishToAll(env Envelope)
	// RestrictRoom evicts every room subscriber whose user id is not in
	// allowed.
	RestrictRoom(rideID uint, allowed ...uint)
}

// Hub maintains the set of active clients and per-ride room membership, and
// fans events out to them. It holds no durable state: a restart loses only
// in-flight notifications, the store stays authoritative.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[uint]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	handler    InboundHandler
	log        *slog.Logger
}

// InboundHandler consumes messages sent by connected clients.
type InboundHandler interface {
	HandleInbound(c *Client, msg InboundMessage)
}

// NewHub creates a new event hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[uint]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

// SetHandler attaches the consumer of inbound messages. Must be called
// before the first connection is accepted.
func (h *Hub) SetHandler(handler InboundHandler) {
	h.handler = handler
}

// Run starts the hub's accept loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			observability.ConnectedClients.Inc()
			h.log.Info("client connected", "userId", client.ID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				h.dropLocked(client)
			}
			h.mutex.Unlock()
			observability.ConnectedClients.Dec()
			h.log.Info("client disconnected", "userId", client.ID)
		}
	}
}

// dropLocked removes a client from the roster and every room. Caller holds
// the write lock.
func (h *Hub) dropLocked(client *Client) {
	delete(h.clients, client)
	for rideID, members := range h.rooms {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, rideID)
		}
	}
	close(client.Send)
}

// Subscribe adds the client to a ride's room. Membership does not require
// the register handoff to have settled: subscribe messages arrive only on
// the client's own read pump, which runs strictly between its register and
// unregister.
func (h *Hub) Subscribe(client *Client, rideID uint) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.rooms[rideID] == nil {
		h.rooms[rideID] = make(map[*Client]bool)
	}
	h.rooms[rideID][client] = true
}

// Unsubscribe removes the client from a ride's room.
func (h *Hub) Unsubscribe(client *Client, rideID uint) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if members, ok := h.rooms[rideID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, rideID)
		}
	}
}

// RestrictRoom drops every subscriber of the ride's room whose user id is
// not in allowed. Open-pool watchers lose access the moment a ride is
// claimed; from then on room events, which carry contact details and live
// positions, reach participants only.
func (h *Hub) RestrictRoom(rideID uint, allowed ...uint) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	members := h.rooms[rideID]
	for client := range members {
		permitted := false
		for _, id := range allowed {
			if client.ID == id {
				permitted = true
				break
			}
		}
		if !permitted {
			delete(members, client)
		}
	}
	if len(members) == 0 {
		delete(h.rooms, rideID)
	}
}

// RoomSize returns the number of subscribers of a ride's room.
func (h *Hub) RoomSize(rideID uint) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[rideID])
}

func (h *Hub) PublishToRide(rideID uint, env Envelope) {
	h.PublishToRideExcept(rideID, nil, env)
}

func (h *Hub) PublishToRideExcept(rideID uint, skip *Client, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("marshal event", "type", env.Type, "error", err)
		return
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for client := range h.rooms[rideID] {
		if client == skip {
			continue
		}
		h.send(client, data)
	}
	observability.EventsPublishedTotal.WithLabelValues(env.Type).Inc()
}

func (h *Hub) PublishToUser(userID uint, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("marshal event", "type", env.Type, "error", err)
		return
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for client := range h.clients {
		if client.ID == userID {
			h.send(client, data)
		}
	}
	observability.EventsPublishedTotal.WithLabelValues(env.Type).Inc()
}

func (h *Hub) PublishToAll(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("marshal event", "type", env.Type, "error", err)
		return
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for client := range h.clients {
		h.send(client, data)
	}
	observability.EventsPublishedTotal.WithLabelValues(env.Type).Inc()
}

// SendAck answers one client directly, outside any room.
func (h *Hub) SendAck(client *Client, ack Ack) {
	env := NewEnvelope(EventAck, 0, ack)
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	h.send(client, data)
}

// send never blocks the hub: a client whose buffer is full is skipped and
// will reconcile by re-fetching state once it drains or reconnects.
func (h *Hub) send(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		h.log.Warn("send buffer full, dropping event", "userId", client.ID)
	}
}

// GetConnectedClients returns the number of connected clients.
func (h *Hub) GetConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
