package websocket

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/taxlink/taxchat/internal/pkg/metrics"
)

// Hub tracks connected clients and the rooms they joined. Presence is
// advisory and lives only in memory.
type Hub struct {
	mu sync.RWMutex

	// Registered clients
	clients map[*Client]struct{}

	// Clients joined to each room
	rooms map[int64]map[*Client]struct{}

	logger zerolog.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[int64]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	metrics.WebsocketConnections.Inc()

	h.logger.Info().
		Str("socketID", c.id).
		Int64("userID", c.userID).
		Msg("Client registered")
}

// Join adds c to the room, sends it the users present and announces it to
// the other sockets of the room. Joining twice is a no-op apart from the
// room_users reply.
func (h *Hub) Join(roomID int64, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}

	members := h.rooms[roomID]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[roomID] = members
	}
	_, already := members[c]
	members[c] = struct{}{}
	c.joined[roomID] = struct{}{}

	h.sendLocked(c, EventRoomUsers, RoomUsersPayload{RoomID: roomID, UserIDs: h.usersLocked(roomID)})
	if !already {
		h.broadcastLocked(roomID, c, EventUserOnline, PresencePayload{RoomID: roomID, UserID: c.userID})
	}

	h.logger.Debug().
		Int64("roomID", roomID).
		Int64("userID", c.userID).
		Msg("Client joined room")
}

// Leave removes c from the room and tells the remaining sockets
func (h *Hub) Leave(roomID int64, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.leaveLocked(roomID, c) {
		h.broadcastLocked(roomID, c, EventUserOffline, PresencePayload{RoomID: roomID, UserID: c.userID})
	}
}

// Unregister announces the client offline in every room it joined, clears
// its joined set and closes its send queue
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}

	for roomID := range c.joined {
		if h.leaveLocked(roomID, c) {
			h.broadcastLocked(roomID, c, EventUserOffline, PresencePayload{RoomID: roomID, UserID: c.userID})
		}
	}
	c.joined = make(map[int64]struct{})

	delete(h.clients, c)
	close(c.send)
	metrics.WebsocketConnections.Dec()

	h.logger.Info().
		Str("socketID", c.id).
		Int64("userID", c.userID).
		Msg("Client unregistered")
}

// RoomUsers returns the distinct users with at least one socket in the room
func (h *Hub) RoomUsers(roomID int64) []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.usersLocked(roomID)
}

// ClientsCount returns the number of registered sockets
func (h *Hub) ClientsCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unregisters every client; their write pumps then close the connections
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}

func (h *Hub) leaveLocked(roomID int64, c *Client) bool {
	members := h.rooms[roomID]
	if _, ok := members[c]; !ok {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
	delete(c.joined, roomID)
	return true
}

func (h *Hub) usersLocked(roomID int64) []int64 {
	seen := make(map[int64]struct{})
	ids := []int64{}
	for c := range h.rooms[roomID] {
		if _, ok := seen[c.userID]; ok {
			continue
		}
		seen[c.userID] = struct{}{}
		ids = append(ids, c.userID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// broadcastLocked delivers an event to every socket of the room except skip
func (h *Hub) broadcastLocked(roomID int64, skip *Client, event string, data interface{}) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to encode presence event")
		return
	}
	for c := range h.rooms[roomID] {
		if c == skip {
			continue
		}
		c.enqueue(frame)
		metrics.PresenceEvents.WithLabelValues(event).Inc()
	}
}

func (h *Hub) sendLocked(c *Client, event string, data interface{}) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to encode presence event")
		return
	}
	c.enqueue(frame)
	metrics.PresenceEvents.WithLabelValues(event).Inc()
}

// SendError delivers an error frame to c if it is still registered
func (h *Hub) SendError(c *Client, event, message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	h.sendLocked(c, EventError, ErrorPayload{Event: event, Message: message})
}
