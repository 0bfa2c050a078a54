package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/taxlink/taxchat/internal/pkg/apperrors"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Presence frames are tiny
	maxMessageSize = 4 * 1024

	// Time allowed for the participant check of a join
	authorizeTimeout = 5 * time.Second

	sendBufferSize = 64
)

// RoomAuthorizer decides whether a user may join a room's presence group
type RoomAuthorizer interface {
	AssertParticipant(ctx context.Context, userID, roomID int64) error
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	id  string
	hub *Hub

	// The WebSocket connection, nil in hub tests
	conn *websocket.Conn

	// Buffered channel of outbound frames, closed by the hub
	send chan []byte

	userID int64

	// Rooms this socket joined, guarded by the hub lock
	joined map[int64]struct{}

	authorizer RoomAuthorizer
	logger     zerolog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, userID int64, authorizer RoomAuthorizer, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:         id,
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		userID:     userID,
		joined:     make(map[int64]struct{}),
		authorizer: authorizer,
		logger: logger.With().
			Str("socketID", id).
			Int64("userID", userID).
			Logger(),
	}
}

// enqueue drops the frame when the client is not keeping up
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.logger.Warn().Msg("Send buffer full, dropping presence event")
	}
}

// readPump pumps frames from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info().Msg("WebSocket closed normally")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("Unexpected WebSocket close")
			} else {
				c.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			break
		}

		c.handleFrame(message)
	}
}

func (c *Client) handleFrame(message []byte) {
	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to unmarshal client frame")
		c.hub.SendError(c, "", "malformed frame")
		return
	}

	switch frame.Event {
	case EventJoinRoom, EventLeaveRoom:
	default:
		c.hub.SendError(c, frame.Event, "unknown event")
		return
	}

	var payload RoomPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.RoomID <= 0 {
		c.hub.SendError(c, frame.Event, "roomId must be a positive integer")
		return
	}

	if frame.Event == EventLeaveRoom {
		c.hub.Leave(payload.RoomID, c)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
	defer cancel()
	if err := c.authorizer.AssertParticipant(ctx, c.userID, payload.RoomID); err != nil {
		message := "not a participant of this room"
		if !errors.Is(err, apperrors.ErrPermissionDenied) {
			c.logger.Error().Err(err).Int64("roomID", payload.RoomID).Msg("Failed to authorize room join")
			message = "could not join room"
		}
		c.hub.SendError(c, frame.Event, message)
		return
	}

	c.hub.Join(payload.RoomID, c)
}

// writePump pumps frames from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
