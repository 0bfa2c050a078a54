package websocket

import (
	"encoding/json"
)

// Presence events. join_room and leave_room come from clients, the rest
// are sent by the server.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventRoomUsers   = "room_users"
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
	EventError       = "error"
)

// Frame is the envelope of every WebSocket message
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomPayload is the data of join_room and leave_room
type RoomPayload struct {
	RoomID int64 `json:"roomId"`
}

// RoomUsersPayload lists the distinct users currently present in a room
type RoomUsersPayload struct {
	RoomID  int64   `json:"roomId"`
	UserIDs []int64 `json:"userIds"`
}

// PresencePayload is the data of user_online and user_offline
type PresencePayload struct {
	RoomID int64 `json:"roomId"`
	UserID int64 `json:"userId"`
}

// ErrorPayload reports a rejected client frame
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

func encodeFrame(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
