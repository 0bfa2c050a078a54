package models

import (
	"fmt"
	"strings"
	"time"
)

// DefaultRoomTitle is used when a room is created without a title
const DefaultRoomTitle = "TaxChat"

// RoomStatus represents the lifecycle state of a chat room
type RoomStatus string

const (
	RoomStatusActive RoomStatus = "ACTIVE"
	RoomStatusClosed RoomStatus = "CLOSED"
)

// ChatRoom represents a conversation between a user and a tax accountant
type ChatRoom struct {
	ID            int64      `json:"id" db:"id"`
	Title         string     `json:"title" db:"title"`
	Status        RoomStatus `json:"status" db:"status"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time  `json:"updatedAt" db:"updated_at"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty" db:"last_message_at"`
	ClosedAt      *time.Time `json:"closedAt,omitempty" db:"closed_at"`
}

// NewChatRoom builds an ACTIVE room with every timestamp set to now.
// A blank title falls back to DefaultRoomTitle.
func NewChatRoom(title string, now time.Time) *ChatRoom {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultRoomTitle
	}
	return &ChatRoom{
		Title:         title,
		Status:        RoomStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: &now,
	}
}

// Close moves the room to CLOSED. The first close time is kept.
func (r *ChatRoom) Close(now time.Time) {
	r.Status = RoomStatusClosed
	r.UpdatedAt = now
	if r.ClosedAt == nil {
		r.ClosedAt = &now
	}
}

// ActivityAt is the sort key used by room listings
func (r *ChatRoom) ActivityAt() time.Time {
	if r.LastMessageAt != nil {
		return *r.LastMessageAt
	}
	return r.UpdatedAt
}

// ChatParticipant binds a user to a room seat
type ChatParticipant struct {
	ID                int64      `json:"id" db:"id"`
	RoomID            int64      `json:"roomId" db:"room_id"`
	UserID            int64      `json:"userId" db:"user_id"`
	Role              RoleType   `json:"role" db:"role"`
	LastReadMessageID *int64     `json:"lastReadMessageId,omitempty" db:"last_read_message_id"`
	LastReadAt        *time.Time `json:"lastReadAt,omitempty" db:"last_read_at"`
	JoinedAt          time.Time  `json:"joinedAt" db:"joined_at"`
}

// Seats holds the two role slots of a room. The TaxAccountant seat may be empty.
type Seats struct {
	User          *ChatParticipant
	TaxAccountant *ChatParticipant
}

// NewSeats validates the two-seat layout of a new room: the caller takes the
// USER seat and the optional counterparty takes the TAX_ACCOUNTANT seat.
func NewSeats(userID int64, counterpartyID *int64, now time.Time) (Seats, error) {
	if userID <= 0 {
		return Seats{}, fmt.Errorf("invalid user id %d", userID)
	}
	seats := Seats{
		User: &ChatParticipant{UserID: userID, Role: RoleUser, JoinedAt: now},
	}
	if counterpartyID == nil {
		return seats, nil
	}
	if *counterpartyID <= 0 {
		return Seats{}, fmt.Errorf("invalid counterparty id %d", *counterpartyID)
	}
	if *counterpartyID == userID {
		return Seats{}, fmt.Errorf("counterparty must differ from the room owner")
	}
	seats.TaxAccountant = &ChatParticipant{UserID: *counterpartyID, Role: RoleTaxAccountant, JoinedAt: now}
	return seats, nil
}

// All returns the occupied seats, USER first
func (s Seats) All() []*ChatParticipant {
	out := []*ChatParticipant{s.User}
	if s.TaxAccountant != nil {
		out = append(out, s.TaxAccountant)
	}
	return out
}

// RoomSummary is a room as seen by one of its participants
type RoomSummary struct {
	ChatRoom
	Role              RoleType `json:"role"`
	LastReadMessageID *int64   `json:"lastReadMessageId,omitempty"`
	UnreadCount       int64    `json:"unreadCount"`
}
