package dto

import (
	"time"

	"github.com/taxlink/taxchat/internal/app/models"
)

// CreateRoomRequest is the body of POST /chat/rooms
type CreateRoomRequest struct {
	CounterpartyID *int64 `json:"counterpartyId" binding:"omitempty,gt=0" example:"42"`
	Title          string `json:"title" binding:"max=255" example:"2023 income tax return"`
}

// SendMessageRequest is the body of POST /chat/rooms/{id}/messages
type SendMessageRequest struct {
	Content string `json:"content" binding:"required,notblank,max=5000" example:"Hello, I have a question about deductions"`
}

// MarkReadRequest is the body of POST /chat/rooms/{id}/read
type MarkReadRequest struct {
	LastReadMessageID *int64 `json:"lastReadMessageId" binding:"omitempty,gt=0" example:"128"`
}

// ChatRoomResponse represents a room in API responses
type ChatRoomResponse struct {
	ID                int64      `json:"id" example:"7"`
	Title             string     `json:"title" example:"TaxChat"`
	Status            string     `json:"status" example:"ACTIVE"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	LastMessageAt     *time.Time `json:"lastMessageAt,omitempty"`
	ClosedAt          *time.Time `json:"closedAt,omitempty"`
	Role              string     `json:"role,omitempty" example:"USER"`
	LastReadMessageID *int64     `json:"lastReadMessageId"`
	UnreadCount       int64      `json:"unreadCount" example:"3"`
}

// ChatMessageResponse is the flat wire shape of a message
type ChatMessageResponse struct {
	ID        int64     `json:"id" example:"128"`
	RoomID    int64     `json:"roomId" example:"7"`
	SenderID  int64     `json:"senderId" example:"1"`
	Type      string    `json:"type" example:"TEXT"`
	Content   string    `json:"content" example:"hello"`
	FileURL   *string   `json:"fileUrl"`
	FileName  *string   `json:"fileName"`
	FileMime  *string   `json:"fileMime"`
	FileSize  *int64    `json:"fileSize"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessagePageResponse is one page of room history, oldest first
type MessagePageResponse struct {
	Messages   []ChatMessageResponse `json:"messages"`
	NextCursor *int64                `json:"nextCursor" example:"101"`
}

// UnreadCountResponse reports unread messages of one room
type UnreadCountResponse struct {
	RoomID      int64 `json:"roomId" example:"7"`
	UnreadCount int64 `json:"unreadCount" example:"3"`
}

// ToChatRoomResponse converts a room to its response shape
func ToChatRoomResponse(room *models.ChatRoom) ChatRoomResponse {
	return ChatRoomResponse{
		ID:            room.ID,
		Title:         room.Title,
		Status:        string(room.Status),
		CreatedAt:     room.CreatedAt,
		UpdatedAt:     room.UpdatedAt,
		LastMessageAt: room.LastMessageAt,
		ClosedAt:      room.ClosedAt,
	}
}

// ToRoomSummaryResponse converts a participant's view of a room
func ToRoomSummaryResponse(s *models.RoomSummary) ChatRoomResponse {
	resp := ToChatRoomResponse(&s.ChatRoom)
	resp.Role = string(s.Role)
	resp.LastReadMessageID = s.LastReadMessageID
	resp.UnreadCount = s.UnreadCount
	return resp
}

// ToChatMessageResponse flattens a message for the wire
func ToChatMessageResponse(msg *models.ChatMessage) ChatMessageResponse {
	row := msg.ToRow()
	return ChatMessageResponse{
		ID:        row.ID,
		RoomID:    row.RoomID,
		SenderID:  row.SenderID,
		Type:      string(row.Type),
		Content:   row.Content,
		FileURL:   row.FileURL,
		FileName:  row.FileName,
		FileMime:  row.FileMime,
		FileSize:  row.FileSize,
		CreatedAt: row.CreatedAt,
	}
}

// ToChatMessageResponses converts a list of messages
func ToChatMessageResponses(msgs []*models.ChatMessage) []ChatMessageResponse {
	out := make([]ChatMessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToChatMessageResponse(m))
	}
	return out
}

// ToMessagePageResponse converts a history page
func ToMessagePageResponse(page *models.MessagePage) MessagePageResponse {
	return MessagePageResponse{
		Messages:   ToChatMessageResponses(page.Messages),
		NextCursor: page.NextCursor,
	}
}
