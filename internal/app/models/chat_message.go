package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChatMessageType represents the type of chat message
type ChatMessageType string

const (
	ChatMessageTypeText   ChatMessageType = "TEXT"
	ChatMessageTypeImage  ChatMessageType = "IMAGE"
	ChatMessageTypeFile   ChatMessageType = "FILE"
	ChatMessageTypeSystem ChatMessageType = "SYSTEM"
)

// Valid reports whether t is a known message type
func (t ChatMessageType) Valid() bool {
	switch t {
	case ChatMessageTypeText, ChatMessageTypeImage, ChatMessageTypeFile, ChatMessageTypeSystem:
		return true
	}
	return false
}

// ChatMessage is an immutable entry of a room's message log
type ChatMessage struct {
	ID        int64
	RoomID    int64
	SenderID  int64
	Body      MessageBody
	CreatedAt time.Time
}

// Type returns the discriminator of the message body
func (m *ChatMessage) Type() ChatMessageType {
	if m.Body == nil {
		return ""
	}
	return m.Body.Type()
}

// MessageBody is the type-specific payload of a message.
// Implemented by TextBody, SystemBody and AttachmentBody.
type MessageBody interface {
	Type() ChatMessageType
	Text() string
}

// TextBody is a plain text message
type TextBody struct {
	Content string
}

func (TextBody) Type() ChatMessageType { return ChatMessageTypeText }
func (b TextBody) Text() string        { return b.Content }

// SystemBody is a server generated notice
type SystemBody struct {
	Content string
}

func (SystemBody) Type() ChatMessageType { return ChatMessageTypeSystem }
func (b SystemBody) Text() string        { return b.Content }

// AttachmentBody is an uploaded file. Kind is IMAGE or FILE.
type AttachmentBody struct {
	Kind         ChatMessageType
	URL          string
	OriginalName string
	MimeType     string
	Size         int64
}

func (b AttachmentBody) Type() ChatMessageType { return b.Kind }
func (AttachmentBody) Text() string            { return "" }

var errMissingAttachmentURL = errors.New("attachment message requires a file url")

// NewTextBody validates and builds a TEXT or SYSTEM body
func NewTextBody(t ChatMessageType, content string) (MessageBody, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("message content is required")
	}
	switch t {
	case ChatMessageTypeText:
		return TextBody{Content: content}, nil
	case ChatMessageTypeSystem:
		return SystemBody{Content: content}, nil
	default:
		return nil, fmt.Errorf("message type %q cannot carry text content", t)
	}
}

// NewAttachmentBody builds an IMAGE body for image/* MIME types and a FILE body otherwise
func NewAttachmentBody(url, originalName, mimeType string, size int64) (AttachmentBody, error) {
	if url == "" {
		return AttachmentBody{}, errMissingAttachmentURL
	}
	kind := ChatMessageTypeFile
	if strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		kind = ChatMessageTypeImage
	}
	return AttachmentBody{
		Kind:         kind,
		URL:          url,
		OriginalName: originalName,
		MimeType:     mimeType,
		Size:         size,
	}, nil
}

// MessageRow is the flat storage shape of a message
type MessageRow struct {
	ID        int64
	RoomID    int64
	SenderID  int64
	Type      ChatMessageType
	Content   string
	FileURL   *string
	FileName  *string
	FileMime  *string
	FileSize  *int64
	CreatedAt time.Time
}

// ToRow flattens a message for persistence
func (m *ChatMessage) ToRow() MessageRow {
	row := MessageRow{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Type:      m.Type(),
		CreatedAt: m.CreatedAt,
	}
	switch b := m.Body.(type) {
	case AttachmentBody:
		row.FileURL = &b.URL
		row.FileName = &b.OriginalName
		row.FileMime = &b.MimeType
		row.FileSize = &b.Size
	case nil:
	default:
		row.Content = b.Text()
	}
	return row
}

// Decode rebuilds the tagged message from a stored row, rejecting rows whose
// columns do not fit their type.
func (r MessageRow) Decode() (*ChatMessage, error) {
	msg := &ChatMessage{
		ID:        r.ID,
		RoomID:    r.RoomID,
		SenderID:  r.SenderID,
		CreatedAt: r.CreatedAt,
	}
	if !r.Type.Valid() {
		return nil, fmt.Errorf("message %d: unknown type %q", r.ID, r.Type)
	}
	switch r.Type {
	case ChatMessageTypeText:
		msg.Body = TextBody{Content: r.Content}
	case ChatMessageTypeSystem:
		msg.Body = SystemBody{Content: r.Content}
	case ChatMessageTypeImage, ChatMessageTypeFile:
		if r.FileURL == nil || *r.FileURL == "" {
			return nil, fmt.Errorf("message %d: %w", r.ID, errMissingAttachmentURL)
		}
		body := AttachmentBody{Kind: r.Type, URL: *r.FileURL}
		if r.FileName != nil {
			body.OriginalName = *r.FileName
		}
		if r.FileMime != nil {
			body.MimeType = *r.FileMime
		}
		if r.FileSize != nil {
			body.Size = *r.FileSize
		}
		msg.Body = body
	}
	return msg, nil
}

// MessagePage is one page of history, oldest first.
// NextCursor is nil when the page is empty.
type MessagePage struct {
	Messages   []*ChatMessage
	NextCursor *int64
}
