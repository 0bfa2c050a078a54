package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func strPtr(v string) *string { return &v }

func TestNewSeats(t *testing.T) {
	now := time.Now()

	seats, err := NewSeats(1, nil, now)
	require.NoError(t, err)
	require.Len(t, seats.All(), 1)
	assert.Equal(t, RoleUser, seats.User.Role)
	assert.Nil(t, seats.TaxAccountant)

	seats, err = NewSeats(1, int64Ptr(2), now)
	require.NoError(t, err)
	all := seats.All()
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].UserID)
	assert.Equal(t, RoleUser, all[0].Role)
	assert.Equal(t, int64(2), all[1].UserID)
	assert.Equal(t, RoleTaxAccountant, all[1].Role)

	_, err = NewSeats(1, int64Ptr(1), now)
	assert.Error(t, err)
	_, err = NewSeats(1, int64Ptr(0), now)
	assert.Error(t, err)
	_, err = NewSeats(0, nil, now)
	assert.Error(t, err)
}

func TestNewChatRoom(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	room := NewChatRoom("   ", now)
	assert.Equal(t, DefaultRoomTitle, room.Title)
	assert.Equal(t, RoomStatusActive, room.Status)
	assert.Nil(t, room.ClosedAt)
	assert.Equal(t, now, room.ActivityAt())

	room = NewChatRoom("  2023 return ", now)
	assert.Equal(t, "2023 return", room.Title)
}

func TestChatRoom_CloseKeepsFirstCloseTime(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	room := NewChatRoom("", first)

	room.Close(first.Add(time.Hour))
	room.Close(first.Add(2 * time.Hour))

	assert.Equal(t, RoomStatusClosed, room.Status)
	require.NotNil(t, room.ClosedAt)
	assert.Equal(t, first.Add(time.Hour), *room.ClosedAt)
	assert.Equal(t, first.Add(2*time.Hour), room.UpdatedAt)
}

func TestNewTextBody(t *testing.T) {
	body, err := NewTextBody(ChatMessageTypeText, "hello")
	require.NoError(t, err)
	assert.Equal(t, ChatMessageTypeText, body.Type())
	assert.Equal(t, "hello", body.Text())

	_, err = NewTextBody(ChatMessageTypeText, " \n\t")
	assert.Error(t, err)
	_, err = NewTextBody(ChatMessageTypeImage, "caption")
	assert.Error(t, err)
}

func TestNewAttachmentBody(t *testing.T) {
	img, err := NewAttachmentBody("http://x/uploads/a.png", "a.png", "image/png", 10)
	require.NoError(t, err)
	assert.Equal(t, ChatMessageTypeImage, img.Type())

	file, err := NewAttachmentBody("http://x/uploads/n.txt", "n.txt", "text/plain", 4)
	require.NoError(t, err)
	assert.Equal(t, ChatMessageTypeFile, file.Type())

	_, err = NewAttachmentBody("", "n.txt", "text/plain", 4)
	assert.Error(t, err)
}

func TestMessageRow_RoundTrip(t *testing.T) {
	now := time.Now().UTC()
	msgs := []*ChatMessage{
		{ID: 1, RoomID: 9, SenderID: 2, Body: TextBody{Content: "hi"}, CreatedAt: now},
		{ID: 2, RoomID: 9, SenderID: 0, Body: SystemBody{Content: "Room closed"}, CreatedAt: now},
		{ID: 3, RoomID: 9, SenderID: 2, Body: AttachmentBody{Kind: ChatMessageTypeImage, URL: "u", OriginalName: "a.png", MimeType: "image/png", Size: 7}, CreatedAt: now},
	}

	for _, m := range msgs {
		decoded, err := m.ToRow().Decode()
		require.NoError(t, err)
		assert.Equal(t, m, decoded)
	}
}

func TestMessageRow_DecodeRejectsInconsistentRows(t *testing.T) {
	_, err := MessageRow{ID: 1, Type: ChatMessageTypeFile, FileName: strPtr("n.txt")}.Decode()
	assert.Error(t, err)

	_, err = MessageRow{ID: 2, Type: "VIDEO"}.Decode()
	assert.Error(t, err)
}

func TestEnumsValid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleTaxAccountant.Valid())
	assert.False(t, RoleType("ADMIN").Valid())

	for _, typ := range []ChatMessageType{ChatMessageTypeText, ChatMessageTypeImage, ChatMessageTypeFile, ChatMessageTypeSystem} {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, ChatMessageType("VIDEO").Valid())
}
