package services

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/textproto"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taxlink/taxchat/internal/app/auth"
	"github.com/taxlink/taxchat/internal/app/models"
	"github.com/taxlink/taxchat/internal/app/repositories"
	"github.com/taxlink/taxchat/internal/pkg/apperrors"
	"github.com/taxlink/taxchat/internal/pkg/filestorage"
)

const (
	owner      int64 = 1
	accountant int64 = 2
	stranger   int64 = 3
)

var errInjected = errors.New("injected failure")

// faultyStore wraps the memory store and fails selected statements inside transactions
type faultyStore struct {
	*repositories.MemoryChatRepository
	failAddParticipant bool
	failTouchRoom      bool
}

func (s *faultyStore) WithTx(ctx context.Context, fn func(ctx context.Context, q repositories.ChatQueries) error) error {
	return s.MemoryChatRepository.WithTx(ctx, func(ctx context.Context, q repositories.ChatQueries) error {
		return fn(ctx, &faultyQueries{ChatQueries: q, store: s})
	})
}

type faultyQueries struct {
	repositories.ChatQueries
	store *faultyStore
}

func (q *faultyQueries) AddParticipant(ctx context.Context, p *models.ChatParticipant) error {
	if q.store.failAddParticipant {
		return errInjected
	}
	return q.ChatQueries.AddParticipant(ctx, p)
}

func (q *faultyQueries) TouchRoom(ctx context.Context, roomID int64, at time.Time) error {
	if q.store.failTouchRoom {
		return errInjected
	}
	return q.ChatQueries.TouchRoom(ctx, roomID, at)
}

type fixture struct {
	svc        *chatServiceImpl
	store      *faultyStore
	uploadsDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	storage, err := filestorage.NewLocalStorage(dir, "http://localhost:8080/uploads", filestorage.Limits{MaxFiles: 5, MaxFileSize: 10 << 20})
	require.NoError(t, err)

	store := &faultyStore{MemoryChatRepository: repositories.NewMemoryChatRepository()}
	svc := NewChatService(store, auth.NewAuthorizationService(zerolog.Nop()), storage, zerolog.Nop()).(*chatServiceImpl)

	clock := time.Date(2024, 4, 15, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return &fixture{svc: svc, store: store, uploadsDir: dir}
}

func (f *fixture) room(t *testing.T) int64 {
	t.Helper()
	counterparty := accountant
	room, err := f.svc.CreateRoom(context.Background(), owner, &counterparty, "")
	require.NoError(t, err)
	return room.ID
}

func (f *fixture) send(t *testing.T, roomID, sender int64, text string) *models.ChatMessage {
	t.Helper()
	msg, err := f.svc.SendMessage(context.Background(), sender, roomID, models.ChatMessageTypeText, text)
	require.NoError(t, err)
	return msg
}

func (f *fixture) storedFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.uploadsDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func fileHeaders(t *testing.T, name, contentType string, body []byte) []*multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["files"]
}

func pngPayload(size int) []byte {
	b := make([]byte, size)
	copy(b, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
	return b
}

func TestCreateRoomWithCounterparty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	counterparty := accountant
	room, err := f.svc.CreateRoom(ctx, owner, &counterparty, "")
	require.NoError(t, err)

	assert.Equal(t, models.DefaultRoomTitle, room.Title)
	assert.Equal(t, models.RoomStatusActive, room.Status)
	assert.Equal(t, models.RoleUser, room.Role)

	u, err := f.store.GetParticipant(ctx, room.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, u.Role)

	ta, err := f.store.GetParticipant(ctx, room.ID, accountant)
	require.NoError(t, err)
	assert.Equal(t, models.RoleTaxAccountant, ta.Role)

	rooms, err := f.svc.ListRooms(ctx, accountant)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, models.RoleTaxAccountant, rooms[0].Role)
}

func TestCreateRoomWithoutCounterpartyUsesTitle(t *testing.T) {
	f := newFixture(t)

	room, err := f.svc.CreateRoom(context.Background(), owner, nil, "  2023 return  ")
	require.NoError(t, err)
	assert.Equal(t, "2023 return", room.Title)

	ok, err := f.store.IsParticipant(context.Background(), room.ID, owner)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateRoomRejectsSelfAsCounterparty(t *testing.T) {
	f := newFixture(t)
	self := owner

	_, err := f.svc.CreateRoom(context.Background(), owner, &self, "")
	assert.ErrorIs(t, err, apperrors.ErrValidationFailed)

	rooms, err := f.svc.ListRooms(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestCreateRoomIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.store.failAddParticipant = true

	counterparty := accountant
	_, err := f.svc.CreateRoom(context.Background(), owner, &counterparty, "")
	require.ErrorIs(t, err, apperrors.ErrStorage)

	_, err = f.store.GetRoom(context.Background(), 1)
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	rooms, err := f.svc.ListRooms(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestSendAndListMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID := f.room(t)

	sent := f.send(t, roomID, owner, "hello")
	assert.Equal(t, models.ChatMessageTypeText, sent.Type())

	page, err := f.svc.ListMessages(ctx, owner, roomID, nil, 30)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)

	msg := page.Messages[0]
	assert.Equal(t, models.ChatMessageTypeText, msg.Type())
	assert.Equal(t, "hello", msg.Body.Text())
	assert.Equal(t, owner, msg.SenderID)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, msg.ID, *page.NextCursor)

	room, err := f.store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	require.NotNil(t, room.LastMessageAt)
	assert.True(t, room.LastMessageAt.Equal(msg.CreatedAt))
}

func TestSendMessageRejectsBlankContent(t *testing.T) {
	f := newFixture(t)
	roomID := f.room(t)

	_, err := f.svc.SendMessage(context.Background(), owner, roomID, models.ChatMessageTypeText, "   ")
	assert.ErrorIs(t, err, apperrors.ErrValidationFailed)

	page, err := f.svc.ListMessages(context.Background(), owner, roomID, nil, 30)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestSendMessageByStrangerIsForbidden(t *testing.T) {
	f := newFixture(t)
	roomID := f.room(t)

	_, err := f.svc.SendMessage(context.Background(), stranger, roomID, models.ChatMessageTypeText, "hi")
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	page, err := f.svc.ListMessages(context.Background(), owner, roomID, nil, 30)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestRoomScopedOperationsRejectNonParticipants(t *testing.T) {
	f := newFixture(t)
	roomID := f.room(t)
	msg := f.send(t, roomID, owner, "hello")

	ops := map[string]func(ctx context.Context, roomID int64) error{
		"list messages": func(ctx context.Context, roomID int64) error {
			_, err := f.svc.ListMessages(ctx, stranger, roomID, nil, 30)
			return err
		},
		"send message": func(ctx context.Context, roomID int64) error {
			_, err := f.svc.SendMessage(ctx, stranger, roomID, models.ChatMessageTypeText, "hi")
			return err
		},
		"upload": func(ctx context.Context, roomID int64) error {
			_, err := f.svc.UploadAttachments(ctx, stranger, roomID, fileHeaders(t, "a.txt", "text/plain", []byte("a")))
			return err
		},
		"attach": func(ctx context.Context, roomID int64) error {
			_, err := f.svc.AttachFiles(ctx, stranger, roomID, []filestorage.StoredFile{{URL: "http://x/uploads/a", OriginalName: "a"}})
			return err
		},
		"mark read": func(ctx context.Context, roomID int64) error {
			return f.svc.MarkRead(ctx, stranger, roomID, &msg.ID)
		},
		"unread count": func(ctx context.Context, roomID int64) error {
			_, err := f.svc.UnreadCount(ctx, stranger, roomID)
			return err
		},
		"close": func(ctx context.Context, roomID int64) error {
			_, err := f.svc.CloseRoom(ctx, stranger, roomID)
			return err
		},
		"delete": func(ctx context.Context, roomID int64) error {
			return f.svc.DeleteRoom(ctx, stranger, roomID)
		},
		"presence": func(ctx context.Context, roomID int64) error {
			return f.svc.AssertParticipant(ctx, stranger, roomID)
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, op(context.Background(), roomID), apperrors.ErrPermissionDenied)
			assert.ErrorIs(t, op(context.Background(), 9999), apperrors.ErrPermissionDenied)
		})
	}

	room, err := f.store.GetRoom(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusActive, room.Status)
	assert.Empty(t, f.storedFiles(t))
}

func TestListMessagesBeforeCursor(t *testing.T) {
	f := newFixture(t)
	roomID := f.room(t)
	for i := 0; i < 5; i++ {
		f.send(t, roomID, owner, "msg")
	}

	cursor := int64(4)
	page, err := f.svc.ListMessages(context.Background(), owner, roomID, &cursor, 10)
	require.NoError(t, err)

	var ids []int64
	for _, m := range page.Messages {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
	require.NotNil(t, page.NextCursor)
	assert.EqualValues(t, 1, *page.NextCursor)
}

func TestListMessagesWalksWholeHistory(t *testing.T) {
	for _, limit := range []int{1, 3, 7, 100} {
		f := newFixture(t)
		roomID := f.room(t)
		const total = 7
		for i := 0; i < total; i++ {
			f.send(t, roomID, owner, "msg")
		}

		var pages [][]int64
		var cursor *int64
		for {
			page, err := f.svc.ListMessages(context.Background(), owner, roomID, cursor, limit)
			require.NoError(t, err)
			if page.NextCursor == nil {
				assert.Empty(t, page.Messages)
				break
			}
			var ids []int64
			for _, m := range page.Messages {
				ids = append(ids, m.ID)
			}
			pages = append(pages, ids)
			cursor = page.NextCursor
		}

		// pages are fetched newest first, each page oldest first
		var all []int64
		for i := len(pages) - 1; i >= 0; i-- {
			all = append(all, pages[i]...)
		}
		assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, all, "limit %d", limit)
	}
}

func TestListMessagesClampsLimit(t *testing.T) {
	f := newFixture(t)
	roomID := f.room(t)
	for i := 0; i < 3; i++ {
		f.send(t, roomID, owner, "msg")
	}

	for _, limit := range []int{0, -5} {
		page, err := f.svc.ListMessages(context.Background(), owner, roomID, nil, limit)
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.EqualValues(t, 3, page.Messages[0].ID)
	}

	bad := int64(0)
	_, err := f.svc.ListMessages(context.Background(), owner, roomID, &bad, 10)
	assert.ErrorIs(t, err, apperrors.ErrValidationFailed)
}

func TestUploadImageCreatesImageMessage(t *testing.T) {
	f := newFixture(t)
	roomID := f.room(t)

	msgs, err := f.svc.UploadAttachments(context.Background(), owner, roomID, fileHeaders(t, "cat.png", "image/png", pngPayload(2048)))
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.Equal(t, models.ChatMessageTypeImage, msgs[0].Type())
	body, ok := msgs[0].Body.(models.AttachmentBody)
	require.True(t, ok)
	assert.Equal(t, "cat.png", body.OriginalName)
	assert.EqualValues(t, 2048, body.Size)
	assert.NotEmpty(t, body.URL)
	assert.Empty(t, msgs[0].Body.Text())

	page, err := f.svc.ListMessages(context.Background(), accountant, roomID, nil, 30)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, models.ChatMessageTypeImage, page.Messages[0].Type())
	assert.Len(t, f.storedFiles(t), 1)
}

func TestUploadTextFileCreatesFileMessage(t *testing.T) {
	f := newFixture(t)
	roomID := f.room(t)

	msgs, err := f.svc.UploadAttachments(context.Background(), owner, roomID, fileHeaders(t, "w2 notes.txt", "text/plain", []byte("box 1: 52000")))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.ChatMessageTypeFile, msgs[0].Type())
}

func TestAttachFilesRollbackRemovesStoredFiles(t *testing.T) {
	f := newFixture(t)
	roomID := f.room(t)
	f.store.failTouchRoom = true

	_, err := f.svc.UploadAttachments(context.Background(), owner, roomID, fileHeaders(t, "cat.png", "image/png", pngPayload(64)))
	require.ErrorIs(t, err, apperrors.ErrStorage)

	assert.Empty(t, f.storedFiles(t))
	page, err := f.svc.ListMessages(context.Background(), owner, roomID, nil, 30)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestCloseRoomTwice(t *testing.T) {
	f := newFixture(t)
	roomID := f.room(t)

	first, err := f.svc.CloseRoom(context.Background(), owner, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusClosed, first.Status)
	require.NotNil(t, first.ClosedAt)

	second, err := f.svc.CloseRoom(context.Background(), accountant, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusClosed, second.Status)
	assert.True(t, first.ClosedAt.Equal(*second.ClosedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestCloseRoomByID(t *testing.T) {
	f := newFixture(t)
	roomID := f.room(t)

	room, err := f.svc.CloseRoomByID(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusClosed, room.Status)

	_, err = f.svc.CloseRoomByID(context.Background(), 9999)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)
}

func TestClosedRoomStillAcceptsMessages(t *testing.T) {
	f := newFixture(t)
	roomID := f.room(t)

	_, err := f.svc.CloseRoom(context.Background(), owner, roomID)
	require.NoError(t, err)

	f.send(t, roomID, accountant, "final summary")
}

func TestDeleteRoomRemovesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID := f.room(t)
	f.send(t, roomID, owner, "hello")
	_, err := f.svc.UploadAttachments(ctx, owner, roomID, fileHeaders(t, "cat.png", "image/png", pngPayload(64)))
	require.NoError(t, err)
	require.Len(t, f.storedFiles(t), 1)

	require.NoError(t, f.svc.DeleteRoom(ctx, owner, roomID))

	assert.Empty(t, f.storedFiles(t))
	rooms, err := f.svc.ListRooms(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, rooms)

	_, err = f.svc.ListMessages(ctx, owner, roomID, nil, 30)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestMarkReadSetsWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID := f.room(t)
	first := f.send(t, roomID, owner, "one")
	f.send(t, roomID, owner, "two")

	n, err := f.svc.UnreadCount(ctx, accountant, roomID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, f.svc.MarkRead(ctx, accountant, roomID, &first.ID))

	p, err := f.store.GetParticipant(ctx, roomID, accountant)
	require.NoError(t, err)
	require.NotNil(t, p.LastReadMessageID)
	assert.Equal(t, first.ID, *p.LastReadMessageID)
	assert.NotNil(t, p.LastReadAt)

	n, err = f.svc.UnreadCount(ctx, accountant, roomID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// clearing the watermark is allowed
	require.NoError(t, f.svc.MarkRead(ctx, accountant, roomID, nil))
	p, err = f.store.GetParticipant(ctx, roomID, accountant)
	require.NoError(t, err)
	assert.Nil(t, p.LastReadMessageID)
}

func TestMarkReadRejectsUnknownMessage(t *testing.T) {
	f := newFixture(t)
	roomID := f.room(t)

	missing := int64(12345)
	err := f.svc.MarkRead(context.Background(), owner, roomID, &missing)
	assert.ErrorIs(t, err, apperrors.ErrValidationFailed)
}
