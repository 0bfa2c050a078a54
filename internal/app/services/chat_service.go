package services

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/taxlink/taxchat/internal/app/auth"
	"github.com/taxlink/taxchat/internal/app/models"
	"github.com/taxlink/taxchat/internal/app/repositories"
	"github.com/taxlink/taxchat/internal/pkg/apperrors"
	"github.com/taxlink/taxchat/internal/pkg/filestorage"
	"github.com/taxlink/taxchat/internal/pkg/helpers"
	"github.com/taxlink/taxchat/internal/pkg/logger"
	"github.com/taxlink/taxchat/internal/pkg/metrics"
)

const maxRoomTitleLength = 255

// ChatService defines the interface for chat operations
type ChatService interface {
	// Room directory
	ListRooms(ctx context.Context, userID int64) ([]models.RoomSummary, error)
	CreateRoom(ctx context.Context, userID int64, counterpartyID *int64, title string) (*models.RoomSummary, error)
	CloseRoom(ctx context.Context, userID, roomID int64) (*models.ChatRoom, error)
	CloseRoomByID(ctx context.Context, roomID int64) (*models.ChatRoom, error)
	DeleteRoom(ctx context.Context, userID, roomID int64) error

	// Message store
	ListMessages(ctx context.Context, userID, roomID int64, cursor *int64, limit int) (*models.MessagePage, error)
	SendMessage(ctx context.Context, userID, roomID int64, msgType models.ChatMessageType, content string) (*models.ChatMessage, error)
	UploadAttachments(ctx context.Context, userID, roomID int64, files []*multipart.FileHeader) ([]*models.ChatMessage, error)
	AttachFiles(ctx context.Context, userID, roomID int64, files []filestorage.StoredFile) ([]*models.ChatMessage, error)

	// Read tracking
	MarkRead(ctx context.Context, userID, roomID int64, lastReadMessageID *int64) error
	UnreadCount(ctx context.Context, userID, roomID int64) (int64, error)

	// AssertParticipant exposes the membership check to the presence gateway
	AssertParticipant(ctx context.Context, userID, roomID int64) error
}

// chatServiceImpl implements ChatService
type chatServiceImpl struct {
	store       repositories.ChatStore
	authz       *auth.AuthorizationService
	fileStorage filestorage.FileStorage
	logger      zerolog.Logger
	now         func() time.Time
}

// NewChatService creates a new ChatService
func NewChatService(
	store repositories.ChatStore,
	authz *auth.AuthorizationService,
	fileStorage filestorage.FileStorage,
	logger zerolog.Logger,
) ChatService {
	return &chatServiceImpl{
		store:       store,
		authz:       authz,
		fileStorage: fileStorage,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *chatServiceImpl) log(ctx context.Context) *zerolog.Logger {
	l := logger.FromContext(ctx, s.logger)
	return &l
}

// translate maps repository errors onto the application taxonomy.
// Errors that already carry an application kind pass through unchanged.
func translate(err error, msg string) error {
	var ce *apperrors.CustomError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce):
		return err
	case errors.Is(err, repositories.ErrNotFound):
		return apperrors.NewResourceNotFoundError(msg)
	case errors.Is(err, repositories.ErrDuplicate), errors.Is(err, repositories.ErrInvalidReference):
		return apperrors.NewValidationError(msg)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewStorageError(err, "Request was cancelled")
	default:
		return apperrors.NewStorageError(err, msg)
	}
}

// ListRooms returns the caller's rooms, most recent activity first
func (s *chatServiceImpl) ListRooms(ctx context.Context, userID int64) ([]models.RoomSummary, error) {
	rooms, err := s.store.ListRoomsByUser(ctx, userID)
	if err != nil {
		s.log(ctx).Error().Err(err).Int64("userID", userID).Msg("Failed to list chat rooms")
		return nil, translate(err, "Failed to list chat rooms")
	}
	return rooms, nil
}

// CreateRoom creates a room with the caller in the USER seat and the optional
// counterparty in the TAX_ACCOUNTANT seat
func (s *chatServiceImpl) CreateRoom(ctx context.Context, userID int64, counterpartyID *int64, title string) (*models.RoomSummary, error) {
	if utf8.RuneCountInString(title) > maxRoomTitleLength {
		return nil, apperrors.NewValidationError(fmt.Sprintf("Title must be at most %d characters", maxRoomTitleLength))
	}

	now := s.now()
	seats, err := models.NewSeats(userID, counterpartyID, now)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	room := models.NewChatRoom(title, now)

	err = s.store.WithTx(ctx, func(ctx context.Context, q repositories.ChatQueries) error {
		if err := q.CreateRoom(ctx, room); err != nil {
			return err
		}
		for _, seat := range seats.All() {
			seat.RoomID = room.ID
			if err := q.AddParticipant(ctx, seat); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log(ctx).Error().Err(err).Int64("userID", userID).Msg("Failed to create chat room")
		return nil, translate(err, "Failed to create chat room")
	}

	metrics.RoomsCreated.Inc()
	s.log(ctx).Info().
		Int64("roomID", room.ID).
		Int64("userID", userID).
		Int("seats", len(seats.All())).
		Msg("Chat room created")

	return &models.RoomSummary{ChatRoom: *room, Role: models.RoleUser}, nil
}

// CloseRoom closes a room the caller participates in. Closing twice is not an error.
func (s *chatServiceImpl) CloseRoom(ctx context.Context, userID, roomID int64) (*models.ChatRoom, error) {
	var room *models.ChatRoom
	err := s.store.WithTx(ctx, func(ctx context.Context, q repositories.ChatQueries) error {
		if err := s.authz.AssertParticipant(ctx, q, roomID, userID); err != nil {
			return err
		}
		var err error
		room, err = s.closeRoom(ctx, q, roomID)
		return err
	})
	if err != nil {
		return nil, translate(err, "Failed to close chat room")
	}

	s.log(ctx).Info().Int64("roomID", roomID).Int64("userID", userID).Msg("Chat room closed")
	return room, nil
}

// CloseRoomByID closes a room without a participant check, for system callers
func (s *chatServiceImpl) CloseRoomByID(ctx context.Context, roomID int64) (*models.ChatRoom, error) {
	var room *models.ChatRoom
	err := s.store.WithTx(ctx, func(ctx context.Context, q repositories.ChatQueries) error {
		var err error
		room, err = s.closeRoom(ctx, q, roomID)
		return err
	})
	if err != nil {
		return nil, translate(err, "Chat room not found")
	}

	s.log(ctx).Info().Int64("roomID", roomID).Msg("Chat room closed by system")
	return room, nil
}

func (s *chatServiceImpl) closeRoom(ctx context.Context, q repositories.ChatQueries, roomID int64) (*models.ChatRoom, error) {
	if err := q.CloseRoom(ctx, roomID, s.now()); err != nil {
		return nil, err
	}
	room, err := q.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	metrics.RoomsClosed.Inc()
	return room, nil
}

// DeleteRoom removes a room with its seats and messages. Stored attachment
// files are removed after the transaction commits.
func (s *chatServiceImpl) DeleteRoom(ctx context.Context, userID, roomID int64) error {
	var fileURLs []string
	err := s.store.WithTx(ctx, func(ctx context.Context, q repositories.ChatQueries) error {
		if err := s.authz.AssertParticipant(ctx, q, roomID, userID); err != nil {
			return err
		}
		var err error
		if fileURLs, err = q.ListAttachmentURLs(ctx, roomID); err != nil {
			return err
		}
		return q.DeleteRoom(ctx, roomID)
	})
	if err != nil {
		return translate(err, "Failed to delete chat room")
	}

	s.removeFiles(ctx, fileURLs)
	s.log(ctx).Info().
		Int64("roomID", roomID).
		Int64("userID", userID).
		Int("files", len(fileURLs)).
		Msg("Chat room deleted")
	return nil
}

// ListMessages returns one page of history in ascending id order.
// The next page is requested with cursor = NextCursor.
func (s *chatServiceImpl) ListMessages(ctx context.Context, userID, roomID int64, cursor *int64, limit int) (*models.MessagePage, error) {
	if err := s.authz.AssertParticipant(ctx, s.store, roomID, userID); err != nil {
		return nil, err
	}
	if cursor != nil && *cursor <= 0 {
		return nil, apperrors.NewValidationError("cursor must be a positive message id")
	}

	newestFirst, err := s.store.ListMessages(ctx, roomID, cursor, helpers.ClampMessageLimit(limit))
	if err != nil {
		s.log(ctx).Error().Err(err).Int64("roomID", roomID).Msg("Failed to list messages")
		return nil, translate(err, "Failed to list messages")
	}

	page := &models.MessagePage{Messages: make([]*models.ChatMessage, len(newestFirst))}
	ids := make([]int64, len(newestFirst))
	for i, msg := range newestFirst {
		j := len(newestFirst) - 1 - i
		page.Messages[j] = msg
		ids[j] = msg.ID
	}
	page.NextCursor = helpers.NextCursor(ids)
	return page, nil
}

// SendMessage stores a TEXT or SYSTEM message and bumps the room activity
func (s *chatServiceImpl) SendMessage(ctx context.Context, userID, roomID int64, msgType models.ChatMessageType, content string) (*models.ChatMessage, error) {
	var stored *models.ChatMessage
	err := s.store.WithTx(ctx, func(ctx context.Context, q repositories.ChatQueries) error {
		if err := s.authz.AssertParticipant(ctx, q, roomID, userID); err != nil {
			return err
		}

		body, err := models.NewTextBody(msgType, content)
		if err != nil {
			return apperrors.NewValidationError(err.Error())
		}

		now := s.now()
		msg := &models.ChatMessage{RoomID: roomID, SenderID: userID, Body: body, CreatedAt: now}
		id, err := q.CreateMessage(ctx, msg)
		if err != nil {
			return err
		}
		if err := q.TouchRoom(ctx, roomID, now); err != nil {
			return err
		}
		stored, err = q.GetMessage(ctx, id)
		return err
	})
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrPermissionDenied, apperrors.ErrValidationFailed) {
			s.log(ctx).Error().Err(err).Int64("roomID", roomID).Int64("userID", userID).Msg("Failed to send message")
		}
		return nil, translate(err, "Failed to send message")
	}

	metrics.MessagesSent.WithLabelValues(string(stored.Type())).Inc()
	s.log(ctx).Debug().
		Int64("roomID", roomID).
		Int64("messageID", stored.ID).
		Str("type", string(stored.Type())).
		Msg("Message stored")
	return stored, nil
}

// UploadAttachments checks membership, persists the files and records one
// message per file
func (s *chatServiceImpl) UploadAttachments(ctx context.Context, userID, roomID int64, files []*multipart.FileHeader) ([]*models.ChatMessage, error) {
	// Checked again inside AttachFiles; this one keeps strangers from writing to disk.
	if err := s.authz.AssertParticipant(ctx, s.store, roomID, userID); err != nil {
		return nil, err
	}

	stored, err := s.fileStorage.SaveUploads(ctx, files)
	if err != nil {
		return nil, err
	}
	return s.AttachFiles(ctx, userID, roomID, stored)
}

// AttachFiles records already stored files as IMAGE or FILE messages in one
// transaction. When the transaction fails the files are removed.
func (s *chatServiceImpl) AttachFiles(ctx context.Context, userID, roomID int64, files []filestorage.StoredFile) ([]*models.ChatMessage, error) {
	var messages []*models.ChatMessage
	err := s.store.WithTx(ctx, func(ctx context.Context, q repositories.ChatQueries) error {
		if err := s.authz.AssertParticipant(ctx, q, roomID, userID); err != nil {
			return err
		}
		if len(files) == 0 {
			return apperrors.NewValidationError("At least one file is required")
		}

		now := s.now()
		messages = make([]*models.ChatMessage, 0, len(files))
		for _, f := range files {
			body, err := models.NewAttachmentBody(f.URL, f.OriginalName, f.MimeType, f.Size)
			if err != nil {
				return apperrors.NewValidationError(err.Error())
			}
			msg := &models.ChatMessage{RoomID: roomID, SenderID: userID, Body: body, CreatedAt: now}
			if _, err := q.CreateMessage(ctx, msg); err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return q.TouchRoom(ctx, roomID, now)
	})
	if err != nil {
		urls := make([]string, 0, len(files))
		for _, f := range files {
			urls = append(urls, f.URL)
		}
		s.removeFiles(ctx, urls)
		s.log(ctx).Warn().Err(err).Int64("roomID", roomID).Int("files", len(files)).Msg("Attachment messages rolled back")
		return nil, translate(err, "Failed to attach files")
	}

	for _, msg := range messages {
		metrics.MessagesSent.WithLabelValues(string(msg.Type())).Inc()
		if body, ok := msg.Body.(models.AttachmentBody); ok {
			metrics.UploadBytes.Add(float64(body.Size))
		}
	}
	s.log(ctx).Info().Int64("roomID", roomID).Int("files", len(messages)).Msg("Files attached")
	return messages, nil
}

// MarkRead overwrites the caller's read watermark. The message id is taken
// as given: it is neither required to belong to the room nor to move forward.
func (s *chatServiceImpl) MarkRead(ctx context.Context, userID, roomID int64, lastReadMessageID *int64) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, q repositories.ChatQueries) error {
		if err := s.authz.AssertParticipant(ctx, q, roomID, userID); err != nil {
			return err
		}
		if lastReadMessageID != nil && *lastReadMessageID <= 0 {
			return apperrors.NewValidationError("lastReadMessageId must be a positive message id")
		}
		return q.UpdateLastRead(ctx, roomID, userID, lastReadMessageID, s.now())
	})
	if errors.Is(err, repositories.ErrInvalidReference) {
		return apperrors.NewValidationError("Unknown message id")
	}
	if err != nil {
		return translate(err, "Failed to mark messages read")
	}
	return nil
}

// UnreadCount counts messages of other participants above the caller's watermark
func (s *chatServiceImpl) UnreadCount(ctx context.Context, userID, roomID int64) (int64, error) {
	if err := s.authz.AssertParticipant(ctx, s.store, roomID, userID); err != nil {
		return 0, err
	}
	n, err := s.store.CountUnread(ctx, roomID, userID)
	if err != nil {
		return 0, translate(err, "Failed to count unread messages")
	}
	return n, nil
}

func (s *chatServiceImpl) AssertParticipant(ctx context.Context, userID, roomID int64) error {
	return s.authz.AssertParticipant(ctx, s.store, roomID, userID)
}

func (s *chatServiceImpl) removeFiles(ctx context.Context, urls []string) {
	for _, u := range urls {
		if err := s.fileStorage.DeleteFile(u); err != nil {
			s.log(ctx).Warn().Err(err).Str("file", u).Msg("Failed to remove stored file")
		}
	}
}
