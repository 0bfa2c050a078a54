package auth

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/taxlink/taxchat/internal/pkg/apperrors"
)

// ParticipantChecker is the part of the chat store needed for authorization.
// Both the pooled store and transaction bound queries satisfy it.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, roomID, userID int64) (bool, error)
}

// AuthorizationService decides whether a caller may act on a room
type AuthorizationService struct {
	logger zerolog.Logger
}

// NewAuthorizationService creates a new AuthorizationService
func NewAuthorizationService(logger zerolog.Logger) *AuthorizationService {
	return &AuthorizationService{logger: logger}
}

// AssertParticipant returns a Forbidden error unless userID holds a seat in
// roomID. A missing room is indistinguishable from a room the caller is not in.
// Pass transaction bound queries to make the check part of the same transaction
// as the operation it guards.
func (s *AuthorizationService) AssertParticipant(ctx context.Context, q ParticipantChecker, roomID, userID int64) error {
	if roomID <= 0 || userID <= 0 {
		return apperrors.NewForbiddenError("You are not a participant of this chat room")
	}

	ok, err := q.IsParticipant(ctx, roomID, userID)
	if err != nil {
		s.logger.Error().Err(err).
			Int64("roomID", roomID).
			Int64("userID", userID).
			Msg("Failed to check room participant")
		return apperrors.NewStorageError(err, "Failed to verify room membership")
	}
	if !ok {
		s.logger.Debug().
			Int64("roomID", roomID).
			Int64("userID", userID).
			Msg("Rejected non participant")
		return apperrors.NewForbiddenError("You are not a participant of this chat room")
	}
	return nil
}
