// Package seed creates demo data for local development.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	appModels "github.com/taxlink/taxchat/internal/app/models"
	appRepos "github.com/taxlink/taxchat/internal/app/repositories"
)

const welcomeNotice = "Welcome to TaxChat. Your tax accountant will reply here."

// CreateDemoRoom opens a room between userID and accountantID with a welcome
// notice. Nothing is created when the user already has a room, so it is safe
// to run on every start. Returns the id of the new room, or 0.
func CreateDemoRoom(ctx context.Context, store appRepos.ChatStore, userID, accountantID int64, lgr zerolog.Logger) (int64, error) {
	existing, err := store.ListRoomsByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list rooms of demo user: %w", err)
	}
	if len(existing) > 0 {
		lgr.Debug().Int64("userID", userID).Msg("Demo user already has rooms, skipping seed")
		return 0, nil
	}

	now := time.Now().UTC()
	seats, err := appModels.NewSeats(userID, &accountantID, now)
	if err != nil {
		return 0, fmt.Errorf("demo seats: %w", err)
	}
	body, err := appModels.NewTextBody(appModels.ChatMessageTypeSystem, welcomeNotice)
	if err != nil {
		return 0, err
	}

	room := appModels.NewChatRoom("Demo consultation", now)
	err = store.WithTx(ctx, func(ctx context.Context, q appRepos.ChatQueries) error {
		if err := q.CreateRoom(ctx, room); err != nil {
			return err
		}
		for _, seat := range seats.All() {
			seat.RoomID = room.ID
			if err := q.AddParticipant(ctx, seat); err != nil {
				return err
			}
		}
		msg := &appModels.ChatMessage{RoomID: room.ID, SenderID: accountantID, Body: body, CreatedAt: now}
		if _, err := q.CreateMessage(ctx, msg); err != nil {
			return err
		}
		return q.TouchRoom(ctx, room.ID, now)
	})
	if err != nil {
		return 0, fmt.Errorf("create demo room: %w", err)
	}

	lgr.Info().
		Int64("roomID", room.ID).
		Int64("userID", userID).
		Int64("accountantID", accountantID).
		Msg("Demo room created")
	return room.ID, nil
}
