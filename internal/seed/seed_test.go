package seed

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appModels "github.com/taxlink/taxchat/internal/app/models"
	appRepos "github.com/taxlink/taxchat/internal/app/repositories"
)

func TestCreateDemoRoom(t *testing.T) {
	ctx := context.Background()
	store := appRepos.NewMemoryChatRepository()

	roomID, err := CreateDemoRoom(ctx, store, 1, 2, zerolog.Nop())
	require.NoError(t, err)
	require.NotZero(t, roomID)

	rooms, err := store.ListRoomsByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, appModels.RoleUser, rooms[0].Role)
	assert.Equal(t, int64(1), rooms[0].UnreadCount)

	// The notice counts as sent by the accountant
	rooms, err = store.ListRoomsByUser(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Zero(t, rooms[0].UnreadCount)

	msgs, err := store.ListMessages(ctx, roomID, nil, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, appModels.ChatMessageTypeSystem, msgs[0].Type())

	// Running again leaves the data alone
	again, err := CreateDemoRoom(ctx, store, 1, 2, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestCreateDemoRoom_RejectsSameUser(t *testing.T) {
	_, err := CreateDemoRoom(context.Background(), appRepos.NewMemoryChatRepository(), 1, 1, zerolog.Nop())
	assert.Error(t, err)
}
