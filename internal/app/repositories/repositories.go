package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/taxlink/taxchat/internal/app/models"
	"github.com/taxlink/taxchat/internal/db"
)

// Storage level errors shared by every ChatStore implementation
var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicate        = errors.New("duplicate record")
	ErrInvalidReference = errors.New("reference to missing record")
)

// ChatQueries are the statements of the chat core. Implementations run them
// either on the shared pool or on the connection of an open transaction.
type ChatQueries interface {
	IsParticipant(ctx context.Context, roomID, userID int64) (bool, error)
	GetParticipant(ctx context.Context, roomID, userID int64) (*models.ChatParticipant, error)
	ListRoomsByUser(ctx context.Context, userID int64) ([]models.RoomSummary, error)
	GetRoom(ctx context.Context, roomID int64) (*models.ChatRoom, error)
	CreateRoom(ctx context.Context, room *models.ChatRoom) error
	AddParticipant(ctx context.Context, p *models.ChatParticipant) error
	CloseRoom(ctx context.Context, roomID int64, at time.Time) error
	DeleteRoom(ctx context.Context, roomID int64) error
	TouchRoom(ctx context.Context, roomID int64, at time.Time) error

	// ListMessages returns at most limit messages with id < before (all when
	// before is nil), newest first.
	ListMessages(ctx context.Context, roomID int64, before *int64, limit int) ([]*models.ChatMessage, error)
	CreateMessage(ctx context.Context, msg *models.ChatMessage) (int64, error)
	GetMessage(ctx context.Context, id int64) (*models.ChatMessage, error)
	ListAttachmentURLs(ctx context.Context, roomID int64) ([]string, error)

	UpdateLastRead(ctx context.Context, roomID, userID int64, messageID *int64, at time.Time) error
	CountUnread(ctx context.Context, roomID, userID int64) (int64, error)
}

// ChatStore adds transactions on top of ChatQueries. fn receives queries
// bound to a single connection; returning an error rolls everything back.
type ChatStore interface {
	ChatQueries
	WithTx(ctx context.Context, fn func(ctx context.Context, q ChatQueries) error) error
}

// Repositories holds all the repository instances
type Repositories struct {
	ChatStore ChatStore
}

// NewRepositories creates the Postgres backed repositories
func NewRepositories(database *db.PostgresDB) *Repositories {
	return &Repositories{ChatStore: NewChatRepository(database)}
}

// NewMemoryRepositories creates process local repositories
func NewMemoryRepositories() *Repositories {
	return &Repositories{ChatStore: NewMemoryChatRepository()}
}
