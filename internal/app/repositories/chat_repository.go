package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/taxlink/taxchat/internal/app/models"
	"github.com/taxlink/taxchat/internal/db"
	"github.com/taxlink/taxchat/internal/pkg/dberrors"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var messageColumns = []string{
	"id", "room_id", "sender_id", "type", "content",
	"file_url", "file_name", "file_mime", "file_size", "created_at",
}

// ChatRepository handles database operations for rooms, participants and messages
type ChatRepository struct {
	db *db.PostgresDB
	q  querier
}

// NewChatRepository creates a new ChatRepository
func NewChatRepository(database *db.PostgresDB) *ChatRepository {
	return &ChatRepository{db: database, q: database.Pool}
}

// WithTx runs fn inside one transaction. Nested calls reuse the open transaction.
func (r *ChatRepository) WithTx(ctx context.Context, fn func(ctx context.Context, q ChatQueries) error) error {
	if r.db == nil {
		return fn(ctx, r)
	}
	return r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &ChatRepository{q: tx})
	})
}

// IsParticipant checks if the user occupies a seat in the room
func (r *ChatRepository) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE room_id = $1 AND user_id = $2)`

	var exists bool
	if err := r.q.QueryRow(ctx, query, roomID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking room participant: %w", err)
	}
	return exists, nil
}

// GetParticipant retrieves the seat of a user in a room
func (r *ChatRepository) GetParticipant(ctx context.Context, roomID, userID int64) (*models.ChatParticipant, error) {
	query := `
		SELECT id, room_id, user_id, role, last_read_message_id, last_read_at, joined_at
		FROM chat_participants
		WHERE room_id = $1 AND user_id = $2
	`

	var p models.ChatParticipant
	err := r.q.QueryRow(ctx, query, roomID, userID).Scan(
		&p.ID,
		&p.RoomID,
		&p.UserID,
		&p.Role,
		&p.LastReadMessageID,
		&p.LastReadAt,
		&p.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("participant %d of room %d: %w", userID, roomID, ErrNotFound)
		}
		return nil, fmt.Errorf("error retrieving participant: %w", err)
	}
	if !p.Role.Valid() {
		return nil, fmt.Errorf("participant %d of room %d: unknown role %q", userID, roomID, p.Role)
	}
	return &p, nil
}

// ListRoomsByUser returns every room the user participates in, most recent activity first
func (r *ChatRepository) ListRoomsByUser(ctx context.Context, userID int64) ([]models.RoomSummary, error) {
	query := `
		SELECT
			r.id, r.title, r.status, r.created_at, r.updated_at, r.last_message_at, r.closed_at,
			p.role, p.last_read_message_id,
			(SELECT COUNT(*) FROM chat_messages m
			 WHERE m.room_id = r.id
			   AND m.sender_id <> p.user_id
			   AND (p.last_read_message_id IS NULL OR m.id > p.last_read_message_id)) AS unread_count
		FROM chat_rooms r
		JOIN chat_participants p ON p.room_id = r.id
		WHERE p.user_id = $1
		ORDER BY COALESCE(r.last_message_at, r.updated_at) DESC, r.updated_at DESC, r.id DESC
	`

	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing rooms: %w", err)
	}
	defer rows.Close()

	rooms := []models.RoomSummary{}
	for rows.Next() {
		var s models.RoomSummary
		err := rows.Scan(
			&s.ID,
			&s.Title,
			&s.Status,
			&s.CreatedAt,
			&s.UpdatedAt,
			&s.LastMessageAt,
			&s.ClosedAt,
			&s.Role,
			&s.LastReadMessageID,
			&s.UnreadCount,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning room row: %w", err)
		}
		rooms = append(rooms, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}
	return rooms, nil
}

// GetRoom retrieves a room by its ID
func (r *ChatRepository) GetRoom(ctx context.Context, roomID int64) (*models.ChatRoom, error) {
	query := `
		SELECT id, title, status, created_at, updated_at, last_message_at, closed_at
		FROM chat_rooms
		WHERE id = $1
	`

	var room models.ChatRoom
	err := r.q.QueryRow(ctx, query, roomID).Scan(
		&room.ID,
		&room.Title,
		&room.Status,
		&room.CreatedAt,
		&room.UpdatedAt,
		&room.LastMessageAt,
		&room.ClosedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
		}
		return nil, fmt.Errorf("error retrieving room: %w", err)
	}
	return &room, nil
}

// CreateRoom inserts a room and fills in its ID
func (r *ChatRepository) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
	query := `
		INSERT INTO chat_rooms (title, status, created_at, updated_at, last_message_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		room.Title,
		room.Status,
		room.CreatedAt,
		room.UpdatedAt,
		room.LastMessageAt,
	).Scan(&room.ID)
	if err != nil {
		return fmt.Errorf("error creating chat room: %w", err)
	}
	return nil
}

// AddParticipant seats a user in a room
func (r *ChatRepository) AddParticipant(ctx context.Context, p *models.ChatParticipant) error {
	query := `
		INSERT INTO chat_participants (room_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	if !p.Role.Valid() {
		return fmt.Errorf("error adding participant: unknown role %q", p.Role)
	}

	err := r.q.QueryRow(ctx, query, p.RoomID, p.UserID, p.Role, p.JoinedAt).Scan(&p.ID)
	if err != nil {
		if dberrors.IsUniqueViolation(err) {
			return fmt.Errorf("error adding participant: %w: %v", ErrDuplicate, err)
		}
		return fmt.Errorf("error adding participant: %w", err)
	}
	return nil
}

// CloseRoom marks the room CLOSED. closed_at keeps its first value.
func (r *ChatRepository) CloseRoom(ctx context.Context, roomID int64, at time.Time) error {
	query := `
		UPDATE chat_rooms
		SET status = $2, updated_at = $3, closed_at = COALESCE(closed_at, $3)
		WHERE id = $1
	`

	result, err := r.q.Exec(ctx, query, roomID, models.RoomStatusClosed, at)
	if err != nil {
		return fmt.Errorf("error closing chat room: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	return nil
}

// DeleteRoom removes a room; participants and messages cascade
func (r *ChatRepository) DeleteRoom(ctx context.Context, roomID int64) error {
	result, err := r.q.Exec(ctx, `DELETE FROM chat_rooms WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("error deleting chat room: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	return nil
}

// TouchRoom records message activity on the room
func (r *ChatRepository) TouchRoom(ctx context.Context, roomID int64, at time.Time) error {
	query := `UPDATE chat_rooms SET last_message_at = $2, updated_at = $2 WHERE id = $1`

	result, err := r.q.Exec(ctx, query, roomID, at)
	if err != nil {
		return fmt.Errorf("error updating room activity: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	return nil
}

// ListMessages retrieves a page of messages, newest first
func (r *ChatRepository) ListMessages(ctx context.Context, roomID int64, before *int64, limit int) ([]*models.ChatMessage, error) {
	builder := psql.Select(messageColumns...).
		From("chat_messages").
		Where(squirrel.Eq{"room_id": roomID}).
		OrderBy("id DESC").
		Limit(uint64(limit))

	if before != nil {
		builder = builder.Where(squirrel.Lt{"id": *before})
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	messages := []*models.ChatMessage{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat message rows: %w", err)
	}
	return messages, nil
}

// CreateMessage inserts a message and fills in its ID and creation time
func (r *ChatRepository) CreateMessage(ctx context.Context, msg *models.ChatMessage) (int64, error) {
	row := msg.ToRow()

	sql, args, err := psql.Insert("chat_messages").
		Columns("room_id", "sender_id", "type", "content", "file_url", "file_name", "file_mime", "file_size", "created_at").
		Values(row.RoomID, row.SenderID, row.Type, row.Content, row.FileURL, row.FileName, row.FileMime, row.FileSize, row.CreatedAt).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("error building SQL: %w", err)
	}

	if err := r.q.QueryRow(ctx, sql, args...).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		if dberrors.IsForeignKeyViolation(err) {
			return 0, fmt.Errorf("error creating chat message: %w: %v", ErrInvalidReference, err)
		}
		return 0, fmt.Errorf("error creating chat message: %w", err)
	}
	return msg.ID, nil
}

// GetMessage retrieves a message by its ID
func (r *ChatRepository) GetMessage(ctx context.Context, id int64) (*models.ChatMessage, error) {
	sql, args, err := psql.Select(messageColumns...).
		From("chat_messages").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	msg, err := scanMessage(r.q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("chat message %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return msg, nil
}

// ListAttachmentURLs returns the file URLs referenced by the room's attachment messages
func (r *ChatRepository) ListAttachmentURLs(ctx context.Context, roomID int64) ([]string, error) {
	query := `SELECT file_url FROM chat_messages WHERE room_id = $1 AND file_url IS NOT NULL ORDER BY id`

	rows, err := r.q.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("error listing attachments: %w", err)
	}
	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("error scanning attachment rows: %w", err)
	}
	return urls, nil
}

// UpdateLastRead overwrites the participant's read watermark
func (r *ChatRepository) UpdateLastRead(ctx context.Context, roomID, userID int64, messageID *int64, at time.Time) error {
	query := `
		UPDATE chat_participants
		SET last_read_message_id = $3, last_read_at = $4
		WHERE room_id = $1 AND user_id = $2
	`

	result, err := r.q.Exec(ctx, query, roomID, userID, messageID, at)
	if err != nil {
		if dberrors.IsForeignKeyViolation(err) {
			return fmt.Errorf("error updating read marker: %w: %v", ErrInvalidReference, err)
		}
		return fmt.Errorf("error updating read marker: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("participant %d of room %d: %w", userID, roomID, ErrNotFound)
	}
	return nil
}

// CountUnread counts messages from other participants above the user's watermark
func (r *ChatRepository) CountUnread(ctx context.Context, roomID, userID int64) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM chat_messages m
		JOIN chat_participants p ON p.room_id = m.room_id AND p.user_id = $2
		WHERE m.room_id = $1
		  AND m.sender_id <> p.user_id
		  AND (p.last_read_message_id IS NULL OR m.id > p.last_read_message_id)
	`

	var count int64
	if err := r.q.QueryRow(ctx, query, roomID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting unread messages: %w", err)
	}
	return count, nil
}

func scanMessage(row pgx.Row) (*models.ChatMessage, error) {
	var m models.MessageRow
	err := row.Scan(
		&m.ID,
		&m.RoomID,
		&m.SenderID,
		&m.Type,
		&m.Content,
		&m.FileURL,
		&m.FileName,
		&m.FileMime,
		&m.FileSize,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("error scanning chat message row: %w", err)
	}
	return m.Decode()
}

var _ ChatStore = (*ChatRepository)(nil)
