package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taxlink/taxchat/internal/app/models"
)

// MemoryChatRepository is a process local ChatStore used by the memory
// database driver and by tests. Transactions work on a copy of the state
// that replaces the live state only when fn succeeds.
type MemoryChatRepository struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryState struct {
	rooms        map[int64]models.ChatRoom
	participants map[int64]models.ChatParticipant
	messages     map[int64]models.MessageRow

	nextRoomID        int64
	nextParticipantID int64
	nextMessageID     int64
}

// NewMemoryChatRepository creates an empty store
func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		state: &memoryState{
			rooms:        map[int64]models.ChatRoom{},
			participants: map[int64]models.ChatParticipant{},
			messages:     map[int64]models.MessageRow{},
		},
	}
}

func (s *memoryState) clone() *memoryState {
	c := *s
	c.rooms = make(map[int64]models.ChatRoom, len(s.rooms))
	for k, v := range s.rooms {
		c.rooms[k] = v
	}
	c.participants = make(map[int64]models.ChatParticipant, len(s.participants))
	for k, v := range s.participants {
		c.participants[k] = v
	}
	c.messages = make(map[int64]models.MessageRow, len(s.messages))
	for k, v := range s.messages {
		c.messages[k] = v
	}
	return &c
}

// WithTx serialises transactions behind the store mutex
func (r *MemoryChatRepository) WithTx(ctx context.Context, fn func(ctx context.Context, q ChatQueries) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	working := r.state.clone()
	if err := fn(ctx, &memoryQueries{s: working}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *MemoryChatRepository) run(fn func(q *memoryQueries) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&memoryQueries{s: r.state})
}

func (r *MemoryChatRepository) IsParticipant(ctx context.Context, roomID, userID int64) (ok bool, err error) {
	err = r.run(func(q *memoryQueries) error {
		ok, err = q.IsParticipant(ctx, roomID, userID)
		return err
	})
	return ok, err
}

func (r *MemoryChatRepository) GetParticipant(ctx context.Context, roomID, userID int64) (p *models.ChatParticipant, err error) {
	err = r.run(func(q *memoryQueries) error {
		p, err = q.GetParticipant(ctx, roomID, userID)
		return err
	})
	return p, err
}

func (r *MemoryChatRepository) ListRoomsByUser(ctx context.Context, userID int64) (rooms []models.RoomSummary, err error) {
	err = r.run(func(q *memoryQueries) error {
		rooms, err = q.ListRoomsByUser(ctx, userID)
		return err
	})
	return rooms, err
}

func (r *MemoryChatRepository) GetRoom(ctx context.Context, roomID int64) (room *models.ChatRoom, err error) {
	err = r.run(func(q *memoryQueries) error {
		room, err = q.GetRoom(ctx, roomID)
		return err
	})
	return room, err
}

func (r *MemoryChatRepository) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
	return r.run(func(q *memoryQueries) error { return q.CreateRoom(ctx, room) })
}

func (r *MemoryChatRepository) AddParticipant(ctx context.Context, p *models.ChatParticipant) error {
	return r.run(func(q *memoryQueries) error { return q.AddParticipant(ctx, p) })
}

func (r *MemoryChatRepository) CloseRoom(ctx context.Context, roomID int64, at time.Time) error {
	return r.run(func(q *memoryQueries) error { return q.CloseRoom(ctx, roomID, at) })
}

func (r *MemoryChatRepository) DeleteRoom(ctx context.Context, roomID int64) error {
	return r.run(func(q *memoryQueries) error { return q.DeleteRoom(ctx, roomID) })
}

func (r *MemoryChatRepository) TouchRoom(ctx context.Context, roomID int64, at time.Time) error {
	return r.run(func(q *memoryQueries) error { return q.TouchRoom(ctx, roomID, at) })
}

func (r *MemoryChatRepository) ListMessages(ctx context.Context, roomID int64, before *int64, limit int) (msgs []*models.ChatMessage, err error) {
	err = r.run(func(q *memoryQueries) error {
		msgs, err = q.ListMessages(ctx, roomID, before, limit)
		return err
	})
	return msgs, err
}

func (r *MemoryChatRepository) CreateMessage(ctx context.Context, msg *models.ChatMessage) (id int64, err error) {
	err = r.run(func(q *memoryQueries) error {
		id, err = q.CreateMessage(ctx, msg)
		return err
	})
	return id, err
}

func (r *MemoryChatRepository) GetMessage(ctx context.Context, id int64) (msg *models.ChatMessage, err error) {
	err = r.run(func(q *memoryQueries) error {
		msg, err = q.GetMessage(ctx, id)
		return err
	})
	return msg, err
}

func (r *MemoryChatRepository) ListAttachmentURLs(ctx context.Context, roomID int64) (urls []string, err error) {
	err = r.run(func(q *memoryQueries) error {
		urls, err = q.ListAttachmentURLs(ctx, roomID)
		return err
	})
	return urls, err
}

func (r *MemoryChatRepository) UpdateLastRead(ctx context.Context, roomID, userID int64, messageID *int64, at time.Time) error {
	return r.run(func(q *memoryQueries) error { return q.UpdateLastRead(ctx, roomID, userID, messageID, at) })
}

func (r *MemoryChatRepository) CountUnread(ctx context.Context, roomID, userID int64) (n int64, err error) {
	err = r.run(func(q *memoryQueries) error {
		n, err = q.CountUnread(ctx, roomID, userID)
		return err
	})
	return n, err
}

// memoryQueries runs statements against one state snapshot. Callers hold the store mutex.
type memoryQueries struct {
	s *memoryState
}

func (q *memoryQueries) seat(roomID, userID int64) (models.ChatParticipant, bool) {
	for _, p := range q.s.participants {
		if p.RoomID == roomID && p.UserID == userID {
			return p, true
		}
	}
	return models.ChatParticipant{}, false
}

func (q *memoryQueries) IsParticipant(_ context.Context, roomID, userID int64) (bool, error) {
	_, ok := q.seat(roomID, userID)
	return ok, nil
}

func (q *memoryQueries) GetParticipant(_ context.Context, roomID, userID int64) (*models.ChatParticipant, error) {
	p, ok := q.seat(roomID, userID)
	if !ok {
		return nil, fmt.Errorf("participant %d of room %d: %w", userID, roomID, ErrNotFound)
	}
	return &p, nil
}

func (q *memoryQueries) unread(p models.ChatParticipant) int64 {
	var n int64
	for _, m := range q.s.messages {
		if m.RoomID != p.RoomID || m.SenderID == p.UserID {
			continue
		}
		if p.LastReadMessageID == nil || m.ID > *p.LastReadMessageID {
			n++
		}
	}
	return n
}

func (q *memoryQueries) ListRoomsByUser(_ context.Context, userID int64) ([]models.RoomSummary, error) {
	rooms := []models.RoomSummary{}
	for _, p := range q.s.participants {
		if p.UserID != userID {
			continue
		}
		room, ok := q.s.rooms[p.RoomID]
		if !ok {
			continue
		}
		rooms = append(rooms, models.RoomSummary{
			ChatRoom:          room,
			Role:              p.Role,
			LastReadMessageID: p.LastReadMessageID,
			UnreadCount:       q.unread(p),
		})
	}
	sort.Slice(rooms, func(i, j int) bool {
		a, b := rooms[i], rooms[j]
		if !a.ActivityAt().Equal(b.ActivityAt()) {
			return a.ActivityAt().After(b.ActivityAt())
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
	return rooms, nil
}

func (q *memoryQueries) GetRoom(_ context.Context, roomID int64) (*models.ChatRoom, error) {
	room, ok := q.s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	return &room, nil
}

func (q *memoryQueries) CreateRoom(_ context.Context, room *models.ChatRoom) error {
	q.s.nextRoomID++
	room.ID = q.s.nextRoomID
	q.s.rooms[room.ID] = *room
	return nil
}

func (q *memoryQueries) AddParticipant(_ context.Context, p *models.ChatParticipant) error {
	if !p.Role.Valid() {
		return fmt.Errorf("error adding participant: unknown role %q", p.Role)
	}
	if _, ok := q.s.rooms[p.RoomID]; !ok {
		return fmt.Errorf("room %d: %w", p.RoomID, ErrInvalidReference)
	}
	for _, existing := range q.s.participants {
		if existing.RoomID != p.RoomID {
			continue
		}
		if existing.UserID == p.UserID || existing.Role == p.Role {
			return fmt.Errorf("error adding participant: %w", ErrDuplicate)
		}
	}
	q.s.nextParticipantID++
	p.ID = q.s.nextParticipantID
	q.s.participants[p.ID] = *p
	return nil
}

func (q *memoryQueries) CloseRoom(_ context.Context, roomID int64, at time.Time) error {
	room, ok := q.s.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	room.Close(at)
	q.s.rooms[roomID] = room
	return nil
}

func (q *memoryQueries) DeleteRoom(_ context.Context, roomID int64) error {
	if _, ok := q.s.rooms[roomID]; !ok {
		return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	delete(q.s.rooms, roomID)
	for id, p := range q.s.participants {
		if p.RoomID == roomID {
			delete(q.s.participants, id)
		}
	}
	removed := map[int64]bool{}
	for id, m := range q.s.messages {
		if m.RoomID == roomID {
			removed[id] = true
			delete(q.s.messages, id)
		}
	}
	// ON DELETE SET NULL for watermarks pointing into the deleted room
	for id, p := range q.s.participants {
		if p.LastReadMessageID != nil && removed[*p.LastReadMessageID] {
			p.LastReadMessageID = nil
			q.s.participants[id] = p
		}
	}
	return nil
}

func (q *memoryQueries) TouchRoom(_ context.Context, roomID int64, at time.Time) error {
	room, ok := q.s.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	room.LastMessageAt = &at
	room.UpdatedAt = at
	q.s.rooms[roomID] = room
	return nil
}

func (q *memoryQueries) ListMessages(_ context.Context, roomID int64, before *int64, limit int) ([]*models.ChatMessage, error) {
	var rows []models.MessageRow
	for _, m := range q.s.messages {
		if m.RoomID != roomID {
			continue
		}
		if before != nil && m.ID >= *before {
			continue
		}
		rows = append(rows, m)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	if len(rows) > limit {
		rows = rows[:limit]
	}

	messages := make([]*models.ChatMessage, 0, len(rows))
	for _, row := range rows {
		msg, err := row.Decode()
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (q *memoryQueries) CreateMessage(_ context.Context, msg *models.ChatMessage) (int64, error) {
	if _, ok := q.s.rooms[msg.RoomID]; !ok {
		return 0, fmt.Errorf("room %d: %w", msg.RoomID, ErrInvalidReference)
	}
	q.s.nextMessageID++
	msg.ID = q.s.nextMessageID
	q.s.messages[msg.ID] = msg.ToRow()
	return msg.ID, nil
}

func (q *memoryQueries) GetMessage(_ context.Context, id int64) (*models.ChatMessage, error) {
	row, ok := q.s.messages[id]
	if !ok {
		return nil, fmt.Errorf("chat message %d: %w", id, ErrNotFound)
	}
	return row.Decode()
}

func (q *memoryQueries) ListAttachmentURLs(_ context.Context, roomID int64) ([]string, error) {
	var rows []models.MessageRow
	for _, m := range q.s.messages {
		if m.RoomID == roomID && m.FileURL != nil {
			rows = append(rows, m)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	urls := make([]string, 0, len(rows))
	for _, m := range rows {
		urls = append(urls, *m.FileURL)
	}
	return urls, nil
}

func (q *memoryQueries) UpdateLastRead(_ context.Context, roomID, userID int64, messageID *int64, at time.Time) error {
	if messageID != nil {
		if _, ok := q.s.messages[*messageID]; !ok {
			return fmt.Errorf("chat message %d: %w", *messageID, ErrInvalidReference)
		}
	}
	for id, p := range q.s.participants {
		if p.RoomID == roomID && p.UserID == userID {
			p.LastReadMessageID = messageID
			p.LastReadAt = &at
			q.s.participants[id] = p
			return nil
		}
	}
	return fmt.Errorf("participant %d of room %d: %w", userID, roomID, ErrNotFound)
}

func (q *memoryQueries) CountUnread(_ context.Context, roomID, userID int64) (int64, error) {
	p, ok := q.seat(roomID, userID)
	if !ok {
		return 0, nil
	}
	return q.unread(p), nil
}

var (
	_ ChatStore   = (*MemoryChatRepository)(nil)
	_ ChatQueries = (*memoryQueries)(nil)
)
