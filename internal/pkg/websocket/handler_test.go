package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taxlink/taxchat/internal/app/models"
	"github.com/taxlink/taxchat/internal/pkg/apperrors"
	"github.com/taxlink/taxchat/internal/pkg/auth"
)

type presenceServer struct {
	srv   *httptest.Server
	jwt   *auth.JWTService
	hub   *Hub
	wsURL string
}

func newPresenceServer(t *testing.T, participants map[int64][]int64) *presenceServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SecretKey:      "presence-test-secret",
		AccessTokenExp: time.Hour,
		TokenIssuer:    "taxchat",
	})
	authz := authorizerFunc(func(_ context.Context, userID, roomID int64) error {
		for _, id := range participants[roomID] {
			if id == userID {
				return nil
			}
		}
		return apperrors.NewForbiddenError("You are not a participant of this chat room")
	})

	hub := NewHub(zerolog.Nop())
	handler := NewHandler(hub, jwtService, authz, nil, zerolog.Nop())

	router := gin.New()
	router.GET("/ws", handler.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return &presenceServer{
		srv:   srv,
		jwt:   jwtService,
		hub:   hub,
		wsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (p *presenceServer) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	token, _, err := p.jwt.GenerateToken(models.Identity{ID: userID, UserType: models.UserTypeUser})
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(p.wsURL, header)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, roomID int64) {
	t.Helper()
	raw, err := encodeFrame(event, RoomPayload{RoomID: roomID})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func read(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func TestHandleConnection_RejectsMissingToken(t *testing.T) {
	p := newPresenceServer(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(p.wsURL, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleConnection_RejectsInvalidToken(t *testing.T) {
	p := newPresenceServer(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(p.wsURL+"?token=not.a.token", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, p.hub.ClientsCount())
}

func TestHandleConnection_QueryToken(t *testing.T) {
	p := newPresenceServer(t, map[int64][]int64{5: {1}})
	token, _, err := p.jwt.GenerateToken(models.Identity{ID: 1, UserType: models.UserTypeTaxAccountant})
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(p.wsURL+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	send(t, conn, EventJoinRoom, 5)
	f := read(t, conn)
	assert.Equal(t, EventRoomUsers, f.Event)
}

func TestPresenceFlow(t *testing.T) {
	p := newPresenceServer(t, map[int64][]int64{42: {1, 2}})
	alice := p.dial(t, 1)
	bob := p.dial(t, 2)
	mallory := p.dial(t, 3)

	send(t, alice, EventJoinRoom, 42)
	f := read(t, alice)
	require.Equal(t, EventRoomUsers, f.Event)
	assert.Equal(t, []int64{1}, decode[RoomUsersPayload](t, f).UserIDs)

	send(t, bob, EventJoinRoom, 42)
	f = read(t, bob)
	require.Equal(t, EventRoomUsers, f.Event)
	assert.Equal(t, []int64{1, 2}, decode[RoomUsersPayload](t, f).UserIDs)

	f = read(t, alice)
	require.Equal(t, EventUserOnline, f.Event)
	assert.Equal(t, PresencePayload{RoomID: 42, UserID: 2}, decode[PresencePayload](t, f))

	send(t, mallory, EventJoinRoom, 42)
	f = read(t, mallory)
	require.Equal(t, EventError, f.Event)
	assert.Equal(t, []int64{1, 2}, p.hub.RoomUsers(42))

	// Disconnecting announces the user offline to the rest of the room
	require.NoError(t, bob.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	f = read(t, alice)
	require.Equal(t, EventUserOffline, f.Event)
	assert.Equal(t, PresencePayload{RoomID: 42, UserID: 2}, decode[PresencePayload](t, f))

	send(t, alice, EventLeaveRoom, 42)
	assert.Eventually(t, func() bool { return len(p.hub.RoomUsers(42)) == 0 }, 2*time.Second, 10*time.Millisecond)
}
