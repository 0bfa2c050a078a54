package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/taxlink/taxchat/internal/app/models/dto"
	"github.com/taxlink/taxchat/internal/pkg/auth"
)

// TokenVerifier validates an access token and returns its claims
type TokenVerifier interface {
	ValidateAndExtractClaims(tokenString string) (*auth.Claims, error)
}

// Handler for WebSocket connections
type Handler struct {
	hub        *Hub
	tokens     TokenVerifier
	authorizer RoomAuthorizer
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// NewHandler creates a new WebSocket handler. An empty allowedOrigins list
// accepts any origin.
func NewHandler(hub *Hub, tokens TokenVerifier, authorizer RoomAuthorizer, allowedOrigins []string, logger zerolog.Logger) *Handler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}

	return &Handler{
		hub:        hub,
		tokens:     tokens,
		authorizer: authorizer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
		logger: logger,
	}
}

// HandleConnection godoc
// @Summary Open the presence socket
// @Description Upgrades to a WebSocket carrying presence events only. The token is read from the Authorization header or the token query parameter. Clients send join_room and leave_room frames; the server answers with room_users, user_online, user_offline and error frames.
// @Tags chat, websocket
// @Produce json
// @Param token query string false "Access token when headers cannot be set"
// @Success 101 {string} string "Switching Protocols to WebSocket"
// @Failure 401 {object} dto.ErrorResponse "Missing or invalid token"
// @Security BearerAuth
// @Router /chat/ws [get]
func (h *Handler) HandleConnection(c *gin.Context) {
	token, err := auth.TokenFromRequest(c.Request)
	if err == nil {
		var claims *auth.Claims
		claims, err = h.tokens.ValidateAndExtractClaims(token)
		if err == nil {
			h.serve(c, claims.UserID)
			return
		}
	}

	h.logger.Debug().Err(err).Str("remoteAddr", c.ClientIP()).Msg("Rejected WebSocket handshake")
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(
		dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required").WithDetails("Invalid or missing token")))
}

func (h *Handler) serve(c *gin.Context, userID int64) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error().
			Err(err).
			Int64("userID", userID).
			Msg("Failed to upgrade connection to WebSocket")
		return
	}

	client := newClient(h.hub, conn, userID, h.authorizer, h.logger)
	h.hub.Register(client)

	go client.writePump()
	go client.readPump()

	client.logger.Info().
		Str("remoteAddr", conn.RemoteAddr().String()).
		Msg("WebSocket connection established")
}
