package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taxlink/taxchat/internal/app/controllers"
	"github.com/taxlink/taxchat/internal/middleware"
	"github.com/taxlink/taxchat/internal/pkg/websocket"
)

// RateLimits caps the write endpoints per user
type RateLimits struct {
	Window          time.Duration
	SendPerWindow   int
	UploadPerWindow int
}

// SetupRouter configures all application routes
func SetupRouter(
	router *gin.Engine,
	chatController *controllers.ChatController,
	presenceHandler *websocket.Handler,
	authMiddleware *middleware.AuthMiddleware,
	rateLimiter *middleware.RateLimiter,
	limits RateLimits,
) {
	// API version group
	v1 := router.Group("/api/v1")

	chat := v1.Group("/chat")

	// The socket authenticates during the handshake so browsers can pass the
	// token as a query parameter
	chat.GET("/ws", presenceHandler.HandleConnection)

	// --- Authenticated Routes Group ---
	rooms := chat.Group("/rooms")
	rooms.Use(authMiddleware.JWTAuth())
	{
		rooms.GET("", chatController.ListRooms)
		rooms.POST("", chatController.CreateRoom)
		rooms.POST("/:id/close", chatController.CloseRoom)
		rooms.DELETE("/:id", chatController.DeleteRoom)

		rooms.GET("/:id/messages", chatController.ListMessages)
		rooms.POST("/:id/messages",
			rateLimiter.Limit("send", limits.SendPerWindow, limits.Window),
			chatController.SendMessage)
		rooms.POST("/:id/upload",
			rateLimiter.Limit("upload", limits.UploadPerWindow, limits.Window),
			chatController.UploadFiles)

		rooms.POST("/:id/read", chatController.MarkRead)
		rooms.GET("/:id/unread", chatController.UnreadCount)
	}
}
