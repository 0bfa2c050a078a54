package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/taxlink/taxchat/internal/app/models"
	"github.com/taxlink/taxchat/internal/app/models/dto"
	"github.com/taxlink/taxchat/internal/app/services"
	"github.com/taxlink/taxchat/internal/middleware"
	"github.com/taxlink/taxchat/internal/pkg/apperrors"
	"github.com/taxlink/taxchat/internal/pkg/helpers"
)

// ChatController handles the chat REST endpoints
type ChatController struct {
	chatService    services.ChatService
	maxUploadBytes int64
}

// NewChatController creates a new ChatController. maxUploadBytes caps the
// size of a multipart upload request body.
func NewChatController(chatService services.ChatService, maxUploadBytes int64) *ChatController {
	return &ChatController{
		chatService:    chatService,
		maxUploadBytes: maxUploadBytes,
	}
}

func identity(ctx *gin.Context) (models.Identity, bool) {
	id, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required")))
	}
	return id, ok
}

func roomIDParam(ctx *gin.Context) (int64, bool) {
	roomID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeInvalidRequest, "Invalid room ID").WithField("id")))
		return 0, false
	}
	return roomID, true
}

// ListRooms godoc
// @Summary List my chat rooms
// @Description Rooms the caller participates in, most recent activity first, with the caller's read marker and unread count
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.APIResponse{data=[]dto.ChatRoomResponse}
// @Failure 401 {object} dto.ErrorResponse "Unauthorized: JWT token missing or invalid"
// @Failure 500 {object} dto.ErrorResponse
// @Router /chat/rooms [get]
func (c *ChatController) ListRooms(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}

	rooms, err := c.chatService.ListRooms(ctx.Request.Context(), id.ID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	resp := make([]dto.ChatRoomResponse, 0, len(rooms))
	for i := range rooms {
		resp = append(resp, dto.ToRoomSummaryResponse(&rooms[i]))
	}
	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

// CreateRoom godoc
// @Summary Create a chat room
// @Description Creates a room with the caller in the USER seat and the optional counterparty as TAX_ACCOUNTANT
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateRoomRequest true "Room details"
// @Success 201 {object} dto.APIResponse{data=dto.ChatRoomResponse}
// @Failure 400 {object} dto.ErrorResponse "Invalid request or counterparty"
// @Failure 401 {object} dto.ErrorResponse "Unauthorized: JWT token missing or invalid"
// @Failure 500 {object} dto.ErrorResponse
// @Router /chat/rooms [post]
func (c *ChatController) CreateRoom(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}

	var req dto.CreateRoomRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			middleware.RespondValidationError(ctx, err)
			return
		}
	}

	room, err := c.chatService.CreateRoom(ctx.Request.Context(), id.ID, req.CounterpartyID, req.Title)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, dto.NewSuccessResponse(dto.ToRoomSummaryResponse(room)))
}

// CloseRoom godoc
// @Summary Close a chat room
// @Description Marks the room CLOSED. Closing an already closed room succeeds and keeps the first close time.
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param id path int true "Room ID"
// @Success 200 {object} dto.APIResponse{data=dto.ChatRoomResponse}
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse "Unauthorized: JWT token missing or invalid"
// @Failure 403 {object} dto.ErrorResponse "Forbidden: caller is not a participant of the room"
// @Failure 500 {object} dto.ErrorResponse
// @Router /chat/rooms/{id}/close [post]
func (c *ChatController) CloseRoom(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(ctx)
	if !ok {
		return
	}

	room, err := c.chatService.CloseRoom(ctx.Request.Context(), id.ID, roomID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ToChatRoomResponse(room)))
}

// DeleteRoom godoc
// @Summary Delete a chat room
// @Description Permanently deletes the room with its participants, messages and stored attachments
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param id path int true "Room ID"
// @Success 200 {object} dto.APIResponse{data=dto.SuccessResponse}
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse "Unauthorized: JWT token missing or invalid"
// @Failure 403 {object} dto.ErrorResponse "Forbidden: caller is not a participant of the room"
// @Failure 500 {object} dto.ErrorResponse
// @Router /chat/rooms/{id} [delete]
func (c *ChatController) DeleteRoom(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(ctx)
	if !ok {
		return
	}

	if err := c.chatService.DeleteRoom(ctx.Request.Context(), id.ID, roomID); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.SuccessResponse{Message: "Chat room deleted"}))
}

// ListMessages godoc
// @Summary List room messages
// @Description Keyset paginated history. Returns messages with id below cursor, oldest first. Pass nextCursor back as cursor to load older messages; nextCursor is null on an empty page.
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param id path int true "Room ID"
// @Param cursor query int false "Return messages with id lower than this"
// @Param limit query int false "Page size, clamped to 1..100" default(30)
// @Success 200 {object} dto.APIResponse{data=dto.MessagePageResponse}
// @Failure 400 {object} dto.ErrorResponse "Malformed cursor or limit"
// @Failure 401 {object} dto.ErrorResponse "Unauthorized: JWT token missing or invalid"
// @Failure 403 {object} dto.ErrorResponse "Forbidden: caller is not a participant of the room"
// @Failure 500 {object} dto.ErrorResponse
// @Router /chat/rooms/{id}/messages [get]
func (c *ChatController) ListMessages(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(ctx)
	if !ok {
		return
	}

	params, field, err := helpers.ParseCursorParams(ctx)
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "Invalid pagination parameter").WithField(field)))
		return
	}

	page, err := c.chatService.ListMessages(ctx.Request.Context(), id.ID, roomID, params.Cursor, params.Limit)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ToMessagePageResponse(page)))
}

// SendMessage godoc
// @Summary Send a text message
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Room ID"
// @Param request body dto.SendMessageRequest true "Message"
// @Success 201 {object} dto.APIResponse{data=dto.ChatMessageResponse}
// @Failure 400 {object} dto.ErrorResponse "Empty content"
// @Failure 401 {object} dto.ErrorResponse "Unauthorized: JWT token missing or invalid"
// @Failure 403 {object} dto.ErrorResponse "Forbidden: caller is not a participant of the room"
// @Failure 429 {object} dto.ErrorResponse "Rate limited"
// @Failure 500 {object} dto.ErrorResponse
// @Router /chat/rooms/{id}/messages [post]
func (c *ChatController) SendMessage(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(ctx)
	if !ok {
		return
	}

	var req dto.SendMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		middleware.RespondValidationError(ctx, err)
		return
	}

	msg, err := c.chatService.SendMessage(ctx.Request.Context(), id.ID, roomID, models.ChatMessageTypeText, req.Content)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, dto.NewSuccessResponse(dto.ToChatMessageResponse(msg)))
}

// UploadFiles godoc
// @Summary Upload attachments
// @Description Stores up to 5 images or text files (10 MiB each) and posts one IMAGE or FILE message per file
// @Tags chat
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path int true "Room ID"
// @Param files formData file true "Files to attach"
// @Success 201 {object} dto.APIResponse{data=[]dto.ChatMessageResponse}
// @Failure 400 {object} dto.ErrorResponse "Missing, oversized or disallowed files"
// @Failure 401 {object} dto.ErrorResponse "Unauthorized: JWT token missing or invalid"
// @Failure 403 {object} dto.ErrorResponse "Forbidden: caller is not a participant of the room"
// @Failure 429 {object} dto.ErrorResponse "Rate limited"
// @Failure 500 {object} dto.ErrorResponse
// @Router /chat/rooms/{id}/upload [post]
func (c *ChatController) UploadFiles(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(ctx)
	if !ok {
		return
	}

	if c.maxUploadBytes > 0 {
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, c.maxUploadBytes)
	}
	form, err := ctx.MultipartForm()
	if err != nil {
		middleware.HandleAPIError(ctx, apperrors.NewValidationError("Expected a multipart form within the upload size limit"))
		return
	}
	defer form.RemoveAll()

	msgs, err := c.chatService.UploadAttachments(ctx.Request.Context(), id.ID, roomID, form.File["files"])
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, dto.NewSuccessResponse(dto.ToChatMessageResponses(msgs)))
}

// MarkRead godoc
// @Summary Update read marker
// @Description Sets the caller's last read message of the room. Omitting lastReadMessageId clears the marker.
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Room ID"
// @Param request body dto.MarkReadRequest false "Read marker"
// @Success 200 {object} dto.APIResponse{data=dto.SuccessResponse}
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse "Unauthorized: JWT token missing or invalid"
// @Failure 403 {object} dto.ErrorResponse "Forbidden: caller is not a participant of the room"
// @Failure 500 {object} dto.ErrorResponse
// @Router /chat/rooms/{id}/read [post]
func (c *ChatController) MarkRead(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(ctx)
	if !ok {
		return
	}

	var req dto.MarkReadRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			middleware.RespondValidationError(ctx, err)
			return
		}
	}

	if err := c.chatService.MarkRead(ctx.Request.Context(), id.ID, roomID, req.LastReadMessageID); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.SuccessResponse{Message: "Read marker updated"}))
}

// UnreadCount godoc
// @Summary Unread message count
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param id path int true "Room ID"
// @Success 200 {object} dto.APIResponse{data=dto.UnreadCountResponse}
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse "Unauthorized: JWT token missing or invalid"
// @Failure 403 {object} dto.ErrorResponse "Forbidden: caller is not a participant of the room"
// @Failure 500 {object} dto.ErrorResponse
// @Router /chat/rooms/{id}/unread [get]
func (c *ChatController) UnreadCount(ctx *gin.Context) {
	id, ok := identity(ctx)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(ctx)
	if !ok {
		return
	}

	n, err := c.chatService.UnreadCount(ctx.Request.Context(), id.ID, roomID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.UnreadCountResponse{RoomID: roomID, UnreadCount: n}))
}
