package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/middleware"
	"github.com/ayzthp/ColabCode/internal/service"
)

// 公开房间列表的分页上限
const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// RoomHandler 封装了与房间管理相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	return &RoomHandler{roomService: roomService}
}

// CreateRoomRequest 定义创建房间请求的结构体
type CreateRoomRequest struct {
	Title           string `json:"title" binding:"required,max=191"`
	Description     string `json:"description" binding:"max=2000"`
	IsPublic        *bool  `json:"isPublic"`
	MaxParticipants int    `json:"maxParticipants"`
}

// RoomSummary 是公开房间列表中的一项
type RoomSummary struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	HostName        string    `json:"hostName"`
	MaxParticipants int       `json:"maxParticipants"`
	CreatedAt       time.Time `json:"createdAt"`
}

// JoinRoomRequest 定义通过邀请码加入房间的请求
type JoinRoomRequest struct {
	InviteCode string `json:"inviteCode" binding:"required,max=32"`
}

// JoinRoomResponse 定义加入房间成功的响应结构体
type JoinRoomResponse struct {
	Message string `json:"message"`
	RoomID  string `json:"roomId"`
}

// TransferEditorRequest 指定新的编辑者
type TransferEditorRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// VisibilityRequest 切换房间可见性
type VisibilityRequest struct {
	IsPublic *bool `json:"isPublic" binding:"required"`
}

// currentIdentity 读取 Auth 中间件设置的身份，缺失时直接写回 401
func currentIdentity(c *gin.Context) (domain.Identity, bool) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		logrus.Warn("Handler: Identity not found in context, middleware missing or failed?")
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return domain.Identity{}, false
	}
	return identity, true
}

// roomForViewer 返回给某个用户看的房间文档，邀请码只给房主
func roomForViewer(room *domain.Room, viewerID string) *domain.Room {
	if room.IsHost(viewerID) {
		return room
	}
	view := room.Clone()
	view.InviteCode = ""
	return view
}

// CreateRoom 处理创建新房间的请求
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", identity.ID)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
		return
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), identity, service.CreateRoomInput{
		Title:           req.Title,
		Description:     req.Description,
		IsPublic:        isPublic,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		logCtx.WithError(err).Error("Handler.CreateRoom: Failed to create room via service")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithFields(logrus.Fields{"room_id": room.ID, "invite_code": room.InviteCode}).Info("Handler.CreateRoom: Room created successfully")
	SuccessResponse(c, http.StatusCreated, room)
}

// ListRooms 列出公开房间，最新的在前
func (h *RoomHandler) ListRooms(c *gin.Context) {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			ErrorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = n
	}

	records, err := h.roomService.ListPublicRooms(c.Request.Context(), limit)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	rooms := make([]RoomSummary, 0, len(records))
	for _, r := range records {
		rooms = append(rooms, RoomSummary{
			ID:              r.ID,
			Title:           r.Title,
			Description:     r.Description,
			HostName:        r.HostName,
			MaxParticipants: r.MaxParticipants,
			CreatedAt:       r.CreatedAt,
		})
	}
	SuccessResponse(c, http.StatusOK, gin.H{"rooms": rooms})
}

// GetRoom 返回房间的当前文档
func (h *RoomHandler) GetRoom(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	room, err := h.roomService.GetRoomForViewer(c.Request.Context(), c.Param("roomId"), identity.ID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, roomForViewer(room, identity.ID))
}

// JoinRoom 处理通过邀请码加入房间的请求
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", identity.ID)

	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: inviteCode is required")
		return
	}

	room, err := h.roomService.JoinByInviteCode(c.Request.Context(), identity, req.InviteCode)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: Failed to join room via service")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithField("room_id", room.ID).Info("Handler.JoinRoom: User joined room successfully")
	SuccessResponse(c, http.StatusOK, JoinRoomResponse{Message: "Joined room successfully", RoomID: room.ID})
}

// TransferEditor 由房主转移编辑令牌
func (h *RoomHandler) TransferEditor(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	var req TransferEditorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: userId is required")
		return
	}
	room, err := h.roomService.TransferEditor(c.Request.Context(), c.Param("roomId"), identity.ID, req.UserID)
	h.respondRoom(c, identity.ID, room, err)
}

// MuteParticipant 由房主静音成员
func (h *RoomHandler) MuteParticipant(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	room, err := h.roomService.MuteParticipant(c.Request.Context(), c.Param("roomId"), identity.ID, c.Param("userId"))
	h.respondRoom(c, identity.ID, room, err)
}

// UnmuteParticipant 由房主取消静音
func (h *RoomHandler) UnmuteParticipant(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	room, err := h.roomService.UnmuteParticipant(c.Request.Context(), c.Param("roomId"), identity.ID, c.Param("userId"))
	h.respondRoom(c, identity.ID, room, err)
}

// RemoveParticipant 由房主移除成员
func (h *RoomHandler) RemoveParticipant(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	room, err := h.roomService.RemoveParticipant(c.Request.Context(), c.Param("roomId"), identity.ID, c.Param("userId"))
	h.respondRoom(c, identity.ID, room, err)
}

// SetVisibility 由房主切换公开/私有
func (h *RoomHandler) SetVisibility(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	var req VisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: isPublic is required")
		return
	}
	room, err := h.roomService.SetVisibility(c.Request.Context(), c.Param("roomId"), identity.ID, *req.IsPublic)
	h.respondRoom(c, identity.ID, room, err)
}

func (h *RoomHandler) respondRoom(c *gin.Context, viewerID string, room *domain.Room, err error) {
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, roomForViewer(room, viewerID))
}
