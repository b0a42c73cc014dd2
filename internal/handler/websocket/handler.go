package websocket

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/hub"
	"github.com/ayzthp/ColabCode/internal/middleware"
	"github.com/ayzthp/ColabCode/internal/service"
)

// WebSocketHandler 负责处理 WebSocket 升级请求和客户端注册
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	hub         *hub.Hub
	roomService *service.RoomService
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigins 为空或包含 "*" 时允许所有来源。
func NewWebSocketHandler(h *hub.Hub, roomService *service.RoomService, allowedOrigins []string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if roomService == nil {
		panic("RoomService cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return &WebSocketHandler{
		upgrader:    upgrader,
		hub:         h,
		roomService: roomService,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			allowed = nil
			break
		}
	}
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// HandleConnection 处理 WebSocket 连接请求
// URL 预期格式: /ws/room/{roomId}
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	// 1. 获取认证身份 (由 Auth 中间件设置)
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		logrus.Warn("WS Handler: Identity not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	roomID := c.Param("roomId")
	logCtx := logrus.WithFields(logrus.Fields{"user_id": identity.ID, "room_id": roomID})
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room ID"})
		return
	}

	// 2. 升级前加入房间，拒绝时仍可返回 HTTP 错误
	if _, err := h.roomService.Join(c.Request.Context(), roomID, identity); err != nil {
		status, msg := joinErrorStatus(err)
		logCtx.WithError(err).Warn("WS Handler: Join rejected")
		c.JSON(status, gin.H{"error": msg})
		return
	}

	// 3. 升级 HTTP 连接到 WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	// 4. 创建 Client 并注册到 Hub
	connID := uuid.NewString()
	client := hub.NewClient(h.hub, conn, roomID, identity, connID)
	if !h.hub.QueueMessage(hub.HubMessage{Type: "register", Client: client}) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}
	client.Run()
	logCtx.WithField("conn_id", connID).Info("WS Handler: Client connected")
}

func joinErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		return http.StatusNotFound, "room not found"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "this room is private, join with an invite code"
	case errors.Is(err, service.ErrRoomFull):
		return http.StatusConflict, "room is full"
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "room store unavailable"
	default:
		return http.StatusInternalServerError, "failed to join room"
	}
}
