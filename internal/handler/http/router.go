package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers 汇总所有 HTTP 处理器
type Handlers struct {
	Auth      *AuthHandler
	Room      *RoomHandler
	Execution *ExecutionHandler
	Drawing   *DrawingHandler
}

// RegisterRoutes 注册 HTTP 路由。/api 下除语言列表外都需要认证。
func RegisterRoutes(router gin.IRouter, h Handlers, auth gin.HandlerFunc) {
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })

	api := router.Group("/api")
	api.GET("/languages", h.Execution.Languages)

	authed := api.Group("", auth)
	authed.GET("/me", h.Auth.Me)

	rooms := authed.Group("/rooms")
	{
		rooms.POST("", h.Room.CreateRoom)
		rooms.GET("", h.Room.ListRooms)
		rooms.POST("/join", h.Room.JoinRoom)
		rooms.GET("/:roomId", h.Room.GetRoom)
		rooms.POST("/:roomId/editor", h.Room.TransferEditor)
		rooms.POST("/:roomId/participants/:userId/mute", h.Room.MuteParticipant)
		rooms.POST("/:roomId/participants/:userId/unmute", h.Room.UnmuteParticipant)
		rooms.DELETE("/:roomId/participants/:userId", h.Room.RemoveParticipant)
		rooms.PATCH("/:roomId/visibility", h.Room.SetVisibility)
		rooms.POST("/:roomId/execute", h.Execution.Execute)
		rooms.GET("/:roomId/lines", h.Drawing.Lines)
		rooms.GET("/:roomId/canvas.png", h.Drawing.Canvas)
	}
}
