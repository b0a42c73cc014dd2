package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ayzthp/ColabCode/internal/collab"
	"github.com/ayzthp/ColabCode/internal/service"
)

// 服务端渲染画布的尺寸上限
const maxCanvasSide = 4096

// DrawingHandler 提供画板日志和服务端渲染
type DrawingHandler struct {
	drawingService *service.DrawingService
}

// NewDrawingHandler 创建 DrawingHandler 实例
func NewDrawingHandler(drawingService *service.DrawingService) *DrawingHandler {
	return &DrawingHandler{drawingService: drawingService}
}

// Lines 返回完整的笔画日志
func (h *DrawingHandler) Lines(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	lines, err := h.drawingService.ViewerLines(c.Request.Context(), c.Param("roomId"), identity.ID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"lines": lines, "count": len(lines)})
}

// Canvas 按日志顺序回放全部笔画并返回 PNG
func (h *DrawingHandler) Canvas(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	width, okW := canvasSide(c.Query("width"), collab.DefaultCanvasWidth)
	height, okH := canvasSide(c.Query("height"), collab.DefaultCanvasHeight)
	if !okW || !okH {
		ErrorResponse(c, http.StatusBadRequest, "width and height must be between 1 and 4096")
		return
	}
	data, err := h.drawingService.RenderPNG(c.Request.Context(), c.Param("roomId"), identity.ID, width, height)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", data)
}

func canvasSide(v string, def int) (int, bool) {
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxCanvasSide {
		return 0, false
	}
	return n, true
}
