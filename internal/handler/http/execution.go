package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/service"
)

// ExecutionHandler 处理代码执行和语言列表
type ExecutionHandler struct {
	execService *service.ExecutionService
}

// NewExecutionHandler 创建 ExecutionHandler 实例
func NewExecutionHandler(execService *service.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{execService: execService}
}

// ExecuteRequest 为空的 code 表示运行房间内的共享代码
type ExecuteRequest struct {
	Code  string `json:"code"`
	Stdin string `json:"stdin"`
}

// Languages 返回支持的语言及其模板
func (h *ExecutionHandler) Languages(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, gin.H{"languages": domain.Languages()})
}

// Execute 运行代码，仅当前编辑者。完整结果返回给调用者。
func (h *ExecutionHandler) Execute(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input")
		return
	}
	if len(req.Code) > service.MaxCodeSize {
		ErrorResponse(c, http.StatusBadRequest, "code is too large")
		return
	}

	roomID := c.Param("roomId")
	result, err := h.execService.Execute(c.Request.Context(), roomID, identity.ID, req.Code, req.Stdin)
	if err != nil && result == nil {
		HandleServiceError(c, err)
		return
	}
	if err != nil {
		// 执行成功但广播失败，结果仍返回给调用者
		logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": identity.ID}).WithError(err).Warn("Handler.Execute: result not broadcast")
	}
	SuccessResponse(c, http.StatusOK, result)
}
