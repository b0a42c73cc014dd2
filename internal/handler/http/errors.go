package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/hub"
	"github.com/ayzthp/ColabCode/internal/service"
)

// errorStatuses 把业务错误映射为 HTTP 状态码
var errorStatuses = []struct {
	err    error
	status int
}{
	{service.ErrInvalidInput, http.StatusBadRequest},
	{service.ErrInvalidLine, http.StatusBadRequest},
	{service.ErrUnsupportedLanguage, http.StatusBadRequest},
	{service.ErrCannotRemoveHost, http.StatusBadRequest},
	{service.ErrForbidden, http.StatusForbidden},
	{service.ErrRoomNotFound, http.StatusNotFound},
	{service.ErrInvalidInviteCode, http.StatusNotFound},
	{service.ErrUnknownParticipant, http.StatusNotFound},
	{service.ErrRoomFull, http.StatusConflict},
	{service.ErrRateLimited, http.StatusTooManyRequests},
	{service.ErrExecutionFailed, http.StatusBadGateway},
	{service.ErrStoreUnavailable, http.StatusServiceUnavailable},
}

// HandleServiceError 把 Service 返回的错误写成 JSON 响应
func HandleServiceError(c *gin.Context, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			message := e.err.Error()
			if e.status == http.StatusBadRequest {
				message = err.Error()
			}
			CodedErrorResponse(c, e.status, hub.ErrorCode(err), message)
			return
		}
	}
	logrus.WithError(err).Error("Unhandled internal server error")
	CodedErrorResponse(c, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}
