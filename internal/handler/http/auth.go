package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AuthHandler 暴露当前请求的认证身份。
// 身份由外部服务签发的 JWT 提供，本服务不处理注册和登录。
type AuthHandler struct{}

// NewAuthHandler 创建 AuthHandler 实例
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// MeResponse 是 /api/me 的响应
type MeResponse struct {
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName"`
}

// Me 返回 token 中携带的身份
func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	SuccessResponse(c, http.StatusOK, MeResponse{
		UserID:      identity.ID,
		Name:        identity.Name,
		Email:       identity.Email,
		DisplayName: identity.DisplayName(),
	})
}
