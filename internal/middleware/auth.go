package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/domain"
)

// Gin 上下文中保存认证信息的键
const (
	ContextUserIDKey   = "user_id"
	ContextIdentityKey = "identity"
)

// Auth 返回一个 Gin 中间件，用于验证 JWT token。
// token 由外部身份服务签发 (HS256)，claims 中的 user_id 是字符串形式的用户标识，
// name 和 email 用于展示。WebSocket 握手无法设置请求头，因此也接受 ?token= 参数。
func Auth(jwtSecret string) gin.HandlerFunc {
	if jwtSecret == "" {
		panic("JWT secret cannot be empty for Auth middleware")
	}

	return func(c *gin.Context) {
		// 1. 提取 Token
		tokenStr, err := extractToken(c)
		if err != nil {
			if errors.Is(err, ErrMissingAuthHeader) {
				logrus.Warn("Auth middleware: Missing Authorization header")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			} else {
				logrus.Warnf("Auth middleware: Malformed token format: %v", err)
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			}
			c.Abort()
			return
		}

		// 2. 验证 Token
		claims, err := validateToken(tokenStr, jwtSecret)
		if err != nil {
			logCtx := logrus.WithError(err)
			logCtx.Warn("Auth middleware: Invalid token")

			var validationError *jwt.ValidationError
			if errors.As(err, &validationError) {
				if validationError.Errors&jwt.ValidationErrorExpired != 0 {
					logCtx.Warn("Reason: Token is expired")
				}
				if validationError.Errors&jwt.ValidationErrorSignatureInvalid != 0 {
					logCtx.Warn("Reason: Token signature is invalid")
				}
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		// 3. 从 Claims 中提取身份并设置到 Context
		identity, err := identityFromClaims(claims)
		if err != nil {
			logrus.WithError(err).Warn("Auth middleware: Invalid identity claims")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, identity.ID)
		c.Set(ContextIdentityKey, identity)
		logrus.WithField("user_id", identity.ID).Debug("Auth middleware: User authenticated via JWT")

		c.Next()
	}
}

// ErrMissingAuthHeader 表示请求既没有 Authorization 头也没有 token 参数
var ErrMissingAuthHeader = errors.New("missing Authorization header")

// extractToken 从 Authorization 头或 token 查询参数中提取 Token
func extractToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", ErrMissingAuthHeader
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", jwt.ErrTokenMalformed
	}
	return parts[1], nil
}

// validateToken 解析并验证 JWT token 字符串
func validateToken(tokenStr string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token or claims type")
}

// identityFromClaims 读取 user_id/name/email。
// 兼容数字形式的 user_id。
func identityFromClaims(claims jwt.MapClaims) (domain.Identity, error) {
	var id string
	switch v := claims["user_id"].(type) {
	case string:
		id = strings.TrimSpace(v)
	case float64:
		if v > 0 && v == float64(uint64(v)) {
			id = strconv.FormatUint(uint64(v), 10)
		}
	}
	if id == "" {
		return domain.Identity{}, fmt.Errorf("'user_id' claim missing or invalid: %v", claims["user_id"])
	}
	name, _ := claims["name"].(string)
	email, _ := claims["email"].(string)
	return domain.Identity{ID: id, Name: name, Email: email}, nil
}

// GenerateToken 签发一个 HS256 token，供开发环境和测试使用
func GenerateToken(secret string, identity domain.Identity, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	claims := jwt.MapClaims{
		"user_id": identity.ID,
		"name":    identity.Name,
		"email":   identity.Email,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// IdentityFromContext 返回 Auth 中间件设置的身份
func IdentityFromContext(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(ContextIdentityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok && identity.ID != ""
}
