package middleware

import (
	"net/http"
	"strings"

	"github.com/Jun20220703/bit216as/internal/session"

	"github.com/gin-gonic/gin"
)

// 上下文键
const (
	ContextUserID = "userID"
	ContextEmail  = "email"
)

// SessionCookie 浏览器端保存会话令牌的 httpOnly cookie 名。
const SessionCookie = "fs_session"

// AuthMiddleware 校验 Bearer JWT（或会话 cookie）并将 userID / email 写入上下文。
func AuthMiddleware(issuer *session.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := SessionToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := issuer.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ContextUserID, claims.Subject)
		c.Set(ContextEmail, claims.Email)
		c.Next()
	}
}

// SessionToken 读取 Bearer 令牌，没有 Authorization 头时读取会话 cookie。
// 头格式错误时 ok 为 false；两者都没有时返回空串。
func SessionToken(c *gin.Context) (token string, ok bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie, true
	}
	return "", true
}

// UserID 读取 AuthMiddleware 写入的用户 ID。
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
