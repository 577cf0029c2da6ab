// internal/api/auth_middleware.go
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/SceneDirector/internal/auth"
	"github.com/Corphon/SceneDirector/internal/utils"
)

const subjectKey = "auth_subject"

// AuthMiddleware 配置了 AUTH_SECRET 时要求 Bearer 令牌；tokens 为 nil 时放行所有请求
func AuthMiddleware(tokens *auth.TokenConfig, response *ResponseHelper) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil {
			c.Next()
			return
		}

		raw, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Error(c, http.StatusUnauthorized, ErrorUnauthorized, "bearer token required")
			c.Abort()
			return
		}
		token, err := auth.ParseToken(raw, tokens)
		if err != nil {
			utils.GetLogger().Warn("rejected token", map[string]interface{}{
				"request_id": c.GetString(requestIDKey),
				"err":        err.Error(),
			})
			response.Error(c, http.StatusUnauthorized, ErrorUnauthorized, "invalid credentials")
			c.Abort()
			return
		}

		c.Set(subjectKey, token.Subject)
		c.Next()
	}
}
