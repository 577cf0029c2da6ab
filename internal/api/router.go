// internal/api/router.go
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/Corphon/SceneDirector/internal/auth"
)

// RouterOptions 路由级别的可选项
type RouterOptions struct {
	Tokens        *auth.TokenConfig // nil 表示不启用认证
	APIRatePerSec float64           // <= 0 表示不限速
	DebugMode     bool
}

// SetupRouter 配置HTTP路由
func SetupRouter(handler *Handler, opts RouterOptions) *gin.Engine {
	if !opts.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(MetricsMiddleware(handler.Metrics))
	r.Use(corsMiddleware())

	r.GET("/health", handler.Health)

	// WebSocket 进度推送
	ws := r.Group("/ws")
	ws.Use(AuthMiddleware(opts.Tokens, handler.Response))
	ws.GET("/tasks/:id", handler.TaskWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(RateLimitMiddleware(NewRateLimiter(opts.APIRatePerSec), handler.Response))
	api.Use(AuthMiddleware(opts.Tokens, handler.Response))
	{
		api.GET("/genres", handler.GetGenres)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/tasks/:id", handler.GetTask)

		// 脚本
		api.POST("/generate-script", handler.GenerateScript)
		api.GET("/script/:project", handler.GetScript)
		api.PUT("/update-script/:project", handler.UpdateScript)

		// 媒体
		api.POST("/generate-images/:project", handler.GenerateImages)
		api.POST("/generate-media/:project", handler.GenerateMedia)
		api.POST("/regenerate-image/:project", handler.RegenerateImage)
		api.GET("/images/:project", handler.ListImages)

		// ===============================
		// 项目内的分层生成
		// ===============================
		api.GET("/projects", handler.ListProjects)
		projects := api.Group("/projects/:project")
		{
			projects.POST("/shots", handler.GenerateShots)
			projects.GET("/attempts", handler.GetAttempts)

			chapters := projects.Group("/chapters/:chapter")
			{
				chapters.POST("/regenerate", handler.RegenerateChapter)
				chapters.POST("/scenes", handler.GenerateScenes)
				chapters.POST("/scenes/:scene/regenerate", handler.RegenerateScene)
				chapters.POST("/scenes/:scene/shots/:shot/regenerate", handler.RegenerateShot)
			}
		}
	}

	return r
}
