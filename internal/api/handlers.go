// internal/api/handlers.go
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/SceneDirector/internal/errors"
	"github.com/Corphon/SceneDirector/internal/models"
	"github.com/Corphon/SceneDirector/internal/services"
	"github.com/Corphon/SceneDirector/internal/utils"
)

// Handler 处理API请求
type Handler struct {
	Director *services.DirectorService // 脚本生成
	Media    *services.MediaService    // 媒体生成
	Progress *services.ProgressService // 后台任务进度
	Metrics  *utils.MetricsCollector
	Response *ResponseHelper

	// 后台任务使用的根 context，服务关闭时取消
	baseCtx context.Context
	logger  *utils.Logger
}

// NewHandler 创建处理器。baseCtx 为 nil 时使用 context.Background()
func NewHandler(baseCtx context.Context, director *services.DirectorService, media *services.MediaService, progress *services.ProgressService, metrics *utils.MetricsCollector) *Handler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Handler{
		Director: director,
		Media:    media,
		Progress: progress,
		Metrics:  metrics,
		Response: NewResponseHelper(),
		baseCtx:  baseCtx,
		logger:   utils.GetLogger(),
	}
}

// RegenerateRequest 重新生成请求体
type RegenerateRequest struct {
	CustomInstructions string `json:"custom_instructions"`
}

// TaskAccepted 后台任务已启动时的响应
type TaskAccepted struct {
	TaskID  string `json:"task_id"`
	Kind    string `json:"kind"`
	Project string `json:"project"`
}

type scriptOperation func(ctx context.Context, opts ...services.RunOption) (*models.Script, error)

// Health 存活检查
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{"status": "ok"})
}

// GetGenres 可用的模板类型
func (h *Handler) GetGenres(c *gin.Context) {
	h.Response.Success(c, h.Director.Genres())
}

// GetMetrics 当前指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.Metrics.GetMetrics())
}

// ListProjects 已保存的项目
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.Director.ListProjects()
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, projects)
}

// GenerateScript 创建项目脚本（章节和场景）
func (h *Handler) GenerateScript(c *gin.Context) {
	var details models.ProjectDetails
	if err := c.ShouldBindJSON(&details); err != nil {
		h.Response.BadRequest(c, "invalid project details", err.Error())
		return
	}
	h.runScriptOperation(c, "generate-script", details.Project, true,
		func(ctx context.Context, opts ...services.RunOption) (*models.Script, error) {
			return h.Director.CreateScript(ctx, details, opts...)
		})
}

// GetScript 读取项目脚本
func (h *Handler) GetScript(c *gin.Context) {
	script, err := h.Director.GetScript(c.Request.Context(), c.Param("project"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, script)
}

// UpdateScript 用请求体替换整个脚本
func (h *Handler) UpdateScript(c *gin.Context) {
	project := c.Param("project")
	data, err := c.GetRawData()
	if err != nil || len(data) == 0 {
		h.Response.Error(c, http.StatusBadRequest, ErrorScriptInvalid, "invalid script document", "request body is required")
		return
	}
	script, err := h.Director.SaveScriptJSON(c.Request.Context(), project, data)
	if err != nil {
		if apperrors.IsValidationError(err) {
			h.Response.Error(c, http.StatusBadRequest, ErrorScriptInvalid, "invalid script document", err.Error())
			return
		}
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, script, "script saved")
}

// GenerateShots 为所有场景补齐镜头
func (h *Handler) GenerateShots(c *gin.Context) {
	project := c.Param("project")
	h.runScriptOperation(c, "generate-shots", project, false,
		func(ctx context.Context, opts ...services.RunOption) (*models.Script, error) {
			return h.Director.GenerateShots(ctx, project, opts...)
		})
}

// RegenerateChapter 重写单个章节
func (h *Handler) RegenerateChapter(c *gin.Context) {
	project := c.Param("project")
	idx, ok := h.indexParams(c, "chapter")
	if !ok {
		return
	}
	req, ok := h.bindRegenerate(c)
	if !ok {
		return
	}
	h.runScriptOperation(c, "regenerate-chapter", project, false,
		func(ctx context.Context, opts ...services.RunOption) (*models.Script, error) {
			return h.Director.RegenerateChapter(ctx, project, idx[0], req.CustomInstructions, opts...)
		})
}

// GenerateScenes 为章节重新生成全部场景
func (h *Handler) GenerateScenes(c *gin.Context) {
	project := c.Param("project")
	idx, ok := h.indexParams(c, "chapter")
	if !ok {
		return
	}
	h.runScriptOperation(c, "generate-scenes", project, false,
		func(ctx context.Context, opts ...services.RunOption) (*models.Script, error) {
			return h.Director.GenerateScenes(ctx, project, idx[0], opts...)
		})
}

// RegenerateScene 重写单个场景并清空其镜头
func (h *Handler) RegenerateScene(c *gin.Context) {
	project := c.Param("project")
	idx, ok := h.indexParams(c, "chapter", "scene")
	if !ok {
		return
	}
	req, ok := h.bindRegenerate(c)
	if !ok {
		return
	}
	h.runScriptOperation(c, "regenerate-scene", project, false,
		func(ctx context.Context, opts ...services.RunOption) (*models.Script, error) {
			return h.Director.RegenerateScene(ctx, project, idx[0], idx[1], req.CustomInstructions, opts...)
		})
}

// RegenerateShot 重写单个镜头
func (h *Handler) RegenerateShot(c *gin.Context) {
	project := c.Param("project")
	idx, ok := h.indexParams(c, "chapter", "scene", "shot")
	if !ok {
		return
	}
	req, ok := h.bindRegenerate(c)
	if !ok {
		return
	}
	h.runScriptOperation(c, "regenerate-shot", project, false,
		func(ctx context.Context, opts ...services.RunOption) (*models.Script, error) {
			return h.Director.RegenerateShot(ctx, project, idx[0], idx[1], idx[2], req.CustomInstructions, opts...)
		})
}

// GetAttempts 项目最近的 LLM 尝试记录
func (h *Handler) GetAttempts(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.Response.BadRequest(c, "limit must be an integer")
			return
		}
		limit = n
	}
	attempts, counts, err := h.Director.ListAttempts(c.Request.Context(), c.Param("project"), limit)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"attempts": attempts, "counts": counts})
}

// GetTask 任务当前状态
func (h *Handler) GetTask(c *gin.Context) {
	tracker, ok := h.Progress.GetTracker(c.Param("id"))
	if !ok {
		h.Response.NotFound(c, ErrorTaskNotFound, "task not found")
		return
	}
	h.Response.Success(c, tracker.Snapshot())
}

// runScriptOperation 同步执行并返回脚本；?async=true 时作为后台任务执行并返回任务ID
func (h *Handler) runScriptOperation(c *gin.Context, kind, project string, created bool, op scriptOperation) {
	opts, ok := h.runOptions(c)
	if !ok {
		return
	}

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		tracker := h.Progress.CreateTask(kind, project)
		opts = append(opts, services.WithTracker(tracker))
		h.logger.Info("background task started", map[string]interface{}{
			"task_id": tracker.TaskID,
			"kind":    kind,
			"project": project,
			"subject": c.GetString(subjectKey),
		})
		go func() {
			if _, err := op(h.baseCtx, opts...); err != nil {
				// 操作未能结束任务时（如参数校验失败）在这里结束
				tracker.Fail(err.Error(), nil)
				h.logger.Warn("background task failed", map[string]interface{}{
					"task_id": tracker.TaskID,
					"kind":    kind,
					"err":     err.Error(),
				})
			}
		}()
		h.Response.Accepted(c, TaskAccepted{TaskID: tracker.TaskID, Kind: kind, Project: project})
		return
	}

	script, err := op(c.Request.Context(), opts...)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	if created {
		h.Response.Created(c, script)
		return
	}
	h.Response.Success(c, script)
}

// runOptions 解析 ?max_retries=N
func (h *Handler) runOptions(c *gin.Context) ([]services.RunOption, bool) {
	raw := c.Query("max_retries")
	if raw == "" {
		return nil, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		h.Response.BadRequest(c, "max_retries must be a positive integer")
		return nil, false
	}
	return []services.RunOption{services.WithMaxRetries(n)}, true
}

// indexParams 解析路径中的 0 基索引
func (h *Handler) indexParams(c *gin.Context, names ...string) ([]int, bool) {
	out := make([]int, 0, len(names))
	for _, name := range names {
		n, err := strconv.Atoi(c.Param(name))
		if err != nil || n < 0 {
			h.Response.Error(c, http.StatusBadRequest, ErrorCoordinateInvalid, fmt.Sprintf("%s index must be a non-negative integer", name))
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

// bindRegenerate 请求体可以为空
func (h *Handler) bindRegenerate(c *gin.Context) (RegenerateRequest, bool) {
	var req RegenerateRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return req, false
	}
	return req, true
}
