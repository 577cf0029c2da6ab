// internal/api/media_handlers.go
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/SceneDirector/internal/media"
	"github.com/Corphon/SceneDirector/internal/models"
	"github.com/Corphon/SceneDirector/internal/services"
)

// RegenerateImageRequest 单张图片重新生成
type RegenerateImageRequest struct {
	ChapterIndex *int   `json:"chapter_index"`
	SceneIndex   *int   `json:"scene_index"`
	ShotIndex    *int   `json:"shot_index"`
	CustomPrompt string `json:"custom_prompt"`
	Kind         string `json:"kind"` // opening（默认）或 closing
}

// GenerateImages 只生成镜头图片
func (h *Handler) GenerateImages(c *gin.Context) {
	stages := services.MediaStages{Images: true}
	if c.Request.ContentLength > 0 {
		var body struct {
			Overwrite bool `json:"overwrite"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			h.Response.BadRequest(c, "invalid request body", err.Error())
			return
		}
		stages.Overwrite = body.Overwrite
	}
	h.startMediaBatch(c, "generate-images", stages)
}

// GenerateMedia 按阶段批量生成媒体；请求体为空时执行全部阶段
func (h *Handler) GenerateMedia(c *gin.Context) {
	stages := services.AllStages()
	if c.Request.ContentLength > 0 {
		stages = services.MediaStages{}
		if err := c.ShouldBindJSON(&stages); err != nil {
			h.Response.BadRequest(c, "invalid request body", err.Error())
			return
		}
	}
	if !stages.Any() {
		h.Response.Error(c, http.StatusBadRequest, ErrorMediaStageMissing, "select at least one media stage")
		return
	}
	h.startMediaBatch(c, "generate-media", stages)
}

func (h *Handler) startMediaBatch(c *gin.Context, kind string, stages services.MediaStages) {
	project := c.Param("project")
	// 先同步确认脚本存在，便于直接返回 404
	if _, err := h.Director.GetScript(c.Request.Context(), project); err != nil {
		h.Response.HandleError(c, err)
		return
	}

	tracker := h.Progress.CreateTask(kind, project)
	go func() {
		report, err := h.Media.GenerateMedia(h.baseCtx, project, stages, tracker)
		if err != nil {
			tracker.Fail(err.Error(), report)
			return
		}
		msg := fmt.Sprintf("%d generated, %d skipped, %d failed", report.Generated, report.Skipped, len(report.Failures))
		tracker.Complete(msg, report)
	}()
	h.Response.Accepted(c, TaskAccepted{TaskID: tracker.TaskID, Kind: kind, Project: project})
}

// RegenerateImage 以新种子重新生成单张图片（后台执行）
func (h *Handler) RegenerateImage(c *gin.Context) {
	project := c.Param("project")
	var req RegenerateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}
	if req.ChapterIndex == nil || req.SceneIndex == nil || req.ShotIndex == nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorCoordinateInvalid, "chapter_index, scene_index and shot_index are required")
		return
	}
	frame, err := media.ParseFrame(req.Kind)
	if err != nil {
		h.Response.BadRequest(c, err.Error())
		return
	}

	script, err := h.Director.GetScript(c.Request.Context(), project)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	ci, si, shi := *req.ChapterIndex, *req.SceneIndex, *req.ShotIndex
	if err := script.Lookup(models.ShotCoordinate(ci, si, shi)); err != nil {
		h.Response.NotFound(c, ErrorCoordinateInvalid, err.Error())
		return
	}

	tracker := h.Progress.CreateTask("regenerate-image", project)
	go func() {
		res, err := h.Media.RegenerateImage(h.baseCtx, project, ci, si, shi, req.CustomPrompt, frame)
		if err != nil {
			tracker.Fail(err.Error(), nil)
			return
		}
		tracker.Complete("image regenerated", res)
	}()
	h.Response.Accepted(c, TaskAccepted{TaskID: tracker.TaskID, Kind: "regenerate-image", Project: project})
}

// ListImages 每个镜头的开场和结束图片及状态
func (h *Handler) ListImages(c *gin.Context) {
	entries, err := h.Media.ListImages(c.Request.Context(), c.Param("project"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, entries)
}
