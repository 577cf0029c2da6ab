// internal/services/director_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Corphon/SceneDirector/internal/config"
	apperrors "github.com/Corphon/SceneDirector/internal/errors"
	"github.com/Corphon/SceneDirector/internal/journal"
	"github.com/Corphon/SceneDirector/internal/models"
	"github.com/Corphon/SceneDirector/internal/prompts"
	"github.com/Corphon/SceneDirector/internal/utils"
)

// ScriptStore 脚本文档的读写
type ScriptStore interface {
	TryLoad(ctx context.Context, project string) (*models.Script, error)
	Save(ctx context.Context, script *models.Script) error
}

// DirectorService 分层生成脚本：章节 -> 场景 -> 镜头。
// 每个修改操作都在项目锁内加载文档、修改并立即保存
type DirectorService struct {
	llm        Invoker
	prompts    *prompts.Loader
	store      ScriptStore
	locks      *LockManager
	attempts   *journal.Journal
	metrics    *utils.MetricsCollector
	maxRetries int
	logger     *utils.Logger
}

// NewDirectorService 创建导演服务。attempts 可以为 nil
func NewDirectorService(
	invoker Invoker,
	loader *prompts.Loader,
	store ScriptStore,
	locks *LockManager,
	attempts *journal.Journal,
	metrics *utils.MetricsCollector,
	maxRetries int,
) *DirectorService {
	if maxRetries <= 0 {
		maxRetries = config.DefaultMaxRetries
	}
	return &DirectorService{
		llm:        invoker,
		prompts:    loader,
		store:      store,
		locks:      locks,
		attempts:   attempts,
		metrics:    metrics,
		maxRetries: maxRetries,
		logger:     utils.GetLogger(),
	}
}

type runOptions struct {
	maxRetries int
	tracker    *ProgressTracker
}

// RunOption 单次调用的选项
type RunOption func(*runOptions)

// WithMaxRetries 覆盖本次调用每个节点的重试预算
func WithMaxRetries(n int) RunOption {
	return func(o *runOptions) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithTracker 向进度跟踪器报告进度
func WithTracker(t *ProgressTracker) RunOption {
	return func(o *runOptions) { o.tracker = t }
}

func (d *DirectorService) options(opts []RunOption) runOptions {
	o := runOptions{maxRetries: d.maxRetries}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Genres 可用的模板类型
func (d *DirectorService) Genres() []string {
	return d.prompts.Genres()
}

// CreateScript 生成章节和场景并保存。项目已有文档时原样返回，不调用 LLM。
// 镜头不在这里生成，由 GenerateShots 单独完成
func (d *DirectorService) CreateScript(ctx context.Context, details models.ProjectDetails, opts ...RunOption) (*models.Script, error) {
	o := d.options(opts)
	if err := details.Validate(); err != nil {
		err = apperrors.NewValidationError(err.Error(), err)
		o.tracker.Fail(err.Error(), nil)
		return nil, err
	}
	if !d.prompts.HasCategory(details.Genre) {
		err := apperrors.NewValidationError(fmt.Sprintf("unknown genre %q: no prompt templates", details.Genre), nil)
		o.tracker.Fail(err.Error(), nil)
		return nil, err
	}

	var result *models.Script
	err := d.locks.ExecuteWithProjectLock(ctx, details.Project, func() error {
		existing, err := d.store.TryLoad(ctx, details.Project)
		if err != nil {
			return err
		}
		if existing != nil {
			d.logger.Info("loaded existing script", map[string]interface{}{"project": details.Project})
			result = existing
			return nil
		}

		d.logger.Info("starting script generation", map[string]interface{}{
			"project":  details.Project,
			"genre":    details.Genre,
			"chapters": details.NumberOfChapters,
			"scenes":   details.NumberOfScenes,
		})

		script := models.NewScript(details)
		steps := 1 + details.NumberOfChapters
		o.tracker.UpdateProgress(0, "Generating chapters")

		chapters, err := generateNode(ctx, d.run(details.Project), models.ChapterListCoordinate(), o.maxRetries,
			d.promptBuilder(script, models.ChapterListCoordinate(), prompts.ChaptersPrompt, ""),
			parseChapterList(details.NumberOfChapters))
		if err != nil {
			return err
		}
		script.Chapters = chapters
		o.tracker.UpdateProgress(100/steps, fmt.Sprintf("Generated %d chapters", len(chapters)))

		for i := range script.Chapters {
			scenes, err := d.generateSceneList(ctx, script, i, o.maxRetries)
			if err != nil {
				return err
			}
			script.Chapters[i].Scenes = scenes
			o.tracker.UpdateProgress(100*(i+2)/steps, fmt.Sprintf("Generated scenes for chapter %d", i+1))
		}

		if err := d.store.Save(ctx, script); err != nil {
			return err
		}
		d.logger.Info("script generation completed", map[string]interface{}{
			"project":  details.Project,
			"chapters": len(script.Chapters),
		})
		result = script
		return nil
	})
	if err != nil {
		o.tracker.Fail(err.Error(), nil)
		return nil, err
	}
	o.tracker.Complete("Script generated", result.Stats())
	return result, nil
}

// GenerateShots 为缺少镜头的场景逐个生成镜头，每生成一个就保存一次
func (d *DirectorService) GenerateShots(ctx context.Context, project string, opts ...RunOption) (*models.Script, error) {
	o := d.options(opts)
	var result *models.Script
	err := d.locks.ExecuteWithProjectLock(ctx, project, func() error {
		script, err := d.load(ctx, project)
		if err != nil {
			return err
		}
		if err := d.generateMissingShots(ctx, script, nil, o); err != nil {
			return err
		}
		result = script
		return nil
	})
	if err != nil {
		o.tracker.Fail(err.Error(), nil)
		return nil, err
	}
	o.tracker.Complete("Shots generated", result.Stats())
	return result, nil
}

// RegenerateScene 重新生成一个场景并替换到原索引，清空其镜头后只为该场景重新生成镜头。
// 索引超出现有场景数时用占位场景补齐，不会缩短列表
func (d *DirectorService) RegenerateScene(ctx context.Context, project string, chapterIdx, sceneIdx int, instructions string, opts ...RunOption) (*models.Script, error) {
	o := d.options(opts)
	var result *models.Script
	err := d.locks.ExecuteWithProjectLock(ctx, project, func() error {
		script, err := d.load(ctx, project)
		if err != nil {
			return err
		}
		if err := script.Lookup(models.ChapterCoordinate(chapterIdx)); err != nil {
			return apperrors.NewNotFoundError(err.Error(), err)
		}
		limit := max(script.ProjectDetails.NumberOfScenes, len(script.Chapters[chapterIdx].Scenes))
		if sceneIdx < 0 || sceneIdx >= limit {
			msg := fmt.Sprintf("scene index %d out of range in chapter %d (%d scenes allowed)",
				sceneIdx, chapterIdx+1, limit)
			return apperrors.NewNotFoundError(msg, nil)
		}

		coord := models.SceneCoordinate(chapterIdx, sceneIdx)
		o.tracker.UpdateProgress(0, fmt.Sprintf("Regenerating %s", coord))
		scene, err := generateNode(ctx, d.run(project), coord, o.maxRetries,
			d.promptBuilder(script, coord, prompts.SingleScenePrompt, instructions),
			parseScene(sceneIdx))
		if err != nil {
			return err
		}

		chapter := &script.Chapters[chapterIdx]
		for len(chapter.Scenes) <= sceneIdx {
			chapter.Scenes = append(chapter.Scenes, models.Scene{SceneNumber: len(chapter.Scenes) + 1})
		}
		chapter.Scenes[sceneIdx] = scene
		if err := d.store.Save(ctx, script); err != nil {
			return err
		}

		only := func(ci, si int) bool { return ci == chapterIdx && si == sceneIdx }
		if err := d.generateMissingShots(ctx, script, only, o); err != nil {
			return err
		}
		result = script
		return nil
	})
	if err != nil {
		o.tracker.Fail(err.Error(), nil)
		return nil, err
	}
	o.tracker.Complete("Scene regenerated", result.Stats())
	return result, nil
}

// RegenerateChapter 重新生成一个章节并替换到原索引，编号固定为 chapterIdx+1。
// 该章节原有的场景会被清空；调用方需要接着调用 GenerateScenes 和 GenerateShots
func (d *DirectorService) RegenerateChapter(ctx context.Context, project string, chapterIdx int, instructions string, opts ...RunOption) (*models.Script, error) {
	o := d.options(opts)
	var result *models.Script
	err := d.locks.ExecuteWithProjectLock(ctx, project, func() error {
		script, err := d.load(ctx, project)
		if err != nil {
			return err
		}
		coord := models.ChapterCoordinate(chapterIdx)
		if err := script.Lookup(coord); err != nil {
			return apperrors.NewNotFoundError(err.Error(), err)
		}

		o.tracker.UpdateProgress(0, fmt.Sprintf("Regenerating %s", coord))
		chapter, err := generateNode(ctx, d.run(project), coord, o.maxRetries,
			d.promptBuilder(script, coord, prompts.SingleChapterPrompt, instructions),
			parseChapter(chapterIdx))
		if err != nil {
			return err
		}
		script.Chapters[chapterIdx] = chapter
		if err := d.store.Save(ctx, script); err != nil {
			return err
		}
		d.logger.Info("chapter regenerated, scenes must be regenerated", map[string]interface{}{
			"project":    project,
			"coordinate": coord.String(),
		})
		result = script
		return nil
	})
	if err != nil {
		o.tracker.Fail(err.Error(), nil)
		return nil, err
	}
	o.tracker.Complete("Chapter regenerated", result.Stats())
	return result, nil
}

// GenerateScenes 一次调用重新生成章节的全部场景，原有场景和镜头被替换
func (d *DirectorService) GenerateScenes(ctx context.Context, project string, chapterIdx int, opts ...RunOption) (*models.Script, error) {
	o := d.options(opts)
	var result *models.Script
	err := d.locks.ExecuteWithProjectLock(ctx, project, func() error {
		script, err := d.load(ctx, project)
		if err != nil {
			return err
		}
		if err := script.Lookup(models.ChapterCoordinate(chapterIdx)); err != nil {
			return apperrors.NewNotFoundError(err.Error(), err)
		}
		o.tracker.UpdateProgress(0, fmt.Sprintf("Generating scenes for chapter %d", chapterIdx+1))
		scenes, err := d.generateSceneList(ctx, script, chapterIdx, o.maxRetries)
		if err != nil {
			return err
		}
		script.Chapters[chapterIdx].Scenes = scenes
		if err := d.store.Save(ctx, script); err != nil {
			return err
		}
		result = script
		return nil
	})
	if err != nil {
		o.tracker.Fail(err.Error(), nil)
		return nil, err
	}
	o.tracker.Complete("Scenes generated", result.Stats())
	return result, nil
}

// RegenerateShot 只重新生成一个已存在的镜头，兄弟镜头不变
func (d *DirectorService) RegenerateShot(ctx context.Context, project string, chapterIdx, sceneIdx, shotIdx int, instructions string, opts ...RunOption) (*models.Script, error) {
	o := d.options(opts)
	var result *models.Script
	err := d.locks.ExecuteWithProjectLock(ctx, project, func() error {
		script, err := d.load(ctx, project)
		if err != nil {
			return err
		}
		coord := models.ShotCoordinate(chapterIdx, sceneIdx, shotIdx)
		if err := script.Lookup(coord); err != nil {
			return apperrors.NewNotFoundError(err.Error(), err)
		}

		o.tracker.UpdateProgress(0, fmt.Sprintf("Regenerating %s", coord))
		shot, err := generateNode(ctx, d.run(project), coord, o.maxRetries,
			d.promptBuilder(script, coord, prompts.SingleShotPrompt, instructions),
			parseShot(shotIdx))
		if err != nil {
			return err
		}
		script.Chapters[chapterIdx].Scenes[sceneIdx].Shots[shotIdx] = shot
		if err := d.store.Save(ctx, script); err != nil {
			return err
		}
		result = script
		return nil
	})
	if err != nil {
		o.tracker.Fail(err.Error(), nil)
		return nil, err
	}
	o.tracker.Complete("Shot regenerated", result.Stats())
	return result, nil
}

// GetScript 读取项目脚本，不存在时返回未找到错误
func (d *DirectorService) GetScript(ctx context.Context, project string) (*models.Script, error) {
	return d.load(ctx, project)
}

// SaveScript 校验并保存调用方提供的完整文档
func (d *DirectorService) SaveScript(ctx context.Context, project string, script *models.Script) error {
	if script == nil {
		return apperrors.NewValidationError("script is required", nil)
	}
	if script.ProjectDetails.Project == "" {
		script.ProjectDetails.Project = project
	}
	if script.ProjectDetails.Project != project {
		return apperrors.NewValidationError(fmt.Sprintf("script belongs to project %q, not %q", script.ProjectDetails.Project, project), nil)
	}
	if err := script.ProjectDetails.Validate(); err != nil {
		return apperrors.NewValidationError(err.Error(), err)
	}
	if err := script.CheckNumbering(); err != nil {
		return apperrors.NewValidationError(err.Error(), err)
	}
	if err := validateNodes(script); err != nil {
		return apperrors.NewValidationError(err.Error(), err)
	}
	if script.Chapters == nil {
		script.Chapters = []models.Chapter{}
	}
	return d.locks.ExecuteWithProjectLock(ctx, project, func() error {
		return d.store.Save(ctx, script)
	})
}

// SaveScriptJSON 解析调用方提交的文档（旧结构先迁移，未知字段报错）后保存
func (d *DirectorService) SaveScriptJSON(ctx context.Context, project string, data []byte) (*models.Script, error) {
	script, migrated, err := models.DecodeScriptStrict(data)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), err)
	}
	if migrated {
		d.logger.Info("migrated submitted script", map[string]interface{}{"project": project})
	}
	if err := d.SaveScript(ctx, project, script); err != nil {
		return nil, err
	}
	return script, nil
}

// validateNodes 章节、场景（占位场景除外）和镜头的必填字段
func validateNodes(script *models.Script) error {
	for ci, ch := range script.Chapters {
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("chapter %d: %w", ci+1, err)
		}
		for si, sc := range ch.Scenes {
			if sc.IsPlaceholder() {
				if len(sc.Shots) > 0 {
					return fmt.Errorf("chapter %d scene %d: placeholder scene cannot have shots", ci+1, si+1)
				}
				continue
			}
			if err := sc.Validate(); err != nil {
				return fmt.Errorf("chapter %d scene %d: %w", ci+1, si+1, err)
			}
			for ki, sh := range sc.Shots {
				if err := sh.Validate(); err != nil {
					return fmt.Errorf("chapter %d scene %d shot %d: %w", ci+1, si+1, ki+1, err)
				}
			}
		}
	}
	return nil
}

// ListProjects 已保存脚本的项目名
func (d *DirectorService) ListProjects() ([]string, error) {
	lister, ok := d.store.(interface{ ListProjects() ([]string, error) })
	if !ok {
		return []string{}, nil
	}
	return lister.ListProjects()
}

// ListAttempts 最近的生成尝试及按结果的计数；未启用尝试日志时返回空
func (d *DirectorService) ListAttempts(ctx context.Context, project string, limit int) ([]journal.Attempt, map[string]int, error) {
	if d.attempts == nil {
		return []journal.Attempt{}, map[string]int{}, nil
	}
	list, err := d.attempts.List(ctx, project, limit)
	if err != nil {
		return nil, nil, apperrors.NewStorageError("failed to read attempt journal", err)
	}
	counts, err := d.attempts.CountByOutcome(ctx, project)
	if err != nil {
		return nil, nil, apperrors.NewStorageError("failed to read attempt journal", err)
	}
	return list, counts, nil
}

func (d *DirectorService) load(ctx context.Context, project string) (*models.Script, error) {
	script, err := d.store.TryLoad(ctx, project)
	if err != nil {
		return nil, err
	}
	if script == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("script not found for project %q", project), nil)
	}
	return script, nil
}

// generateSceneList 一次 LLM 调用生成章节的全部场景
func (d *DirectorService) generateSceneList(ctx context.Context, script *models.Script, chapterIdx, budget int) ([]models.Scene, error) {
	coord := models.SceneListCoordinate(chapterIdx)
	return generateNode(ctx, d.run(script.ProjectDetails.Project), coord, budget,
		d.promptBuilder(script, coord, prompts.ScenesPrompt, ""),
		parseSceneList(script.ProjectDetails.NumberOfScenes))
}

// generateMissingShots 按顺序补齐镜头。filter 为 nil 时处理所有场景；占位场景跳过
func (d *DirectorService) generateMissingShots(ctx context.Context, script *models.Script, filter func(ci, si int) bool, o runOptions) error {
	want := script.ProjectDetails.NumberOfShots
	project := script.ProjectDetails.Project

	total := 0
	for ci, ch := range script.Chapters {
		for si, sc := range ch.Scenes {
			if (filter == nil || filter(ci, si)) && !sc.IsPlaceholder() && len(sc.Shots) < want {
				total += want - len(sc.Shots)
			}
		}
	}
	done := 0

	for ci := range script.Chapters {
		for si := range script.Chapters[ci].Scenes {
			if filter != nil && !filter(ci, si) {
				continue
			}
			scene := &script.Chapters[ci].Scenes[si]
			if scene.IsPlaceholder() {
				d.logger.Debug("skipping placeholder scene", map[string]interface{}{
					"project":    project,
					"coordinate": models.SceneCoordinate(ci, si).String(),
				})
				continue
			}
			if len(scene.Shots) >= want {
				continue
			}

			for shotIdx := len(scene.Shots); shotIdx < want; shotIdx++ {
				coord := models.ShotCoordinate(ci, si, shotIdx)
				shot, err := generateNode(ctx, d.run(project), coord, o.maxRetries,
					d.promptBuilder(script, coord, prompts.SingleShotPrompt, ""),
					parseShot(shotIdx))
				if err != nil {
					return err
				}
				scene.Shots = append(scene.Shots, shot)
				if err := d.store.Save(ctx, script); err != nil {
					return err
				}
				done++
				if total > 0 {
					o.tracker.UpdateProgress(100*done/total, fmt.Sprintf("Generated %s", coord))
				}
			}
		}
	}
	return nil
}

// promptBuilder 每次尝试重新加载模板并用最新的错误信息格式化
func (d *DirectorService) promptBuilder(script *models.Script, coord models.Coordinate, name, instructions string) func(string) (string, error) {
	return func(priorErrors string) (string, error) {
		template, err := d.prompts.LoadForGenre(script.ProjectDetails.Genre, name)
		if err != nil {
			return "", err
		}
		return prompts.Format(template, buildBindings(script, coord, instructions, priorErrors))
	}
}

type nodeRun struct {
	svc     *DirectorService
	project string
}

func (d *DirectorService) run(project string) nodeRun {
	return nodeRun{svc: d, project: project}
}

func (r nodeRun) record(ctx context.Context, coord models.Coordinate, attempt int, outcome string, err error, latency time.Duration) {
	a := journal.Attempt{
		Project:    r.project,
		Coordinate: coord.String(),
		Attempt:    attempt,
		Outcome:    outcome,
		LatencyMs:  latency.Milliseconds(),
	}
	if err != nil {
		a.Error = err.Error()
	}
	// 日志写入失败不影响生成
	if recErr := r.svc.attempts.Record(context.WithoutCancel(ctx), a); recErr != nil {
		r.svc.logger.Warn("failed to record attempt", map[string]interface{}{
			"project": r.project,
			"err":     recErr.Error(),
		})
	}
}

// generateNode 单个节点的重试循环：格式化提示词 -> 调用 LLM -> 解析校验。
// 可重试的失败把错误信息带入下一次提示词；预算耗尽返回 GenerationExhaustedError
func generateNode[T any](
	ctx context.Context,
	r nodeRun,
	coord models.Coordinate,
	budget int,
	buildPrompt func(priorErrors string) (string, error),
	parse func(raw string) ParseResult[T],
) (T, error) {
	var zero T
	d := r.svc
	priorErrors := NoPriorErrors
	var lastErr error

	for attempt := 1; attempt <= budget; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		prompt, err := buildPrompt(priorErrors)
		if err != nil {
			r.record(ctx, coord, attempt, journal.OutcomeFatal, err, 0)
			return zero, err
		}

		d.metrics.IncrementCounter(utils.MetricLLMAttempts)
		start := time.Now()
		raw, err := d.llm.Invoke(ctx, prompt, priorErrors)
		latency := time.Since(start)

		var result ParseResult[T]
		switch {
		case err == nil:
			result = parse(raw)
		case ctx.Err() != nil || apperrors.IsConfigurationError(err):
			result = Fatal[T](err)
		default:
			result = Retryable[T](apperrors.NewProcessingError(fmt.Sprintf("LLM call failed: %v", err), err))
		}

		switch {
		case result.IsOk():
			r.record(ctx, coord, attempt, journal.OutcomeSucceeded, nil, latency)
			d.metrics.IncrementCounter(utils.MetricNodesGenerated)
			return result.Value, nil
		case result.IsFatal():
			r.record(ctx, coord, attempt, journal.OutcomeFatal, result.Err, latency)
			d.logger.Error("generation aborted", map[string]interface{}{
				"project":    r.project,
				"coordinate": coord.String(),
				"attempt":    attempt,
				"err":        result.Err.Error(),
			})
			return zero, result.Err
		}

		r.record(ctx, coord, attempt, journal.OutcomeRetryable, result.Err, latency)
		d.metrics.IncrementCounter(utils.MetricLLMRetries)
		lastErr = result.Err
		priorErrors = fmt.Sprintf("Attempt %d for %s failed: %s", attempt, coord, result.Err.Error())
		d.logger.Warn("generation attempt failed, retrying", map[string]interface{}{
			"project":    r.project,
			"coordinate": coord.String(),
			"attempt":    attempt,
			"remaining":  budget - attempt,
			"err":        result.Err.Error(),
		})
	}

	d.metrics.IncrementCounter(utils.MetricNodesExhausted)
	exhausted := apperrors.NewGenerationExhaustedError(coord.String(), budget, lastErr)
	d.logger.Error("generation exhausted retry budget", map[string]interface{}{
		"project":    r.project,
		"coordinate": coord.String(),
		"attempt":    budget,
		"err":        exhausted.Error(),
	})
	return zero, exhausted
}
