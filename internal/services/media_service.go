// internal/services/media_service.go
package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Corphon/SceneDirector/internal/errors"
	"github.com/Corphon/SceneDirector/internal/media"
	"github.com/Corphon/SceneDirector/internal/models"
	"github.com/Corphon/SceneDirector/internal/utils"
)

// MediaStages 批量生成时要执行的阶段
type MediaStages struct {
	Images    bool `json:"images"`
	Narration bool `json:"narration"`
	Music     bool `json:"music"`
	Video     bool `json:"video"`
	Compose   bool `json:"compose"`
	Overwrite bool `json:"overwrite"`
}

// AllStages 全部阶段，不覆盖已有文件
func AllStages() MediaStages {
	return MediaStages{Images: true, Narration: true, Music: true, Video: true, Compose: true}
}

// Any 是否至少选择了一个阶段
func (s MediaStages) Any() bool {
	return s.Images || s.Narration || s.Music || s.Video || s.Compose
}

// MediaReport 批量生成结果。单个文件失败不会中断其它文件，只记录在 Failures 中
type MediaReport struct {
	Project   string                  `json:"project"`
	Generated int                     `json:"generated"`
	Skipped   int                     `json:"skipped"`
	Failures  apperrors.MediaFailures `json:"failures"`
}

// ImageEntry 图片列表中的一项
type ImageEntry struct {
	ChapterIndex int    `json:"chapter_index"`
	SceneIndex   int    `json:"scene_index"`
	ShotIndex    int    `json:"shot_index"`
	Frame        string `json:"frame"`
	Status       string `json:"status"` // completed, pending
	Description  string `json:"description"`
	Path         string `json:"path"`
}

const (
	ImageStatusCompleted = "completed"
	ImageStatusPending   = "pending"
)

// MediaService 读取完成的脚本，为每个镜头/场景驱动媒体适配器。从不修改脚本文档
type MediaService struct {
	scripts     ScriptStore
	files       media.Store
	suite       *media.Suite
	concurrency int
	metrics     *utils.MetricsCollector
	logger      *utils.Logger
}

// NewMediaService 创建媒体服务；concurrency 为同时进行的生成任务数
func NewMediaService(scripts ScriptStore, files media.Store, suite *media.Suite, concurrency int, metrics *utils.MetricsCollector) *MediaService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &MediaService{
		scripts:     scripts,
		files:       files,
		suite:       suite,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      utils.GetLogger(),
	}
}

type mediaJob struct {
	path string
	run  func(ctx context.Context) (media.Result, error)
}

func (m *MediaService) load(ctx context.Context, project string) (*models.Script, error) {
	script, err := m.scripts.TryLoad(ctx, project)
	if err != nil {
		return nil, err
	}
	if script == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("script not found for project %q", project), nil)
	}
	return script, nil
}

// GenerateMedia 按阶段批量生成：图片/旁白/音乐 -> 视频 -> 合成。
// 视频依赖图片，合成依赖视频和音频，所以阶段之间顺序执行，阶段内部并发
func (m *MediaService) GenerateMedia(ctx context.Context, project string, stages MediaStages, tracker *ProgressTracker) (*MediaReport, error) {
	if !stages.Any() {
		return nil, apperrors.NewValidationError("no media stage selected", nil)
	}
	script, err := m.load(ctx, project)
	if err != nil {
		return nil, err
	}

	phases := [][]mediaJob{
		m.assetJobs(script, stages),
		m.videoJobs(script, stages),
		m.composeJobs(script, stages),
	}
	total := 0
	for _, jobs := range phases {
		total += len(jobs)
	}

	report := &MediaReport{Project: project, Failures: apperrors.MediaFailures{}}
	progress := &batchProgress{tracker: tracker, total: total}
	for _, jobs := range phases {
		if err := m.runJobs(ctx, jobs, report, progress); err != nil {
			return report, err
		}
	}

	m.logger.Info("media batch finished", map[string]interface{}{
		"project":   project,
		"generated": report.Generated,
		"skipped":   report.Skipped,
		"failures":  len(report.Failures),
	})
	return report, nil
}

type batchProgress struct {
	mu      sync.Mutex
	tracker *ProgressTracker
	done    int
	total   int
}

func (p *batchProgress) step(path string) {
	p.mu.Lock()
	p.done++
	done := p.done
	p.mu.Unlock()
	if p.total > 0 {
		p.tracker.UpdateProgress(done*100/p.total, fmt.Sprintf("%d/%d %s", done, p.total, path))
	}
}

// runJobs 并发执行一个阶段。单个任务失败只记录，只有 ctx 取消才返回错误
func (m *MediaService) runJobs(ctx context.Context, jobs []mediaJob, report *MediaReport, progress *batchProgress) error {
	if len(jobs) == 0 {
		return nil
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for _, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := job.run(gctx)
			progress.step(job.path)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				m.metrics.IncrementCounter(utils.MetricMediaFailures)
				m.logger.Warn("media generation failed", map[string]interface{}{
					"path": job.path,
					"err":  err.Error(),
				})
				report.Failures = append(report.Failures, apperrors.MediaFailure{Path: job.path, Err: err.Error()})
			case res.Skipped:
				report.Skipped++
			default:
				report.Generated++
			}
			return nil
		})
	}
	return g.Wait()
}

func withStyle(d models.ProjectDetails, description string) string {
	return imageStyle(d.BlackAndWhite) + ". " + description
}

// forEachScene 跳过占位场景
func forEachScene(script *models.Script, fn func(ch models.Chapter, sc models.Scene)) {
	for _, ch := range script.Chapters {
		for _, sc := range ch.Scenes {
			if sc.IsPlaceholder() {
				continue
			}
			fn(ch, sc)
		}
	}
}

func (m *MediaService) assetJobs(script *models.Script, stages MediaStages) []mediaJob {
	d := script.ProjectDetails
	project := d.Project
	var jobs []mediaJob
	forEachScene(script, func(ch models.Chapter, sc models.Scene) {
		if stages.Images {
			for _, shot := range sc.Shots {
				seed := media.ShotSeed(project, ch.ChapterNumber, sc.SceneNumber, shot.ShotNumber)
				frames := []struct {
					frame media.Frame
					desc  string
				}{
					{media.FrameOpening, shot.OpeningDescription()},
					{media.FrameClosing, shot.ClosingDescription()},
				}
				for _, f := range frames {
					req := media.Request{
						Description: withStyle(d, f.desc),
						Path:        media.ShotImagePath(project, ch.ChapterNumber, sc.SceneNumber, shot.ShotNumber, f.frame),
						Seed:        &seed,
						Overwrite:   stages.Overwrite,
					}
					jobs = append(jobs, m.adapterJob(m.suite.Images, req))
				}
			}
		}
		if stages.Narration && sc.NarrationText != "" {
			jobs = append(jobs, m.adapterJob(m.suite.Narration, media.Request{
				Description: sc.NarrationText,
				Path:        media.NarrationPath(project, ch.ChapterNumber, sc.SceneNumber),
				Overwrite:   stages.Overwrite,
			}))
		}
		if stages.Music {
			seed := media.MusicSeed(ch.ChapterNumber, sc.SceneNumber)
			jobs = append(jobs, m.adapterJob(m.suite.Music, media.Request{
				Description: fmt.Sprintf("Background music for a %s scene: %s", d.Genre, sc.MainStory),
				Path:        media.MusicPath(project, ch.ChapterNumber, sc.SceneNumber),
				Seed:        &seed,
				Overwrite:   stages.Overwrite,
			}))
		}
	})
	return jobs
}

func (m *MediaService) videoJobs(script *models.Script, stages MediaStages) []mediaJob {
	if !stages.Video {
		return nil
	}
	project := script.ProjectDetails.Project
	var jobs []mediaJob
	forEachScene(script, func(ch models.Chapter, sc models.Scene) {
		for _, shot := range sc.Shots {
			seed := media.ShotSeed(project, ch.ChapterNumber, sc.SceneNumber, shot.ShotNumber)
			req := media.Request{
				Description: shot.DirectorInstructions,
				Path:        media.ShotVideoPath(project, ch.ChapterNumber, sc.SceneNumber, shot.ShotNumber),
				Seed:        &seed,
				Overwrite:   stages.Overwrite,
				FirstFrame:  media.ShotImagePath(project, ch.ChapterNumber, sc.SceneNumber, shot.ShotNumber, media.FrameOpening),
			}
			if !shot.StillImage {
				req.LastFrame = media.ShotImagePath(project, ch.ChapterNumber, sc.SceneNumber, shot.ShotNumber, media.FrameClosing)
			}
			jobs = append(jobs, m.adapterJob(m.suite.Video, req))
		}
	})
	return jobs
}

func (m *MediaService) composeJobs(script *models.Script, stages MediaStages) []mediaJob {
	if !stages.Compose {
		return nil
	}
	project := script.ProjectDetails.Project
	var jobs []mediaJob
	forEachScene(script, func(ch models.Chapter, sc models.Scene) {
		chapter, scene, shots := ch.ChapterNumber, sc.SceneNumber, len(sc.Shots)
		if shots == 0 {
			return
		}
		jobs = append(jobs, mediaJob{
			path: media.FinalScenePath(project, chapter, scene),
			run: func(ctx context.Context) (media.Result, error) {
				return m.suite.Compositor.ComposeScene(ctx, project, chapter, scene, shots, stages.Overwrite)
			},
		})
	})
	return jobs
}

func (m *MediaService) adapterJob(adapter media.Adapter, req media.Request) mediaJob {
	return mediaJob{
		path: req.Path,
		run: func(ctx context.Context) (media.Result, error) {
			return adapter.Generate(ctx, req)
		},
	}
}

// ListImages 每个镜头的开场和结束图片及其状态
func (m *MediaService) ListImages(ctx context.Context, project string) ([]ImageEntry, error) {
	script, err := m.load(ctx, project)
	if err != nil {
		return nil, err
	}
	entries := []ImageEntry{}
	for ci, ch := range script.Chapters {
		for si, sc := range ch.Scenes {
			for shi, shot := range sc.Shots {
				for _, frame := range []media.Frame{media.FrameOpening, media.FrameClosing} {
					desc := shot.OpeningDescription()
					if frame == media.FrameClosing {
						desc = shot.ClosingDescription()
					}
					path := media.ShotImagePath(project, ch.ChapterNumber, sc.SceneNumber, shot.ShotNumber, frame)
					status := ImageStatusPending
					if m.files.FileExists(ctx, path) {
						status = ImageStatusCompleted
					}
					entries = append(entries, ImageEntry{
						ChapterIndex: ci,
						SceneIndex:   si,
						ShotIndex:    shi,
						Frame:        string(frame),
						Status:       status,
						Description:  desc,
						Path:         path,
					})
				}
			}
		}
	}
	return entries, nil
}

// RegenerateImage 用新的随机种子覆盖单张图片；customPrompt 非空时替换镜头描述
func (m *MediaService) RegenerateImage(ctx context.Context, project string, chapterIdx, sceneIdx, shotIdx int, customPrompt string, frame media.Frame) (media.Result, error) {
	script, err := m.load(ctx, project)
	if err != nil {
		return media.Result{}, err
	}
	if err := script.Lookup(models.ShotCoordinate(chapterIdx, sceneIdx, shotIdx)); err != nil {
		return media.Result{}, apperrors.NewNotFoundError(err.Error(), err)
	}
	ch := script.Chapters[chapterIdx]
	sc := ch.Scenes[sceneIdx]
	shot := sc.Shots[shotIdx]

	desc := shot.OpeningDescription()
	if frame == media.FrameClosing {
		desc = shot.ClosingDescription()
	}
	if customPrompt != "" {
		desc = customPrompt
	}
	seed := rand.Int64N(1 << 31)
	res, err := m.suite.Images.Generate(ctx, media.Request{
		Description: withStyle(script.ProjectDetails, desc),
		Path:        media.ShotImagePath(project, ch.ChapterNumber, sc.SceneNumber, shot.ShotNumber, frame),
		Seed:        &seed,
		Overwrite:   true,
	})
	if err != nil {
		m.metrics.IncrementCounter(utils.MetricMediaFailures)
		return res, err
	}
	return res, nil
}
