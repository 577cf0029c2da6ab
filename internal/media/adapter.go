// internal/media/adapter.go
package media

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/Corphon/SceneDirector/internal/errors"
	"github.com/Corphon/SceneDirector/internal/storage"
	"github.com/Corphon/SceneDirector/internal/utils"
)

// Request 一次媒体生成请求
type Request struct {
	Description string // 画面、旁白或音乐描述
	Path        string // 逻辑路径，例如 project/chapter_1/scene_2/shot_3_opening.png
	Seed        *int64
	Overwrite   bool

	// 仅视频使用：同一镜头的开场/结束图片逻辑路径
	FirstFrame string
	LastFrame  string
}

// Result 生成结果。Skipped 表示文件已存在且未要求覆盖
type Result struct {
	Path      string `json:"path"`
	LocalPath string `json:"local_path"`
	Generated bool   `json:"generated"`
	Skipped   bool   `json:"skipped"`
}

// Adapter 所有媒体适配器的统一接口，只读取镜头描述，只写入坐标路径下的文件
type Adapter interface {
	Kind() string
	Generate(ctx context.Context, req Request) (Result, error)
}

// Store 适配器需要的文档存储能力，由 storage.DocumentStore 实现
type Store interface {
	FileExists(ctx context.Context, key string) bool
	LocalPath(ctx context.Context, key string) (string, error)
	Publish(ctx context.Context, key string) error
	Local() *storage.FileStorage
}

type produceFunc func(ctx context.Context, req Request) ([]byte, error)

// blobAdapter 通用流程：存在检查 -> 限速 -> 调用后端 -> 写本地 -> 上传持久化存储
type blobAdapter struct {
	kind    string
	store   Store
	limiter *rate.Limiter
	produce produceFunc
	metrics *utils.MetricsCollector
	logger  *utils.Logger
}

// NewLimiter 每秒 perSec 次请求；perSec<=0 表示不限速
func NewLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSec), 2)
}

func newBlobAdapter(kind string, store Store, limiter *rate.Limiter, metrics *utils.MetricsCollector, produce produceFunc) *blobAdapter {
	if limiter == nil {
		limiter = NewLimiter(0)
	}
	return &blobAdapter{
		kind:    kind,
		store:   store,
		limiter: limiter,
		produce: produce,
		metrics: metrics,
		logger:  utils.GetLogger(),
	}
}

func (a *blobAdapter) Kind() string { return a.kind }

func (a *blobAdapter) Generate(ctx context.Context, req Request) (Result, error) {
	result := Result{Path: req.Path}
	if _, err := storage.CleanKey(req.Path); err != nil {
		return result, apperrors.NewValidationError(err.Error(), err)
	}

	if !req.Overwrite && a.store.FileExists(ctx, req.Path) {
		localPath, err := a.store.LocalPath(ctx, req.Path)
		if err != nil {
			return result, err
		}
		a.metrics.IncrementCounter(utils.MetricMediaSkipped)
		result.LocalPath = localPath
		result.Skipped = true
		return result, nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return result, err
	}

	start := time.Now()
	data, err := a.produce(ctx, req)
	a.metrics.ObserveDuration(utils.HistogramMediaLatency, time.Since(start))
	if err != nil {
		return result, apperrors.NewMediaGenerationError(fmt.Sprintf("%s generation failed for %s", a.kind, req.Path), err)
	}
	if len(data) == 0 {
		return result, apperrors.NewMediaGenerationError(fmt.Sprintf("%s backend returned no data for %s", a.kind, req.Path), nil)
	}

	if err := a.store.Local().WriteStream(req.Path, bytes.NewReader(data)); err != nil {
		return result, apperrors.NewStorageError(fmt.Sprintf("write %s", req.Path), err)
	}
	if err := a.store.Publish(ctx, req.Path); err != nil {
		return result, err
	}

	localPath, err := a.store.Local().Path(req.Path)
	if err != nil {
		return result, apperrors.NewValidationError(err.Error(), err)
	}
	a.metrics.IncrementCounter(utils.MetricMediaGenerated)
	a.logger.Debug("media generated", map[string]interface{}{
		"kind":  a.kind,
		"path":  req.Path,
		"bytes": len(data),
	})
	result.LocalPath = localPath
	result.Generated = true
	return result, nil
}

func seedOr(seed *int64, fallback int64) int64 {
	if seed != nil {
		return *seed
	}
	return fallback
}

// NewImageAdapter 开场/结束图片
func NewImageAdapter(store Store, backend ImageBackend, limiter *rate.Limiter, metrics *utils.MetricsCollector) Adapter {
	return newBlobAdapter("image", store, limiter, metrics, func(ctx context.Context, req Request) ([]byte, error) {
		return backend.GenerateImage(ctx, req.Description, seedOr(req.Seed, 0))
	})
}

// NewNarrationAdapter 场景旁白
func NewNarrationAdapter(store Store, backend SpeechBackend, limiter *rate.Limiter, metrics *utils.MetricsCollector) Adapter {
	return newBlobAdapter("narration", store, limiter, metrics, func(ctx context.Context, req Request) ([]byte, error) {
		return backend.Synthesize(ctx, req.Description)
	})
}

// NewMusicAdapter 场景背景音乐
func NewMusicAdapter(store Store, backend MusicBackend, limiter *rate.Limiter, metrics *utils.MetricsCollector) Adapter {
	return newBlobAdapter("music", store, limiter, metrics, func(ctx context.Context, req Request) ([]byte, error) {
		return backend.ComposeMusic(ctx, req.Description, seedOr(req.Seed, 0))
	})
}

// NewVideoAdapter 镜头视频。依次尝试首尾帧、仅首帧、仅尾帧
func NewVideoAdapter(store Store, backend VideoBackend, limiter *rate.Limiter, metrics *utils.MetricsCollector) Adapter {
	return newBlobAdapter("video", store, limiter, metrics, func(ctx context.Context, req Request) ([]byte, error) {
		first := readFrame(ctx, store, req.FirstFrame)
		last := readFrame(ctx, store, req.LastFrame)
		seed := seedOr(req.Seed, 0)

		var attempts []VideoRequest
		if first != nil && last != nil {
			attempts = append(attempts, VideoRequest{Prompt: req.Description, FirstFrame: first, LastFrame: last, Seed: seed})
		}
		if first != nil {
			attempts = append(attempts, VideoRequest{Prompt: req.Description, FirstFrame: first, Seed: seed})
		}
		if last != nil {
			attempts = append(attempts, VideoRequest{Prompt: req.Description, LastFrame: last, Seed: seed})
		}
		if len(attempts) == 0 {
			return nil, fmt.Errorf("no opening or closing image available for %s", req.Path)
		}

		var lastErr error
		for i, vr := range attempts {
			data, err := backend.GenerateVideo(ctx, vr)
			if err == nil {
				return data, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			utils.GetLogger().Warn("video generation mode failed, falling back", map[string]interface{}{
				"path":    req.Path,
				"mode":    vr.Mode(),
				"attempt": i + 1,
				"err":     err.Error(),
			})
		}
		return nil, lastErr
	})
}

func readFrame(ctx context.Context, store Store, key string) []byte {
	if key == "" || !store.FileExists(ctx, key) {
		return nil
	}
	if _, err := store.LocalPath(ctx, key); err != nil {
		return nil
	}
	data, err := store.Local().ReadFile(key)
	if err != nil {
		return nil
	}
	return data
}
