// internal/media/suite.go
package media

import (
	"github.com/Corphon/SceneDirector/internal/config"
	"github.com/Corphon/SceneDirector/internal/utils"
)

// Suite 按配置组装好的全部适配器。四个生成适配器共享一个限速器
type Suite struct {
	Images     Adapter
	Narration  Adapter
	Music      Adapter
	Video      Adapter
	Compositor *Compositor
}

// NewSuite MEDIA_MOCK 打开时全部使用离线后端；否则按已配置的服务选择后端
func NewSuite(cfg config.MediaConfig, store Store, metrics *utils.MetricsCollector) *Suite {
	limiter := NewLimiter(cfg.RatePerSec)

	var (
		images    ImageBackend  = unconfigured{kind: "image", hint: "OPENAI_API_KEY"}
		narration SpeechBackend = unconfigured{kind: "narration", hint: "OPENAI_API_KEY"}
		music     MusicBackend  = unconfigured{kind: "music", hint: "MUSIC_API_URL"}
		video     VideoBackend  = unconfigured{kind: "video", hint: "VIDEO_API_URL"}
	)

	switch {
	case cfg.Mock:
		images, narration, music, video = MockBackend{}, MockBackend{}, MockBackend{}, MockBackend{}
	default:
		if cfg.OpenAIAPIKey != "" {
			oa := NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.ImageModel, cfg.SpeechModel, cfg.Voice)
			images, narration = oa, oa
		}
		if cfg.MusicAPIURL != "" {
			music = NewMusicTaskBackend(NewTaskClient(cfg.MusicAPIURL, cfg.MusicToken))
		}
		if cfg.VideoAPIURL != "" {
			video = NewVideoTaskBackend(NewTaskClient(cfg.VideoAPIURL, cfg.VideoAPIKey))
		}
	}

	compositor := NewCompositor(store, cfg.FFmpegPath)
	if cfg.Mock {
		compositor.WithRunner(mockRunner)
	}

	return &Suite{
		Images:     NewImageAdapter(store, images, limiter, metrics),
		Narration:  NewNarrationAdapter(store, narration, limiter, metrics),
		Music:      NewMusicAdapter(store, music, limiter, metrics),
		Video:      NewVideoAdapter(store, video, limiter, metrics),
		Compositor: compositor,
	}
}
