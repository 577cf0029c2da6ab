// internal/media/backend.go
package media

import (
	"context"
	"fmt"

	apperrors "github.com/Corphon/SceneDirector/internal/errors"
)

// ImageBackend 根据描述生成一张 PNG 图片
type ImageBackend interface {
	GenerateImage(ctx context.Context, prompt string, seed int64) ([]byte, error)
}

// SpeechBackend 把旁白文本合成为 WAV 音频
type SpeechBackend interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// MusicBackend 生成 MP3 背景音乐
type MusicBackend interface {
	ComposeMusic(ctx context.Context, description string, seed int64) ([]byte, error)
}

// VideoRequest 图生视频请求，首帧和尾帧至少有一个
type VideoRequest struct {
	Prompt     string
	FirstFrame []byte
	LastFrame  []byte
	Seed       int64
}

// Mode 日志用的模式名
func (r VideoRequest) Mode() string {
	switch {
	case r.FirstFrame != nil && r.LastFrame != nil:
		return "first_last_frame"
	case r.FirstFrame != nil:
		return "first_frame"
	default:
		return "last_frame"
	}
}

// VideoBackend 生成 MP4 镜头视频
type VideoBackend interface {
	GenerateVideo(ctx context.Context, req VideoRequest) ([]byte, error)
}

// unconfigured 未配置的后端，每次调用都返回配置错误
type unconfigured struct {
	kind string
	hint string
}

func (u unconfigured) err() error {
	return apperrors.NewConfigurationError(fmt.Sprintf("%s backend not configured: set %s or MEDIA_MOCK=true", u.kind, u.hint), nil)
}

func (u unconfigured) GenerateImage(context.Context, string, int64) ([]byte, error) {
	return nil, u.err()
}
func (u unconfigured) Synthesize(context.Context, string) ([]byte, error) { return nil, u.err() }
func (u unconfigured) ComposeMusic(context.Context, string, int64) ([]byte, error) {
	return nil, u.err()
}
func (u unconfigured) GenerateVideo(context.Context, VideoRequest) ([]byte, error) {
	return nil, u.err()
}
