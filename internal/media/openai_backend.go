// internal/media/openai_backend.go
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend 图片使用 images API，旁白使用 speech API
type OpenAIBackend struct {
	client      *openai.Client
	imageModel  string
	imageSize   string
	speechModel string
	voice       string
}

// NewOpenAIBackend 创建 OpenAI 媒体后端
func NewOpenAIBackend(apiKey, imageModel, speechModel, voice string) *OpenAIBackend {
	if imageModel == "" {
		imageModel = openai.CreateImageModelDallE3
	}
	if speechModel == "" {
		speechModel = string(openai.TTSModel1)
	}
	if voice == "" {
		voice = string(openai.VoiceOnyx)
	}
	return &OpenAIBackend{
		client:      openai.NewClient(apiKey),
		imageModel:  imageModel,
		imageSize:   openai.CreateImageSize1792x1024,
		speechModel: speechModel,
		voice:       voice,
	}
}

// GenerateImage images API 不支持种子，同一镜头的一致性依赖描述文本
func (b *OpenAIBackend) GenerateImage(ctx context.Context, prompt string, seed int64) ([]byte, error) {
	resp, err := b.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          b.imageModel,
		N:              1,
		Size:           b.imageSize,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai image request failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, errors.New("openai returned no image data")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return data, nil
}

func (b *OpenAIBackend) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := b.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(b.speechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(b.voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech request failed: %w", err)
	}
	defer resp.Close()
	return io.ReadAll(resp)
}
