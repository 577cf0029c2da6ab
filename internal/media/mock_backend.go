// internal/media/mock_backend.go
package media

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
)

// 1x1 PNG
const mockPixel = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR4nGNgYAAAAAMAASsJTYQAAAAASUVORK5CYII="

// MockBackend 离线后端，返回确定性的占位文件，用于演示和测试
type MockBackend struct{}

func (MockBackend) GenerateImage(ctx context.Context, prompt string, seed int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(mockPixel)
}

// Synthesize 返回一段静音 WAV（16kHz 单声道，0.1秒）
func (MockBackend) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	const sampleRate, samples = 16000, 1600
	dataSize := uint32(samples * 2)
	buf := make([]byte, 44+dataSize)
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], 36+dataSize)
	copy(buf[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	binary.LittleEndian.PutUint16(buf[22:], 1)
	binary.LittleEndian.PutUint32(buf[24:], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:], sampleRate*2)
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], dataSize)
	return buf, nil
}

func (MockBackend) ComposeMusic(ctx context.Context, description string, seed int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("ID3 mock music seed=%d", seed)), nil
}

func (MockBackend) GenerateVideo(ctx context.Context, req VideoRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("mock mp4 mode=%s seed=%d", req.Mode(), req.Seed)), nil
}

// mockRunner 不调用 ffmpeg，只把参数写入输出文件（最后一个参数）
func mockRunner(ctx context.Context, name string, args ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%s: no output file", name)
	}
	out := args[len(args)-1]
	return os.WriteFile(out, []byte("mock composition: "+strings.Join(args, " ")), 0644)
}
