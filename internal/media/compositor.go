// internal/media/compositor.go
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	apperrors "github.com/Corphon/SceneDirector/internal/errors"
	"github.com/Corphon/SceneDirector/internal/utils"
)

// CommandRunner 执行外部命令，测试中可以替换
type CommandRunner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		tail := strings.TrimSpace(string(out))
		if len(tail) > 512 {
			tail = tail[len(tail)-512:]
		}
		return fmt.Errorf("%s: %w: %s", name, err, tail)
	}
	return nil
}

// musicVolume 背景音乐相对旁白的音量
const musicVolume = "0.1"

// Compositor 用 ffmpeg 把镜头视频按顺序拼接，并混合旁白与背景音乐，输出 final_scene.mp4
type Compositor struct {
	store      Store
	ffmpegPath string
	run        CommandRunner
	logger     *utils.Logger
}

func NewCompositor(store Store, ffmpegPath string) *Compositor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Compositor{store: store, ffmpegPath: ffmpegPath, run: execRunner, logger: utils.GetLogger()}
}

// WithRunner 替换命令执行器
func (c *Compositor) WithRunner(run CommandRunner) *Compositor {
	c.run = run
	return c
}

// ComposeScene shots 为场景的镜头数；缺少的镜头视频会被跳过，一个都没有时报错
func (c *Compositor) ComposeScene(ctx context.Context, project string, chapter, scene, shots int, overwrite bool) (Result, error) {
	out := FinalScenePath(project, chapter, scene)
	result := Result{Path: out}
	if !overwrite && c.store.FileExists(ctx, out) {
		localPath, err := c.store.LocalPath(ctx, out)
		if err != nil {
			return result, err
		}
		result.LocalPath = localPath
		result.Skipped = true
		return result, nil
	}

	var videos []string
	for shot := 1; shot <= shots; shot++ {
		key := ShotVideoPath(project, chapter, scene, shot)
		if !c.store.FileExists(ctx, key) {
			c.logger.Warn("shot video missing, skipped in composition", map[string]interface{}{"path": key})
			continue
		}
		local, err := c.store.LocalPath(ctx, key)
		if err != nil {
			return result, err
		}
		videos = append(videos, local)
	}
	if len(videos) == 0 {
		return result, apperrors.NewMediaGenerationError(fmt.Sprintf("no shot videos to compose for %s", out), nil)
	}

	narration := c.optionalLocal(ctx, NarrationPath(project, chapter, scene))
	music := c.optionalLocal(ctx, MusicPath(project, chapter, scene))

	outLocal, err := c.store.Local().Path(out)
	if err != nil {
		return result, apperrors.NewValidationError(err.Error(), err)
	}
	workDir, err := os.MkdirTemp("", "compose-*")
	if err != nil {
		return result, apperrors.NewMediaGenerationError("create work dir", err)
	}
	defer os.RemoveAll(workDir)

	listFile := filepath.Join(workDir, "concat.txt")
	var lines []string
	for _, v := range videos {
		lines = append(lines, fmt.Sprintf("file '%s'", strings.ReplaceAll(v, "'", `'\''`)))
	}
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return result, apperrors.NewMediaGenerationError("write concat list", err)
	}

	joined := filepath.Join(workDir, "joined.mp4")
	if err := c.run(ctx, c.ffmpegPath, "-y", "-f", "concat", "-safe", "0", "-i", listFile, "-c", "copy", joined); err != nil {
		return result, apperrors.NewMediaGenerationError(fmt.Sprintf("concatenate shots for %s", out), err)
	}

	if err := os.MkdirAll(filepath.Dir(outLocal), 0755); err != nil {
		return result, apperrors.NewStorageError("create scene dir", err)
	}
	if err := c.run(ctx, c.ffmpegPath, mixArgs(joined, narration, music, outLocal)...); err != nil {
		return result, apperrors.NewMediaGenerationError(fmt.Sprintf("mix audio for %s", out), err)
	}
	if err := c.store.Publish(ctx, out); err != nil {
		return result, err
	}

	result.LocalPath = outLocal
	result.Generated = true
	return result, nil
}

func (c *Compositor) optionalLocal(ctx context.Context, key string) string {
	if !c.store.FileExists(ctx, key) {
		return ""
	}
	local, err := c.store.LocalPath(ctx, key)
	if err != nil {
		return ""
	}
	return local
}

// mixArgs 旁白与音乐都存在时音乐压低到 10% 后混音；只有一个时直接作为音轨
func mixArgs(video, narration, music, out string) []string {
	args := []string{"-y", "-i", video}
	switch {
	case narration != "" && music != "":
		args = append(args, "-i", narration, "-i", music,
			"-filter_complex", "[2:a]volume="+musicVolume+"[m];[1:a][m]amix=inputs=2:duration=first[a]",
			"-map", "0:v", "-map", "[a]", "-c:v", "copy", "-shortest")
	case narration != "" || music != "":
		audio := narration
		if audio == "" {
			audio = music
		}
		args = append(args, "-i", audio, "-map", "0:v", "-map", "1:a", "-c:v", "copy", "-shortest")
	default:
		args = append(args, "-c", "copy")
	}
	return append(args, out)
}
