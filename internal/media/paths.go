// internal/media/paths.go
package media

import (
	"fmt"
	"hash/fnv"
	"path"
	"strconv"
)

// Frame 镜头的开场或结束画面
type Frame string

const (
	FrameOpening Frame = "opening"
	FrameClosing Frame = "closing"
)

// ParseFrame 空字符串视为开场画面
func ParseFrame(s string) (Frame, error) {
	switch Frame(s) {
	case "", FrameOpening:
		return FrameOpening, nil
	case FrameClosing:
		return FrameClosing, nil
	}
	return "", fmt.Errorf("unknown frame %q, expected opening or closing", s)
}

// 所有编号都从1开始，与脚本文档中的 chapter_number / scene_number / shot_number 一致

func SceneDir(project string, chapter, scene int) string {
	return path.Join(project, fmt.Sprintf("chapter_%d", chapter), fmt.Sprintf("scene_%d", scene))
}

func ShotImagePath(project string, chapter, scene, shot int, frame Frame) string {
	return path.Join(SceneDir(project, chapter, scene), fmt.Sprintf("shot_%d_%s.png", shot, frame))
}

func NarrationPath(project string, chapter, scene int) string {
	return path.Join(SceneDir(project, chapter, scene), "narration.wav")
}

func MusicPath(project string, chapter, scene int) string {
	return path.Join(SceneDir(project, chapter, scene), "background_music.mp3")
}

func ShotVideoPath(project string, chapter, scene, shot int) string {
	return path.Join(SceneDir(project, chapter, scene), fmt.Sprintf("shot_%d_video.mp4", shot))
}

func FinalScenePath(project string, chapter, scene int) string {
	return path.Join(SceneDir(project, chapter, scene), "final_scene.mp4")
}

// ShotSeed 同一镜头的开场和结束画面使用相同的种子，保证画面风格一致
func ShotSeed(project string, chapter, scene, shot int) int64 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s/%d/%d/%d", project, chapter, scene, shot)
	return int64(h.Sum32() & 0x7fffffff)
}

// MusicSeed 未指定种子时由章节和场景编号拼接得到，例如第12章第3场为 123
func MusicSeed(chapter, scene int) int64 {
	n, err := strconv.ParseInt(fmt.Sprintf("%d%d", chapter, scene), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
