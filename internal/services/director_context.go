// internal/services/director_context.go
package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Corphon/SceneDirector/internal/models"
	"github.com/Corphon/SceneDirector/internal/prompts"
)

const notAvailable = "N/A"

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return notAvailable
	}
	return s
}

func imageStyle(blackAndWhite bool) string {
	if blackAndWhite {
		return "Black and white image"
	}
	return "Color image"
}

// 只有坐标指向具体节点时才有值的变量
var nodeBindingKeys = []string{
	"chapter_number", "chapter_title", "chapter_high_level_description",
	"previous_scenes", "following_scenes", "scene_number",
	"general_scene_description_and_motivations", "scene_narration",
	"previous_shots", "following_shots", "shot_number",
}

// buildBindings 组装节点提示词的全部上下文：项目参数、父节点描述、之前和之后的兄弟节点。
// 坐标中不适用的层级对应的变量取 N/A
func buildBindings(script *models.Script, c models.Coordinate, instructions, priorErrors string) prompts.Bindings {
	d := script.ProjectDetails
	b := prompts.Bindings{
		"genre":                      d.Genre,
		"subject":                    d.Subject,
		"movie_general_instructions": orNA(d.MovieGeneralInstructions),
		"story_background":           orNA(d.StoryBackground),
		"narration_instructions":     orNA(d.NarrationInstructions),
		"main_character_description": orNA(d.MainCharacterDescription),
		"number_of_chapters":         strconv.Itoa(d.NumberOfChapters),
		"number_of_scenes":           strconv.Itoa(d.NumberOfScenes),
		"number_of_shots":            strconv.Itoa(d.NumberOfShots),
		"black_and_white":            imageStyle(d.BlackAndWhite),
		"previous_generation_error":  orNA(priorErrors),
		"custom_instructions":        orNA(instructions),
	}
	for _, key := range nodeBindingKeys {
		b[key] = notAvailable
	}
	b["previous_chapters"] = describeChapters(script.Chapters, c.Chapter)

	if c.Chapter < 0 {
		return b
	}
	b["chapter_number"] = strconv.Itoa(c.Chapter + 1)
	if c.Chapter >= len(script.Chapters) {
		return b
	}
	chapter := script.Chapters[c.Chapter]
	b["chapter_title"] = orNA(chapter.ChapterTitle)
	b["chapter_high_level_description"] = orNA(chapter.ChapterDescription)

	if c.Scene < 0 {
		return b
	}
	b["scene_number"] = strconv.Itoa(c.Scene + 1)
	b["previous_scenes"] = describeScenes(chapter, 0, c.Scene, d.NumberOfScenes)
	b["following_scenes"] = describeScenes(chapter, c.Scene+1, len(chapter.Scenes), d.NumberOfScenes)
	if c.Scene >= len(chapter.Scenes) {
		return b
	}
	scene := chapter.Scenes[c.Scene]
	b["general_scene_description_and_motivations"] = orNA(scene.MainStory)
	b["scene_narration"] = orNA(scene.NarrationText)

	if c.Shot < 0 {
		return b
	}
	b["shot_number"] = strconv.Itoa(c.Shot + 1)
	b["previous_shots"] = describeShots(d, chapter, scene, 0, c.Shot)
	b["following_shots"] = describeShots(d, chapter, scene, c.Shot+1, len(scene.Shots))
	return b
}

// describeChapters 除 skip 以外所有章节的标题、描述和理由
func describeChapters(chapters []models.Chapter, skip int) string {
	var lines []string
	for i, ch := range chapters {
		if i == skip {
			continue
		}
		lines = append(lines, fmt.Sprintf("Chapter %d: %s - %s", ch.ChapterNumber, ch.ChapterTitle, ch.ChapterDescription))
		if ch.Reasoning != "" {
			lines = append(lines, fmt.Sprintf("Chapter %d reasoning: %s", ch.ChapterNumber, ch.Reasoning))
		}
	}
	if len(lines) == 0 {
		return notAvailable
	}
	return strings.Join(lines, "\n")
}

// describeScenes [from, to) 区间内场景的故事、理由和旁白，占位场景跳过
func describeScenes(chapter models.Chapter, from, to, total int) string {
	if to > len(chapter.Scenes) {
		to = len(chapter.Scenes)
	}
	var stories, reasoning, narration []string
	for i := from; i < to; i++ {
		scene := chapter.Scenes[i]
		if scene.IsPlaceholder() {
			continue
		}
		stories = append(stories, fmt.Sprintf("Scene %d/%d: %s", scene.SceneNumber, total, scene.MainStory))
		if scene.Reasoning != "" {
			reasoning = append(reasoning, fmt.Sprintf("Scene %d reasoning: %s", scene.SceneNumber, scene.Reasoning))
		}
		if scene.NarrationText != "" {
			narration = append(narration, fmt.Sprintf("Scene %d narration: %s", scene.SceneNumber, scene.NarrationText))
		}
	}
	if len(stories) == 0 {
		return notAvailable
	}
	lines := append(append(stories, reasoning...), narration...)
	return strings.Join(lines, "\n")
}

// describeShots [from, to) 区间内镜头的导演指令，覆盖整个场景
func describeShots(d models.ProjectDetails, chapter models.Chapter, scene models.Scene, from, to int) string {
	if to > len(scene.Shots) {
		to = len(scene.Shots)
	}
	var lines []string
	for i := from; i < to; i++ {
		shot := scene.Shots[i]
		if shot.DirectorInstructions == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("Shot %d/%d in scene %d/%d in chapter %d/%d director instructions : %s",
			shot.ShotNumber, d.NumberOfShots,
			scene.SceneNumber, d.NumberOfScenes,
			chapter.ChapterNumber, d.NumberOfChapters,
			shot.DirectorInstructions))
	}
	if len(lines) == 0 {
		return notAvailable
	}
	return strings.Join(lines, "\n")
}
