// internal/services/director_parse.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/SceneDirector/internal/errors"
	"github.com/Corphon/SceneDirector/internal/models"
)

type parseKind int

const (
	parseOk parseKind = iota
	parseRetryable
	parseFatal
)

// ParseResult 解析/校验步骤的结果。重试循环只根据 kind 决定继续还是终止
type ParseResult[T any] struct {
	Value T
	Err   error
	kind  parseKind
}

func Ok[T any](v T) ParseResult[T] {
	return ParseResult[T]{Value: v, kind: parseOk}
}

func Retryable[T any](err error) ParseResult[T] {
	return ParseResult[T]{Err: err, kind: parseRetryable}
}

func Fatal[T any](err error) ParseResult[T] {
	return ParseResult[T]{Err: err, kind: parseFatal}
}

func (r ParseResult[T]) IsOk() bool        { return r.kind == parseOk }
func (r ParseResult[T]) IsRetryable() bool { return r.kind == parseRetryable }
func (r ParseResult[T]) IsFatal() bool     { return r.kind == parseFatal }

// decodeObject 清洗并严格解析一个 JSON 对象
func decodeObject(raw string, v interface{}) error {
	cleaned, rest := extractJSONObject(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return apperrors.NewParseError("response is not a JSON object", nil)
	}
	// 对象前后的说明文字可以忽略，但第二个 JSON 值说明响应有歧义
	if strings.ContainsAny(rest, "{[") {
		return apperrors.NewParseError("response contains more than one JSON value", nil)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	if err := dec.Decode(v); err != nil {
		return apperrors.NewParseError(fmt.Sprintf("invalid JSON: %v", err), err)
	}
	return nil
}

// decodeCollection 解析 {"key": [...]} 形式的响应
func decodeCollection(raw, key string, v interface{}) error {
	var wrapper map[string]json.RawMessage
	if err := decodeObject(raw, &wrapper); err != nil {
		return err
	}
	items, ok := wrapper[key]
	if !ok {
		return apperrors.NewParseError(fmt.Sprintf("response is missing required key %q", key), nil)
	}
	trimmed := bytes.TrimSpace(items)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return apperrors.NewParseError(fmt.Sprintf("%q must be a JSON array", key), nil)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return apperrors.NewParseError(fmt.Sprintf("invalid %s: %v", key, err), err)
	}
	return nil
}

func validationFailure(err error) error {
	return apperrors.NewParseError(err.Error(), err)
}

// rawChapter 模型返回的章节。编号由位置决定，不解析 chapter_number
type rawChapter struct {
	ChapterTitle       string   `json:"chapter_title"`
	ChapterDescription string   `json:"chapter_description"`
	Reasoning          string   `json:"reasoning"`
	KeyEvents          []string `json:"key_events"`
	MainCharacters     []string `json:"main_characters"`
}

func (r rawChapter) chapter(number int) models.Chapter {
	return models.Chapter{
		ChapterNumber:      number,
		ChapterTitle:       r.ChapterTitle,
		ChapterDescription: r.ChapterDescription,
		Reasoning:          r.Reasoning,
		KeyEvents:          r.KeyEvents,
		MainCharacters:     r.MainCharacters,
	}
}

// rawScene 同上，不解析 scene_number 和 shots
type rawScene struct {
	MainStory      string   `json:"main_story"`
	NarrationText  string   `json:"narration_text"`
	Reasoning      string   `json:"reasoning"`
	KeyEvents      []string `json:"key_events"`
	MainCharacters []string `json:"main_characters"`
}

func (r rawScene) scene(number int) models.Scene {
	return models.Scene{
		SceneNumber:    number,
		MainStory:      r.MainStory,
		NarrationText:  r.NarrationText,
		Reasoning:      r.Reasoning,
		KeyEvents:      r.KeyEvents,
		MainCharacters: r.MainCharacters,
	}
}

// parseChapterList 整个章节列表，编号按位置重新分配
func parseChapterList(expected int) func(string) ParseResult[[]models.Chapter] {
	return func(raw string) ParseResult[[]models.Chapter] {
		var items []rawChapter
		if err := decodeCollection(raw, "chapters", &items); err != nil {
			return Retryable[[]models.Chapter](err)
		}
		if len(items) != expected {
			return Retryable[[]models.Chapter](apperrors.NewParseError(
				fmt.Sprintf("expected exactly %d chapters, got %d", expected, len(items)), nil))
		}
		chapters := make([]models.Chapter, len(items))
		for i, item := range items {
			chapters[i] = item.chapter(i + 1)
			if err := chapters[i].Validate(); err != nil {
				return Retryable[[]models.Chapter](validationFailure(fmt.Errorf("chapter %d: %w", i+1, err)))
			}
		}
		return Ok(chapters)
	}
}

// parseChapter 单个章节，编号固定为 chapterIdx+1
func parseChapter(chapterIdx int) func(string) ParseResult[models.Chapter] {
	return func(raw string) ParseResult[models.Chapter] {
		var item rawChapter
		if err := decodeObject(raw, &item); err != nil {
			return Retryable[models.Chapter](err)
		}
		chapter := item.chapter(chapterIdx + 1)
		if err := chapter.Validate(); err != nil {
			return Retryable[models.Chapter](validationFailure(err))
		}
		return Ok(chapter)
	}
}

// parseSceneList 某章节的全部场景
func parseSceneList(expected int) func(string) ParseResult[[]models.Scene] {
	return func(raw string) ParseResult[[]models.Scene] {
		var items []rawScene
		if err := decodeCollection(raw, "scenes", &items); err != nil {
			return Retryable[[]models.Scene](err)
		}
		if len(items) != expected {
			return Retryable[[]models.Scene](apperrors.NewParseError(
				fmt.Sprintf("expected exactly %d scenes, got %d", expected, len(items)), nil))
		}
		scenes := make([]models.Scene, len(items))
		for i, item := range items {
			scenes[i] = item.scene(i + 1)
			if err := scenes[i].Validate(); err != nil {
				return Retryable[[]models.Scene](validationFailure(fmt.Errorf("scene %d: %w", i+1, err)))
			}
		}
		return Ok(scenes)
	}
}

// parseScene 单个场景
func parseScene(sceneIdx int) func(string) ParseResult[models.Scene] {
	return func(raw string) ParseResult[models.Scene] {
		var item rawScene
		if err := decodeObject(raw, &item); err != nil {
			return Retryable[models.Scene](err)
		}
		scene := item.scene(sceneIdx + 1)
		if err := scene.Validate(); err != nil {
			return Retryable[models.Scene](validationFailure(err))
		}
		scene.Shots = []models.Shot{}
		return Ok(scene)
	}
}

// rawShot still_image 可能是布尔值也可能是字符串
type rawShot struct {
	DirectorInstructions string          `json:"director_instructions"`
	OpeningFrame         string          `json:"opening_frame"`
	ClosingFrame         string          `json:"closing_frame"`
	StillImage           json.RawMessage `json:"still_image"`
	Reasoning            string          `json:"reasoning"`
}

func decodeLooseBool(raw json.RawMessage) (bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(trimmed, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return models.ParseLooseBool(s), nil
	}
	return false, fmt.Errorf("still_image must be a boolean, got %s", string(trimmed))
}

// parseShot 单个镜头
func parseShot(shotIdx int) func(string) ParseResult[models.Shot] {
	return func(raw string) ParseResult[models.Shot] {
		var r rawShot
		if err := decodeObject(raw, &r); err != nil {
			return Retryable[models.Shot](err)
		}
		still, err := decodeLooseBool(r.StillImage)
		if err != nil {
			return Retryable[models.Shot](validationFailure(err))
		}
		shot := models.Shot{
			ShotNumber:           shotIdx + 1,
			DirectorInstructions: strings.TrimSpace(r.DirectorInstructions),
			OpeningFrame:         strings.TrimSpace(r.OpeningFrame),
			ClosingFrame:         strings.TrimSpace(r.ClosingFrame),
			StillImage:           still,
			Reasoning:            strings.TrimSpace(r.Reasoning),
		}
		if err := shot.Validate(); err != nil {
			return Retryable[models.Shot](validationFailure(err))
		}
		return Ok(shot)
	}
}
