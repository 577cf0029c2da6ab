// internal/models/coordinate.go
package models

import "fmt"

// Coordinate 节点坐标，索引从0开始；-1 表示该层级不适用
type Coordinate struct {
	Chapter int `json:"chapter_index"`
	Scene   int `json:"scene_index"`
	Shot    int `json:"shot_index"`
}

// ChapterCoordinate 章节坐标
func ChapterCoordinate(chapterIdx int) Coordinate {
	return Coordinate{Chapter: chapterIdx, Scene: -1, Shot: -1}
}

// SceneCoordinate 场景坐标
func SceneCoordinate(chapterIdx, sceneIdx int) Coordinate {
	return Coordinate{Chapter: chapterIdx, Scene: sceneIdx, Shot: -1}
}

// ShotCoordinate 镜头坐标
func ShotCoordinate(chapterIdx, sceneIdx, shotIdx int) Coordinate {
	return Coordinate{Chapter: chapterIdx, Scene: sceneIdx, Shot: shotIdx}
}

// ChapterListCoordinate 整个章节列表
func ChapterListCoordinate() Coordinate {
	return Coordinate{Chapter: -1, Scene: -1, Shot: -1}
}

// SceneListCoordinate 某章节的场景列表
func SceneListCoordinate(chapterIdx int) Coordinate {
	return Coordinate{Chapter: chapterIdx, Scene: -1, Shot: -1}
}

// String 以1为基数输出，例如 "chapter 2 / scene 1 / shot 3"
func (c Coordinate) String() string {
	if c.Chapter < 0 {
		return "chapters"
	}
	s := fmt.Sprintf("chapter %d", c.Chapter+1)
	if c.Scene >= 0 {
		s += fmt.Sprintf(" / scene %d", c.Scene+1)
	}
	if c.Shot >= 0 {
		s += fmt.Sprintf(" / shot %d", c.Shot+1)
	}
	return s
}

// Lookup 校验坐标在文档中存在，返回描述无效层级的错误
func (s *Script) Lookup(c Coordinate) error {
	if c.Chapter < 0 || c.Chapter >= len(s.Chapters) {
		return fmt.Errorf("chapter index %d out of range (%d chapters)", c.Chapter, len(s.Chapters))
	}
	if c.Scene < 0 {
		return nil
	}
	scenes := s.Chapters[c.Chapter].Scenes
	if c.Scene >= len(scenes) {
		return fmt.Errorf("scene index %d out of range in chapter %d (%d scenes)", c.Scene, c.Chapter+1, len(scenes))
	}
	if c.Shot < 0 {
		return nil
	}
	shots := scenes[c.Scene].Shots
	if c.Shot >= len(shots) {
		return fmt.Errorf("shot index %d out of range in chapter %d scene %d (%d shots)", c.Shot, c.Chapter+1, c.Scene+1, len(shots))
	}
	return nil
}
