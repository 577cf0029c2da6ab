// internal/models/script.go
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaVersion 当前脚本文档的结构版本
const SchemaVersion = 2

// ProjectDetails 项目参数，脚本创建后不再修改
type ProjectDetails struct {
	Project                  string `json:"project" yaml:"project"`
	Genre                    string `json:"genre" yaml:"genre"`
	Subject                  string `json:"subject" yaml:"subject"`
	MovieGeneralInstructions string `json:"movie_general_instructions,omitempty" yaml:"movie_general_instructions"`
	StoryBackground          string `json:"story_background,omitempty" yaml:"story_background"`
	NarrationInstructions    string `json:"narration_instructions,omitempty" yaml:"narration_instructions"`
	MainCharacterDescription string `json:"main_character_description,omitempty" yaml:"main_character_description"`
	NumberOfChapters         int    `json:"number_of_chapters" yaml:"number_of_chapters"`
	NumberOfScenes           int    `json:"number_of_scenes" yaml:"number_of_scenes"`
	NumberOfShots            int    `json:"number_of_shots" yaml:"number_of_shots"`
	BlackAndWhite            bool   `json:"black_and_white" yaml:"black_and_white"`
}

// Validate 检查项目参数
func (d ProjectDetails) Validate() error {
	var problems []string
	if strings.TrimSpace(d.Project) == "" {
		problems = append(problems, "project is required")
	} else if strings.ContainsAny(d.Project, `/\`) || d.Project == "." || d.Project == ".." {
		problems = append(problems, fmt.Sprintf("invalid project name %q", d.Project))
	}
	if strings.TrimSpace(d.Genre) == "" {
		problems = append(problems, "genre is required")
	}
	if d.NumberOfChapters <= 0 {
		problems = append(problems, "number_of_chapters must be positive")
	}
	if d.NumberOfScenes <= 0 {
		problems = append(problems, "number_of_scenes must be positive")
	}
	if d.NumberOfShots <= 0 {
		problems = append(problems, "number_of_shots must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid project details: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Script 项目的根文档，章节/场景/镜头树的唯一数据来源
type Script struct {
	SchemaVersion  int            `json:"schema_version"`
	ProjectDetails ProjectDetails `json:"project_details"`
	Chapters       []Chapter      `json:"chapters"`
}

// Chapter 章节
type Chapter struct {
	ChapterNumber      int      `json:"chapter_number"`
	ChapterTitle       string   `json:"chapter_title"`
	ChapterDescription string   `json:"chapter_description"`
	Reasoning          string   `json:"reasoning,omitempty"`
	KeyEvents          []string `json:"key_events,omitempty"`
	MainCharacters     []string `json:"main_characters,omitempty"`
	Scenes             []Scene  `json:"scenes,omitempty"`
}

// Scene 场景
type Scene struct {
	SceneNumber    int      `json:"scene_number"`
	MainStory      string   `json:"main_story"`
	NarrationText  string   `json:"narration_text"`
	Reasoning      string   `json:"reasoning,omitempty"`
	KeyEvents      []string `json:"key_events,omitempty"`
	MainCharacters []string `json:"main_characters,omitempty"`
	Shots          []Shot   `json:"shots,omitempty"`
}

// Shot 镜头。开场/结束图片与视频通过坐标路径寻址，不在文档中内联
type Shot struct {
	ShotNumber           int    `json:"shot_number"`
	DirectorInstructions string `json:"director_instructions"`
	OpeningFrame         string `json:"opening_frame,omitempty"`
	ClosingFrame         string `json:"closing_frame,omitempty"`
	StillImage           bool   `json:"still_image,omitempty"`
	Reasoning            string `json:"reasoning,omitempty"`
}

// NewScript 创建空脚本
func NewScript(details ProjectDetails) *Script {
	return &Script{
		SchemaVersion:  SchemaVersion,
		ProjectDetails: details,
		Chapters:       []Chapter{},
	}
}

// Validate 检查LLM生成的章节必填字段
func (c Chapter) Validate() error {
	if strings.TrimSpace(c.ChapterTitle) == "" {
		return fmt.Errorf("chapter is missing required field chapter_title")
	}
	if strings.TrimSpace(c.ChapterDescription) == "" {
		return fmt.Errorf("chapter is missing required field chapter_description")
	}
	return nil
}

// Validate 检查LLM生成的场景必填字段
func (s Scene) Validate() error {
	if strings.TrimSpace(s.MainStory) == "" {
		return fmt.Errorf("scene is missing required field main_story")
	}
	if strings.TrimSpace(s.NarrationText) == "" {
		return fmt.Errorf("scene is missing required field narration_text")
	}
	return nil
}

// IsPlaceholder 占位场景：索引被跳过时填充，尚未生成内容
func (s Scene) IsPlaceholder() bool {
	return strings.TrimSpace(s.MainStory) == ""
}

// Validate 检查LLM生成的镜头必填字段
func (s Shot) Validate() error {
	if strings.TrimSpace(s.DirectorInstructions) == "" {
		return fmt.Errorf("shot is missing required field director_instructions")
	}
	return nil
}

// OpeningDescription 开场画面描述，缺省时回退到导演指令
func (s Shot) OpeningDescription() string {
	if s.OpeningFrame != "" {
		return s.OpeningFrame
	}
	return s.DirectorInstructions
}

// ClosingDescription 结束画面描述，缺省时回退到导演指令
func (s Shot) ClosingDescription() string {
	if s.ClosingFrame != "" {
		return s.ClosingFrame
	}
	return s.DirectorInstructions
}

// Clone 深拷贝
func (s *Script) Clone() *Script {
	if s == nil {
		return nil
	}
	out := &Script{
		SchemaVersion:  s.SchemaVersion,
		ProjectDetails: s.ProjectDetails,
	}
	if s.Chapters != nil {
		out.Chapters = make([]Chapter, len(s.Chapters))
		for i, ch := range s.Chapters {
			out.Chapters[i] = ch.clone()
		}
	}
	return out
}

func (c Chapter) clone() Chapter {
	out := c
	out.KeyEvents = cloneStrings(c.KeyEvents)
	out.MainCharacters = cloneStrings(c.MainCharacters)
	if c.Scenes != nil {
		out.Scenes = make([]Scene, len(c.Scenes))
		for i, sc := range c.Scenes {
			out.Scenes[i] = sc.clone()
		}
	}
	return out
}

func (s Scene) clone() Scene {
	out := s
	out.KeyEvents = cloneStrings(s.KeyEvents)
	out.MainCharacters = cloneStrings(s.MainCharacters)
	if s.Shots != nil {
		out.Shots = append([]Shot(nil), s.Shots...)
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

// CheckNumbering 校验编号从1开始连续
func (s *Script) CheckNumbering() error {
	for i, ch := range s.Chapters {
		if ch.ChapterNumber != i+1 {
			return fmt.Errorf("chapter at index %d has chapter_number %d, want %d", i, ch.ChapterNumber, i+1)
		}
		for j, sc := range ch.Scenes {
			if sc.SceneNumber != j+1 {
				return fmt.Errorf("chapter %d: scene at index %d has scene_number %d, want %d", i+1, j, sc.SceneNumber, j+1)
			}
			for k, shot := range sc.Shots {
				if shot.ShotNumber != k+1 {
					return fmt.Errorf("chapter %d scene %d: shot at index %d has shot_number %d, want %d", i+1, j+1, k, shot.ShotNumber, k+1)
				}
			}
		}
	}
	return nil
}

// Renumber 按位置重新分配编号
func (s *Script) Renumber() {
	for i := range s.Chapters {
		s.Chapters[i].ChapterNumber = i + 1
		for j := range s.Chapters[i].Scenes {
			s.Chapters[i].Scenes[j].SceneNumber = j + 1
			for k := range s.Chapters[i].Scenes[j].Shots {
				s.Chapters[i].Scenes[j].Shots[k].ShotNumber = k + 1
			}
		}
	}
}

// Marshal 序列化为持久化格式
func (s *Script) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Stats 文档统计
type Stats struct {
	Chapters          int `json:"chapters"`
	Scenes            int `json:"scenes"`
	PlaceholderScenes int `json:"placeholder_scenes"`
	Shots             int `json:"shots"`
	MissingShots      int `json:"missing_shots"`
}

// Stats 统计章节、场景和镜头数量
func (s *Script) Stats() Stats {
	var st Stats
	st.Chapters = len(s.Chapters)
	for _, ch := range s.Chapters {
		for _, sc := range ch.Scenes {
			st.Scenes++
			if sc.IsPlaceholder() {
				st.PlaceholderScenes++
				continue
			}
			st.Shots += len(sc.Shots)
			if missing := s.ProjectDetails.NumberOfShots - len(sc.Shots); missing > 0 {
				st.MissingShots += missing
			}
		}
	}
	return st
}
