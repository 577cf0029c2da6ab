// internal/prompts/loader.go
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	apperrors "github.com/Corphon/SceneDirector/internal/errors"
)

// CommonCategory 所有类型共享的模板目录
const CommonCategory = "common"

// 模板文件名
const (
	ChaptersPrompt      = "chapters_generation_prompt.txt"
	ScenesPrompt        = "scenes_generation_prompt.txt"
	SingleChapterPrompt = "single_chapter_generation_prompt.txt"
	SingleScenePrompt   = "single_scene_generation_prompt.txt"
	SingleShotPrompt    = "single_shot_generation_prompt.txt"
)

//go:embed templates
var embedded embed.FS

// Loader 解析模板文件。优先读取覆盖目录，再回退到内嵌模板
type Loader struct {
	sources []fs.FS
}

// NewLoader 创建模板加载器；overrideDir 为空时只使用内嵌模板
func NewLoader(overrideDir string) *Loader {
	base, _ := fs.Sub(embedded, "templates")
	sources := []fs.FS{}
	if overrideDir != "" {
		sources = append(sources, os.DirFS(overrideDir))
	}
	sources = append(sources, base)
	return &Loader{sources: sources}
}

// NewLoaderFS 使用指定文件系统创建加载器，主要用于测试
func NewLoaderFS(fsys fs.FS) *Loader {
	return &Loader{sources: []fs.FS{fsys}}
}

// Load 读取 category/name 模板。找不到文件是配置错误，不可重试
func (l *Loader) Load(category, name string) (string, error) {
	if !validSegment(category) || !validSegment(name) {
		return "", apperrors.NewConfigurationError(fmt.Sprintf("invalid prompt template %s/%s", category, name), nil)
	}
	p := path.Join(category, name)
	for _, src := range l.sources {
		data, err := fs.ReadFile(src, p)
		if err == nil {
			return string(data), nil
		}
	}
	return "", apperrors.NewConfigurationError(fmt.Sprintf("prompt template not found: %s", p), nil)
}

// LoadForGenre 读取类型专属模板，类型目录下没有该文件时使用 common
func (l *Loader) LoadForGenre(genre, name string) (string, error) {
	if !l.HasCategory(genre) {
		return "", apperrors.NewConfigurationError(fmt.Sprintf("unknown genre %q: no prompt template directory", genre), nil)
	}
	text, err := l.Load(genre, name)
	if err == nil {
		return text, nil
	}
	return l.Load(CommonCategory, name)
}

// HasCategory 检查模板目录是否存在
func (l *Loader) HasCategory(category string) bool {
	if !validSegment(category) {
		return false
	}
	for _, src := range l.sources {
		if info, err := fs.Stat(src, category); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// Genres 列出可用的类型（不含 common）
func (l *Loader) Genres() []string {
	seen := map[string]bool{}
	for _, src := range l.sources {
		entries, err := fs.ReadDir(src, ".")
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && e.Name() != CommonCategory && !strings.HasPrefix(e.Name(), ".") {
				seen[e.Name()] = true
			}
		}
	}
	genres := make([]string, 0, len(seen))
	for g := range seen {
		genres = append(genres, g)
	}
	sort.Strings(genres)
	return genres
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
