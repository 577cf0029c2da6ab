// internal/llm/providers/mock/mock.go
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Corphon/SceneDirector/internal/llm"
)

const Name = "mock"

// Register 注册离线提供者，用于演示和端到端测试
func Register(r *llm.Registry) {
	r.Register(Name, func() llm.Provider { return &Provider{} })
}

var (
	taskPattern     = regexp.MustCompile(`(?m)^### task: (\w+)`)
	subjectPattern  = regexp.MustCompile(`(?m)film about: (.+?)\.?$`)
	chaptersPattern = regexp.MustCompile(`Number of chapters: (\d+)`)
	scenesPattern   = regexp.MustCompile(`Number of scenes: (\d+)`)
	rewritePattern  = regexp.MustCompile(`Rewrite chapter (\d+)`)
	splitPattern    = regexp.MustCompile(`Split chapter (\d+)`)
	scenePattern    = regexp.MustCompile(`Write scene (\d+) of`)
	currentPattern  = regexp.MustCompile(`Current scene (\d+)`)
	chapterPattern  = regexp.MustCompile(`(?m)^Chapter (\d+) "`)
	shotPattern     = regexp.MustCompile(`Write shot (\d+) of`)
)

// Provider 根据模板首行的任务类型生成确定性的合法响应
type Provider struct{}

func (p *Provider) Initialize(config map[string]string) error { return nil }

func (p *Provider) GetName() string { return "Offline Mock" }

func (p *Provider) GetSupportedModels() []string { return []string{"mock"} }

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := taskPattern.FindStringSubmatch(req.Prompt)
	if m == nil {
		return nil, fmt.Errorf("mock provider: prompt does not declare a task")
	}
	subject := firstMatch(subjectPattern, req.Prompt, "the subject")

	var body interface{}
	switch m[1] {
	case "chapters":
		n := intMatch(chaptersPattern, req.Prompt, 1)
		chapters := make([]map[string]interface{}, 0, n)
		for i := 1; i <= n; i++ {
			chapters = append(chapters, chapter(subject, i))
		}
		body = map[string]interface{}{"chapters": chapters}
	case "chapter":
		body = chapter(subject, intMatch(rewritePattern, req.Prompt, 1))
	case "scenes":
		n := intMatch(scenesPattern, req.Prompt, 1)
		ch := intMatch(splitPattern, req.Prompt, 1)
		scenes := make([]map[string]interface{}, 0, n)
		for i := 1; i <= n; i++ {
			scenes = append(scenes, scene(subject, ch, i))
		}
		body = map[string]interface{}{"scenes": scenes}
	case "scene":
		body = scene(subject, intMatch(chapterPattern, req.Prompt, 1), intMatch(scenePattern, req.Prompt, 1))
	case "shot":
		ch := intMatch(chapterPattern, req.Prompt, 1)
		sc := intMatch(currentPattern, req.Prompt, 1)
		n := intMatch(shotPattern, req.Prompt, 1)
		body = map[string]interface{}{
			"director_instructions": fmt.Sprintf("Chapter %d scene %d shot %d: slow dolly across %s", ch, sc, n, subject),
			"opening_frame":         fmt.Sprintf("Opening frame of shot %d, %s at dawn", n, subject),
			"closing_frame":         fmt.Sprintf("Closing frame of shot %d, %s at dusk", n, subject),
			"still_image":           n%2 == 0,
			"reasoning":             "Keeps continuity with the previous shot.",
		}
	default:
		return nil, fmt.Errorf("mock provider: unknown task %q", m[1])
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{
		Text:         string(data),
		FinishReason: "stop",
		ModelName:    "mock",
		ProviderName: p.GetName(),
	}, nil
}

func chapter(subject string, n int) map[string]interface{} {
	return map[string]interface{}{
		"chapter_title":       fmt.Sprintf("Chapter %d of %s", n, subject),
		"chapter_description": fmt.Sprintf("Part %d of the story of %s.", n, subject),
		"reasoning":           "Follows the chronology.",
		"key_events":          []string{fmt.Sprintf("event %d", n)},
		"main_characters":     []string{"narrator"},
	}
}

func scene(subject string, ch, n int) map[string]interface{} {
	return map[string]interface{}{
		"main_story":      fmt.Sprintf("Chapter %d scene %d explores %s.", ch, n, subject),
		"narration_text":  fmt.Sprintf("In scene %d we look closer at %s.", n, subject),
		"reasoning":       "Builds on the previous scene.",
		"key_events":      []string{fmt.Sprintf("moment %d.%d", ch, n)},
		"main_characters": []string{"narrator"},
	}
}

func firstMatch(re *regexp.Regexp, s, fallback string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return fallback
}

func intMatch(re *regexp.Regexp, s string, fallback int) int {
	if m := re.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return fallback
}
