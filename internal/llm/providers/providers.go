// internal/llm/providers/providers.go
package providers

import (
	"github.com/Corphon/SceneDirector/internal/llm"
	"github.com/Corphon/SceneDirector/internal/llm/providers/anthropic"
	"github.com/Corphon/SceneDirector/internal/llm/providers/google"
	"github.com/Corphon/SceneDirector/internal/llm/providers/mock"
	"github.com/Corphon/SceneDirector/internal/llm/providers/openai"
)

// NewRegistry 创建包含全部内置提供者的注册表
func NewRegistry() *llm.Registry {
	r := llm.NewRegistry()
	anthropic.Register(r)
	openai.Register(r)
	google.Register(r)
	mock.Register(r)
	return r
}
