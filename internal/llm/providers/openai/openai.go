// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Corphon/SceneDirector/internal/llm"
)

// preset OpenAI 兼容接口的默认地址和模型
type preset struct {
	name         string
	displayName  string
	baseURL      string
	defaultModel string
	models       []string
}

var presets = []preset{
	{"openai", "OpenAI", "", "gpt-4o", []string{"gpt-4o", "gpt-4o-mini", "o3-mini"}},
	{"openrouter", "OpenRouter", "https://openrouter.ai/api/v1", "google/gemma-3-27b-it:free", []string{"google/gemma-3-27b-it:free", "anthropic/claude-3.7-sonnet"}},
	{"qwen", "Qwen", "https://dashscope.aliyuncs.com/compatible-mode/v1", "qwen2.5-max", []string{"qwen2.5-max", "qwen-plus"}},
	{"glm", "GLM", "https://open.bigmodel.cn/api/paas/v4", "glm-4", []string{"glm-4", "glm-4-plus"}},
	{"grok", "Grok", "https://api.x.ai/v1", "grok-3", []string{"grok-3", "grok-3-mini"}},
	{"githubmodels", "GitHub Models", "https://models.inference.ai.azure.com", "o3-mini", []string{"o3-mini", "gpt-4o"}},
}

// Register 注册 OpenAI 及所有兼容接口的提供者
func Register(r *llm.Registry) {
	for _, p := range presets {
		p := p
		r.Register(p.name, func() llm.Provider {
			return &Provider{preset: p}
		})
	}
}

type Provider struct {
	preset       preset
	client       *openai.Client
	defaultModel string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return fmt.Errorf("%s api密钥未提供", p.preset.name)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	baseURL := p.preset.baseURL
	if v := config["base_url"]; v != "" {
		baseURL = v
	}
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	p.client = openai.NewClientWithConfig(clientConfig)

	p.defaultModel = p.preset.defaultModel
	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	}
	return nil
}

func (p *Provider) GetName() string {
	return p.preset.displayName
}

func (p *Provider) GetSupportedModels() []string {
	return p.preset.models
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if p.client == nil {
		return nil, errors.New("provider not initialized")
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.preset.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from %s", p.preset.name)
	}

	return &llm.CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		TokensUsed:   resp.Usage.TotalTokens,
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}
