// internal/services/llm_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Corphon/SceneDirector/internal/config"
	apperrors "github.com/Corphon/SceneDirector/internal/errors"
	"github.com/Corphon/SceneDirector/internal/llm"
	"github.com/Corphon/SceneDirector/internal/utils"
)

// NoPriorErrors 第一次尝试时的 prior_errors 取值
const NoPriorErrors = "N/A"

var ErrLLMNotReady = errors.New("llm service not ready")

var providerDefaultModels = map[string]string{
	"openai":       "gpt-4.1",
	"anthropic":    "claude-haiku-4.5",
	"google":       "gemini-2.5-flash",
	"qwen":         "qwen3-max",
	"glm":          "glm-4.5-air",
	"grok":         "grok-4.1-fast",
	"githubmodels": "gpt-4.1-mini",
	"openrouter":   "x-ai/grok-4.1-fast:free",
	"mock":         "mock",
}

// Invoker 单次 LLM 调用。DirectorService 只依赖这个接口，重试策略由调用方负责
type Invoker interface {
	Invoke(ctx context.Context, prompt, priorErrors string) (string, error)
}

// LLMService 提供统一的大语言模型调用接口
type LLMService struct {
	providerMutex      sync.RWMutex
	registry           *llm.Registry
	provider           llm.Provider
	providerName       string
	activeDefaultModel string
	maxTokens          int
	temperature        float32
	isReady            bool
	readyState         string

	metrics *utils.MetricsCollector
}

// NewLLMService 按配置初始化提供者。初始化失败时返回未就绪的服务而不是错误，
// 调用 Invoke 时才会报告配置错误
func NewLLMService(registry *llm.Registry, cfg config.LLMConfig, metrics *utils.MetricsCollector) *LLMService {
	service := &LLMService{
		registry:    registry,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		readyState:  "Uninitialized",
		metrics:     metrics,
	}
	if service.maxTokens <= 0 {
		service.maxTokens = config.DefaultLLMMaxTokens
	}
	if service.temperature <= 0 {
		service.temperature = config.DefaultLLMTemperature
	}

	if cfg.Provider == "" {
		service.readyState = "LLM provider not configured"
		return service
	}
	if err := service.UpdateProvider(cfg.Provider, cfg.ProviderConfig()); err != nil {
		utils.GetLogger().Warn("LLM provider initialization failed", map[string]interface{}{
			"provider": cfg.Provider,
			"err":      err.Error(),
		})
	}
	return service
}

// NewLLMServiceWithProvider 直接使用已初始化的提供者
func NewLLMServiceWithProvider(provider llm.Provider, metrics *utils.MetricsCollector) *LLMService {
	return &LLMService{
		provider:     provider,
		providerName: provider.GetName(),
		maxTokens:    config.DefaultLLMMaxTokens,
		temperature:  config.DefaultLLMTemperature,
		isReady:      true,
		readyState:   "Ready",
		metrics:      metrics,
	}
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetReadyState 返回服务就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderName 当前提供者名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// UpdateProvider 更新LLM服务的提供商
func (s *LLMService) UpdateProvider(providerName string, cfg map[string]string) error {
	if s.registry == nil {
		return apperrors.NewConfigurationError("no provider registry configured", nil)
	}
	provider, err := s.registry.GetProvider(providerName, cfg)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return apperrors.NewConfigurationError(fmt.Sprintf("initialize LLM provider %s", providerName), err)
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.activeDefaultModel = extractDefaultModel(cfg)
	s.isReady = true
	s.readyState = "Ready"
	return nil
}

// Invoke 发送一次请求。priorErrors 总是附加在提示词末尾，让模型可以自我修正
func (s *LLMService) Invoke(ctx context.Context, prompt, priorErrors string) (string, error) {
	s.providerMutex.RLock()
	if !s.isReady || s.provider == nil {
		state := s.readyState
		s.providerMutex.RUnlock()
		return "", apperrors.NewConfigurationError(fmt.Sprintf("LLM service not ready: %s", state), ErrLLMNotReady)
	}
	provider := s.provider
	s.providerMutex.RUnlock()

	if strings.TrimSpace(priorErrors) == "" {
		priorErrors = NoPriorErrors
	}

	req := llm.CompletionRequest{
		Prompt:      prompt + "\n\nPrevious Errors: " + priorErrors,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Model:       s.resolveModel(),
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, req)
	s.metrics.ObserveDuration(utils.HistogramLLMLatency, time.Since(start))
	if err != nil {
		return "", err
	}
	s.metrics.AddCounter(utils.MetricLLMPromptTokens, int64(resp.PromptTokens))
	s.metrics.AddCounter(utils.MetricLLMOutputTokens, int64(resp.OutputTokens))
	return resp.Text, nil
}

// GetDefaultModel 获取当前配置的默认模型
func (s *LLMService) GetDefaultModel() string {
	return s.resolveModel()
}

func (s *LLMService) resolveModel() string {
	s.providerMutex.RLock()
	provider := s.provider
	providerName := s.providerName
	activeDefault := s.activeDefaultModel
	s.providerMutex.RUnlock()

	if activeDefault != "" {
		return activeDefault
	}
	if model, exists := providerDefaultModels[providerName]; exists {
		return model
	}
	if provider != nil {
		if models := provider.GetSupportedModels(); len(models) > 0 {
			return strings.TrimSpace(models[0])
		}
	}
	return ""
}

func extractDefaultModel(cfg map[string]string) string {
	if cfg == nil {
		return ""
	}
	if model := strings.TrimSpace(cfg["default_model"]); model != "" {
		return model
	}
	return strings.TrimSpace(cfg["model"])
}

// 清理JSON字符串，去除前后非JSON内容
var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```JSON", "",
	"```", "",
	"\ufeff", "",
	"\u00a0", " ",
	"\u2028", "\n",
	"\u2029", "\n",
)

var structuralPunctuationMap = map[rune]rune{
	'：': ':',
	'，': ',',
	'【': '[',
	'】': ']',
	'｛': '{',
	'｝': '}',
}

var quotePairs = map[rune]rune{
	'"': '"',
	'“': '”',
	'”': '”',
	'„': '”',
	'「': '」',
	'『': '』',
}

// normalizeJSONStructure 把字符串外的全角标点和弯引号换成 JSON 结构符号
func normalizeJSONStructure(s string) string {
	if s == "" {
		return s
	}

	var builder strings.Builder
	builder.Grow(len(s))
	inString := false
	escaped := false
	currentClosing := '"'

	for _, r := range s {
		if inString {
			if !escaped && r == '\\' {
				escaped = true
				builder.WriteRune(r)
				continue
			}
			if escaped {
				escaped = false
				builder.WriteRune(r)
				continue
			}
			if r == currentClosing || r == '"' {
				inString = false
				currentClosing = '"'
				builder.WriteRune('"')
				continue
			}
			builder.WriteRune(r)
			continue
		}

		if replacement, ok := structuralPunctuationMap[r]; ok {
			r = replacement
		} else if closing, ok := quotePairs[r]; ok {
			inString = true
			currentClosing = closing
			builder.WriteRune('"')
			continue
		} else if r > unicode.MaxASCII && !unicode.IsSpace(r) {
			// 丢弃出现在字符串外的异常Unicode字符
			continue
		}

		builder.WriteRune(r)
	}

	return builder.String()
}

// unwrapSingleQuotes 模型有时把整个 JSON 包在一对单引号里
func unwrapSingleQuotes(s string) string {
	for len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func cleanJSONString(s string) string {
	obj, _ := extractJSONObject(s)
	return obj
}

// extractJSONObject 返回清洗后的第一个 JSON 对象以及其后剩余的文本
func extractJSONObject(s string) (object, rest string) {
	if s == "" {
		return s, ""
	}

	s = jsonNoiseReplacer.Replace(s)
	s = strings.TrimSpace(s)
	s = unwrapSingleQuotes(s)
	// \' 不是合法的 JSON 转义
	s = strings.ReplaceAll(s, `\'`, "'")

	// 移除零宽字符及除换行/制表符外的控制字符
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	// 查找第一个 {，将其之前的内容全部丢弃
	start := strings.Index(s, "{")
	if start == -1 {
		return s, ""
	}
	s = normalizeJSONStructure(strings.TrimSpace(s[start:]))

	// 简单的括号计数匹配
	balance := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		char := s[i]
		if escaped {
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch char {
		case '{':
			balance++
		case '}':
			balance--
			if balance == 0 {
				return strings.TrimSpace(s[:i+1]), strings.TrimSpace(s[i+1:])
			}
		}
	}

	// 没有匹配的结束符时交给 JSON 解析器报告错误
	return strings.TrimSpace(s), ""
}

// CleanLLMJSONResponse 提供给外部调用的JSON清洗助手
func CleanLLMJSONResponse(raw string) string {
	return cleanJSONString(raw)
}
