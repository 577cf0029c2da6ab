// internal/llm/providers/providers_test.go
package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Corphon/SceneDirector/internal/llm"
)

func TestNewRegistryHasBuiltins(t *testing.T) {
	names := strings.Join(NewRegistry().GetAvailableProviders(), ",")
	for _, want := range []string{"anthropic", "google", "mock", "openai", "openrouter", "qwen"} {
		if !strings.Contains(names, want) {
			t.Errorf("缺少内置提供者 %s: %s", want, names)
		}
	}
}

func TestAnthropicProviderCompleteText(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("api key header missing")
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1","model":"claude","stop_reason":"end_turn","content":[{"type":"text","text":"{\"ok\":true}"}],"usage":{"input_tokens":3,"output_tokens":4}}`))
	}))
	defer srv.Close()

	p, err := NewRegistry().GetProvider("anthropic", map[string]string{"api_key": "secret", "base_url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "hi", MaxTokens: 8000, Temperature: 0.5})
	if err != nil {
		t.Fatalf("调用失败: %v", err)
	}
	if resp.Text != `{"ok":true}` || resp.TokensUsed != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got["max_tokens"].(float64) != 8000 {
		t.Errorf("max_tokens not forwarded: %v", got["max_tokens"])
	}
}

func TestAnthropicProviderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewRegistry().GetProvider("anthropic", map[string]string{"api_key": "k", "base_url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "hi"}); err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("应返回包含状态码的错误, got %v", err)
	}
}

func TestAnthropicProviderJoinsTextBlocksAndReportsAPIErrors(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"prompt is too long"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"model":"claude-x","stop_reason":"max_tokens","content":[{"type":"text","text":"{\"a\":"},{"type":"text","text":"1}"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	p, err := NewRegistry().GetProvider("anthropic", map[string]string{"api_key": "k", "base_url": srv.URL + "/"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	if err == nil || !strings.Contains(err.Error(), "prompt is too long") || !strings.Contains(err.Error(), "400") {
		t.Fatalf("应返回接口错误信息, got %v", err)
	}

	fail.Store(false)
	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != `{"a":1}` || resp.FinishReason != "max_tokens" || resp.ModelName != "claude-x" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestOpenAICompatibleProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	}))
	defer srv.Close()

	p, err := NewRegistry().GetProvider("openrouter", map[string]string{"api_key": "k", "base_url": srv.URL + "/v1"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("调用失败: %v", err)
	}
	if resp.Text != "hello" || resp.TokensUsed != 3 || resp.ProviderName != "OpenRouter" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestMockProviderProducesValidJSON(t *testing.T) {
	p, err := NewRegistry().GetProvider("mock", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{
		Prompt: "### task: chapters\nYou are the director of a documentary film about: Bees.\nNumber of chapters: 3",
	})
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Chapters []map[string]interface{} `json:"chapters"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		t.Fatalf("mock 响应应为合法 JSON: %v", err)
	}
	if len(out.Chapters) != 3 {
		t.Fatalf("应生成3个章节, got %d", len(out.Chapters))
	}
	if !strings.Contains(out.Chapters[0]["chapter_title"].(string), "Bees") {
		t.Errorf("title should mention subject: %v", out.Chapters[0])
	}

	if _, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "no task"}); err == nil {
		t.Fatal("没有任务声明的提示应报错")
	}
}
