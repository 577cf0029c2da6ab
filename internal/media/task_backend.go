// internal/media/task_backend.go
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// 任务状态
const (
	taskStatusSucceeded = "succeeded"
	taskStatusFailed    = "failed"
)

// TaskClient 异步生成任务的 HTTP 客户端：创建任务 -> 轮询 -> 下载结果。
// 音乐和视频服务都使用这种接口
type TaskClient struct {
	BaseURL      string
	APIKey       string
	HTTPClient   *http.Client
	PollInterval time.Duration
	Timeout      time.Duration
}

// NewTaskClient 创建任务客户端
func NewTaskClient(baseURL, apiKey string) *TaskClient {
	return &TaskClient{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		HTTPClient:   &http.Client{Timeout: 60 * time.Second},
		PollInterval: 5 * time.Second,
		Timeout:      10 * time.Minute,
	}
}

type taskResponse struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	URL      string `json:"url"`
	AudioURL string `json:"audio_url"`
	VideoURL string `json:"video_url"`
	Error    string `json:"error"`
}

func (r taskResponse) id() string {
	if r.TaskID != "" {
		return r.TaskID
	}
	return r.ID
}

func (r taskResponse) resultURL() string {
	for _, u := range []string{r.URL, r.VideoURL, r.AudioURL} {
		if u != "" {
			return u
		}
	}
	return ""
}

// Run 创建任务并等待结果，返回下载的文件内容
func (c *TaskClient) Run(ctx context.Context, body map[string]any) ([]byte, error) {
	var created taskResponse
	if err := c.doJSON(ctx, http.MethodPost, c.BaseURL+"/tasks", body, &created); err != nil {
		return nil, err
	}
	if created.id() == "" {
		return nil, errors.New("no task id in response")
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	for {
		var status taskResponse
		if err := c.doJSON(ctx, http.MethodGet, c.BaseURL+"/tasks/"+created.id(), nil, &status); err != nil {
			return nil, err
		}
		switch strings.ToLower(status.Status) {
		case taskStatusSucceeded:
			if status.resultURL() == "" {
				return nil, fmt.Errorf("task %s succeeded without a result url", created.id())
			}
			return c.download(ctx, status.resultURL())
		case taskStatusFailed:
			return nil, fmt.Errorf("task %s failed: %s", created.id(), status.Error)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("task %s: %w", created.id(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *TaskClient) doJSON(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("http %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (c *TaskClient) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("download %s: http %d", url, res.StatusCode)
	}
	return io.ReadAll(res.Body)
}

// MusicTaskBackend 背景音乐服务
type MusicTaskBackend struct {
	client   *TaskClient
	Duration int // 秒
}

func NewMusicTaskBackend(client *TaskClient) *MusicTaskBackend {
	return &MusicTaskBackend{client: client, Duration: 30}
}

func (b *MusicTaskBackend) ComposeMusic(ctx context.Context, description string, seed int64) ([]byte, error) {
	return b.client.Run(ctx, map[string]any{
		"type":     "music",
		"prompt":   description,
		"seed":     seed,
		"duration": b.Duration,
		"format":   "mp3",
	})
}

// VideoTaskBackend 图生视频服务
type VideoTaskBackend struct {
	client *TaskClient
}

func NewVideoTaskBackend(client *TaskClient) *VideoTaskBackend {
	return &VideoTaskBackend{client: client}
}

func (b *VideoTaskBackend) GenerateVideo(ctx context.Context, req VideoRequest) ([]byte, error) {
	body := map[string]any{
		"type":   "video",
		"prompt": req.Prompt,
		"seed":   req.Seed,
		"mode":   req.Mode(),
	}
	if req.FirstFrame != nil {
		body["first_frame"] = pngDataURL(req.FirstFrame)
	}
	if req.LastFrame != nil {
		body["last_frame"] = pngDataURL(req.LastFrame)
	}
	return b.client.Run(ctx, body)
}

func pngDataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}
