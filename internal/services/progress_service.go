// internal/services/Progress_service.go
package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 任务状态
const (
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// ProgressUpdate 表示进度更新
type ProgressUpdate struct {
	TaskID   string `json:"task_id"`
	Progress int    `json:"progress"` // 进度百分比 (0-100)
	Message  string `json:"message"`  // 描述性消息
	Status   string `json:"status"`   // 状态：running, completed, failed
}

// TaskSnapshot 任务当前状态，供 API 返回
type TaskSnapshot struct {
	TaskID     string      `json:"task_id"`
	Kind       string      `json:"kind"`
	Project    string      `json:"project"`
	Progress   int         `json:"progress"`
	Message    string      `json:"message"`
	Status     string      `json:"status"`
	StartTime  time.Time   `json:"start_time"`
	UpdateTime time.Time   `json:"update_time"`
	Result     interface{} `json:"result,omitempty"`
}

// ProgressTracker 跟踪长时间运行任务的进度。nil 跟踪器的所有方法都是空操作
type ProgressTracker struct {
	TaskID      string                       // 任务唯一标识符
	Kind        string                       // 任务类型，例如 generate-shots, generate-media
	Project     string                       // 所属项目
	Progress    int                          // 进度百分比 (0-100)
	Message     string                       // 当前状态描述
	Status      string                       // 状态：running, completed, failed
	StartTime   time.Time                    // 开始时间
	UpdateTime  time.Time                    // 最后更新时间
	Result      interface{}                  // 完成后的结果摘要
	Subscribers map[chan ProgressUpdate]bool // 订阅进度更新的通道
	Done        chan struct{}                // 任务完成信号
	mutex       sync.Mutex                   // 保护并发访问
	finished    bool
}

// ProgressService 管理所有进度跟踪器
type ProgressService struct {
	trackers map[string]*ProgressTracker
	mutex    sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// CreateTask 以随机ID创建跟踪器
func (s *ProgressService) CreateTask(kind, project string) *ProgressTracker {
	tracker := s.CreateTracker(uuid.NewString())
	tracker.mutex.Lock()
	tracker.Kind = kind
	tracker.Project = project
	tracker.mutex.Unlock()
	return tracker
}

// CreateTracker 创建新的进度跟踪器
func (s *ProgressService) CreateTracker(taskID string) *ProgressTracker {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// 如果已存在，返回现有追踪器
	if tracker, exists := s.trackers[taskID]; exists {
		return tracker
	}

	tracker := &ProgressTracker{
		TaskID:      taskID,
		Progress:    0,
		Message:     "任务初始化中...",
		Status:      TaskStatusRunning,
		StartTime:   time.Now(),
		UpdateTime:  time.Now(),
		Subscribers: make(map[chan ProgressUpdate]bool),
		Done:        make(chan struct{}),
	}

	s.trackers[taskID] = tracker
	return tracker
}

// GetTracker 获取进度跟踪器
func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

// UpdateProgress 更新任务进度
func (t *ProgressTracker) UpdateProgress(progress int, message string) {
	if t == nil {
		return
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.finished {
		return
	}
	if progress > 100 {
		progress = 100
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	if message != "" {
		t.Message = message
	}
	t.UpdateTime = time.Now()
	t.broadcast()
}

// Complete 标记任务完成
func (t *ProgressTracker) Complete(message string, result interface{}) {
	if t == nil {
		return
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.finished {
		return
	}
	t.Progress = 100
	if message != "" {
		t.Message = message
	} else {
		t.Message = "任务已完成"
	}
	t.Status = TaskStatusCompleted
	t.Result = result
	t.UpdateTime = time.Now()
	t.finish()
}

// Fail 标记任务失败
func (t *ProgressTracker) Fail(errorMsg string, result interface{}) {
	if t == nil {
		return
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.finished {
		return
	}
	t.Message = fmt.Sprintf("任务失败: %s", errorMsg)
	t.Status = TaskStatusFailed
	t.Result = result
	t.UpdateTime = time.Now()
	t.finish()
}

// finish 通知订阅者并关闭 Done；调用方持有锁
func (t *ProgressTracker) finish() {
	t.finished = true
	t.broadcast()
	close(t.Done)
}

// broadcast 非阻塞发送，通道已满则跳过；调用方持有锁
func (t *ProgressTracker) broadcast() {
	update := ProgressUpdate{
		TaskID:   t.TaskID,
		Progress: t.Progress,
		Message:  t.Message,
		Status:   t.Status,
	}
	for subscriber := range t.Subscribers {
		select {
		case subscriber <- update:
		default:
		}
	}
}

// Snapshot 返回任务当前状态的副本
func (t *ProgressTracker) Snapshot() TaskSnapshot {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return TaskSnapshot{
		TaskID:     t.TaskID,
		Kind:       t.Kind,
		Project:    t.Project,
		Progress:   t.Progress,
		Message:    t.Message,
		Status:     t.Status,
		StartTime:  t.StartTime,
		UpdateTime: t.UpdateTime,
		Result:     t.Result,
	}
}

// Subscribe 订阅进度更新
func (t *ProgressTracker) Subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	// 创建订阅通道，缓冲区设为10以避免阻塞
	subscriber := make(chan ProgressUpdate, 10)
	t.Subscribers[subscriber] = true

	// 立即发送当前状态
	subscriber <- ProgressUpdate{
		TaskID:   t.TaskID,
		Progress: t.Progress,
		Message:  t.Message,
		Status:   t.Status,
	}

	return subscriber
}

// Unsubscribe 取消订阅
func (t *ProgressTracker) Unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, ok := t.Subscribers[subscriber]; !ok {
		return
	}
	delete(t.Subscribers, subscriber)
	close(subscriber)
}

// CleanupCompletedTasks 清理已完成的任务
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		isOld := tracker.finished && now.Sub(tracker.UpdateTime) > maxAge
		tracker.mutex.Unlock()

		if isOld {
			delete(s.trackers, id)
		}
	}
}
