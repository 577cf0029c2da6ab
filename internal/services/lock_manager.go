// internal/services/lock_manager.go
package services

import (
	"context"
	"sync"
	"time"
)

// LockManager 按项目加锁，保证同一项目同时只有一个修改操作
type LockManager struct {
	projectLocks  map[string]*LockInfo
	globalLock    sync.Mutex
	lockTTL       time.Duration
	cleanupTicker *time.Ticker
	stop          chan struct{}
	stopOnce      sync.Once
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	sem            chan struct{}
	LastUsed       time.Time
	ReferenceCount int32 // 持有或等待该锁的调用数，大于0时不会被清理
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		projectLocks: make(map[string]*LockInfo),
		lockTTL:      30 * time.Minute,
		stop:         make(chan struct{}),
	}

	// 启动清理器
	lm.startCleanup()
	return lm
}

// acquireInfo 取得锁信息并增加引用计数
func (lm *LockManager) acquireInfo(project string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info, exists := lm.projectLocks[project]
	if !exists {
		info = &LockInfo{sem: make(chan struct{}, 1)}
		lm.projectLocks[project] = info
	}
	info.ReferenceCount++
	info.LastUsed = time.Now()
	return info
}

func (lm *LockManager) releaseInfo(info *LockInfo) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	info.ReferenceCount--
	info.LastUsed = time.Now()
}

// ExecuteWithProjectLock 在项目锁保护下执行操作。等待锁时 ctx 取消则返回 ctx 错误
func (lm *LockManager) ExecuteWithProjectLock(ctx context.Context, project string, fn func() error) error {
	info := lm.acquireInfo(project)
	defer lm.releaseInfo(info)

	select {
	case info.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-info.sem }()

	return fn()
}

// IsLocked 项目当前是否有修改操作在进行
func (lm *LockManager) IsLocked(project string) bool {
	lm.globalLock.Lock()
	info, exists := lm.projectLocks[project]
	lm.globalLock.Unlock()
	if !exists {
		return false
	}
	return len(info.sem) > 0
}

// Stop 停止清理协程
func (lm *LockManager) Stop() {
	lm.stopOnce.Do(func() {
		close(lm.stop)
		if lm.cleanupTicker != nil {
			lm.cleanupTicker.Stop()
		}
	})
}

// 定期清理未使用的锁
func (lm *LockManager) startCleanup() {
	lm.cleanupTicker = time.NewTicker(5 * time.Minute)
	go func() {
		for {
			select {
			case <-lm.cleanupTicker.C:
				lm.cleanupUnusedLocks()
			case <-lm.stop:
				return
			}
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	now := time.Now()
	for project, info := range lm.projectLocks {
		if info.ReferenceCount == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.projectLocks, project)
		}
	}
}
