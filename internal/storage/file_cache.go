// internal/storage/file_cache.go
package storage

import (
	"os"
	"time"

	"github.com/patrickmn/go-cache"
)

// FileCacheService 文件内容的内存缓存，按文件修改时间和大小校验
type FileCacheService struct {
	cache *cache.Cache
}

// FileCacheEntry 缓存条目
type FileCacheEntry struct {
	Data    []byte
	ModTime time.Time
	Size    int64
}

// NewFileCacheService 创建文件缓存服务
func NewFileCacheService(expiration time.Duration) *FileCacheService {
	if expiration <= 0 {
		expiration = 5 * time.Minute // 默认5分钟过期
	}
	return &FileCacheService{
		cache: cache.New(expiration, 2*expiration),
	}
}

// Get 返回缓存内容；文件在磁盘上被修改过时视为未命中
func (s *FileCacheService) Get(fullPath string) ([]byte, bool) {
	v, found := s.cache.Get(fullPath)
	if !found {
		return nil, false
	}
	entry := v.(*FileCacheEntry)

	info, err := os.Stat(fullPath)
	if err != nil || info.Size() != entry.Size || !info.ModTime().Equal(entry.ModTime) {
		s.cache.Delete(fullPath)
		return nil, false
	}
	return entry.Data, true
}

// Put 缓存刚读取或写入的文件内容
func (s *FileCacheService) Put(fullPath string, data []byte) {
	info, err := os.Stat(fullPath)
	if err != nil {
		return
	}
	s.cache.SetDefault(fullPath, &FileCacheEntry{
		Data:    data,
		ModTime: info.ModTime(),
		Size:    info.Size(),
	})
}

// DeleteFromCache 从缓存中删除条目
func (s *FileCacheService) DeleteFromCache(fullPath string) {
	s.cache.Delete(fullPath)
}

// ClearCache 清空缓存
func (s *FileCacheService) ClearCache() {
	s.cache.Flush()
}

// Len 当前缓存条目数
func (s *FileCacheService) Len() int {
	return s.cache.ItemCount()
}
