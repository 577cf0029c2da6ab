// internal/storage/file_storage.go
package storage

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/SceneDirector/internal/utils"
)

// FileStorage 本地缓存目录。所有键都是以 / 分隔的逻辑路径，例如 demo/script.json
type FileStorage struct {
	BaseDir string

	// 并发控制
	fileLocks sync.Map // 文件级别锁 path -> *sync.RWMutex

	cache *FileCacheService
}

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}

	return &FileStorage{
		BaseDir: baseDir,
		cache:   NewFileCacheService(5 * time.Minute),
	}, nil
}

// CleanKey 校验并规范化逻辑路径，拒绝绝对路径和 ..
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, `\`, "/")
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return cleaned, nil
}

// 只缓存 JSON 文档，媒体文件体积大且很少重复读取
func cacheable(fullPath string) bool {
	return strings.EqualFold(filepath.Ext(fullPath), ".json")
}

// Path 返回逻辑路径对应的本地文件路径
func (fs *FileStorage) Path(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(fs.BaseDir, filepath.FromSlash(cleaned)), nil
}

// 获取文件锁
func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// WriteFile 原子性写入：先写临时文件再重命名
func (fs *FileStorage) WriteFile(key string, content []byte) error {
	fullPath, err := fs.Path(key)
	if err != nil {
		return err
	}

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			utils.GetLogger().Warn("failed to clean up temporary file", map[string]interface{}{
				"path": tempPath,
				"err":  removeErr.Error(),
			})
		}
		return fmt.Errorf("保存文件失败: %w", err)
	}

	if cacheable(fullPath) {
		fs.cache.Put(fullPath, content)
	} else {
		fs.cache.DeleteFromCache(fullPath)
	}
	return nil
}

// WriteStream 从 reader 写入文件，用于媒体下载
func (fs *FileStorage) WriteStream(key string, r io.Reader) error {
	fullPath, err := fs.Path(key)
	if err != nil {
		return err
	}

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("写入文件失败: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("写入文件失败: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("保存文件失败: %w", err)
	}
	fs.cache.DeleteFromCache(fullPath)
	return nil
}

// ReadFile 读取文件；不存在时返回的错误满足 os.IsNotExist
func (fs *FileStorage) ReadFile(key string) ([]byte, error) {
	fullPath, err := fs.Path(key)
	if err != nil {
		return nil, err
	}

	if data, ok := fs.cache.Get(fullPath); ok {
		return data, nil
	}

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, err
	}

	if cacheable(fullPath) {
		fs.cache.Put(fullPath, content)
	}
	return content, nil
}

// Exists 检查文件是否存在
func (fs *FileStorage) Exists(key string) bool {
	fullPath, err := fs.Path(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && !info.IsDir()
}

// DeleteFile 删除文件
func (fs *FileStorage) DeleteFile(key string) error {
	fullPath, err := fs.Path(key)
	if err != nil {
		return err
	}

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("删除文件失败: %w", err)
	}
	fs.cache.DeleteFromCache(fullPath)
	return nil
}

// ListDirs 列出目录下的所有子目录
func (fs *FileStorage) ListDirs(dirKey string) ([]string, error) {
	fullPath := fs.BaseDir
	if dirKey != "" {
		p, err := fs.Path(dirKey)
		if err != nil {
			return nil, err
		}
		fullPath = p
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
