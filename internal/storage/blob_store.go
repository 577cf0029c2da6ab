// internal/storage/blob_store.go
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BlobStore 持久化对象存储。键与本地缓存使用相同的逻辑路径
type BlobStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key, localPath string) error
	Download(ctx context.Context, key, localPath string) error
}

// DirBlobStore 以另一个目录（例如挂载的网络盘）作为持久化存储
type DirBlobStore struct {
	root string
}

// NewDirBlobStore 创建目录存储
func NewDirBlobStore(root string) (*DirBlobStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("创建持久化目录失败: %w", err)
	}
	return &DirBlobStore{root: root}, nil
}

func (d *DirBlobStore) path(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.root, filepath.FromSlash(cleaned)), nil
}

func (d *DirBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := d.path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (d *DirBlobStore) Upload(ctx context.Context, key, localPath string) error {
	dst, err := d.path(key)
	if err != nil {
		return err
	}
	return copyFile(ctx, localPath, dst)
}

func (d *DirBlobStore) Download(ctx context.Context, key, localPath string) error {
	src, err := d.path(key)
	if err != nil {
		return err
	}
	return copyFile(ctx, src, localPath)
}

func copyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
