// internal/storage/document_store.go
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"

	apperrors "github.com/Corphon/SceneDirector/internal/errors"
	"github.com/Corphon/SceneDirector/internal/models"
	"github.com/Corphon/SceneDirector/internal/utils"
)

// ScriptFileName 每个项目的脚本文档文件名
const ScriptFileName = "script.json"

// ScriptKey 项目脚本文档的逻辑路径
func ScriptKey(project string) string {
	return path.Join(project, ScriptFileName)
}

// DocumentStore 负责脚本文档和媒体文件的读写：先本地缓存，再持久化存储
type DocumentStore struct {
	local   *FileStorage
	durable BlobStore // 可为 nil，仅使用本地缓存
	metrics *utils.MetricsCollector
	logger  *utils.Logger
}

// NewDocumentStore 创建文档存储
func NewDocumentStore(local *FileStorage, durable BlobStore, metrics *utils.MetricsCollector) *DocumentStore {
	return &DocumentStore{
		local:   local,
		durable: durable,
		metrics: metrics,
		logger:  utils.GetLogger(),
	}
}

// Local 返回本地缓存
func (d *DocumentStore) Local() *FileStorage {
	return d.local
}

// TryLoad 读取项目脚本；文档不存在时返回 (nil, nil)
func (d *DocumentStore) TryLoad(ctx context.Context, project string) (*models.Script, error) {
	key := ScriptKey(project)

	data, err := d.local.ReadFile(key)
	if err != nil && !os.IsNotExist(err) {
		return nil, apperrors.NewStorageError(fmt.Sprintf("read %s", key), err)
	}

	if os.IsNotExist(err) {
		fetched, ferr := d.fetchFromDurable(ctx, key)
		if ferr != nil {
			return nil, ferr
		}
		if !fetched {
			return nil, nil
		}
		data, err = d.local.ReadFile(key)
		if err != nil {
			return nil, apperrors.NewStorageError(fmt.Sprintf("read %s", key), err)
		}
	}

	script, migrated, err := models.DecodeScript(data)
	if err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("corrupt script document %s", key), err)
	}
	if migrated {
		d.logger.Info("migrated legacy script document", map[string]interface{}{
			"project": project,
			"version": models.SchemaVersion,
		})
	}
	return script, nil
}

// fetchFromDurable 本地不存在时从持久化存储下载
func (d *DocumentStore) fetchFromDurable(ctx context.Context, key string) (bool, error) {
	if d.durable == nil {
		return false, nil
	}
	exists, err := d.durable.Exists(ctx, key)
	if err != nil {
		return false, apperrors.NewStorageError(fmt.Sprintf("check durable %s", key), err)
	}
	if !exists {
		return false, nil
	}
	localPath, err := d.local.Path(key)
	if err != nil {
		return false, apperrors.NewValidationError(err.Error(), err)
	}
	if err := d.durable.Download(ctx, key, localPath); err != nil {
		return false, apperrors.NewStorageError(fmt.Sprintf("download %s", key), err)
	}
	return true, nil
}

// Save 先写本地缓存再写持久化存储。持久化失败时本地已经写入，错误会被记录并返回
func (d *DocumentStore) Save(ctx context.Context, script *models.Script) error {
	project := script.ProjectDetails.Project
	key := ScriptKey(project)

	script.SchemaVersion = models.SchemaVersion
	data, err := script.Marshal()
	if err != nil {
		return apperrors.NewStorageError("encode script", err)
	}

	if err := d.local.WriteFile(key, data); err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("write %s", key), err)
	}
	d.metrics.IncrementCounter(utils.MetricDocumentSaves)

	if err := d.Publish(ctx, key); err != nil {
		return err
	}
	return nil
}

// Publish 将本地文件上传到持久化存储
func (d *DocumentStore) Publish(ctx context.Context, key string) error {
	if d.durable == nil {
		return nil
	}
	localPath, err := d.local.Path(key)
	if err != nil {
		return apperrors.NewValidationError(err.Error(), err)
	}
	if err := d.durable.Upload(ctx, key, localPath); err != nil {
		d.metrics.IncrementCounter(utils.MetricDurableSaveFailure)
		d.logger.Error("durable upload failed, local copy kept", map[string]interface{}{
			"key": key,
			"err": err.Error(),
		})
		return apperrors.NewStorageError(fmt.Sprintf("upload %s", key), err)
	}
	return nil
}

// FileExists 先检查本地缓存，再检查持久化存储
func (d *DocumentStore) FileExists(ctx context.Context, key string) bool {
	if d.local.Exists(key) {
		return true
	}
	if d.durable == nil {
		return false
	}
	exists, err := d.durable.Exists(ctx, key)
	if err != nil {
		d.logger.Warn("durable existence check failed", map[string]interface{}{
			"key": key,
			"err": err.Error(),
		})
		return false
	}
	return exists
}

// LocalPath 返回逻辑路径的本地文件，需要时从持久化存储下载
func (d *DocumentStore) LocalPath(ctx context.Context, key string) (string, error) {
	localPath, err := d.local.Path(key)
	if err != nil {
		return "", apperrors.NewValidationError(err.Error(), err)
	}
	if d.local.Exists(key) {
		return localPath, nil
	}
	fetched, err := d.fetchFromDurable(ctx, key)
	if err != nil {
		return "", err
	}
	if !fetched {
		return "", apperrors.NewNotFoundError(fmt.Sprintf("file not found: %s", key), nil)
	}
	return localPath, nil
}

// ListProjects 列出本地缓存中有脚本文档的项目
func (d *DocumentStore) ListProjects() ([]string, error) {
	dirs, err := d.local.ListDirs("")
	if err != nil {
		return nil, apperrors.NewStorageError("list projects", err)
	}
	projects := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if d.local.Exists(ScriptKey(dir)) {
			projects = append(projects, dir)
		}
	}
	sort.Strings(projects)
	return projects, nil
}
