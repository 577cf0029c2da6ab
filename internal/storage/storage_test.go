// internal/storage/storage_test.go
package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	apperrors "github.com/Corphon/SceneDirector/internal/errors"
	"github.com/Corphon/SceneDirector/internal/models"
	"github.com/Corphon/SceneDirector/internal/utils"
)

// memoryBlobStore 内存中的持久化存储
type memoryBlobStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failWrite bool
}

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{objects: map[string][]byte{}}
}

func (m *memoryBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memoryBlobStore) Upload(ctx context.Context, key, localPath string) error {
	if m.failWrite {
		return errors.New("bucket unavailable")
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryBlobStore) Download(ctx context.Context, key, localPath string) error {
	m.mu.Lock()
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return os.ErrNotExist
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0644)
}

func setupDocumentStore(t *testing.T, durable BlobStore) (*DocumentStore, *utils.MetricsCollector) {
	t.Helper()
	local, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建本地存储失败: %v", err)
	}
	metrics := utils.NewMetricsCollector()
	return NewDocumentStore(local, durable, metrics), metrics
}

func testScript(project string) *models.Script {
	s := models.NewScript(models.ProjectDetails{
		Project: project, Genre: "documentary", Subject: "Rivers",
		NumberOfChapters: 1, NumberOfScenes: 1, NumberOfShots: 1,
	})
	s.Chapters = []models.Chapter{{ChapterNumber: 1, ChapterTitle: "Source", ChapterDescription: "Where it starts"}}
	return s
}

func TestTryLoadMissingReturnsNil(t *testing.T) {
	store, _ := setupDocumentStore(t, newMemoryBlobStore())
	script, err := store.TryLoad(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("文档不存在不应报错: %v", err)
	}
	if script != nil {
		t.Fatal("文档不存在时应返回 nil")
	}
}

func TestSaveWritesLocalThenDurable(t *testing.T) {
	durable := newMemoryBlobStore()
	store, metrics := setupDocumentStore(t, durable)
	ctx := context.Background()

	if err := store.Save(ctx, testScript("rivers")); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	if !store.Local().Exists("rivers/script.json") {
		t.Fatal("本地缓存应有文档")
	}
	if _, ok := durable.objects["rivers/script.json"]; !ok {
		t.Fatal("持久化存储应有文档")
	}
	if metrics.GetCounterValue(utils.MetricDocumentSaves) != 1 {
		t.Fatal("save counter not incremented")
	}

	loaded, err := store.TryLoad(ctx, "rivers")
	if err != nil || loaded == nil {
		t.Fatalf("读取失败: %v", err)
	}
	if loaded.Chapters[0].ChapterTitle != "Source" {
		t.Fatalf("unexpected document: %+v", loaded)
	}
}

func TestDurableFailureKeepsLocalCopy(t *testing.T) {
	durable := newMemoryBlobStore()
	durable.failWrite = true
	store, metrics := setupDocumentStore(t, durable)
	ctx := context.Background()

	err := store.Save(ctx, testScript("rivers"))
	if !apperrors.IsStorageError(err) {
		t.Fatalf("持久化失败应返回存储错误, got %v", err)
	}
	if metrics.GetCounterValue(utils.MetricDurableSaveFailure) != 1 {
		t.Fatal("durable failure counter not incremented")
	}

	loaded, err := store.TryLoad(ctx, "rivers")
	if err != nil || loaded == nil {
		t.Fatalf("本地副本应可恢复: %v", err)
	}
}

func TestTryLoadFallsBackToDurable(t *testing.T) {
	durable := newMemoryBlobStore()
	writer, _ := setupDocumentStore(t, durable)
	ctx := context.Background()
	if err := writer.Save(ctx, testScript("rivers")); err != nil {
		t.Fatal(err)
	}

	// 新的本地目录，模拟另一台机器
	reader, _ := setupDocumentStore(t, durable)
	loaded, err := reader.TryLoad(ctx, "rivers")
	if err != nil || loaded == nil {
		t.Fatalf("应从持久化存储下载: %v", err)
	}
	if !reader.Local().Exists("rivers/script.json") {
		t.Fatal("下载后本地缓存应有文档")
	}
}

func TestTryLoadCorruptDocument(t *testing.T) {
	store, _ := setupDocumentStore(t, nil)
	if err := store.Local().WriteFile("broken/script.json", []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	_, err := store.TryLoad(context.Background(), "broken")
	if !apperrors.IsStorageError(err) {
		t.Fatalf("损坏的文档应返回存储错误而不是 nil, got %v", err)
	}
}

func TestFileExistsChecksLocalThenDurable(t *testing.T) {
	durable := newMemoryBlobStore()
	durable.objects["p/chapter_1/scene_1/shot_1_opening.png"] = []byte("png")
	store, _ := setupDocumentStore(t, durable)
	ctx := context.Background()

	if !store.FileExists(ctx, "p/chapter_1/scene_1/shot_1_opening.png") {
		t.Fatal("持久化存储中的文件应被识别")
	}
	if store.FileExists(ctx, "p/chapter_1/scene_1/shot_2_opening.png") {
		t.Fatal("不存在的文件不应被识别")
	}
	if err := store.Local().WriteFile("p/chapter_1/scene_1/narration.wav", []byte("wav")); err != nil {
		t.Fatal(err)
	}
	if !store.FileExists(ctx, "p/chapter_1/scene_1/narration.wav") {
		t.Fatal("本地文件应被识别")
	}

	path, err := store.LocalPath(ctx, "p/chapter_1/scene_1/shot_1_opening.png")
	if err != nil {
		t.Fatalf("LocalPath 应下载文件: %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "png" {
		t.Fatalf("unexpected content %q", data)
	}
	if _, err := store.LocalPath(ctx, "p/missing.png"); !apperrors.IsNotFoundError(err) {
		t.Fatalf("缺失文件应返回未找到错误, got %v", err)
	}
}

func TestCleanKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"", "/etc/passwd", "../x", "a/../../x", ".."} {
		if _, err := CleanKey(key); err == nil {
			t.Errorf("%q 应被拒绝", key)
		}
	}
	if k, err := CleanKey(`p\chapter_1//scene_1/./a.png`); err != nil || k != "p/chapter_1/scene_1/a.png" {
		t.Errorf("unexpected clean result %q %v", k, err)
	}
}

func TestDirBlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	blob, err := NewDirBlobStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "in.txt")
	if err := os.WriteFile(src, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	if ok, _ := blob.Exists(ctx, "p/a.txt"); ok {
		t.Fatal("should not exist yet")
	}
	if err := blob.Upload(ctx, "p/a.txt", src); err != nil {
		t.Fatalf("上传失败: %v", err)
	}
	if ok, _ := blob.Exists(ctx, "p/a.txt"); !ok {
		t.Fatal("上传后应存在")
	}
	dst := filepath.Join(t.TempDir(), "out", "a.txt")
	if err := blob.Download(ctx, "p/a.txt", dst); err != nil {
		t.Fatalf("下载失败: %v", err)
	}
	if data, _ := os.ReadFile(dst); string(data) != "hello" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestListProjects(t *testing.T) {
	store, _ := setupDocumentStore(t, nil)
	ctx := context.Background()
	for _, p := range []string{"beta", "alpha"} {
		if err := store.Save(ctx, testScript(p)); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Local().WriteFile("media-only/x.png", []byte("x")); err != nil {
		t.Fatal(err)
	}
	projects, err := store.ListProjects()
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 2 || projects[0] != "alpha" || projects[1] != "beta" {
		t.Fatalf("unexpected projects: %v", projects)
	}
}

func TestFileStorageCachesDocumentsOnly(t *testing.T) {
	local, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := local.WriteFile("reef/chapter_1/scene_1/shot_1_opening.png", []byte("png bytes")); err != nil {
		t.Fatal(err)
	}
	if data, err := local.ReadFile("reef/chapter_1/scene_1/shot_1_opening.png"); err != nil || string(data) != "png bytes" {
		t.Fatalf("read image: %q %v", data, err)
	}
	if n := local.cache.Len(); n != 0 {
		t.Fatalf("media files must not be cached, cache holds %d entries", n)
	}

	if err := local.WriteFile("reef/script.json", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if n := local.cache.Len(); n != 1 {
		t.Fatalf("script document should be cached, cache holds %d entries", n)
	}

	if err := local.WriteStream("reef/script.json", strings.NewReader(`{"v":2}`)); err != nil {
		t.Fatal(err)
	}
	if data, err := local.ReadFile("reef/script.json"); err != nil || string(data) != `{"v":2}` {
		t.Fatalf("stream write must invalidate the cached document: %q %v", data, err)
	}
}
