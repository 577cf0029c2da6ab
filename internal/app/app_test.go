// internal/app/app_test.go
package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Corphon/SceneDirector/internal/config"
	apperrors "github.com/Corphon/SceneDirector/internal/errors"
	"github.com/Corphon/SceneDirector/internal/models"
	"github.com/Corphon/SceneDirector/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.LogDir = ""
	cfg.JournalPath = filepath.Join(dir, "journal.db")
	cfg.MaxRetries = 3
	cfg.LLM.Provider = "mock"
	cfg.Media.Mock = true
	return cfg
}

func testDetails(project string) models.ProjectDetails {
	return models.ProjectDetails{
		Project:          project,
		Genre:            "documentary",
		Subject:          "glaciers",
		NumberOfChapters: 1,
		NumberOfScenes:   1,
		NumberOfShots:    1,
	}
}

func TestNewWiresOfflineStack(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if !a.LLM.IsReady() {
		t.Fatalf("mock provider should be ready: %s", a.LLM.GetReadyState())
	}
	if a.Tokens != nil {
		t.Fatal("auth should be disabled without AUTH_SECRET")
	}

	if _, err := a.Director.CreateScript(ctx, testDetails("ice")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Director.GenerateShots(ctx, "ice"); err != nil {
		t.Fatal(err)
	}
	attempts, counts, err := a.Director.ListAttempts(ctx, "ice", 0)
	if err != nil {
		t.Fatal(err)
	}
	// chapters, scenes, 1 shot
	if len(attempts) != 3 || counts["succeeded"] != 3 {
		t.Fatalf("journal should hold 3 successful attempts, got %d %v", len(attempts), counts)
	}

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/script/ice", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("router should serve the saved script, got %d", w.Code)
	}
}

func TestNewWithDirBackendPublishesDocuments(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.Backend = config.StorageBackendDir
	cfg.Storage.Dir = filepath.Join(t.TempDir(), "durable")

	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if _, err := a.Director.CreateScript(ctx, testDetails("dunes")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Storage.Dir, filepath.FromSlash(storage.ScriptKey("dunes")))); err != nil {
		t.Fatalf("script should be published to the durable dir: %v", err)
	}
}

func TestUnknownProviderFailsAtInvocation(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.LLM.Provider = "does-not-exist"

	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("startup should tolerate a bad provider: %v", err)
	}
	defer a.Close()

	if a.LLM.IsReady() {
		t.Fatal("service should not be ready")
	}
	_, err = a.Director.CreateScript(ctx, testDetails("void"))
	if !apperrors.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Port = "0"
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve should shut down cleanly: %v", err)
	}
}
