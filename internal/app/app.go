// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Corphon/SceneDirector/internal/api"
	"github.com/Corphon/SceneDirector/internal/auth"
	"github.com/Corphon/SceneDirector/internal/config"
	"github.com/Corphon/SceneDirector/internal/journal"
	"github.com/Corphon/SceneDirector/internal/llm/providers"
	"github.com/Corphon/SceneDirector/internal/media"
	"github.com/Corphon/SceneDirector/internal/prompts"
	"github.com/Corphon/SceneDirector/internal/services"
	"github.com/Corphon/SceneDirector/internal/storage"
	"github.com/Corphon/SceneDirector/internal/utils"
)

const (
	shutdownTimeout   = 30 * time.Second
	taskRetention     = time.Hour
	taskCleanupPeriod = 10 * time.Minute
)

// App 持有按配置组装好的全部服务
type App struct {
	Config   *config.Config
	Metrics  *utils.MetricsCollector
	LLM      *services.LLMService
	Store    *storage.DocumentStore
	Journal  *journal.Journal
	Locks    *services.LockManager
	Progress *services.ProgressService
	Director *services.DirectorService
	Media    *services.MediaService
	Tokens   *auth.TokenConfig

	ctx    context.Context
	cancel context.CancelFunc
	logger *utils.Logger
}

// New 按依赖顺序初始化所有服务。ctx 取消时后台任务随之取消
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := utils.GetLogger()
	logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	if cfg.DebugMode {
		logger.SetLogLevel(utils.DEBUG)
	}

	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	if cfg.LogDir != "" {
		logFile := filepath.Join(cfg.LogDir, fmt.Sprintf("director_%s.log", time.Now().Format("2006-01-02")))
		if err := utils.InitLogger(logFile); err != nil {
			return nil, fmt.Errorf("初始化日志系统失败: %w", err)
		}
	}

	metrics := utils.NewMetricsCollector()

	// 1. LLM
	llmService := services.NewLLMService(providers.NewRegistry(), cfg.LLM, metrics)
	if !llmService.IsReady() {
		logger.Warn("LLM service not ready, generation requests will fail", map[string]interface{}{
			"provider": cfg.LLM.Provider,
			"state":    llmService.GetReadyState(),
		})
	}

	// 2. 存储
	local, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	durable, err := newDurableStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	store := storage.NewDocumentStore(local, durable, metrics)

	var attempts *journal.Journal
	if cfg.JournalPath != "" {
		attempts, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("打开尝试日志失败: %w", err)
		}
	}

	// 3. 服务
	appCtx, cancel := context.WithCancel(ctx)
	locks := services.NewLockManager()
	director := services.NewDirectorService(llmService, prompts.NewLoader(cfg.PromptsDir), store, locks, attempts, metrics, cfg.MaxRetries)
	suite := media.NewSuite(cfg.Media, store, metrics)
	mediaService := services.NewMediaService(store, store, suite, cfg.Media.Concurrency, metrics)

	a := &App{
		Config:   cfg,
		Metrics:  metrics,
		LLM:      llmService,
		Store:    store,
		Journal:  attempts,
		Locks:    locks,
		Progress: services.NewProgressService(),
		Director: director,
		Media:    mediaService,
		Tokens:   auth.NewTokenConfig(cfg.AuthSecret, auth.DefaultExpiration),
		ctx:      appCtx,
		cancel:   cancel,
		logger:   logger,
	}
	logger.Info("services initialized", map[string]interface{}{
		"llm_provider":    llmService.GetProviderName(),
		"storage_backend": cfg.Storage.Backend,
		"media_mock":      cfg.Media.Mock,
		"auth":            a.Tokens != nil,
	})
	return a, nil
}

// newDurableStore 根据 STORAGE_BACKEND 选择持久化存储；none 返回 nil
func newDurableStore(ctx context.Context, cfg config.StorageConfig) (storage.BlobStore, error) {
	switch cfg.Backend {
	case config.StorageBackendDir:
		return storage.NewDirBlobStore(cfg.Dir)
	case config.StorageBackendS3:
		return storage.NewS3BlobStore(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.Region)
	default:
		return nil, nil
	}
}

// Router HTTP 路由
func (a *App) Router() http.Handler {
	handler := api.NewHandler(a.ctx, a.Director, a.Media, a.Progress, a.Metrics)
	return api.SetupRouter(handler, api.RouterOptions{
		Tokens:        a.Tokens,
		APIRatePerSec: a.Config.APIRatePerSec,
		DebugMode:     a.Config.DebugMode,
	})
}

// Serve 启动 HTTP 服务，ctx 取消后优雅关闭
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go a.cleanupTasks(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("服务器启动在端口 %s", a.Config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("正在关闭服务器...", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}
	a.logger.Info("服务器优雅关闭完成", nil)
	return nil
}

func (a *App) cleanupTasks(ctx context.Context) {
	ticker := time.NewTicker(taskCleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Progress.CleanupCompletedTasks(taskRetention)
		}
	}
}

// Close 取消后台任务并释放资源
func (a *App) Close() error {
	a.cancel()
	a.Locks.Stop()
	return a.Journal.Close()
}
