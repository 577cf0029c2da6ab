// cmd/director/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Corphon/SceneDirector/internal/app"
	"github.com/Corphon/SceneDirector/internal/config"
	"github.com/Corphon/SceneDirector/internal/services"
	"github.com/Corphon/SceneDirector/internal/utils"
)

var rootCmd = &cobra.Command{
	Use:   "director",
	Short: "Hierarchical script generation from the command line",
	Long: `director generates a film script top-down: chapters, then scenes, then shots.
Every step is saved immediately, so an interrupted run resumes where it stopped.
Indices given with --chapter, --scene and --shot are 0-based; the saved
document numbers everything from 1.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DIRECTOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML config file (default director.yaml)")
	flags.String("data-dir", "", "local data directory (overrides DATA_DIR)")
	flags.Int("max-retries", 0, "retry budget per generated node (overrides MAX_RETRIES)")
	flags.StringP("project", "p", "", "project name")
	flags.Bool("json", false, "output JSON")
	flags.BoolP("verbose", "v", false, "debug logging")
	for _, name := range []string{"config", "data-dir", "max-retries", "project", "json", "verbose"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(shotsCmd())
	rootCmd.AddCommand(scenesCmd())
	rootCmd.AddCommand(regenCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(projectsCmd())
	rootCmd.AddCommand(mediaCmd())
	rootCmd.AddCommand(imagesCmd())
	rootCmd.AddCommand(attemptsCmd())
	rootCmd.AddCommand(genresCmd())
	rootCmd.AddCommand(tokenCmd())
}

// loadConfig 配置文件 + 环境变量，再由命令行参数覆盖
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if dir := viper.GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
		if viper.GetString("config") == "" && os.Getenv("JOURNAL_PATH") == "" {
			cfg.JournalPath = dir + "/journal.db"
		}
	}
	if n := viper.GetInt("max-retries"); n > 0 {
		cfg.MaxRetries = n
	}
	// 命令行输出走 stdout，日志只写 stderr
	cfg.LogDir = ""
	if viper.GetBool("verbose") {
		cfg.LogLevel = "debug"
	} else if cfg.LogLevel == "info" {
		cfg.LogLevel = "warn"
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	utils.GetLogger().SetOutput(os.Stderr)
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func requireProject() (string, error) {
	project := viper.GetString("project")
	if project == "" {
		return "", fmt.Errorf("--project is required")
	}
	return project, nil
}

// withProgress 把任务进度打印到 stderr，返回附加到调用上的选项
func withProgress(a *app.App, kind, project string) (*services.ProgressTracker, func()) {
	tracker := a.Progress.CreateTask(kind, project)
	updates := tracker.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		last := ""
		for {
			select {
			case u := <-updates:
				if u.Message != last && u.Status == services.TaskStatusRunning {
					fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", u.Progress, u.Message)
					last = u.Message
				}
			case <-tracker.Done:
				return
			}
		}
	}()
	return tracker, func() {
		// 操作在使用跟踪器之前就失败时，这里结束任务
		tracker.Fail("aborted", nil)
		<-done
		tracker.Unsubscribe(updates)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
