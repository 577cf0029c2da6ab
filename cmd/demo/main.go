// cmd/demo/main.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/Corphon/SceneDirector/internal/app"
	"github.com/Corphon/SceneDirector/internal/config"
	"github.com/Corphon/SceneDirector/internal/models"
	"github.com/Corphon/SceneDirector/internal/services"
	"github.com/Corphon/SceneDirector/internal/utils"
)

const demoProject = "demo_glaciers"

var stdin = bufio.NewScanner(os.Stdin)

// 离线演示：mock LLM + mock 媒体，不需要任何 API key
func main() {
	fmt.Println("🎬 SceneDirector Demo (offline)")
	fmt.Println("=================================")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}
	cfg.LLM.Provider = "mock"
	cfg.Media.Mock = true
	cfg.Storage.Backend = config.StorageBackendNone
	cfg.LogDir = ""
	utils.GetLogger().SetOutput(os.Stderr)
	cfg.LogLevel = "warn"

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ 初始化失败: %v", err)
	}
	defer a.Close()

	if len(os.Args) > 1 && os.Args[1] == "--auto" {
		runAll(ctx, a)
		return
	}

	for {
		showMenu()
		switch getUserInput("请选择 > ") {
		case "1":
			step(createScript(ctx, a))
		case "2":
			step(a.Director.GenerateShots(ctx, demoProject))
		case "3":
			regenerateScene(ctx, a)
		case "4":
			generateMedia(ctx, a)
		case "5":
			step(a.Director.GetScript(ctx, demoProject))
		case "6":
			runAll(ctx, a)
		case "0", "quit", "exit":
			fmt.Println("👋 再见")
			return
		default:
			fmt.Println("❓ 无效选项")
		}
	}
}

func showMenu() {
	fmt.Println()
	fmt.Println("1. 生成章节和场景")
	fmt.Println("2. 生成镜头")
	fmt.Println("3. 重新生成场景")
	fmt.Println("4. 生成媒体")
	fmt.Println("5. 查看脚本")
	fmt.Println("6. 全流程")
	fmt.Println("0. 退出")
}

func getUserInput(prompt string) string {
	fmt.Print(prompt)
	if !stdin.Scan() {
		return "0"
	}
	return strings.TrimSpace(stdin.Text())
}

func getIntWithDefault(prompt string, def int) int {
	input := getUserInput(fmt.Sprintf("%s [默认: %d]: ", prompt, def))
	if n, err := strconv.Atoi(input); err == nil {
		return n
	}
	return def
}

func createScript(ctx context.Context, a *app.App) (*models.Script, error) {
	return a.Director.CreateScript(ctx, models.ProjectDetails{
		Project:                  demoProject,
		Genre:                    "documentary",
		Subject:                  "the retreat of alpine glaciers",
		MainCharacterDescription: "a glaciologist in a red parka",
		NumberOfChapters:         2,
		NumberOfScenes:           2,
		NumberOfShots:            2,
	})
}

func regenerateScene(ctx context.Context, a *app.App) {
	chapter := getIntWithDefault("章节 (从 0 开始)", 0)
	scene := getIntWithDefault("场景 (从 0 开始)", 0)
	instructions := getUserInput("附加说明: ")
	step(a.Director.RegenerateScene(ctx, demoProject, chapter, scene, instructions))
}

func generateMedia(ctx context.Context, a *app.App) {
	tracker := a.Progress.CreateTask("generate-media", demoProject)
	report, err := a.Media.GenerateMedia(ctx, demoProject, services.AllStages(), tracker)
	if err != nil {
		tracker.Fail(err.Error(), report)
		fmt.Printf("❌ %v\n", err)
		return
	}
	tracker.Complete("media generated", report)
	fmt.Printf("✅ 生成 %d 个文件，跳过 %d 个，失败 %d 个\n", report.Generated, report.Skipped, len(report.Failures))
	fmt.Printf("📁 输出目录: %s\n", a.Config.DataDir)
}

func runAll(ctx context.Context, a *app.App) {
	fmt.Println("▶️  生成章节和场景")
	step(createScript(ctx, a))
	fmt.Println("▶️  生成镜头")
	step(a.Director.GenerateShots(ctx, demoProject))
	fmt.Println("▶️  重新生成第 1 章第 1 个场景")
	step(a.Director.RegenerateScene(ctx, demoProject, 0, 0, "make it colder"))
	fmt.Println("▶️  生成媒体")
	generateMedia(ctx, a)
}

func step(script *models.Script, err error) {
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	printScript(script)
}

func printScript(script *models.Script) {
	st := script.Stats()
	fmt.Printf("📜 %s: %d 章, %d 场景, %d 镜头 (缺 %d)\n",
		script.ProjectDetails.Project, st.Chapters, st.Scenes, st.Shots, st.MissingShots)
	for _, ch := range script.Chapters {
		fmt.Printf("  📖 %d. %s\n", ch.ChapterNumber, ch.ChapterTitle)
		for _, sc := range ch.Scenes {
			story := sc.MainStory
			if sc.IsPlaceholder() {
				story = "(待生成)"
			}
			fmt.Printf("    🎞️  %d. %s\n", sc.SceneNumber, story)
			for _, sh := range sc.Shots {
				fmt.Printf("      🎥 %d. %s\n", sh.ShotNumber, sh.DirectorInstructions)
			}
		}
	}
}
