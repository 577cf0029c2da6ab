// cmd/director/commands.go
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Corphon/SceneDirector/internal/app"
	"github.com/Corphon/SceneDirector/internal/auth"
	"github.com/Corphon/SceneDirector/internal/models"
	"github.com/Corphon/SceneDirector/internal/services"
)

// scriptOp 统一处理进度输出和结果打印
func scriptOp(cmd *cobra.Command, kind string, run func(ctx context.Context, a *app.App, project string, opts ...services.RunOption) (*models.Script, error)) error {
	project, err := requireProject()
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		tracker, wait := withProgress(a, kind, project)
		script, err := run(ctx, a, project, services.WithTracker(tracker))
		wait()
		if err != nil {
			return err
		}
		return renderScript(script)
	})
}

func createCmd() *cobra.Command {
	var detailsPath string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate chapters and scenes for a new project",
		Long: `Reads project details from a YAML (or JSON) file and generates the chapter
list and the scenes of every chapter. Running it again for an existing
project returns the saved script without calling the LLM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(detailsPath)
			if err != nil {
				return err
			}
			var details models.ProjectDetails
			if err := yaml.Unmarshal(data, &details); err != nil {
				return fmt.Errorf("parse %s: %w", detailsPath, err)
			}
			if p := viper.GetString("project"); p != "" {
				details.Project = p
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tracker, wait := withProgress(a, "generate-script", details.Project)
				script, err := a.Director.CreateScript(ctx, details, services.WithTracker(tracker))
				wait()
				if err != nil {
					return err
				}
				return renderScript(script)
			})
		},
	}
	cmd.Flags().StringVar(&detailsPath, "details", "details.yaml", "project details file")
	return cmd
}

func shotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shots",
		Short: "Generate every missing shot, resuming after the last saved one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return scriptOp(cmd, "generate-shots", func(ctx context.Context, a *app.App, project string, opts ...services.RunOption) (*models.Script, error) {
				return a.Director.GenerateShots(ctx, project, opts...)
			})
		},
	}
}

func scenesCmd() *cobra.Command {
	var chapter int
	cmd := &cobra.Command{
		Use:   "scenes",
		Short: "Regenerate all scenes of one chapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return scriptOp(cmd, "generate-scenes", func(ctx context.Context, a *app.App, project string, opts ...services.RunOption) (*models.Script, error) {
				return a.Director.GenerateScenes(ctx, project, chapter, opts...)
			})
		},
	}
	cmd.Flags().IntVar(&chapter, "chapter", 0, "chapter index (0-based)")
	return cmd
}

func regenCmd() *cobra.Command {
	var (
		chapter, scene, shot int
		instructions         string
	)
	regen := &cobra.Command{Use: "regen", Short: "Regenerate one chapter, scene or shot"}
	regen.PersistentFlags().IntVar(&chapter, "chapter", 0, "chapter index (0-based)")
	regen.PersistentFlags().IntVar(&scene, "scene", 0, "scene index (0-based)")
	regen.PersistentFlags().IntVar(&shot, "shot", 0, "shot index (0-based)")
	regen.PersistentFlags().StringVar(&instructions, "instructions", "", "extra instructions for the LLM")

	regen.AddCommand(&cobra.Command{
		Use:   "chapter",
		Short: "Rewrite a chapter; its scenes are cleared",
		RunE: func(cmd *cobra.Command, args []string) error {
			return scriptOp(cmd, "regenerate-chapter", func(ctx context.Context, a *app.App, project string, opts ...services.RunOption) (*models.Script, error) {
				return a.Director.RegenerateChapter(ctx, project, chapter, instructions, opts...)
			})
		},
	})
	regen.AddCommand(&cobra.Command{
		Use:   "scene",
		Short: "Rewrite a scene and regenerate only its shots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return scriptOp(cmd, "regenerate-scene", func(ctx context.Context, a *app.App, project string, opts ...services.RunOption) (*models.Script, error) {
				return a.Director.RegenerateScene(ctx, project, chapter, scene, instructions, opts...)
			})
		},
	})
	regen.AddCommand(&cobra.Command{
		Use:   "shot",
		Short: "Rewrite a single existing shot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return scriptOp(cmd, "regenerate-shot", func(ctx context.Context, a *app.App, project string, opts ...services.RunOption) (*models.Script, error) {
				return a.Director.RegenerateShot(ctx, project, chapter, scene, shot, instructions, opts...)
			})
		},
	})
	return regen
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the saved script",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := requireProject()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				script, err := a.Director.GetScript(ctx, project)
				if err != nil {
					return err
				}
				return renderScript(script)
			})
		},
	}
}

func projectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects with a saved script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				projects, err := a.Director.ListProjects()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				for _, p := range projects {
					fmt.Println(p)
				}
				return nil
			})
		},
	}
}

func mediaCmd() *cobra.Command {
	var stages services.MediaStages
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Generate images, narration, music and videos, then compose each scene",
		Long: `Runs the selected stages for every scene of the saved script. Without stage
flags all stages run. Existing files are kept unless --overwrite is set.
A failed file is reported and does not stop the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := requireProject()
			if err != nil {
				return err
			}
			if !stages.Any() {
				overwrite := stages.Overwrite
				stages = services.AllStages()
				stages.Overwrite = overwrite
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tracker, wait := withProgress(a, "generate-media", project)
				report, err := a.Media.GenerateMedia(ctx, project, stages, tracker)
				if err != nil {
					tracker.Fail(err.Error(), report)
				} else {
					tracker.Complete("media generated", report)
				}
				wait()
				if err != nil {
					return err
				}
				return renderMediaReport(report)
			})
		},
	}
	cmd.Flags().BoolVar(&stages.Images, "images", false, "opening and closing frame of every shot")
	cmd.Flags().BoolVar(&stages.Narration, "narration", false, "narration audio per scene")
	cmd.Flags().BoolVar(&stages.Music, "music", false, "background music per scene")
	cmd.Flags().BoolVar(&stages.Video, "video", false, "one clip per shot from its frames")
	cmd.Flags().BoolVar(&stages.Compose, "compose", false, "final_scene.mp4 per scene (needs ffmpeg)")
	cmd.Flags().BoolVar(&stages.Overwrite, "overwrite", false, "regenerate files that already exist")
	return cmd
}

func imagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "images",
		Short: "List shot images and whether they exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := requireProject()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Media.ListImages(ctx, project)
				if err != nil {
					return err
				}
				return renderImages(entries)
			})
		},
	}
}

func attemptsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Show the most recent LLM attempts of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := requireProject()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				attempts, counts, err := a.Director.ListAttempts(ctx, project, limit)
				if err != nil {
					return err
				}
				return renderAttempts(attempts, counts)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of attempts (0 = all)")
	return cmd
}

func genresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genres",
		Short: "List prompt template categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				genres := a.Director.Genres()
				if viper.GetBool("json") {
					return printJSON(genres)
				}
				fmt.Println(strings.Join(genres, "\n"))
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		subject   string
		scopes    []string
		ttl       time.Duration
		newSecret bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token signed with AUTH_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if newSecret {
				key, err := auth.GenerateSecureKey(32)
				if err != nil {
					return err
				}
				fmt.Println(hex.EncodeToString(key))
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tokens := auth.NewTokenConfig(cfg.AuthSecret, ttl)
			if tokens == nil {
				return fmt.Errorf("AUTH_SECRET is not set; generate one with --new-secret")
			}
			token, err := auth.GenerateToken(subject, scopes, tokens)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "optional scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultExpiration, "token lifetime")
	cmd.Flags().BoolVar(&newSecret, "new-secret", false, "print a random secret suitable for AUTH_SECRET")
	return cmd
}
