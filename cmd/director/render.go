// cmd/director/render.go
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"github.com/Corphon/SceneDirector/internal/journal"
	"github.com/Corphon/SceneDirector/internal/models"
	"github.com/Corphon/SceneDirector/internal/services"
)

const previewWidth = 60

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > previewWidth {
		return string(r[:previewWidth-1]) + "…"
	}
	return s
}

func renderScript(script *models.Script) error {
	if viper.GetBool("json") {
		return printJSON(script)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Chapter", "Scene", "Shot", "Text"})
	for _, ch := range script.Chapters {
		tw.AppendRow(table.Row{ch.ChapterNumber, "", "", preview(ch.ChapterTitle)})
		for _, sc := range ch.Scenes {
			text := sc.MainStory
			if sc.IsPlaceholder() {
				text = "(pending)"
			}
			tw.AppendRow(table.Row{"", sc.SceneNumber, "", preview(text)})
			for _, sh := range sc.Shots {
				text := sh.DirectorInstructions
				if sh.StillImage {
					text = "[still] " + text
				}
				tw.AppendRow(table.Row{"", "", sh.ShotNumber, preview(text)})
			}
		}
	}
	st := script.Stats()
	tw.AppendFooter(table.Row{st.Chapters, st.Scenes, st.Shots, fmt.Sprintf("%d placeholder scenes, %d shots missing", st.PlaceholderScenes, st.MissingShots)})
	tw.Render()
	return nil
}

func renderMediaReport(report *services.MediaReport) error {
	if viper.GetBool("json") {
		return printJSON(report)
	}
	fmt.Printf("generated %d, skipped %d, failed %d\n", report.Generated, report.Skipped, len(report.Failures))
	if len(report.Failures) == 0 {
		return nil
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Path", "Error"})
	for _, f := range report.Failures {
		tw.AppendRow(table.Row{f.Path, f.Err})
	}
	tw.Render()
	return nil
}

func renderImages(entries []services.ImageEntry) error {
	if viper.GetBool("json") {
		return printJSON(entries)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Chapter", "Scene", "Shot", "Frame", "Status", "Path"})
	for _, e := range entries {
		tw.AppendRow(table.Row{e.ChapterIndex, e.SceneIndex, e.ShotIndex, e.Frame, e.Status, e.Path})
	}
	tw.Render()
	return nil
}

func renderAttempts(attempts []journal.Attempt, counts map[string]int) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"attempts": attempts, "counts": counts})
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Time", "Coordinate", "Attempt", "Outcome", "Latency", "Error"})
	for _, at := range attempts {
		tw.AppendRow(table.Row{
			at.CreatedAt.Format("2006-01-02 15:04:05"),
			at.Coordinate,
			at.Attempt,
			at.Outcome,
			fmt.Sprintf("%dms", at.LatencyMs),
			preview(at.Error),
		})
	}
	tw.Render()
	parts := make([]string, 0, len(counts))
	for outcome, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", outcome, n))
	}
	fmt.Println(strings.Join(parts, " "))
	return nil
}
