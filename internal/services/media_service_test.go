// internal/services/media_service_test.go
package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Corphon/SceneDirector/internal/config"
	apperrors "github.com/Corphon/SceneDirector/internal/errors"
	"github.com/Corphon/SceneDirector/internal/media"
)

func newMediaFixture(t *testing.T, chapters, scenes, shots int) (*directorFixture, string) {
	t.Helper()
	ctx := context.Background()
	f := newDirectorFixture(t, t.TempDir(), nil)
	if _, err := f.director.CreateScript(ctx, details("media", chapters, scenes, shots)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.director.GenerateShots(ctx, "media"); err != nil {
		t.Fatal(err)
	}
	return f, "media"
}

func TestGenerateMediaAllStagesOffline(t *testing.T) {
	ctx := context.Background()
	f, project := newMediaFixture(t, 1, 2, 2)
	suite := media.NewSuite(config.MediaConfig{Mock: true}, f.store, f.metrics)
	svc := NewMediaService(f.store, f.store, suite, 3, f.metrics)

	tracker := NewProgressService().CreateTask("generate-media", project)
	report, err := svc.GenerateMedia(ctx, project, AllStages(), tracker)
	if err != nil {
		t.Fatal(err)
	}
	// 8 张图片 + 2 段旁白 + 2 段音乐 + 4 段视频 + 2 个合成场景
	if report.Generated != 18 || report.Skipped != 0 || len(report.Failures) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	for _, key := range []string{
		media.ShotImagePath(project, 1, 2, 2, media.FrameClosing),
		media.NarrationPath(project, 1, 1),
		media.MusicPath(project, 1, 2),
		media.ShotVideoPath(project, 1, 1, 1),
		media.FinalScenePath(project, 1, 2),
	} {
		if !f.store.FileExists(ctx, key) {
			t.Errorf("expected %s to exist", key)
		}
	}
	if snap := tracker.Snapshot(); snap.Progress != 100 {
		t.Errorf("progress should reach 100, got %d", snap.Progress)
	}

	again, err := svc.GenerateMedia(ctx, project, AllStages(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if again.Generated != 0 || again.Skipped != 18 {
		t.Fatalf("second run should skip everything: %+v", again)
	}
}

type selectiveImages struct {
	failOn string
}

func (s selectiveImages) GenerateImage(ctx context.Context, prompt string, seed int64) ([]byte, error) {
	if strings.Contains(prompt, s.failOn) {
		return nil, errors.New("content policy violation")
	}
	return []byte("png"), nil
}

func TestGenerateMediaCollectsFailures(t *testing.T) {
	ctx := context.Background()
	f, project := newMediaFixture(t, 1, 1, 3)
	suite := &media.Suite{
		Images: media.NewImageAdapter(f.store, selectiveImages{failOn: "Opening frame of shot 2,"}, nil, f.metrics),
	}
	svc := NewMediaService(f.store, f.store, suite, 2, f.metrics)

	report, err := svc.GenerateMedia(ctx, project, MediaStages{Images: true}, nil)
	if err != nil {
		t.Fatalf("failures must not abort the batch: %v", err)
	}
	if len(report.Failures) != 1 || report.Generated != 5 {
		t.Fatalf("expected 1 failure and 5 images, got %+v", report)
	}
	if report.Failures[0].Path != media.ShotImagePath(project, 1, 1, 2, media.FrameOpening) {
		t.Fatalf("unexpected failure path %q", report.Failures[0].Path)
	}
	if !strings.Contains(report.Failures[0].Err, "content policy violation") {
		t.Fatalf("failure should carry the backend error: %q", report.Failures[0].Err)
	}

	if _, err := svc.GenerateMedia(ctx, project, MediaStages{}, nil); !apperrors.IsValidationError(err) {
		t.Fatalf("empty stage set should be rejected, got %v", err)
	}
	if _, err := svc.GenerateMedia(ctx, "ghost", MediaStages{Images: true}, nil); !apperrors.IsNotFoundError(err) {
		t.Fatalf("missing project should be not found, got %v", err)
	}
}

func TestListAndRegenerateImages(t *testing.T) {
	ctx := context.Background()
	f, project := newMediaFixture(t, 1, 1, 2)
	suite := media.NewSuite(config.MediaConfig{Mock: true}, f.store, f.metrics)
	svc := NewMediaService(f.store, f.store, suite, 1, f.metrics)

	entries, err := svc.ListImages(ctx, project)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Status != ImageStatusPending {
			t.Fatalf("nothing generated yet: %+v", e)
		}
	}

	res, err := svc.RegenerateImage(ctx, project, 0, 0, 1, "a heron takes off", media.FrameClosing)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Generated || res.Path != media.ShotImagePath(project, 1, 1, 2, media.FrameClosing) {
		t.Fatalf("unexpected result %+v", res)
	}

	entries, err = svc.ListImages(ctx, project)
	if err != nil {
		t.Fatal(err)
	}
	completed := 0
	for _, e := range entries {
		if e.Status == ImageStatusCompleted {
			completed++
			if e.ShotIndex != 1 || e.Frame != string(media.FrameClosing) {
				t.Fatalf("wrong entry completed: %+v", e)
			}
		}
	}
	if completed != 1 {
		t.Fatalf("expected exactly one completed image, got %d", completed)
	}

	if _, err := svc.RegenerateImage(ctx, project, 0, 0, 5, "", media.FrameOpening); !apperrors.IsNotFoundError(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
