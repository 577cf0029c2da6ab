// internal/api/api_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/SceneDirector/internal/auth"
	"github.com/Corphon/SceneDirector/internal/config"
	"github.com/Corphon/SceneDirector/internal/llm/providers/mock"
	"github.com/Corphon/SceneDirector/internal/media"
	"github.com/Corphon/SceneDirector/internal/models"
	"github.com/Corphon/SceneDirector/internal/prompts"
	"github.com/Corphon/SceneDirector/internal/services"
	"github.com/Corphon/SceneDirector/internal/storage"
	"github.com/Corphon/SceneDirector/internal/utils"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	local, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	metrics := utils.NewMetricsCollector()
	store := storage.NewDocumentStore(local, nil, metrics)
	locks := services.NewLockManager()
	t.Cleanup(locks.Stop)

	invoker := services.NewLLMServiceWithProvider(&mock.Provider{}, metrics)
	director := services.NewDirectorService(invoker, prompts.NewLoader(""), store, locks, nil, metrics, 3)
	suite := media.NewSuite(config.MediaConfig{Mock: true}, store, metrics)
	mediaSvc := services.NewMediaService(store, store, suite, 2, metrics)

	return NewHandler(context.Background(), director, mediaSvc, services.NewProgressService(), metrics)
}

func newTestRouter(t *testing.T, opts RouterOptions) (*gin.Engine, *Handler) {
	t.Helper()
	h := newTestHandler(t)
	opts.DebugMode = true
	return SetupRouter(h, opts), h
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: response is not an envelope: %s", method, path, w.Body.String())
	}
	return w, env
}

func projectDetails(project string) models.ProjectDetails {
	return models.ProjectDetails{
		Project:          project,
		Genre:            "documentary",
		Subject:          "coral reefs",
		NumberOfChapters: 1,
		NumberOfScenes:   2,
		NumberOfShots:    2,
	}
}

func createProject(t *testing.T, r http.Handler, project string) {
	t.Helper()
	w, env := doJSON(t, r, http.MethodPost, "/api/generate-script", projectDetails(project))
	if w.Code != http.StatusCreated || !env.Success {
		t.Fatalf("create failed: %d %s", w.Code, w.Body.String())
	}
}

func waitTask(t *testing.T, h *Handler, taskID string) services.TaskSnapshot {
	t.Helper()
	tracker, ok := h.Progress.GetTracker(taskID)
	if !ok {
		t.Fatalf("task %s not registered", taskID)
	}
	select {
	case <-tracker.Done:
	case <-time.After(5 * time.Second):
		t.Fatalf("task %s did not finish", taskID)
	}
	return tracker.Snapshot()
}

func TestHealthAndGenres(t *testing.T) {
	r, _ := newTestRouter(t, RouterOptions{})

	w, env := doJSON(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("health: %d", w.Code)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("response should carry a request id")
	}

	w, env = doJSON(t, r, http.MethodGet, "/api/genres", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("genres: %d", w.Code)
	}
	var genres []string
	if err := json.Unmarshal(env.Data, &genres); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, g := range genres {
		if g == "documentary" {
			found = true
		}
	}
	if !found {
		t.Fatalf("documentary genre missing from %v", genres)
	}
}

func TestGenerateScriptThenShots(t *testing.T) {
	r, _ := newTestRouter(t, RouterOptions{})
	createProject(t, r, "reef")

	w, env := doJSON(t, r, http.MethodPost, "/api/projects/reef/shots", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("shots: %d %s", w.Code, w.Body.String())
	}
	var script models.Script
	if err := json.Unmarshal(env.Data, &script); err != nil {
		t.Fatal(err)
	}
	if len(script.Chapters) != 1 || len(script.Chapters[0].Scenes) != 2 || len(script.Chapters[0].Scenes[1].Shots) != 2 {
		t.Fatalf("unexpected tree: %+v", script.Stats())
	}

	w, env = doJSON(t, r, http.MethodGet, "/api/script/reef", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	var loaded models.Script
	if err := json.Unmarshal(env.Data, &loaded); err != nil {
		t.Fatal(err)
	}
	if loaded.Chapters[0].Scenes[0].Shots[1].ShotNumber != 2 {
		t.Fatalf("persisted document lost shots: %+v", loaded.Stats())
	}

	w, env = doJSON(t, r, http.MethodGet, "/api/projects", nil)
	if w.Code != http.StatusOK || !strings.Contains(string(env.Data), "reef") {
		t.Fatalf("projects: %d %s", w.Code, env.Data)
	}
}

func TestErrorMapping(t *testing.T) {
	r, _ := newTestRouter(t, RouterOptions{})
	createProject(t, r, "reef")

	cases := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"missing script", http.MethodGet, "/api/script/ghost", nil, http.StatusNotFound, ErrorScriptNotFound},
		{"invalid details", http.MethodPost, "/api/generate-script", models.ProjectDetails{Project: "x"}, http.StatusBadRequest, ErrorBadRequest},
		{"bad max_retries", http.MethodPost, "/api/projects/reef/shots?max_retries=zero", nil, http.StatusBadRequest, ErrorBadRequest},
		{"bad index", http.MethodPost, "/api/projects/reef/chapters/first/regenerate", nil, http.StatusBadRequest, ErrorCoordinateInvalid},
		{"chapter out of range", http.MethodPost, "/api/projects/reef/chapters/4/regenerate", nil, http.StatusNotFound, ErrorScriptNotFound},
		{"shot out of range", http.MethodPost, "/api/projects/reef/chapters/0/scenes/0/shots/0/regenerate", nil, http.StatusNotFound, ErrorScriptNotFound},
		{"unknown task", http.MethodGet, "/api/tasks/nope", nil, http.StatusNotFound, ErrorTaskNotFound},
		{"no media stage", http.MethodPost, "/api/generate-media/reef", map[string]bool{"overwrite": true}, http.StatusBadRequest, ErrorMediaStageMissing},
		{"media for missing project", http.MethodPost, "/api/generate-images/ghost", nil, http.StatusNotFound, ErrorScriptNotFound},
		{"image without coordinate", http.MethodPost, "/api/regenerate-image/reef", map[string]int{"chapter_index": 0}, http.StatusBadRequest, ErrorCoordinateInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := doJSON(t, r, tc.method, tc.path, tc.body)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if env.Success || env.Error == nil || env.Error.Code != tc.code {
				t.Fatalf("unexpected error envelope: %s", w.Body.String())
			}
		})
	}
}

func TestRegenerateSceneWithInstructions(t *testing.T) {
	r, _ := newTestRouter(t, RouterOptions{})
	createProject(t, r, "reef")

	body := RegenerateRequest{CustomInstructions: "Focus on the night shift of the reef"}
	w, env := doJSON(t, r, http.MethodPost, "/api/projects/reef/chapters/0/scenes/1/regenerate?max_retries=2", body)
	if w.Code != http.StatusOK {
		t.Fatalf("regenerate scene: %d %s", w.Code, w.Body.String())
	}
	var script models.Script
	if err := json.Unmarshal(env.Data, &script); err != nil {
		t.Fatal(err)
	}
	scene := script.Chapters[0].Scenes[1]
	if scene.SceneNumber != 2 || len(scene.Shots) != 2 {
		t.Fatalf("scene should be renumbered and reshot: %+v", scene)
	}
	if len(script.Chapters[0].Scenes[0].Shots) != 0 {
		t.Fatal("sibling scene must not gain shots")
	}
}

func TestAsyncOperationReportsThroughTask(t *testing.T) {
	r, h := newTestRouter(t, RouterOptions{})
	createProject(t, r, "reef")

	w, env := doJSON(t, r, http.MethodPost, "/api/projects/reef/shots?async=true", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("async shots: %d %s", w.Code, w.Body.String())
	}
	var accepted TaskAccepted
	if err := json.Unmarshal(env.Data, &accepted); err != nil {
		t.Fatal(err)
	}
	if accepted.Kind != "generate-shots" || accepted.Project != "reef" {
		t.Fatalf("unexpected task: %+v", accepted)
	}

	snap := waitTask(t, h, accepted.TaskID)
	if snap.Status != services.TaskStatusCompleted {
		t.Fatalf("task did not complete: %+v", snap)
	}

	w, env = doJSON(t, r, http.MethodGet, "/api/tasks/"+accepted.TaskID, nil)
	if w.Code != http.StatusOK || !strings.Contains(string(env.Data), `"status":"completed"`) {
		t.Fatalf("task endpoint: %d %s", w.Code, env.Data)
	}
}

func TestAsyncCreateWithUnknownGenreFailsTask(t *testing.T) {
	r, h := newTestRouter(t, RouterOptions{})

	details := projectDetails("prairie")
	details.Genre = "western"
	w, env := doJSON(t, r, http.MethodPost, "/api/generate-script?async=true", details)
	if w.Code != http.StatusAccepted {
		t.Fatalf("async create: %d %s", w.Code, w.Body.String())
	}
	var accepted TaskAccepted
	if err := json.Unmarshal(env.Data, &accepted); err != nil {
		t.Fatal(err)
	}

	snap := waitTask(t, h, accepted.TaskID)
	if snap.Status != services.TaskStatusFailed || !strings.Contains(snap.Message, "western") {
		t.Fatalf("task should fail with the validation message: %+v", snap)
	}
}

func TestUpdateScriptMigratesLegacyDocument(t *testing.T) {
	r, _ := newTestRouter(t, RouterOptions{})

	legacy := map[string]interface{}{
		"project_details": map[string]interface{}{
			"project": "atoll", "genre": "documentary", "subject": "atolls",
			"number_of_chapters": 1, "number_of_scenes": 1, "number_of_shots": 1,
		},
		"chapters": []interface{}{map[string]interface{}{
			"chapter_number": 1, "chapter_title": "Ring", "chapter_description": "A lagoon.",
			"scenes": []interface{}{map[string]interface{}{
				"scene_number": 1,
				"general_scene_description_and_motivations": "Tide comes in.",
				"narration_text": "Water rises.",
				"shots": []interface{}{map[string]interface{}{
					"shot_number":               1,
					"detailed_shot_description": "LEGACY TEXT",
					"still_image":               "yes",
				}},
			}},
		}},
	}
	w, _ := doJSON(t, r, http.MethodPut, "/api/update-script/atoll", legacy)
	if w.Code != http.StatusOK {
		t.Fatalf("update legacy script: %d %s", w.Code, w.Body.String())
	}

	w, env := doJSON(t, r, http.MethodGet, "/api/script/atoll", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get script: %d", w.Code)
	}
	var script models.Script
	if err := json.Unmarshal(env.Data, &script); err != nil {
		t.Fatal(err)
	}
	shot := script.Chapters[0].Scenes[0].Shots[0]
	if shot.DirectorInstructions != "LEGACY TEXT" || !shot.StillImage {
		t.Fatalf("legacy shot fields were not migrated: %+v", shot)
	}
	if script.Chapters[0].Scenes[0].MainStory != "Tide comes in." || script.SchemaVersion != models.SchemaVersion {
		t.Fatalf("legacy scene was not migrated: %+v", script)
	}

	// 当前版本的文档里出现旧字段名不会被悄悄丢弃
	current := map[string]interface{}{
		"schema_version":  models.SchemaVersion,
		"project_details": legacy["project_details"],
		"chapters":        legacy["chapters"],
	}
	w, env = doJSON(t, r, http.MethodPut, "/api/update-script/atoll", current)
	if w.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != ErrorScriptInvalid {
		t.Fatalf("unknown fields should be rejected: %d %s", w.Code, w.Body.String())
	}

	// 缺少必填字段的镜头
	empty := map[string]interface{}{
		"schema_version":  models.SchemaVersion,
		"project_details": legacy["project_details"],
		"chapters": []interface{}{map[string]interface{}{
			"chapter_number": 1, "chapter_title": "Ring", "chapter_description": "A lagoon.",
			"scenes": []interface{}{map[string]interface{}{
				"scene_number": 1, "main_story": "Tide.", "narration_text": "Water.",
				"shots": []interface{}{map[string]interface{}{"shot_number": 1}},
			}},
		}},
	}
	w, env = doJSON(t, r, http.MethodPut, "/api/update-script/atoll", empty)
	if w.Code != http.StatusBadRequest || !strings.Contains(env.Error.Message+env.Error.Details, "director_instructions") {
		t.Fatalf("shot without instructions should be rejected: %d %s", w.Code, w.Body.String())
	}
}

func TestMediaEndpoints(t *testing.T) {
	r, h := newTestRouter(t, RouterOptions{})
	createProject(t, r, "reef")
	if w, _ := doJSON(t, r, http.MethodPost, "/api/projects/reef/shots", nil); w.Code != http.StatusOK {
		t.Fatalf("shots: %d", w.Code)
	}

	w, env := doJSON(t, r, http.MethodPost, "/api/generate-images/reef", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("generate images: %d %s", w.Code, w.Body.String())
	}
	var accepted TaskAccepted
	if err := json.Unmarshal(env.Data, &accepted); err != nil {
		t.Fatal(err)
	}
	snap := waitTask(t, h, accepted.TaskID)
	report, ok := snap.Result.(*services.MediaReport)
	if !ok || report.Generated != 8 || len(report.Failures) != 0 {
		t.Fatalf("unexpected media report: %+v", snap.Result)
	}

	w, env = doJSON(t, r, http.MethodGet, "/api/images/reef", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list images: %d", w.Code)
	}
	var entries []services.ImageEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 8 {
		t.Fatalf("expected 8 image entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Status != services.ImageStatusCompleted {
			t.Fatalf("image should be completed: %+v", e)
		}
	}

	body := map[string]interface{}{"chapter_index": 0, "scene_index": 1, "shot_index": 0, "kind": "closing", "custom_prompt": "a turtle"}
	w, env = doJSON(t, r, http.MethodPost, "/api/regenerate-image/reef", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("regenerate image: %d %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(env.Data, &accepted); err != nil {
		t.Fatal(err)
	}
	snap = waitTask(t, h, accepted.TaskID)
	res, ok := snap.Result.(media.Result)
	if !ok || !res.Generated || res.Path != media.ShotImagePath("reef", 1, 2, 1, media.FrameClosing) {
		t.Fatalf("unexpected regenerate result: %+v", snap.Result)
	}

	body["shot_index"] = 7
	if w, _ := doJSON(t, r, http.MethodPost, "/api/regenerate-image/reef", body); w.Code != http.StatusNotFound {
		t.Fatalf("out of range shot should be 404, got %d", w.Code)
	}
	body["shot_index"] = 0
	body["kind"] = "middle"
	if w, _ := doJSON(t, r, http.MethodPost, "/api/regenerate-image/reef", body); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown frame should be 400, got %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	tokens := auth.NewTokenConfig("api-test-secret", time.Hour)
	r, _ := newTestRouter(t, RouterOptions{Tokens: tokens})

	if w, _ := doJSON(t, r, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", w.Code)
	}
	w, env := doJSON(t, r, http.MethodGet, "/api/genres", nil)
	if w.Code != http.StatusUnauthorized || env.Error.Code != ErrorUnauthorized {
		t.Fatalf("missing token: %d %s", w.Code, w.Body.String())
	}
	if w, _ := doJSON(t, r, http.MethodGet, "/api/genres", nil, "Authorization", "Bearer garbage"); w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: %d", w.Code)
	}

	token, err := auth.GenerateToken("editor", nil, tokens)
	if err != nil {
		t.Fatal(err)
	}
	if w, _ := doJSON(t, r, http.MethodGet, "/api/genres", nil, "Authorization", "Bearer "+token); w.Code != http.StatusOK {
		t.Fatalf("valid token: %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	r, h := newTestRouter(t, RouterOptions{APIRatePerSec: 1})

	if w, _ := doJSON(t, r, http.MethodGet, "/api/genres", nil); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	w, env := doJSON(t, r, http.MethodGet, "/api/genres", nil)
	if w.Code != http.StatusTooManyRequests || env.Error.Code != ErrorRateLimited {
		t.Fatalf("second request should be limited: %d %s", w.Code, w.Body.String())
	}
	if h.Metrics.GetCounterValue(utils.MetricAPIRequests) != 2 {
		t.Fatalf("both requests should be counted")
	}
}

func TestTaskWebSocketStreamsUntilDone(t *testing.T) {
	r, h := newTestRouter(t, RouterOptions{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	tracker := h.Progress.CreateTask("generate-media", "reef")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/tasks/" + tracker.TaskID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var first services.ProgressUpdate
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.TaskID != tracker.TaskID || first.Status != services.TaskStatusRunning {
		t.Fatalf("unexpected first update: %+v", first)
	}

	tracker.UpdateProgress(50, "half way")
	tracker.Complete("done", map[string]int{"generated": 3})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var last services.TaskSnapshot
	for {
		var update services.TaskSnapshot
		if err := conn.ReadJSON(&update); err != nil {
			break
		}
		last = update
	}
	if last.Status != services.TaskStatusCompleted || last.Progress != 100 || last.Result == nil {
		t.Fatalf("stream should end with the completed snapshot: %+v", last)
	}
}
