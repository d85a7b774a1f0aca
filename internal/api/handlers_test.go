package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"signclips/internal/pipeline"
	"signclips/internal/task"
)

type pipelineFunc func(ctx context.Context, req pipeline.Request, updates chan<- pipeline.Update) (pipeline.Result, error)

func (f pipelineFunc) Run(ctx context.Context, req pipeline.Request, updates chan<- pipeline.Update) (pipeline.Result, error) {
	return f(ctx, req, updates)
}

// writesArchive completes immediately with a small zip on disk.
var writesArchive = pipelineFunc(func(_ context.Context, req pipeline.Request, updates chan<- pipeline.Update) (pipeline.Result, error) {
	updates <- pipeline.Update{Progress: 50, Message: "cutting"}
	dest := filepath.Join(req.WorkDir, pipeline.ArchiveFile)
	if err := os.WriteFile(dest, []byte("PK"), 0o600); err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{ArchivePath: dest}, nil
})

func setupRouter(t *testing.T, p task.Runner) (*gin.Engine, *task.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	testRouter := gin.New()
	testManager := task.NewManagerWithOptions(task.Options{
		DataDir:            t.TempDir(),
		MaxConcurrentTasks: 1,
		Pipeline:           p,
	})
	apiHandler := NewAPI(testManager)
	apiHandler.RegisterRoutes(testRouter)
	apiHandler.RegisterUIRoutes(testRouter)
	return testRouter, testManager
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createTask(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/api/v1/tasks", `{"url":"https://www.youtube.com/playlist?list=abc","max_videos":3}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d: %s", http.StatusAccepted, w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	id, _ := resp["task_id"].(string)
	if id == "" {
		t.Fatalf("expected non-empty task_id")
	}
	if resp["status"] != string(task.StatusPending) {
		t.Fatalf("expected status %q, got %v", task.StatusPending, resp["status"])
	}
	return id
}

func waitStatus(t *testing.T, router *gin.Engine, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w := doJSON(router, http.MethodGet, "/api/v1/tasks/"+id, "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var resp map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if task.Status(resp["status"].(string)).Terminal() {
			return resp
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for task to be processed")
	return nil
}

func TestCreateTaskAndDownload(t *testing.T) {
	router, _ := setupRouter(t, writesArchive)
	id := createTask(t, router)

	resp := waitStatus(t, router, id)
	if resp["status"] != string(task.StatusCompleted) {
		t.Fatalf("expected completed, got %v", resp["status"])
	}
	if resp["progress"].(float64) != 100 {
		t.Fatalf("expected progress 100, got %v", resp["progress"])
	}
	if resp["archive_url"] != "/api/v1/tasks/"+id+"/archive" {
		t.Fatalf("unexpected archive_url %v", resp["archive_url"])
	}

	w := doJSON(router, http.MethodGet, "/api/v1/tasks/"+id+"/archive", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on download, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "signclips-"+id+".zip") {
		t.Fatalf("unexpected disposition %q", w.Header().Get("Content-Disposition"))
	}

	w = doJSON(router, http.MethodGet, "/api/v1/tasks", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), id) {
		t.Fatalf("task missing from list: %d %s", w.Code, w.Body.String())
	}
}

func TestCreateTaskRejectsBadInput(t *testing.T) {
	router, _ := setupRouter(t, writesArchive)

	if w := doJSON(router, http.MethodPost, "/api/v1/tasks", `{"max_videos":3}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without url, got %d", w.Code)
	}
	if w := doJSON(router, http.MethodPost, "/api/v1/tasks", `{"url":"ftp://example.org/x"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-http url, got %d", w.Code)
	}
}

func TestUnknownTask(t *testing.T) {
	router, _ := setupRouter(t, writesArchive)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/tasks/nope"},
		{http.MethodPost, "/api/v1/tasks/nope/cancel"},
		{http.MethodDelete, "/api/v1/tasks/nope"},
		{http.MethodGet, "/api/v1/tasks/nope/archive"},
	} {
		if w := doJSON(router, tc.method, tc.path, ""); w.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestServerBusyCancelAndDelete(t *testing.T) {
	started := make(chan struct{}, 1)
	blocking := pipelineFunc(func(ctx context.Context, _ pipeline.Request, _ chan<- pipeline.Update) (pipeline.Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return pipeline.Result{}, ctx.Err()
	})
	router, _ := setupRouter(t, blocking)
	id := createTask(t, router)
	<-started

	// one slot total, so a second submission is rejected
	w := doJSON(router, http.MethodPost, "/api/v1/tasks", `{"url":"https://example.org/v"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w := doJSON(router, http.MethodGet, "/api/v1/tasks/"+id+"/archive", ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for running archive, got %d", w.Code)
	}
	if w := doJSON(router, http.MethodDelete, "/api/v1/tasks/"+id, ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 deleting a running task, got %d", w.Code)
	}

	if w := doJSON(router, http.MethodPost, "/api/v1/tasks/"+id+"/cancel", ""); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on cancel, got %d", w.Code)
	}
	resp := waitStatus(t, router, id)
	if resp["status"] != string(task.StatusCancelled) {
		t.Fatalf("expected cancelled, got %v", resp["status"])
	}

	if w := doJSON(router, http.MethodDelete, "/api/v1/tasks/"+id, ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", w.Code)
	}
	if w := doJSON(router, http.MethodGet, "/api/v1/tasks/"+id, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := setupRouter(t, writesArchive)
	if w := doJSON(router, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", w.Code)
	}
	w := doJSON(router, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "signclips_tasks_submitted_total") {
		t.Fatalf("metrics missing task counter: %d", w.Code)
	}
}

func TestUISubmitAndTaskPage(t *testing.T) {
	router, m := setupRouter(t, writesArchive)

	req := httptest.NewRequest(http.MethodPost, "/ui/tasks", strings.NewReader("url=https://example.org/v&max_videos=2"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d: %s", w.Code, w.Body.String())
	}
	location := w.Header().Get("Location")
	id := strings.TrimPrefix(location, "/ui/tasks/")
	if _, err := m.Status(id); err != nil {
		t.Fatalf("redirected to unknown task %q", location)
	}
	waitStatus(t, router, id)

	w = doJSON(router, http.MethodGet, location, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Download zip") {
		t.Fatalf("task page missing download link: %d", w.Code)
	}

	w = doJSON(router, http.MethodGet, "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), id) {
		t.Fatalf("home page missing task: %d", w.Code)
	}
}
