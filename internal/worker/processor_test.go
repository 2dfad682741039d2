package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/bucketimport/internal/importapi"
	"github.com/dharsanguruparan/bucketimport/internal/mapping"
	"github.com/dharsanguruparan/bucketimport/internal/model"
	"github.com/dharsanguruparan/bucketimport/internal/queue"
	"github.com/dharsanguruparan/bucketimport/internal/storage"
)

func newTask(t *testing.T, ev model.StorageEvent) *asynq.Task {
	t.Helper()
	task, _, err := queue.NewObjectEventTask(ev, 5)
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	return task
}

func apiServer(t *testing.T, status int, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	doc := map[string]any{
		"base_url":  baseURL,
		"api_token": "token",
		"file_mappings": [][]any{
			{`in/[^/]+\.csv`, "def-1", "done"},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestProcessorMovesImportedObject(t *testing.T) {
	api := apiServer(t, http.StatusAccepted, `{"url": "https://api/importjobs/job-7/"}`)
	store := storage.NewMemoryStore()
	store.Put("b", "in/a.csv", []byte("x"))
	p := NewProcessor(FileLoader(writeConfig(t, api.URL), mapping.Overrides{}), store, false, nil)

	if err := p.handleObjectEvent(context.Background(), newTask(t, model.StorageEvent{Bucket: "b", Name: "in/a.csv", ContentType: "text/csv"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !store.Exists("b", "done/in/a_job-7.csv") {
		t.Fatalf("object not moved: %v", store.Keys("b"))
	}
}

func TestProcessorRetriesRejectedSubmission(t *testing.T) {
	api := apiServer(t, http.StatusBadRequest, "Bad request")
	store := storage.NewMemoryStore()
	store.Put("b", "in/a.csv", []byte("x"))
	p := NewProcessor(FileLoader(writeConfig(t, api.URL), mapping.Overrides{}), store, false, nil)

	err := p.handleObjectEvent(context.Background(), newTask(t, model.StorageEvent{Bucket: "b", Name: "in/a.csv"}))
	var subErr *importapi.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("rejected submissions should be retried")
	}
	if !store.Exists("b", "in/a.csv") {
		t.Fatalf("object must stay in place")
	}
}

func TestProcessorSkipsRetryOnConfigError(t *testing.T) {
	store := storage.NewMemoryStore()
	load := func() (*mapping.ImportConfig, error) {
		rule, err := mapping.PatternRule(`in/.*`, "def", "")
		if err != nil {
			return nil, err
		}
		return mapping.New("", "", rule), nil
	}
	p := NewProcessor(load, store, false, nil)

	err := p.handleObjectEvent(context.Background(), newTask(t, model.StorageEvent{Bucket: "b", Name: "in/a.csv"}))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if len(store.Calls()) != 0 {
		t.Fatalf("storage touched despite config error")
	}
}

func TestProcessorSkipsRetryOnBadPayload(t *testing.T) {
	p := NewProcessor(func() (*mapping.ImportConfig, error) {
		t.Fatalf("config must not load for a bad payload")
		return nil, nil
	}, storage.NewMemoryStore(), true, nil)

	err := p.handleObjectEvent(context.Background(), asynq.NewTask(queue.ObjectEventTask, []byte("not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestProcessorDryRun(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Put("b", "in/a.csv", []byte("x"))
	p := NewProcessor(FileLoader(writeConfig(t, "https://unused.example.com"), mapping.Overrides{}), store, true, nil)

	if err := p.handleObjectEvent(context.Background(), newTask(t, model.StorageEvent{Bucket: "b", Name: "in/a.csv"})); err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if len(store.Calls()) != 0 {
		t.Fatalf("dry run touched storage: %+v", store.Calls())
	}
}

func TestProcessorHandlerRoutesTask(t *testing.T) {
	p := NewProcessor(nil, storage.NewMemoryStore(), true, nil)
	mux := p.Handler()
	h, pattern := mux.Handler(asynq.NewTask(queue.ObjectEventTask, nil))
	if h == nil || pattern != queue.ObjectEventTask {
		t.Fatalf("object event task not routed, pattern=%q", pattern)
	}
}
