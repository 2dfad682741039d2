package importapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recorded struct {
	path          string
	authorization string
	contentType   string
	body          string
}

func newAPI(t *testing.T, status int, reply string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{
			path:          r.URL.Path,
			authorization: r.Header.Get("Authorization"),
			contentType:   r.Header.Get("Content-Type"),
			body:          string(body),
		})
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestSubmitAccepted(t *testing.T) {
	srv, calls := newAPI(t, http.StatusAccepted, `{"url": "https://stage-api.example.com/data/importjobs/112846f4-ed97-4a5b-8f63-0a166ca731df/"}`)
	core, logs := observer.New(zapcore.InfoLevel)
	var observed int
	c := NewClient(srv.URL+"/data/import/", "secret", zap.New(core),
		WithObserver(func(status int, _ time.Duration) { observed = status }))

	job, err := c.Submit(context.Background(), "e23f7a01", []byte("a,b\n"), "plain/text", false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID != "112846f4-ed97-4a5b-8f63-0a166ca731df" {
		t.Fatalf("unexpected job id %q", job.ID)
	}
	if len(*calls) != 1 {
		t.Fatalf("expected one request, got %d", len(*calls))
	}
	got := (*calls)[0]
	if got.path != "/data/import/e23f7a01" {
		t.Fatalf("unexpected path %q", got.path)
	}
	if got.authorization != "Token secret" || got.contentType != "plain/text" || got.body != "a,b\n" {
		t.Fatalf("unexpected request %+v", got)
	}
	if observed != http.StatusAccepted {
		t.Fatalf("observer saw status %d", observed)
	}
	if logs.FilterMessage("Successfully created import job file with id: 112846f4-ed97-4a5b-8f63-0a166ca731df").Len() != 1 {
		t.Fatalf("missing success log, got %v", logs.All())
	}
}

func TestSubmitRejected(t *testing.T) {
	srv, _ := newAPI(t, http.StatusBadRequest, "Bad request")
	c := NewClient(srv.URL, "secret", nil)

	_, err := c.Submit(context.Background(), "def", []byte("x"), "text/csv", false)
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	want := "Failed to create import job, got response status code: 400, with content: Bad request"
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestSubmitRejectedLargeBodyIsMarked(t *testing.T) {
	srv, _ := newAPI(t, http.StatusBadGateway, strings.Repeat("x", maxErrorBody+10))
	c := NewClient(srv.URL, "secret", nil)

	_, err := c.Submit(context.Background(), "def", []byte("x"), "text/csv", false)
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if !strings.HasSuffix(subErr.Body, truncatedMarker) {
		t.Fatalf("truncated body not marked: ...%q", subErr.Body[len(subErr.Body)-20:])
	}
	if len(subErr.Body) != maxErrorBody+len(truncatedMarker) {
		t.Fatalf("unexpected body length %d", len(subErr.Body))
	}
}

func TestSubmitOnlyAcceptsAccepted(t *testing.T) {
	srv, _ := newAPI(t, http.StatusOK, `{"url": "https://x/jobs/1/"}`)
	c := NewClient(srv.URL, "secret", nil)
	_, err := c.Submit(context.Background(), "def", nil, "text/csv", false)
	var subErr *SubmissionError
	if !errors.As(err, &subErr) || subErr.StatusCode != http.StatusOK {
		t.Fatalf("200 must be treated as a failure, got %v", err)
	}
}

func TestSubmitMalformedAccepted(t *testing.T) {
	for _, reply := range []string{`not json`, `{}`, `{"url": "/"}`} {
		srv, _ := newAPI(t, http.StatusAccepted, reply)
		c := NewClient(srv.URL, "secret", nil)
		if _, err := c.Submit(context.Background(), "def", nil, "text/csv", false); !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("reply %q: expected ErrMalformedResponse, got %v", reply, err)
		}
	}
}

func TestSubmitDryRunMakesNoRequest(t *testing.T) {
	srv, calls := newAPI(t, http.StatusAccepted, `{"url": "https://x/jobs/1/"}`)
	core, logs := observer.New(zapcore.InfoLevel)
	c := NewClient(srv.URL+"/", "secret", zap.New(core))

	job, err := c.Submit(context.Background(), "def", nil, "text/csv", true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if job.ID != "" || len(*calls) != 0 {
		t.Fatalf("dry run must not call the api, job=%+v calls=%d", job, len(*calls))
	}
	want := "Will POST file content to " + srv.URL + "/def."
	if logs.FilterMessage(want).Len() != 1 {
		t.Fatalf("missing %q in %v", want, logs.All())
	}
}

func TestJobID(t *testing.T) {
	cases := map[string]string{
		"https://api/jobs/abc/":  "abc",
		"https://api/jobs/abc":   "abc",
		"https://api/jobs/abc//": "abc",
		"abc":                    "abc",
		"":                       "",
	}
	for in, want := range cases {
		if got := JobID(in); got != want {
			t.Fatalf("JobID(%q) = %q, want %q", in, got, want)
		}
	}
	if strings.Contains(JobID("https://api/jobs/abc/"), "/") {
		t.Fatalf("job id must not contain slashes")
	}
}
