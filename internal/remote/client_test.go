package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"repodocx/internal/conversion"
	"repodocx/internal/job"
)

type fakeService struct {
	mu       sync.Mutex
	bodies   []map[string]any
	requests []string
	mux      *http.ServeMux
}

func newFakeService(t *testing.T) (*fakeService, *Client) {
	t.Helper()
	svc := &fakeService{mux: http.NewServeMux()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		svc.mu.Lock()
		svc.requests = append(svc.requests, r.Method+" "+r.URL.EscapedPath())
		if r.Body != nil && r.Method == http.MethodPost {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			svc.bodies = append(svc.bodies, body)
		}
		svc.mu.Unlock()
		svc.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/api", time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return svc, c
}

func (s *fakeService) handle(pattern string, status int, body string) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func (s *fakeService) lastBody() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bodies) == 0 {
		return nil
	}
	return s.bodies[len(s.bodies)-1]
}

func (s *fakeService) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func mustRequest(t *testing.T, url, token string, exts ...string) conversion.Request {
	t.Helper()
	req, err := conversion.Build(url, token, exts)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func TestNewRejectsEmptyBaseURL(t *testing.T) {
	if _, err := New("  ", 0); !errors.Is(err, ErrEmptyBaseURL) {
		t.Fatalf("expected ErrEmptyBaseURL, got %v", err)
	}
}

func TestSubmitSendsRequestAndReturnsHandle(t *testing.T) {
	svc, c := newFakeService(t)
	svc.handle("POST /api/convert", http.StatusOK, `{"job_id":"j1","status":"started"}`)

	h, err := c.Submit(context.Background(), mustRequest(t, "https://github.com/o/r", "secret", "py", ".js"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if h.JobID != "j1" {
		t.Fatalf("unexpected handle: %+v", h)
	}
	body := svc.lastBody()
	if body["url"] != "https://github.com/o/r" || body["token"] != "secret" {
		t.Fatalf("unexpected body: %v", body)
	}
	exts, ok := body["extensions"].([]any)
	if !ok || len(exts) != 2 || exts[0] != ".py" || exts[1] != ".js" {
		t.Fatalf("extensions not sent in order: %v", body["extensions"])
	}
}

func TestSubmitOmitsEmptyToken(t *testing.T) {
	svc, c := newFakeService(t)
	svc.handle("POST /api/convert", http.StatusOK, `{"job_id":"j1","status":"started"}`)

	if _, err := c.Submit(context.Background(), mustRequest(t, "https://github.com/o/r", "")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, present := svc.lastBody()["token"]; present {
		t.Fatalf("token must be omitted when absent: %v", svc.lastBody())
	}
}

func TestSubmitUsesServerErrorMessage(t *testing.T) {
	svc, c := newFakeService(t)
	svc.handle("POST /api/convert", http.StatusBadRequest, `{"error":"Invalid GitHub URL"}`)

	_, err := c.Submit(context.Background(), mustRequest(t, "https://example.com/x", ""))
	var subErr *job.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if subErr.Message != "Invalid GitHub URL" {
		t.Fatalf("unexpected message %q", subErr.Message)
	}
	if svc.requestCount() != 1 {
		t.Fatalf("expected exactly one request, got %d", svc.requestCount())
	}
}

func TestSubmitWithoutServerMessageUsesGenericText(t *testing.T) {
	svc, c := newFakeService(t)
	svc.handle("POST /api/convert", http.StatusInternalServerError, `oops`)

	_, err := c.Submit(context.Background(), mustRequest(t, "https://github.com/o/r", ""))
	var subErr *job.SubmissionError
	if !errors.As(err, &subErr) || subErr.Message != job.MsgSubmissionFailed {
		t.Fatalf("expected generic submission error, got %v", err)
	}
}

func TestSubmitTransportFailure(t *testing.T) {
	c, err := New("http://127.0.0.1:1/api", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = c.Submit(context.Background(), mustRequest(t, "https://github.com/o/r", ""))
	var subErr *job.SubmissionError
	if !errors.As(err, &subErr) || subErr.Message != job.MsgSubmissionFailed {
		t.Fatalf("expected generic submission error, got %v", err)
	}
}

func TestPollMapsProgress(t *testing.T) {
	svc, c := newFakeService(t)
	svc.handle("GET /api/status/j1", http.StatusOK,
		`{"id":"j1","status":"processing","files":[],"error":null,
		  "progress":{"processed":3,"total":10,"current_file":"a.py","detail_status":"processing"}}`)

	res, err := c.Poll(context.Background(), job.Handle{JobID: "j1"})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Status != "processing" || res.Progress == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := job.Progress{Processed: 3, Total: 10, CurrentItem: "a.py", Phase: "processing"}
	if *res.Progress != want {
		t.Fatalf("progress = %+v, want %+v", *res.Progress, want)
	}
	if res.Artifacts != nil {
		t.Fatalf("artifacts must only be set on completion: %v", res.Artifacts)
	}
}

func TestPollCompletedCarriesArtifactsInOrder(t *testing.T) {
	svc, c := newFakeService(t)
	svc.handle("GET /api/status/j1", http.StatusOK,
		`{"id":"j1","status":"completed","files":[{"filename":"b.docx","folder":"src"},{"filename":"a.docx","folder":"lib"}]}`)

	res, err := c.Poll(context.Background(), job.Handle{JobID: "j1"})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(res.Artifacts) != 2 || res.Artifacts[0].Filename != "b.docx" || res.Artifacts[1].Folder != "lib" {
		t.Fatalf("unexpected artifacts: %+v", res.Artifacts)
	}
}

func TestPollFailuresAreTransportErrors(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"not found":    {http.StatusNotFound, `{"error":"Job not found"}`},
		"bad json":     {http.StatusOK, `{"status":`},
		"empty status": {http.StatusOK, `{}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, c := newFakeService(t)
			svc.handle("GET /api/status/j1", tc.status, tc.body)

			_, err := c.Poll(context.Background(), job.Handle{JobID: "j1"})
			var pollErr *job.PollTransportError
			if !errors.As(err, &pollErr) {
				t.Fatalf("expected PollTransportError, got %v", err)
			}
		})
	}
}

func TestDownloadStreamsBody(t *testing.T) {
	svc, c := newFakeService(t)
	svc.mux.HandleFunc("GET /api/download/j1/{name}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "docx:"+r.PathValue("name"))
	})

	rc, err := c.Download(context.Background(), job.Handle{JobID: "j1"}, "my file.docx")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "docx:my file.docx" {
		t.Fatalf("unexpected payload %q", data)
	}
}

func TestDownloadMissingFile(t *testing.T) {
	svc, c := newFakeService(t)
	svc.handle("GET /api/download/j1/{name}", http.StatusNotFound, `{"error":"File not found"}`)

	if _, err := c.Download(context.Background(), job.Handle{JobID: "j1"}, "x.docx"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestHealthAndCleanup(t *testing.T) {
	svc, c := newFakeService(t)
	svc.handle("GET /api/health", http.StatusOK, `{"status":"healthy","message":"GitHub to DOCX converter is running"}`)
	svc.handle("DELETE /api/cleanup/j1", http.StatusOK, `{"message":"Job cleaned up successfully"}`)

	msg, err := c.Health(context.Background())
	if err != nil || msg != "GitHub to DOCX converter is running" {
		t.Fatalf("health = %q, %v", msg, err)
	}
	if err := c.Cleanup(context.Background(), job.Handle{JobID: "j1"}); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if err := c.Cleanup(context.Background(), job.Handle{JobID: "missing"}); err == nil {
		t.Fatalf("expected cleanup of unknown job to fail")
	}
}
