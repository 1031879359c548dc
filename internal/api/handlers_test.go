package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"repodocx/internal/conversion"
	"repodocx/internal/job"
)

type fakeRemote struct {
	mu        sync.Mutex
	submitted []conversion.Request
	submitErr error
	status    job.PollResult
	files     map[string]string
}

func (f *fakeRemote) Submit(_ context.Context, req conversion.Request) (job.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return job.Handle{}, f.submitErr
	}
	return job.Handle{JobID: "j1"}, nil
}

func (f *fakeRemote) Poll(context.Context, job.Handle) (job.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeRemote) Download(_ context.Context, _ job.Handle, filename string) (io.ReadCloser, error) {
	body, ok := f.files[filename]
	if !ok {
		return nil, errors.New("download returned status 404")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeRemote) Health(context.Context) (string, error) { return "running", nil }

func (f *fakeRemote) setStatus(res job.PollResult) {
	f.mu.Lock()
	f.status = res
	f.mu.Unlock()
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		status: job.PollResult{Status: "processing", Progress: &job.Progress{Processed: 1, Total: 4, Phase: "processing"}},
		files:  map[string]string{"main.docx": "main-body", "util.docx": "util-body"},
	}
}

func setupRouter(remote *fakeRemote) (*gin.Engine, *job.Machine) {
	gin.SetMode(gin.TestMode)
	testRouter := gin.New()
	machine := job.NewMachine(job.Options{Gateway: remote, Status: remote, PollInterval: 5 * time.Millisecond})
	apiHandler := NewAPI(machine, remote, []string{".py", ".go"})
	apiHandler.RegisterRoutes(testRouter)
	apiHandler.RegisterUIRoutes(testRouter)
	return testRouter, machine
}

func do(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v (%s)", err, w.Body.String())
	}
	return resp
}

func waitForState(t *testing.T, m *job.Machine, want job.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for state %s, have %s", want, m.State())
}

func completeJob(t *testing.T, router http.Handler, remote *fakeRemote, m *job.Machine) {
	t.Helper()
	remote.setStatus(job.PollResult{
		Status:    job.StatusCompleted,
		Artifacts: []job.ArtifactRef{{Filename: "main.docx", Folder: "src"}, {Filename: "util.docx", Folder: "lib"}},
	})
	w := do(router, http.MethodPost, "/api/v1/session/convert", `{"url":"https://github.com/o/r"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusAccepted, w.Code, w.Body.String())
	}
	waitForState(t, m, job.StateCompleted)
}

func TestGetSessionStartsIdle(t *testing.T) {
	router, _ := setupRouter(newFakeRemote())

	w := do(router, http.MethodGet, "/api/v1/session", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeSession(t, w)
	if resp["state"] != string(job.StateIdle) || resp["busy"] != false {
		t.Fatalf("unexpected session: %v", resp)
	}
}

func TestConvertRejectsInvalidURL(t *testing.T) {
	remote := newFakeRemote()
	router, machine := setupRouter(remote)

	w := do(router, http.MethodPost, "/api/v1/session/convert", `{"url":"not a url"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if machine.State() != job.StateIdle || len(remote.submitted) != 0 {
		t.Fatalf("validation failure must not reach the machine or the remote")
	}
}

func TestConvertUsesDefaultExtensionsAndHidesToken(t *testing.T) {
	remote := newFakeRemote()
	router, machine := setupRouter(remote)

	w := do(router, http.MethodPost, "/api/v1/session/convert", `{"url":"https://github.com/o/r","token":"s3cret"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "s3cret") {
		t.Fatalf("credential leaked into response: %s", w.Body.String())
	}
	resp := decodeSession(t, w)
	if resp["state"] != string(job.StatePolling) || resp["busy"] != true {
		t.Fatalf("unexpected session: %v", resp)
	}

	remote.mu.Lock()
	sent := remote.submitted[0]
	remote.mu.Unlock()
	if sent.Credential != "s3cret" || strings.Join(sent.Extensions, ",") != ".py,.go" {
		t.Fatalf("unexpected submitted request: %+v", sent)
	}
	machine.Reset()
}

func TestConvertWhileActiveConflicts(t *testing.T) {
	router, machine := setupRouter(newFakeRemote())
	defer machine.Reset()

	if w := do(router, http.MethodPost, "/api/v1/session/convert", `{"url":"https://github.com/o/r"}`); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if w := do(router, http.MethodPost, "/api/v1/session/convert", `{"url":"https://github.com/o/r"}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestConvertSubmissionFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.submitErr = &job.SubmissionError{Message: "Invalid GitHub URL"}
	router, machine := setupRouter(remote)

	w := do(router, http.MethodPost, "/api/v1/session/convert", `{"url":"https://example.com/x"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	resp := decodeSession(t, w)
	if resp["error"] != "Invalid GitHub URL" {
		t.Fatalf("unexpected error: %v", resp["error"])
	}
	if machine.State() != job.StateFailed {
		t.Fatalf("expected failed state, got %s", machine.State())
	}
}

func TestResetReturnsIdle(t *testing.T) {
	router, _ := setupRouter(newFakeRemote())

	do(router, http.MethodPost, "/api/v1/session/convert", `{"url":"https://github.com/o/r"}`)
	w := do(router, http.MethodPost, "/api/v1/session/reset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp := decodeSession(t, w); resp["state"] != string(job.StateIdle) || resp["job"] != nil {
		t.Fatalf("session not cleared: %v", resp)
	}
}

func TestArtifactsRequireCompletedJob(t *testing.T) {
	router, machine := setupRouter(newFakeRemote())
	defer machine.Reset()
	do(router, http.MethodPost, "/api/v1/session/convert", `{"url":"https://github.com/o/r"}`)

	for _, target := range []string{"/api/v1/session/artifacts", "/api/v1/session/artifacts/main.docx", "/api/v1/session/archive"} {
		if w := do(router, http.MethodGet, target, ""); w.Code != http.StatusConflict {
			t.Fatalf("%s: expected 409, got %d", target, w.Code)
		}
	}
}

func TestDownloadArtifactAfterCompletion(t *testing.T) {
	remote := newFakeRemote()
	router, machine := setupRouter(remote)
	completeJob(t, router, remote, machine)

	w := do(router, http.MethodGet, "/api/v1/session/artifacts", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "util.docx") {
		t.Fatalf("unexpected artifact list %d: %s", w.Code, w.Body.String())
	}

	w = do(router, http.MethodGet, "/api/v1/session/artifacts/main.docx", "")
	if w.Code != http.StatusOK || w.Body.String() != "main-body" {
		t.Fatalf("unexpected download %d: %q", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "main.docx") {
		t.Fatalf("missing attachment header: %v", w.Header())
	}

	if w = do(router, http.MethodGet, "/api/v1/session/artifacts/other.docx", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown artifact, got %d", w.Code)
	}
}

func TestDownloadArchiveAfterCompletion(t *testing.T) {
	remote := newFakeRemote()
	router, machine := setupRouter(remote)
	completeJob(t, router, remote, machine)

	w := do(router, http.MethodGet, "/api/v1/session/archive", "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("unexpected archive response %d %v", w.Code, w.Header())
	}
	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	if err != nil {
		t.Fatalf("archive not readable: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "src/main.docx" || zr.File[1].Name != "lib/util.docx" {
		t.Fatalf("unexpected archive entries: %v", zr.File)
	}
}

func TestEventsStreamSnapshots(t *testing.T) {
	remote := newFakeRemote()
	router, machine := setupRouter(remote)
	defer machine.Reset()
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/session/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first sessionResponse
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first event: %v", err)
	}
	if first.State != job.StateIdle {
		t.Fatalf("expected idle first event, got %s", first.State)
	}

	req, err := conversion.Build("https://github.com/o/r", "", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := machine.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}

	for {
		var evt sessionResponse
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if evt.State == job.StatePolling && evt.Progress != nil && evt.PhaseText == "Processing files..." {
			return
		}
	}
}

func TestHealth(t *testing.T) {
	router, _ := setupRouter(newFakeRemote())
	w := do(router, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "running") {
		t.Fatalf("unexpected health %d: %s", w.Code, w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupRouter(newFakeRemote())
	if w := do(router, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", w.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ZerologLogger())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Header().Get("X-Request-ID") != "abc" {
		t.Fatalf("request id not echoed: %v", w.Header())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id not generated")
	}
}
