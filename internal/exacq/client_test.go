package exacq

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func loginHandler(t *testing.T, sessionID string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("login method = %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse login form: %v", err)
		}
		if r.PostForm.Get("u") != "admin" || r.PostForm.Get("p") != "secret" {
			t.Errorf("login form = %v", r.PostForm)
		}
		if r.PostForm.Get("responseVersion") != "2" {
			t.Errorf("responseVersion = %q", r.PostForm.Get("responseVersion"))
		}
		fmt.Fprintf(w, `{"sessionId":%q}`, sessionID)
	}
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/login.web" {
			t.Errorf("path = %s", r.URL.Path)
		}
		loginHandler(t, "sess-42")(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin", "secret")
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !c.SessionActive() {
		t.Error("session should be active after login")
	}
}

func TestLoginBadCredentials(t *testing.T) {
	// The VMS answers 200 with an empty session on bad credentials.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sessionId":""}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin", "wrong")
	err := c.Login(context.Background())
	if !IsAuthFailure(err) {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestLoginServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin", "secret")
	err := c.Login(context.Background())
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestListCameras(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/config.web" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("s") != "sess-1" {
			t.Errorf("session = %q", r.URL.Query().Get("s"))
		}
		// Camera ids arrive as both numbers and strings.
		fmt.Fprint(w, `{"Cameras":[{"id":12,"name":"Backyard"},{"id":"7","name":"Front Gate"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin", "secret")
	c.sessionID = "sess-1"

	cameras, err := c.ListCameras(context.Background())
	if err != nil {
		t.Fatalf("ListCameras failed: %v", err)
	}
	if len(cameras) != 2 {
		t.Fatalf("cameras = %v", cameras)
	}
	if cameras[7].Name != "Front Gate" || cameras[12].Name != "Backyard" {
		t.Errorf("cameras = %v", cameras)
	}
}

func TestCreateSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("camera") != "12" {
			t.Errorf("camera = %q", q.Get("camera"))
		}
		if q.Get("start") != "2025-03-11T18:00:00Z" {
			t.Errorf("start = %q", q.Get("start"))
		}
		fmt.Fprint(w, `{"search_id":"srch-9","videoInfo":[{"clips":[
			{"startTime":"2025-03-11T18:00:00Z","endTime":"2025-03-11T19:30:00Z"},
			{"startTime":"2025-03-11T19:45:00Z","endTime":"2025-03-11T21:00:00Z"}
		]}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin", "secret")
	c.sessionID = "sess-1"

	start := time.Date(2025, 3, 11, 18, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 11, 21, 0, 0, 0, time.UTC)
	result, err := c.CreateSearch(context.Background(), 12, start, end)
	if err != nil {
		t.Fatalf("CreateSearch failed: %v", err)
	}
	if result.SearchID != "srch-9" {
		t.Errorf("search id = %q", result.SearchID)
	}
	if len(result.Clips) != 2 {
		t.Fatalf("clips = %v", result.Clips)
	}
	if !result.Clips[1].Start.Equal(time.Date(2025, 3, 11, 19, 45, 0, 0, time.UTC)) {
		t.Errorf("second clip start = %v", result.Clips[1].Start)
	}
}

func TestCreateSearchNoFootage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"search_id":"srch-9","videoInfo":[]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin", "secret")
	c.sessionID = "sess-1"

	result, err := c.CreateSearch(context.Background(), 12, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("CreateSearch failed: %v", err)
	}
	if len(result.Clips) != 0 {
		t.Errorf("clips = %v", result.Clips)
	}
}

func TestExportStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		want     ExportStatus
		progress int
		wantErr  bool
	}{
		{"ready", `{"progress":100}`, StatusReady, 100, false},
		{"over100", `{"progress":110}`, StatusReady, 100, false},
		{"processing", `{"progress":42}`, StatusProcessing, 42, false},
		{"pending", `{"progress":0}`, StatusPending, 0, false},
		{"failed", `{"progress":30,"status":"failed"}`, StatusFailed, 30, false},
		{"error", `{"status":"ERROR"}`, StatusFailed, 0, false},
		{"expired", `{"status":"expired"}`, StatusExpired, 0, false},
		{"malformed", `{"note":"hi"}`, ExportStatus(""), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "admin", "secret")
			c.sessionID = "sess-1"

			status, progress, err := c.ExportStatus(context.Background(), "exp-1")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				// Malformed 200s are fatal, not retryable.
				if IsTransient(err) || IsAuthFailure(err) {
					t.Errorf("malformed response should be a plain error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExportStatus failed: %v", err)
			}
			if status != tt.want || progress != tt.progress {
				t.Errorf("got %s/%d, want %s/%d", status, progress, tt.want, tt.progress)
			}
		})
	}
}

func TestDownloadExport(t *testing.T) {
	payload := "fake mp4 bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("export") != "exp-1" || q.Get("action") != "download" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Disposition", `attachment; filename="cam12.mp4"`)
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin", "secret")
	c.sessionID = "sess-1"

	dir := t.TempDir()
	path, size, err := c.DownloadExport(context.Background(), "exp-1", dir)
	if err != nil {
		t.Fatalf("DownloadExport failed: %v", err)
	}
	if size != int64(len(payload)) {
		t.Errorf("size = %d", size)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != payload {
		t.Errorf("content = %q", data)
	}
}

func TestDeleteExportIdempotent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("action") != "finish" {
			t.Errorf("action = %q", r.URL.Query().Get("action"))
		}
		if calls > 1 {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin", "secret")
	c.sessionID = "sess-1"

	if err := c.DeleteExport(context.Background(), "exp-1"); err != nil {
		t.Fatalf("first delete failed: %v", err)
	}
	// A second delete hits 404 and still succeeds.
	if err := c.DeleteExport(context.Background(), "exp-1"); err != nil {
		t.Fatalf("repeat delete failed: %v", err)
	}
}

func TestClassifyStatus(t *testing.T) {
	if err := classifyStatus(200, "op"); err != nil {
		t.Errorf("200 should be nil, got %v", err)
	}

	var authErr *AuthError
	if err := classifyStatus(401, "op"); !errors.As(err, &authErr) {
		t.Errorf("401 should be AuthError, got %v", err)
	}
	if err := classifyStatus(403, "op"); !errors.As(err, &authErr) {
		t.Errorf("403 should be AuthError, got %v", err)
	}

	var transient *TransientError
	for _, code := range []int{408, 429, 500, 503} {
		if err := classifyStatus(code, "op"); !errors.As(err, &transient) {
			t.Errorf("%d should be TransientError, got %v", code, err)
		}
	}

	// Other 4xx codes are fatal.
	if err := classifyStatus(404, "op"); err == nil || IsTransient(err) || IsAuthFailure(err) {
		t.Errorf("404 should be a plain error, got %v", err)
	}
}

func TestDispositionFilename(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Disposition", `attachment; filename="cam12.mp4"`)
	if got := dispositionFilename(h); got != "cam12.mp4" {
		t.Errorf("filename = %q", got)
	}
	if got := dispositionFilename(http.Header{}); got != "" {
		t.Errorf("filename = %q", got)
	}
}
