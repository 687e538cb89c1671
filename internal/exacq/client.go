// Package exacq provides a client for the ExacqVision web API: session
// login/logout, camera listing, recording search, and the export
// request/status/download/delete lifecycle.
//
// Every timestamp exchanged with the VMS is UTC in RFC 3339 form ending in
// "Z". Local-time interpretation is a caller concern.
//
// Errors are classified at this boundary: network failures, timeouts, and
// 5xx responses surface as *TransientError (safe to retry); 401/403 and
// missing-session responses surface as *AuthError (re-login required);
// well-formed responses missing required fields surface as plain errors
// (malformed, do not retry).
package exacq

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// defaultTimeout bounds metadata calls (login, search, status).
	// Downloads use a separate unbounded client; the export files can be
	// multi-gigabyte and are bounded by the request context instead.
	defaultTimeout = 30 * time.Second

	// vmsTimeFormat is the timestamp form the VMS accepts and emits.
	vmsTimeFormat = "2006-01-02T15:04:05Z"
)

// ExportStatus is the lifecycle state of a server-side export job.
type ExportStatus string

const (
	StatusPending    ExportStatus = "pending"
	StatusProcessing ExportStatus = "processing"
	StatusReady      ExportStatus = "ready"
	StatusFailed     ExportStatus = "failed"
	StatusExpired    ExportStatus = "expired"
)

// Terminal reports whether the status ends the export lifecycle.
func (s ExportStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed || s == StatusExpired
}

// Camera describes one camera from the VMS catalog.
type Camera struct {
	ID   int
	Name string
}

// Clip is one contiguous stretch of recorded footage inside a search range.
type Clip struct {
	Start time.Time
	End   time.Time
}

// SearchResult is the outcome of a recording search.
type SearchResult struct {
	SearchID string
	Clips    []Clip
}

// Client talks to one ExacqVision server and owns the session token for it.
// A Client is not safe for concurrent use; each pipeline run creates its own.
type Client struct {
	httpClient     *http.Client
	downloadClient *http.Client
	baseURL        string
	username       string
	password       string
	sessionID      string
}

// NewClient creates a client for the ExacqVision server at baseURL.
// Login must be called before any other method.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: defaultTimeout},
		downloadClient: &http.Client{},
		baseURL:        strings.TrimRight(baseURL, "/"),
		username:       username,
		password:       password,
	}
}

// --- API response types ---

// flexInt tolerates the VMS emitting numeric fields as either JSON numbers
// or quoted strings (observed in the camera catalog).
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("parse id %q: %w", s, err)
	}
	*f = flexInt(v)
	return nil
}

type loginResponse struct {
	SessionID string `json:"sessionId"`
}

type cameraEntry struct {
	ID   flexInt `json:"id"`
	Name string  `json:"name"`
}

type configResponse struct {
	Cameras []cameraEntry `json:"Cameras"`
}

type clipEntry struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type searchResponse struct {
	SearchID  string `json:"search_id"`
	VideoInfo []struct {
		Clips []clipEntry `json:"clips"`
	} `json:"videoInfo"`
}

type exportResponse struct {
	ExportID string `json:"export_id"`
}

type exportStatusResponse struct {
	Progress *int   `json:"progress"`
	Status   string `json:"status"`
}

// --- Session lifecycle ---

// Login authenticates and stores the session token for subsequent calls.
// Safe to call again after a session expires; the old token is discarded.
func (c *Client) Login(ctx context.Context) error {
	c.sessionID = ""

	payload := url.Values{
		"u":               {c.username},
		"p":               {c.password},
		"responseVersion": {"2"},
		"s":               {"0"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/login.web", strings.NewReader(payload.Encode()))
	if err != nil {
		return fmt.Errorf("login: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req, "login")
	if err != nil {
		return err
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &TransientError{Op: "login", Err: fmt.Errorf("parse response: %w", err)}
	}
	if resp.SessionID == "" {
		// The VMS answers 200 with an empty body on bad credentials.
		return &AuthError{Op: "login", Err: fmt.Errorf("no session id in response")}
	}

	c.sessionID = resp.SessionID
	log.Info().Str("server", c.baseURL).Msg("VMS session established")
	return nil
}

// Logout releases the server-side session. Best-effort: failures are logged
// and never returned, because cleanup must not block pipeline completion.
func (c *Client) Logout(ctx context.Context) {
	if c.sessionID == "" {
		return
	}

	endpoint := fmt.Sprintf("/v1/logout.web?s=%s", url.QueryEscape(c.sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Logout request build failed")
		return
	}

	if _, err := c.do(req, "logout"); err != nil {
		log.Warn().Err(err).Msg("VMS logout failed")
		return
	}

	c.sessionID = ""
	log.Debug().Str("server", c.baseURL).Msg("VMS session closed")
}

// SessionActive reports whether a login succeeded and was not invalidated.
func (c *Client) SessionActive() bool { return c.sessionID != "" }

// --- Cameras ---

// ListCameras retrieves the camera catalog from the VMS.
func (c *Client) ListCameras(ctx context.Context) (map[int]Camera, error) {
	endpoint := fmt.Sprintf("/v1/config.web?s=%s&output=json", url.QueryEscape(c.sessionID))
	body, err := c.get(ctx, endpoint, "list cameras")
	if err != nil {
		return nil, err
	}

	var resp configResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &TransientError{Op: "list cameras", Err: fmt.Errorf("parse response: %w", err)}
	}

	catalog := make(map[int]Camera, len(resp.Cameras))
	for _, entry := range resp.Cameras {
		catalog[int(entry.ID)] = Camera{ID: int(entry.ID), Name: entry.Name}
	}
	log.Debug().Int("cameras", len(catalog)).Msg("Camera catalog retrieved")
	return catalog, nil
}

// --- Search ---

// CreateSearch initiates a recording search for camera footage between
// start and end. The returned clips describe the contiguous stretches of
// footage the VMS actually holds inside the range.
func (c *Client) CreateSearch(ctx context.Context, cameraID int, start, end time.Time) (*SearchResult, error) {
	endpoint := fmt.Sprintf("/v1/search.web?s=%s&start=%s&end=%s&camera=%d&output=json",
		url.QueryEscape(c.sessionID), formatVMSTime(start), formatVMSTime(end), cameraID)

	body, err := c.get(ctx, endpoint, "search")
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &TransientError{Op: "search", Err: fmt.Errorf("parse response: %w", err)}
	}
	if resp.SearchID == "" {
		return nil, fmt.Errorf("search: no search id in response")
	}

	result := &SearchResult{SearchID: resp.SearchID}
	for _, info := range resp.VideoInfo {
		for _, entry := range info.Clips {
			clip, err := parseClip(entry)
			if err != nil {
				return nil, fmt.Errorf("search: %w", err)
			}
			result.Clips = append(result.Clips, clip)
		}
	}

	log.Debug().
		Str("searchId", result.SearchID).
		Int("clips", len(result.Clips)).
		Msg("Search created")
	return result, nil
}

func parseClip(entry clipEntry) (Clip, error) {
	start, err := time.Parse(vmsTimeFormat, entry.StartTime)
	if err != nil {
		return Clip{}, fmt.Errorf("clip start %q: %w", entry.StartTime, err)
	}
	end, err := time.Parse(vmsTimeFormat, entry.EndTime)
	if err != nil {
		return Clip{}, fmt.Errorf("clip end %q: %w", entry.EndTime, err)
	}
	return Clip{Start: start, End: end}, nil
}

// --- Export lifecycle ---

// RequestExport asks the VMS to package footage for download. The returned
// export token keys the status/download/delete calls.
func (c *Client) RequestExport(ctx context.Context, cameraID int, start, end time.Time, name string) (string, error) {
	endpoint := fmt.Sprintf("/v1/export.web?camera=%d&s=%s&start=%s&end=%s&format=mp4",
		cameraID, url.QueryEscape(c.sessionID), formatVMSTime(start), formatVMSTime(end))
	if name != "" {
		endpoint += "&name=" + url.QueryEscape(name)
	}

	body, err := c.get(ctx, endpoint, "request export")
	if err != nil {
		return "", err
	}

	var resp exportResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &TransientError{Op: "request export", Err: fmt.Errorf("parse response: %w", err)}
	}
	if resp.ExportID == "" {
		return "", fmt.Errorf("request export: no export id in response")
	}

	log.Info().Str("exportId", resp.ExportID).Int("camera", cameraID).Msg("Export requested")
	return resp.ExportID, nil
}

// ExportStatus polls the state of an export. The VMS reports an integer
// progress (100 means ready for download) plus an optional status string
// for terminal failures.
func (c *Client) ExportStatus(ctx context.Context, exportID string) (ExportStatus, int, error) {
	endpoint := fmt.Sprintf("/v1/export.web?export=%s&s=%s",
		url.QueryEscape(exportID), url.QueryEscape(c.sessionID))

	body, err := c.get(ctx, endpoint, "export status")
	if err != nil {
		return "", 0, err
	}

	var resp exportStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", 0, &TransientError{Op: "export status", Err: fmt.Errorf("parse response: %w", err)}
	}

	switch strings.ToLower(resp.Status) {
	case "failed", "error":
		return StatusFailed, progressOf(resp), nil
	case "expired":
		return StatusExpired, progressOf(resp), nil
	}

	if resp.Progress == nil {
		return "", 0, fmt.Errorf("export status: no progress in response")
	}

	progress := *resp.Progress
	switch {
	case progress >= 100:
		return StatusReady, 100, nil
	case progress > 0:
		return StatusProcessing, progress, nil
	default:
		return StatusPending, 0, nil
	}
}

func progressOf(resp exportStatusResponse) int {
	if resp.Progress == nil {
		return 0
	}
	return *resp.Progress
}

// DownloadExport streams a ready export into a temporary file under destDir
// and returns its path and size. The caller owns the file.
func (c *Client) DownloadExport(ctx context.Context, exportID, destDir string) (string, int64, error) {
	endpoint := fmt.Sprintf("/v1/export.web?export=%s&s=%s&action=download",
		url.QueryEscape(exportID), url.QueryEscape(c.sessionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return "", 0, fmt.Errorf("download export: build request: %w", err)
	}

	start := time.Now()
	httpResp, err := c.downloadClient.Do(req)
	if err != nil {
		return "", 0, &TransientError{Op: "download export", Err: err}
	}
	defer httpResp.Body.Close()

	if err := classifyStatus(httpResp.StatusCode, "download export"); err != nil {
		return "", 0, err
	}

	tempFile, err := os.CreateTemp(destDir, "export-*.mp4")
	if err != nil {
		return "", 0, fmt.Errorf("download export: create temp file: %w", err)
	}

	written, err := io.Copy(tempFile, httpResp.Body)
	closeErr := tempFile.Close()
	if err != nil {
		os.Remove(tempFile.Name())
		return "", 0, &TransientError{Op: "download export", Err: fmt.Errorf("stream body: %w", err)}
	}
	if closeErr != nil {
		os.Remove(tempFile.Name())
		return "", 0, fmt.Errorf("download export: close temp file: %w", closeErr)
	}

	log.Info().
		Str("exportId", exportID).
		Str("path", tempFile.Name()).
		Str("serverFilename", dispositionFilename(httpResp.Header)).
		Int64("bytes", written).
		Dur("duration", time.Since(start)).
		Msg("Export downloaded")

	return tempFile.Name(), written, nil
}

// DeleteExport removes the export record from the VMS. Idempotent: a
// not-found response counts as success, so it is safe to call on every
// cleanup path.
func (c *Client) DeleteExport(ctx context.Context, exportID string) error {
	endpoint := fmt.Sprintf("/v1/export.web?export=%s&s=%s&action=finish",
		url.QueryEscape(exportID), url.QueryEscape(c.sessionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("delete export: build request: %w", err)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: "delete export", Err: err}
	}
	defer httpResp.Body.Close()
	io.Copy(io.Discard, httpResp.Body)

	if httpResp.StatusCode == http.StatusNotFound || httpResp.StatusCode == http.StatusGone {
		log.Debug().Str("exportId", exportID).Msg("Export already gone")
		return nil
	}
	if err := classifyStatus(httpResp.StatusCode, "delete export"); err != nil {
		return err
	}

	log.Debug().Str("exportId", exportID).Msg("Export deleted")
	return nil
}

// --- Internal helpers ---

func (c *Client) get(ctx context.Context, endpoint, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	return c.do(req, op)
}

// do executes the request and classifies the outcome into the error
// taxonomy. Returns the response body on success.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	start := time.Now()
	log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Msg("VMS API request")

	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("VMS API response")
		return nil, &TransientError{Op: op, Err: err}
	}
	defer httpResp.Body.Close()

	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("VMS API response")

	if err := classifyStatus(httpResp.StatusCode, op); err != nil {
		io.Copy(io.Discard, httpResp.Body)
		return nil, err
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	return body, nil
}

// classifyStatus maps an HTTP status code onto the error taxonomy.
func classifyStatus(code int, op string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &AuthError{Op: op, Err: fmt.Errorf("HTTP %d", code)}
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return &TransientError{Op: op, Err: fmt.Errorf("HTTP %d", code)}
	default:
		return fmt.Errorf("%s: HTTP %d", op, code)
	}
}

func formatVMSTime(t time.Time) string {
	return url.QueryEscape(t.UTC().Format(vmsTimeFormat))
}

func dispositionFilename(h http.Header) string {
	cd := h.Get("Content-Disposition")
	if idx := strings.LastIndex(cd, "filename="); idx >= 0 {
		return strings.Trim(cd[idx+len("filename="):], `"`)
	}
	return ""
}
