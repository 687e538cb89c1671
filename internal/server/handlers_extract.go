package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/fpang/exacqman/internal/config"
	"github.com/fpang/exacqman/internal/jobs"
	"github.com/fpang/exacqman/internal/outputs"
	"github.com/fpang/exacqman/internal/pipeline"
)

type extractRequest struct {
	ConfigFile          string `json:"config_file"`
	CameraAlias         string `json:"camera_alias"`
	StartDateTime       string `json:"start_datetime"`
	EndDateTime         string `json:"end_datetime"`
	TimelapseMultiplier int    `json:"timelapse_multiplier"`
	Quality             string `json:"quality"`
	Server              string `json:"server"`
	Crop                string `json:"crop"`
}

// handleExtract validates an extraction request and submits it as a
// background job. Responds 202 with the job id; validation failures are 400
// before any remote call is made.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg, err := s.loadConfig(req.ConfigFile)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	cameraID, err := cfg.CameraID(req.CameraAlias)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	serverURL, err := cfg.ServerURL(req.Server)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	loc := cfg.Settings.Location
	start, err := parseLocalDateTime(req.StartDateTime, loc)
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("start_datetime: %v", err))
		return
	}
	end, err := parseLocalDateTime(req.EndDateTime, loc)
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("end_datetime: %v", err))
		return
	}

	multiplier := req.TimelapseMultiplier
	if multiplier == 0 {
		multiplier = cfg.Settings.Multiplier
	}

	qualityStr := req.Quality
	if qualityStr == "" {
		qualityStr = cfg.Settings.Quality
	}
	quality, err := pipeline.ParseQuality(qualityStr)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	crop := pipeline.CropProvider(nil)
	cropSpec := req.Crop
	if cropSpec == "" {
		cropSpec = cfg.Settings.Crop
	}
	if cropSpec != "" {
		rect, err := config.ParseCrop(cropSpec)
		if err != nil {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		crop = pipeline.FixedCrop(rect)
	}

	runReq := pipeline.RunRequest{
		CameraAlias: req.CameraAlias,
		CameraID:    cameraID,
		Start:       start,
		End:         end,
		Multiplier:  multiplier,
		Quality:     quality,
		Crop:        crop,
		Burnin:      true,
		ServerURL:   serverURL,
	}
	if err := runReq.Validate(cfg.Settings.MaxExportDuration); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Jobs land in the server's library regardless of the config's own
	// output_dir, so the files endpoints always see them.
	cfg.Settings.OutputDir = s.outputs.Root()

	runner := s.runner
	id := s.jobs.Submit(r.Context(), req, func(ctx context.Context, update jobs.UpdateFunc) (*jobs.Result, error) {
		// The request context dies with the HTTP response; the job runs on.
		res, err := runner(context.Background(), cfg, runReq, func(percent int, message string) {
			update(percent, message)
		})
		if err != nil {
			return nil, err
		}
		return &jobs.Result{Filename: res.Filename, FileSize: res.FileSize}, nil
	})

	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, ok := s.jobs.Get(id)
	if !ok {
		httpError(w, http.StatusNotFound, "unknown job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleStatusWS upgrades to a websocket and pushes job snapshots on every
// change until the job reaches a terminal state or the client goes away.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, ok := s.jobs.Get(id)
	if !ok {
		httpError(w, http.StatusNotFound, "unknown job")
		return
	}

	updates, cancel, ok := s.jobs.Watch(id)
	if !ok {
		httpError(w, http.StatusNotFound, "unknown job")
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("job", id).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Detect client disconnect; the read pump also services close frames.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(job); err != nil {
		return
	}
	if job.Status.Terminal() {
		s.closeWS(conn)
		return
	}

	for {
		select {
		case snapshot := <-updates:
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
			if snapshot.Status.Terminal() {
				s.closeWS(conn)
				return
			}
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) closeWS(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

// loadConfig resolves a config file name inside the config directory.
func (s *Server) loadConfig(name string) (*config.Config, error) {
	if name == "" {
		return nil, errors.New("config_file is required")
	}
	if outputs.ContainsPathTraversal(name) || filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid config file name: %s", name)
	}
	return config.Load(filepath.Join(s.configDir, name))
}

// parseLocalDateTime parses the frontend's datetime strings in the
// configured timezone. Accepts RFC3339 and HTML datetime-local shapes.
func parseLocalDateTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}
