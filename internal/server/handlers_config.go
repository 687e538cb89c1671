package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/fpang/exacqman/internal/config"
)

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	files, err := config.ListConfigFiles(s.configDir)
	if err != nil {
		log.Error().Err(err).Str("dir", s.configDir).Msg("Failed to list config files")
		httpError(w, http.StatusInternalServerError, "failed to list config files")
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"configs": files})
}

// configDetail is the shape the frontend needs to populate its form: server
// choices, camera aliases, and the defaults to preselect.
type configDetail struct {
	Servers          []string       `json:"servers"`
	Cameras          []string       `json:"cameras"`
	TimelapseOptions []int          `json:"timelapse_options"`
	Settings         configSettings `json:"settings"`
}

type configSettings struct {
	Quality    string `json:"quality"`
	Multiplier int    `json:"multiplier"`
	Timezone   string `json:"timezone"`
	Crop       string `json:"crop,omitempty"`
}

func (s *Server) handleConfigDetail(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.loadConfig(chi.URLParam(r, "file"))
	if err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, configDetail{
		Servers:          cfg.ServerNames(),
		Cameras:          cfg.CameraAliases(),
		TimelapseOptions: config.TimelapseOptions,
		Settings: configSettings{
			Quality:    cfg.Settings.Quality,
			Multiplier: cfg.Settings.Multiplier,
			Timezone:   cfg.Settings.Timezone,
			Crop:       cfg.Settings.Crop,
		},
	})
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.loadConfig(chi.URLParam(r, "file"))
	if err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}

	type camera struct {
		Alias string `json:"alias"`
		ID    int    `json:"id"`
	}
	cameras := make([]camera, 0, len(cfg.Cameras))
	for _, alias := range cfg.CameraAliases() {
		id, _ := cfg.CameraID(alias)
		cameras = append(cameras, camera{Alias: alias, ID: id})
	}
	respondJSON(w, http.StatusOK, cameras)
}
