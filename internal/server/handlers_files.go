package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.outputs.List()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list output files")
		httpError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	respondJSON(w, http.StatusOK, files)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	full, err := s.outputs.Path(filename)
	if err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	http.ServeFile(w, r, full)
}

// handleArchive streams a zstd-compressed ZIP of the selected output files.
// ?files=a.mp4,b.mp4 selects a subset; omitted means everything.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	var names []string
	if raw := r.URL.Query().Get("files"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="exports.zip"`)

	if err := s.outputs.WriteArchive(w, names); err != nil {
		// Headers are already gone; all we can do is log and drop the stream.
		log.Error().Err(err).Msg("Archive stream failed")
	}
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if err := s.outputs.Delete(filename); err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": filename})
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	data, err := s.outputs.Thumbnail(filename, 0)
	if err != nil {
		log.Warn().Err(err).Str("file", filename).Msg("Thumbnail generation failed")
		httpError(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Write(data)
}
