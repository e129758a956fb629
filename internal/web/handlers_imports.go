package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/catalogimport/internal/importer"
	"github.com/JonMunkholm/catalogimport/internal/progress"
)

// multipartOverhead leaves room for boundaries and part headers on top of
// the file size limit.
const multipartOverhead = 1 << 20

// handleSubmitImport streams the "file" part of a multipart form straight
// into staging, without buffering the form in memory or temp files.
func (s *Server) handleSubmitImport(w http.ResponseWriter, r *http.Request) {
	if limit := s.cfg.Import.MaxFileSize; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, r, importer.ErrNoFile)
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			respondError(w, r, importer.ErrNoFile)
			return
		}
		if err != nil {
			respondError(w, r, err)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		jobID, err := s.deps.Submitter.Submit(r.Context(), part.FileName(), part)
		part.Close()
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
		return
	}
}

func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	snap, err := s.deps.Progress.Get(r.Context(), jobID)
	if errors.Is(err, progress.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "notfound"})
		return
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
