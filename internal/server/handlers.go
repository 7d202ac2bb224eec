package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stefanos11892/GVD-Engine/internal/jobs"
	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/report"
)

// SubmitRequest is the body of POST /jobs.
type SubmitRequest struct {
	PDFPath string `json:"pdf_path" validate:"required,max=4096"`
}

// SubmitResponse acknowledges an accepted job.
type SubmitResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
}

// StatusResponse is the body of GET /jobs/{id}/status.
type StatusResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
	Error  string          `json:"error,omitempty"`
	Step   string          `json:"step,omitempty"`
}

type errorResponse struct {
	Error  string          `json:"error"`
	Status model.JobStatus `json:"status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			zap.L().Warn("server: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "pdf_path is required")
		return
	}
	s.submit(w, req.PDFPath)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close() //nolint:errcheck

	base := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(base), ".pdf") {
		writeError(w, http.StatusBadRequest, "only .pdf uploads are accepted")
		return
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		zap.L().Error("server: create upload dir", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	dest := filepath.Join(s.uploadDir, uuid.NewString()+"_"+base)
	out, err := os.Create(dest)
	if err != nil {
		zap.L().Error("server: create upload file", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	_, copyErr := io.Copy(out, file)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(dest)
		zap.L().Error("server: write upload", zap.Error(errors.Join(copyErr, closeErr)))
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}

	if abs, err := filepath.Abs(dest); err == nil {
		dest = abs
	}
	s.submit(w, dest)
}

func (s *Server) submit(w http.ResponseWriter, path string) {
	id, err := s.jobs.Submit(path)
	if err != nil {
		if errors.Is(err, jobs.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "job manager is shutting down")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: id, Status: model.JobStatusQueued})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := model.JobStatus(strings.ToUpper(r.URL.Query().Get("status")))
	list := s.jobs.List()
	out := make([]model.Job, 0, len(list))
	for _, j := range list {
		if status != "" && j.Status != status {
			continue
		}
		j.Result = nil
		out = append(out, j)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.jobs.Get(r.Context(), id)
	if !ok {
		writeJSON(w, http.StatusNotFound, StatusResponse{JobID: id, Status: model.JobStatusUnknown})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{JobID: id, Status: job.Status, Error: job.Error, Step: job.Step})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status := s.jobs.Status(r.Context(), id)
	switch status {
	case model.JobStatusUnknown:
		writeError(w, http.StatusNotFound, "job not found")
		return
	case model.JobStatusCompleted:
	default:
		msg := "job has not finished"
		if status == model.JobStatusFailed {
			msg = "job failed"
			if job, ok := s.jobs.Get(r.Context(), id); ok && job.Error != "" {
				msg = job.Error
			}
		}
		writeJSON(w, http.StatusConflict, errorResponse{Error: msg, Status: status})
		return
	}

	res := s.jobs.Result(r.Context(), id)
	if res == nil {
		writeError(w, http.StatusNotFound, "result no longer available")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	switch err := s.jobs.Cancel(id); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancelling"})
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrFinished):
		writeError(w, http.StatusConflict, "job already finished")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if !report.ValidRunID(runID) {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	for _, src := range s.reports {
		rep, err := src.GetReport(r.Context(), runID)
		if err != nil {
			zap.L().Warn("server: report lookup failed", zap.String("run_id", runID), zap.Error(err))
			continue
		}
		if rep != nil {
			writeJSON(w, http.StatusOK, rep)
			return
		}
	}
	writeError(w, http.StatusNotFound, "report not found")
}
