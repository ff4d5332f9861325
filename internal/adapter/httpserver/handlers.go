// Package httpserver contains HTTP handlers and middleware.
//
// It provides REST API endpoints for the asynchronous job pipeline: submit,
// status, and artifact retrieval. The package follows clean architecture
// principles and keeps a clear separation between HTTP concerns and the
// usecase layer.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/ai-infra/jobpipeline/internal/config"
	"github.com/ai-infra/jobpipeline/internal/domain"
	"github.com/ai-infra/jobpipeline/internal/registry"
	"github.com/ai-infra/jobpipeline/internal/usecase"
	"github.com/ai-infra/jobpipeline/pkg/textx"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg      config.Config
	Submit   usecase.SubmitService
	Status   usecase.StatusService
	Registry *registry.Registry
	DBCheck  func(ctx context.Context) error
}

// NewServer constructs a Server with its dependencies.
func NewServer(cfg config.Config, submit usecase.SubmitService, status usecase.StatusService, reg *registry.Registry, dbCheck func(ctx context.Context) error) *Server {
	return &Server{Cfg: cfg, Submit: submit, Status: status, Registry: reg, DBCheck: dbCheck}
}

// ttsSubmitBody is the JSON ingress body for POST /api/v1/tts-offline.
type ttsSubmitBody struct {
	ID       string `json:"id,omitempty"`
	Text     string `json:"text"`
	Lang     string `json:"lang,omitempty"`
	Model    string `json:"model,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// TTSOfflineHandler handles POST /api/v1/tts-offline.
func (s *Server) TTSOfflineHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body ttsSubmitBody
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			writeError(w, r, errInvalid("invalid JSON body"), nil)
			return
		}

		text := textx.SanitizeText(body.Text)
		if text == "" {
			writeError(w, r, errInvalid("text must not be empty after sanitization"), nil)
			return
		}
		params := map[string]any{"text": text}
		if body.Lang != "" {
			params["lang"] = body.Lang
		}

		id, err := s.Submit.Submit(r.Context(), usecase.SubmitRequest{
			ID:       body.ID,
			Flavor:   "tts",
			Priority: body.Priority,
			Model:    body.Model,
			Params:   params,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, "ACCEPTED", "job accepted", map[string]string{"request_id": id})
	}
}

// StatusHandler handles GET /api/v1/status/{id}.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if res := ValidateJobID(id); !res.Valid {
			writeError(w, r, errInvalid("invalid job id"), res.Errors)
			return
		}
		job, err := s.Status.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeOK(w, job)
	}
}

// FileHandler handles GET /api/v1/file/{id}, streaming the artifact produced
// for flavors whose registry entry declares ProducesArtifact.
func (s *Server) FileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if res := ValidateJobID(id); !res.Valid {
			writeError(w, r, errInvalid("invalid job id"), res.Errors)
			return
		}
		job, err := s.Status.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if job.Status != domain.JobCompleted || job.ResultPath == "" {
			writeError(w, r, domain.ErrNotFound, nil)
			return
		}

		desc, err := s.Registry.Get(job.Flavor)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		f, err := os.Open(job.ResultPath)
		if err != nil {
			writeError(w, r, domain.ErrNotFound, nil)
			return
		}
		defer func() { _ = f.Close() }()

		w.Header().Set("Content-Type", contentTypeFor(desc.ArtifactExt))
		_, _ = io.Copy(w, f)
	}
}

// ReadyzHandler reports dependency readiness for orchestrator probes.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		ready := true
		if s.DBCheck != nil {
			if err := s.DBCheck(r.Context()); err != nil {
				checks["database"] = err.Error()
				ready = false
			} else {
				checks["database"] = "ok"
			}
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, "READY", "readiness check", checks)
	}
}

// HealthzHandler is a liveness probe that never touches dependencies.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, map[string]string{"status": "alive"})
	}
}

func contentTypeFor(ext string) string {
	switch ext {
	case "wav":
		return "audio/wav"
	case "json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func errInvalid(msg string) error {
	return errors.Join(domain.ErrInvalidArgument, errors.New(msg))
}
