package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/fedutinova/finsight/internal/common"
	"github.com/fedutinova/finsight/internal/config"
	"github.com/fedutinova/finsight/internal/job"
	"github.com/fedutinova/finsight/internal/memq"
	"github.com/fedutinova/finsight/internal/redis"
	"github.com/fedutinova/finsight/internal/repository"
	"github.com/fedutinova/finsight/internal/storage"
	"github.com/fedutinova/finsight/internal/validation"
)

// sniffLen covers every signature mimetype needs to recognize a PDF.
const sniffLen = 3072

type Handlers struct {
	Q       memq.JobQueue
	Repo    *repository.Repository
	Storage storage.Storage
	Redis   *redis.Service
	Config  config.Config
}

func (h *Handlers) Routes(r chi.Router) {
	r.Get("/", h.root)
	r.With(httprate.LimitByIP(h.Config.SubmitRateLimit, time.Minute)).Post("/analyze", h.submitAnalyze)
	r.Get("/results/{job_id}", h.getResults)
	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)
}

func (h *Handlers) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Financial Document Analyzer API is running",
	})
}

// submitAnalyze accepts the document, persists it, inserts the PENDING ledger
// row and enqueues the job. It responds as soon as the job is queued; the
// pipeline runs entirely in the worker pool.
func (h *Handlers) submitAnalyze(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.Config.MaxUploadSize); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeValidationErrors(w, validation.ValidationErrors{{
			Field: "file", Message: "a document file must be provided",
		}})
		return
	}
	defer file.Close()

	query := r.FormValue("query")
	if query == "" {
		query = h.Config.DefaultQuery
	}

	if errs := validation.ValidateSubmit(query, header, h.Config.MaxUploadSize); len(errs) > 0 {
		writeValidationErrors(w, errs)
		return
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		http.Error(w, "failed to read file", http.StatusBadRequest)
		return
	}
	head = head[:n]

	if errs := validation.ValidateContent(head); len(errs) > 0 {
		writeValidationErrors(w, errs)
		return
	}

	fileID := uuid.New().String()

	// storage write comes first: no ledger row may exist for an artifact
	// that was never durably written
	content := io.MultiReader(bytes.NewReader(head), file)
	artifactKey, err := h.Storage.SaveArtifact(r.Context(), fileID, content)
	if err != nil {
		slog.Error("failed to save artifact", "file_id", fileID, "error", err)
		http.Error(w, "failed to store document", http.StatusInternalServerError)
		return
	}

	row, err := h.Repo.CreateJob(r.Context(), fileID, header.Filename, query)
	if err != nil {
		h.rollbackArtifact(r, artifactKey)
		if common.IsConflict(err) {
			http.Error(w, "duplicate job", http.StatusConflict)
			return
		}
		slog.Error("failed to create job", "file_id", fileID, "error", err)
		http.Error(w, "failed to create job", http.StatusInternalServerError)
		return
	}

	j := &job.Job{
		FileID:      fileID,
		Filename:    header.Filename,
		Query:       query,
		ArtifactKey: artifactKey,
	}
	if err := h.Q.Enqueue(r.Context(), j); err != nil {
		slog.Error("failed to enqueue job", "file_id", fileID, "error", err)
		// the row exists but no worker will ever see it; fail it now rather
		// than leave the client polling PENDING forever
		if _, failErr := h.Repo.FailJob(r.Context(), fileID, "failed to enqueue job"); failErr != nil {
			slog.Error("failed to fail unenqueued job", "file_id", fileID, "error", failErr)
		}
		h.rollbackArtifact(r, artifactKey)
		http.Error(w, "failed to enqueue job", http.StatusServiceUnavailable)
		return
	}

	slog.Info("analysis job submitted",
		"file_id", fileID,
		"filename", header.Filename,
		"size", header.Size)

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":   fileID,
		"filename": header.Filename,
		"status":   row.Status,
		"message":  "analysis queued, poll /results/{job_id} for status",
	})
}

func (h *Handlers) getResults(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "job_id")
	if _, err := uuid.Parse(fileID); err != nil {
		http.Error(w, "bad job id", http.StatusBadRequest)
		return
	}

	if h.Redis != nil {
		if cached, err := h.Redis.GetCachedResult(r.Context(), fileID); err == nil && cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	row, err := h.Repo.GetJob(r.Context(), fileID)
	if err != nil {
		if common.IsNotFound(err) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to get job", "file_id", fileID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if h.Redis != nil {
		if err := h.Redis.CacheResult(r.Context(), row, h.Config.ResultCacheTTL); err != nil {
			slog.Warn("failed to cache result", "file_id", fileID, "err", err)
		}
	}

	writeJSON(w, http.StatusOK, row)
}

// rollbackArtifact removes an artifact whose job never started; best-effort.
func (h *Handlers) rollbackArtifact(r *http.Request, key string) {
	if err := h.Storage.DeleteArtifact(r.Context(), key); err != nil {
		slog.Error("failed to roll back artifact", "key", key, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

func writeValidationErrors(w http.ResponseWriter, errs validation.ValidationErrors) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error":   "validation failed",
		"details": errs,
	}); err != nil {
		slog.Warn("encode validation errors", "err", err)
	}
}
