package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/echotrace/echotrace/pkg/echotrace"
	"github.com/echotrace/echotrace/pkg/echotrace/audio"
	"github.com/echotrace/echotrace/pkg/echotrace/fingerprint"
	"github.com/echotrace/echotrace/pkg/echotrace/storage"
	"github.com/echotrace/echotrace/pkg/logger"
	"github.com/echotrace/echotrace/pkg/models"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service echotrace.Service
	db      *storage.DBClient
	config  *ServerConfig
	log     echotrace.Logger
	httpSrv *http.Server
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	MediaDir       string
	SampleRate     uint32
	AllowedOrigins []string
}

// NewServer creates a new server instance
func NewServer(service echotrace.Service, db *storage.DBClient, config *ServerConfig) *Server {
	return &Server{
		service: service,
		db:      db,
		config:  config,
		log:     logger.GetLogger(),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "EchoTrace API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":       "GET /health",
			"metrics":      "GET /api/health/metrics",
			"search":       "POST /api/search",
			"getSource":    "GET /api/sources/{id}",
			"deleteSource": "DELETE /api/sources/{id}",
			"reloadCorpus": "POST /api/corpus/reload",
			"listJobs":     "GET /api/jobs",
			"createJob":    "POST /api/jobs",
			"getJob":       "GET /api/jobs/{id}",
			"cancelJob":    "POST /api/jobs/{id}/cancel",
			"retryJob":     "POST /api/jobs/{id}/retry",
			"stream":       "GET /ws/stream",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	count, err := s.db.CountFingerprints()
	if err != nil {
		s.log.Errorf("Failed to count fingerprints: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}

	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Status:           "healthy",
		DatabasePath:     s.config.DBPath,
		FingerprintCount: count,
		CorpusSize:       s.service.CorpusSize(),
		SampleRate:       s.config.SampleRate,
	})
}

// handleSearch handles POST /api/search (multipart WAV upload)
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	req, err := parseSearchRequest(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples, sampleRate, err := readUploadedWAV(r, "audio")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	matches, err := s.service.Search(ctx, samples, sampleRate, req.TopK, req.MinConfidence)
	if err != nil {
		if fingerprint.IsRejected(err) {
			s.respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.log.Errorf("Search failed: %v", err)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Search failed: %v", err))
		return
	}

	s.respondJSON(w, http.StatusOK, SearchResponse{
		Matches: toMatchDTOs(matches),
		Count:   len(matches),
	})
}

// handleGetSource handles GET /api/sources/{id}
func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["id"]
	fps, err := s.db.GetBySource(sourceID)
	if err != nil {
		s.log.Errorf("Failed to fetch source %s: %v", sourceID, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve source")
		return
	}
	if len(fps) == 0 {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Source %s not found", sourceID))
		return
	}

	dtos := make([]FingerprintDTO, len(fps))
	for i := range fps {
		dtos[i] = toFingerprintDTO(&fps[i])
	}
	s.respondJSON(w, http.StatusOK, SourceResponse{
		SourceID:     sourceID,
		Fingerprints: dtos,
		Count:        len(dtos),
	})
}

// handleDeleteSource handles DELETE /api/sources/{id}
func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["id"]
	if err := s.db.DeleteSource(sourceID); err != nil {
		s.log.Errorf("Failed to delete source %s: %v", sourceID, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to delete source")
		return
	}
	s.log.Infof("Deleted source %s", sourceID)
	s.respondJSON(w, http.StatusOK, map[string]string{
		"message":   "Source deleted",
		"source_id": sourceID,
	})
}

// handleReloadCorpus handles POST /api/corpus/reload
func (s *Server) handleReloadCorpus(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.ReloadCorpus()
	if err != nil {
		s.log.Errorf("Corpus reload failed: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Corpus reload failed")
		return
	}
	s.log.Infof("Corpus reloaded: %d fingerprints", n)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Corpus reloaded",
		"count":   n,
	})
}

// handleListJobs handles GET /api/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}

	list, err := s.db.ListJobs(status, limit)
	if err != nil {
		s.log.Errorf("Failed to list jobs: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	s.respondJSON(w, http.StatusOK, ListJobsResponse{Jobs: list, Count: len(list)})
}

// handleCreateJob handles POST /api/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, created, err := s.db.CreateJobIfNotExists(req.JobType, req.TargetID, req.Parameters)
	if err != nil {
		s.log.Errorf("Failed to create job: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	status := http.StatusCreated
	if !created {
		// an equivalent job is already queued or running
		status = http.StatusOK
	}
	s.respondJSON(w, status, JobResponse{Job: job, Created: created})
}

// handleGetJob handles GET /api/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := s.db.GetJob(jobID)
	if err != nil {
		s.log.Errorf("Failed to fetch job %s: %v", jobID, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve job")
		return
	}
	if job == nil {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", jobID))
		return
	}
	s.respondJSON(w, http.StatusOK, JobResponse{Job: job})
}

// handleCancelJob handles POST /api/jobs/{id}/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if err := s.db.CancelJob(jobID); err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	s.log.Infof("Cancelled job %s", jobID)
	job, _ := s.db.GetJob(jobID)
	s.respondJSON(w, http.StatusOK, JobResponse{Job: job})
}

// handleRetryJob handles POST /api/jobs/{id}/retry
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := s.db.RetryJob(jobID)
	if err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	s.log.Infof("Requeued job %s (retry %d)", jobID, job.RetryCount)
	s.respondJSON(w, http.StatusOK, JobResponse{Job: job})
}

// readUploadedWAV saves nothing to disk: the multipart part is decoded
// directly into mono float32 samples.
func readUploadedWAV(r *http.Request, field string) ([]float32, uint32, error) {
	if err := r.ParseMultipartForm(50 << 20); err != nil {
		return nil, 0, fmt.Errorf("failed to parse form data")
	}
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, 0, fmt.Errorf("%s file is required", field)
	}
	defer file.Close()
	return audio.DecodeWAV(file)
}
