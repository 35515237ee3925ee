package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MimeLyc/chunked-sql-translator/internal/checkpoint"
	"github.com/MimeLyc/chunked-sql-translator/internal/config"
	"github.com/MimeLyc/chunked-sql-translator/internal/jobs"
	"github.com/MimeLyc/chunked-sql-translator/internal/pipeline"
	"github.com/MimeLyc/chunked-sql-translator/pkg/log"
)

// chunkRequest is echoed back with sql replaced by the converted text.
type chunkRequest struct {
	TaskID                 string `json:"task_id"`
	GeneralPrompt          string `json:"general_prompt"`
	SourceFormat           string `json:"source_format"`
	DestinationFormat      string `json:"destination_format"`
	DestinationSQLLanguage string `json:"destination_sql_language"`
	SQL                    string `json:"sql"`
}

// jobRequest mirrors the fields of a whole conversion job.
type jobRequest struct {
	TaskID                 string `json:"task_id"`
	GeneralPrompt          string `json:"general_prompt"`
	SourceFormat           string `json:"source_format"`
	DestinationFormat      string `json:"destination_format"`
	DestinationSQLLanguage string `json:"destination_sql_language"`
	SourceSQL              string `json:"source_sql"`
	TargetSchema           string `json:"target_schema"`
	DestinationExample     string `json:"destination_example"`
	InputToken             string `json:"input_token"`
	MergeN                 int    `json:"merge_n"`
	NormalizePrompt        bool   `json:"normalize_prompt"`
}

func (r jobRequest) config(defaultMergeN int) pipeline.Config {
	mergeN := r.MergeN
	if mergeN <= 0 {
		mergeN = defaultMergeN
	}
	return pipeline.Config{
		SourceFormat:      r.SourceFormat,
		DestinationFormat: r.DestinationFormat,
		Dialect:           r.DestinationSQLLanguage,
		SourceSQL:         r.SourceSQL,
		InputToken:        r.InputToken,
		Example:           r.DestinationExample,
		TargetSchema:      r.TargetSchema,
		Instructions:      r.GeneralPrompt,
		MergeN:            mergeN,
		NormalizePrompt:   r.NormalizePrompt,
	}
}

type failureResponse struct {
	Message   string `json:"message"`
	Exception string `json:"exception"`
	TaskID    string `json:"task_id"`
}

func (s *Server) handleConvertChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req chunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	res, err := s.engine.ConvertUnit(r.Context(), pipeline.UnitRequest{
		SourceFormat:      req.SourceFormat,
		DestinationFormat: req.DestinationFormat,
		Instructions:      req.GeneralPrompt,
		Dialect:           req.DestinationSQLLanguage,
		SQL:               req.SQL,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if pipeline.IsErrorType(err, pipeline.ErrValidation) {
			status = http.StatusBadRequest
		}
		log.Error("Chunk conversion failed: %v", err)
		writeJSON(w, status, failureResponse{
			Message:   "chunk conversion failed",
			Exception: err.Error(),
			TaskID:    pipeline.TaskIDOf(err),
		})
		return
	}

	req.TaskID = res.TaskID
	req.SQL = res.SQL
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleNormalizePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	prompt, err := s.engine.NormalizePrompt(r.Context(), req.config(s.mergeN))
	if err != nil {
		status := http.StatusInternalServerError
		if pipeline.IsErrorType(err, pipeline.ErrValidation) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	req.GeneralPrompt = prompt
	writeJSON(w, http.StatusOK, req)
}

type enqueueJobRequest struct {
	jobRequest
	Source    string `json:"source"`
	DedupeKey string `json:"dedupe_key"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.queue.List())
	case http.MethodPost:
		var req enqueueJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if req.Source == "" {
			req.Source = "manual"
		}
		if strings.TrimSpace(req.SourceSQL) == "" {
			writeError(w, http.StatusBadRequest, "source_sql is required")
			return
		}
		if req.SourceFormat == "" || req.DestinationFormat == "" {
			writeError(w, http.StatusBadRequest, "source_format and destination_format are required")
			return
		}
		cfg := req.config(s.mergeN)
		job, created := s.queue.Enqueue(jobs.EnqueueRequest{
			Source:    req.Source,
			DedupeKey: req.DedupeKey,
			Payload: jobs.JobPayload{
				SQL:               cfg.SourceSQL,
				SourceFormat:      cfg.SourceFormat,
				DestinationFormat: cfg.DestinationFormat,
				Dialect:           cfg.Dialect,
				Instructions:      cfg.Instructions,
				InputToken:        cfg.InputToken,
				Example:           cfg.Example,
				TargetSchema:      cfg.TargetSchema,
				NormalizePrompt:   cfg.NormalizePrompt,
				MergeN:            cfg.MergeN,
			},
		})
		code := http.StatusCreated
		if !created {
			code = http.StatusOK
		}
		writeJSON(w, code, map[string]any{
			"created": created,
			"job":     job,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type jobDetailResponse struct {
	Job      *jobs.ConversionJob `json:"job"`
	TaskID   string              `json:"task_id"`
	Progress pipeline.Progress   `json:"progress"`
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// /api/jobs/{id}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	if r.Method == http.MethodDelete {
		s.cancelJob(w, id)
		return
	}

	job, ok := s.queue.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	taskID := s.engine.TaskIDFor(pipeline.ConfigFromJob(job.Payload))
	progress, err := s.engine.Progress(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobDetailResponse{
		Job:      job,
		TaskID:   taskID,
		Progress: progress,
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, id string) {
	job, err := s.queue.Cancel(id)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrJobFinished):
		writeError(w, http.StatusConflict, fmt.Sprintf("job %s is %s", id, job.Status))
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	thread := strings.TrimSpace(r.URL.Query().Get("thread"))
	if thread == "" {
		writeError(w, http.StatusBadRequest, "thread is required")
		return
	}
	scope := checkpoint.ScopeExact
	if prefix := r.URL.Query().Get("prefix"); prefix == "1" || prefix == "true" {
		scope = checkpoint.ScopePrefix
	}

	snaps, err := s.store.List(r.Context(), thread, scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snaps == nil {
		snaps = []checkpoint.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings.Redacted())
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		current, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// the form carries the redacted key when it is left unchanged
		if req.LLMAPIKey == "" || req.LLMAPIKey == current.Redacted().LLMAPIKey {
			req.LLMAPIKey = current.LLMAPIKey
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved.Redacted())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
