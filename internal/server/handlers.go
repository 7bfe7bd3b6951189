package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ruochenliao/text2sql/internal/history"
	"github.com/ruochenliao/text2sql/pkg/pipeline"
	"github.com/ruochenliao/text2sql/pkg/schema"
	"github.com/ruochenliao/text2sql/pkg/security"
)

const maxBodyBytes = 1 << 20

// Validator is the security gate exposed by /api/validate.
type Validator interface {
	Validate(sql string) (pipeline.SecurityVerdict, *security.Approval)
	MaxComplexity() int
}

type QueryRequest struct {
	Question string `json:"question"`
	// Events asks for the run's event stream in the response body.
	Events bool `json:"events,omitempty"`
}

type QueryResponse struct {
	RunID             string               `json:"run_id"`
	State             pipeline.State       `json:"state"`
	Result            pipeline.Result      `json:"result"`
	Error             *pipeline.StageError `json:"error,omitempty"`
	GenerationRetries int                  `json:"generation_retries"`
	ExecutionRetries  int                  `json:"execution_retries"`
	DurationMS        int64                `json:"duration_ms"`
	Events            []pipeline.Event     `json:"events,omitempty"`
}

type ValidateRequest struct {
	SQL string `json:"sql"`
}

type ValidateResponse struct {
	Verdict       pipeline.SecurityVerdict  `json:"verdict"`
	Complexity    security.ComplexityReport `json:"complexity"`
	MaxComplexity int                       `json:"max_complexity"`
}

type SchemaResponse struct {
	Schema *schema.Schema `json:"schema"`
	Text   string         `json:"text"`
}

type RunsResponse struct {
	Runs []history.Summary `json:"runs"`
}

func NewQueryResponse(run *pipeline.Run) QueryResponse {
	return QueryResponse{
		RunID:             run.ID,
		State:             run.State,
		Result:            run.Result(),
		Error:             run.Err,
		GenerationRetries: run.GenerationRetries,
		ExecutionRetries:  run.ExecutionRetries,
		DurationMS:        run.Duration().Milliseconds(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "Question is required", http.StatusBadRequest)
		return
	}

	var rec *pipeline.Recorder
	sink := pipeline.DiscardSink
	if req.Events {
		rec = &pipeline.Recorder{}
		sink = rec
	}
	run, err := s.cfg.Runner.Run(r.Context(), req.Question, sink)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := NewQueryResponse(run)
	if rec != nil {
		resp.Events = rec.Events()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		http.Error(w, "SQL is required", http.StatusBadRequest)
		return
	}
	verdict, _ := s.cfg.Validator.Validate(req.SQL)
	writeJSON(w, http.StatusOK, ValidateResponse{
		Verdict:       verdict,
		Complexity:    security.Complexity(req.SQL),
		MaxComplexity: s.cfg.Validator.MaxComplexity(),
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	sc, err := s.cfg.Schema.Schema(r.Context())
	if err != nil {
		s.log.Error("server: failed to load schema", "error", err)
		http.Error(w, "Failed to load schema", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, SchemaResponse{Schema: sc, Text: sc.Text()})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.cfg.History.List(r.Context(), limit)
	if err != nil {
		s.log.Error("server: failed to list runs", "error", err)
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []history.Summary{}
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.cfg.History.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("server: failed to load run", "run_id", id, "error", err)
		http.Error(w, "Failed to load run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
