package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	"github.com/hochfrequenz/swe-orchestrator/internal/patch"
	"github.com/hochfrequenz/swe-orchestrator/internal/runner"
)

// ResultResponse is the API response for a solve result
type ResultResponse struct {
	InstanceID     string  `json:"instance_id"`
	Repo           string  `json:"repo,omitempty"`
	Strategy       string  `json:"strategy"`
	Success        bool    `json:"success"`
	Valid          bool    `json:"valid"`
	Applied        *bool   `json:"applied,omitempty"`
	PatchLength    int     `json:"patch_length"`
	FilesChanged   int     `json:"files_changed"`
	Hunks          int     `json:"hunks"`
	Added          int     `json:"added"`
	Deleted        int     `json:"deleted"`
	ElapsedSeconds float64 `json:"elapsed_sec"`
	TokensUsed     int     `json:"tokens_used"`
	Error          string  `json:"error,omitempty"`
	Patch          string  `json:"patch,omitempty"`
}

// StrategyStatus counts the stored results of one strategy
type StrategyStatus struct {
	Strategy  string `json:"strategy"`
	Total     int    `json:"total"`
	Generated int    `json:"generated"`
	Valid     int    `json:"valid"`
	Failed    int    `json:"failed"`
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Total      int              `json:"total"`
	Strategies []StrategyStatus `json:"strategies"`
	Running    int              `json:"running"`
	Stuck      int              `json:"stuck"`
	Clients    int              `json:"stream_clients"`
}

// AttemptResponse is the API response for an in-flight attempt
type AttemptResponse struct {
	InstanceID string `json:"instance_id"`
	Strategy   string `json:"strategy"`
	StartedAt  string `json:"started_at"`
	Duration   string `json:"duration"`
	Stuck      bool   `json:"stuck"`
}

// StrategiesResponse compares the stored strategies
type StrategiesResponse struct {
	Metrics      map[string]runner.StrategyMetrics `json:"metrics"`
	BestStrategy string                            `json:"best_strategy"`
}

// RunResponse is the API response for a batch run record
type RunResponse struct {
	ID         string  `json:"id"`
	Strategy   string  `json:"strategy"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
	Total      int     `json:"total"`
	Generated  int     `json:"generated"`
	Valid      int     `json:"valid"`
	Failed     int     `json:"failed"`
}

func resultToResponse(r domain.SolveResult, includePatch bool) ResultResponse {
	v := patch.ValidateSyntax(r.Patch)
	resp := ResultResponse{
		InstanceID:     r.InstanceID,
		Repo:           r.Repo,
		Strategy:       string(r.Strategy),
		Success:        r.Success,
		Valid:          v.Valid,
		Applied:        r.Applied,
		PatchLength:    len(r.Patch),
		ElapsedSeconds: r.ElapsedSeconds,
		TokensUsed:     r.TokensUsed,
		Error:          r.Error,
	}
	if v.Valid {
		if st, err := patch.ComputeStats(r.Patch); err == nil {
			resp.FilesChanged = len(st.Files)
			resp.Hunks = st.Hunks
			resp.Added = st.LinesAdded
			resp.Deleted = st.LinesRemoved
		}
	}
	if includePatch {
		resp.Patch = r.Patch
	}
	return resp
}

// strategyParam reads ?strategy=; empty means all strategies
func strategyParam(r *http.Request) (domain.Strategy, error) {
	raw := r.URL.Query().Get("strategy")
	if raw == "" {
		return "", nil
	}
	return domain.ParseStrategy(raw)
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		results, err := s.store.All("")
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		byStrategy := make(map[domain.Strategy][]domain.SolveResult)
		for _, res := range results {
			byStrategy[res.Strategy] = append(byStrategy[res.Strategy], res)
		}

		status := StatusResponse{Total: len(results), Strategies: []StrategyStatus{}}
		for _, name := range domain.AllStrategies {
			group, ok := byStrategy[name]
			if !ok {
				continue
			}
			sum := runner.Summarize(group)
			status.Strategies = append(status.Strategies, StrategyStatus{
				Strategy:  string(name),
				Total:     sum.Total,
				Generated: sum.Generated,
				Valid:     sum.Valid,
				Failed:    sum.Failed,
			})
		}

		if s.observer != nil {
			status.Running = len(s.observer.Running())
			status.Stuck = len(s.observer.Stuck())
		}
		status.Clients = s.hub.ClientCount()

		writeJSON(w, status)
	}
}

func (s *Server) listResultsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		name, err := strategyParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		results, err := s.store.All(name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		onlyValid := r.URL.Query().Get("valid") == "true"
		responses := make([]ResultResponse, 0, len(results))
		for _, res := range results {
			resp := resultToResponse(res, false)
			if onlyValid && !resp.Valid {
				continue
			}
			responses = append(responses, resp)
		}

		writeJSON(w, responses)
	}
}

func (s *Server) getResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		// /api/results/{strategy}/{instance_id}[/patch]
		path := strings.TrimPrefix(r.URL.Path, "/api/results/")
		rawPatch := strings.HasSuffix(path, "/patch")
		path = strings.TrimSuffix(path, "/patch")

		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[1] == "" {
			writeError(w, http.StatusBadRequest, "strategy and instance id required")
			return
		}
		name, err := domain.ParseStrategy(parts[0])
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, ok, err := s.store.Get(name, parts[1])
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}

		if rawPatch {
			w.Header().Set("Content-Type", "text/x-diff; charset=utf-8")
			w.Write([]byte(res.Patch))
			return
		}
		writeJSON(w, resultToResponse(res, true))
	}
}

func (s *Server) strategiesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		resp := StrategiesResponse{Metrics: make(map[string]runner.StrategyMetrics)}
		var runs []runner.StrategyRun
		for _, name := range domain.AllStrategies {
			results, err := s.store.All(name)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if len(results) == 0 {
				continue
			}
			resp.Metrics[string(name)] = runner.ComputeStrategyMetrics(results)
			runs = append(runs, runner.StrategyRun{Strategy: name, Results: results})
		}
		resp.BestStrategy = string(runner.SelectBestStrategy(runs))

		writeJSON(w, resp)
	}
}

func (s *Server) attemptsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		resp := []AttemptResponse{}
		if s.observer == nil {
			writeJSON(w, resp)
			return
		}

		for _, a := range s.observer.Running() {
			resp = append(resp, AttemptResponse{
				InstanceID: a.InstanceID,
				Strategy:   string(a.Strategy),
				StartedAt:  a.StartedAt.Format(time.RFC3339),
				Duration:   time.Since(a.StartedAt).Round(time.Second).String(),
				Stuck:      s.observer.IsStuck(a),
			})
		}
		writeJSON(w, resp)
	}
}

func (s *Server) runsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		lister, ok := s.store.(RunLister)
		if !ok {
			writeJSON(w, []RunResponse{})
			return
		}

		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		runs, err := lister.ListRuns(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := make([]RunResponse, 0, len(runs))
		for _, run := range runs {
			rr := RunResponse{
				ID:        run.ID,
				Strategy:  string(run.Strategy),
				StartedAt: run.StartedAt.Format(time.RFC3339),
				Total:     run.Total,
				Generated: run.Generated,
				Valid:     run.Valid,
				Failed:    run.Failed,
			}
			if !run.FinishedAt.IsZero() {
				t := run.FinishedAt.Format(time.RFC3339)
				rr.FinishedAt = &t
			}
			resp = append(resp, rr)
		}
		writeJSON(w, resp)
	}
}
