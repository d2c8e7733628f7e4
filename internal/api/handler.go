package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/configstore"
	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// maxBodyBytes bounds request bodies, CSV uploads included.
const maxBodyBytes = 32 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline *pipeline.Pipeline
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies, version string) *Handler {
	p := deps.Pipeline
	if p == nil {
		p = pipeline.New(pipeline.Options{
			Repository: deps.Repository,
			Cache:      deps.Cache,
			Bus:        deps.Bus,
			Recorder:   deps.Recorder,
		})
	}
	return &Handler{
		pipeline: p,
		repo:     deps.Repository,
		cache:    deps.Cache,
		bus:      deps.Bus,
		version:  version,
	}
}

// AnalyzeRequest is the request body for POST /analyze.
type AnalyzeRequest struct {
	ConfigurationName string                    `json:"configurationName,omitempty"`
	Configuration     *domain.RuleConfiguration `json:"configuration,omitempty"`
	Transactions      []domain.Transaction      `json:"transactions"`

	// Filter is a CEL expression selecting which results are returned.
	// Metrics always cover the whole input.
	Filter string `json:"filter,omitempty"`
}

// AnalyzeResponse is the response for POST /analyze.
type AnalyzeResponse struct {
	Configuration string                        `json:"configuration"`
	Metrics       domain.Metrics                `json:"metrics"`
	Results       []domain.AnnotatedTransaction `json:"results"`
	Metadata      struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Analyze handles POST /analyze: screen the posted transactions and return
// annotations plus metrics without storing anything.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req AnalyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Transactions == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactions are required",
		})
		return
	}

	var filter *rules.Filter
	if req.Filter != "" {
		f, err := rules.NewFilter(req.Filter)
		if err != nil {
			writeError(w, err)
			return
		}
		filter = f
	}

	run, err := h.pipeline.Evaluate(ctx, &domain.RunRequest{
		ConfigurationName: req.ConfigurationName,
		Configuration:     req.Configuration,
		Transactions:      req.Transactions,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	results := run.Results
	if filter != nil {
		if results, err = filter.Apply(results); err != nil {
			writeError(w, err)
			return
		}
	}

	resp := AnalyzeResponse{
		Configuration: run.ConfigurationName,
		Metrics:       run.Metrics,
		Results:       results,
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("bus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListConfigurations returns the built-in presets followed by stored
// configurations.
func (h *Handler) ListConfigurations(w http.ResponseWriter, r *http.Request) {
	configs, err := h.pipeline.Configurations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"configurations": configs,
		"count":          len(configs),
	})
}

// GetConfiguration returns one preset or stored configuration.
func (h *Handler) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.pipeline.Configuration(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// SaveConfiguration validates and stores a custom configuration.
func (h *Handler) SaveConfiguration(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	var cfg domain.RuleConfiguration
	if !decodeJSON(w, r, &cfg) {
		return
	}
	if err := h.pipeline.SaveConfiguration(r.Context(), &cfg); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("configuration saved", "name", cfg.Name, "enabled_rules", cfg.EnabledCount())
	writeJSON(w, http.StatusCreated, cfg)
}

// CompareConfigurations lists the thresholds that differ between two
// configurations.
func (h *Handler) CompareConfigurations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := h.pipeline.Configuration(ctx, chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := h.pipeline.Configuration(ctx, chi.URLParam(r, "other"))
	if err != nil {
		writeError(w, err)
		return
	}

	diffs := configstore.Compare(a, b)
	if diffs == nil {
		diffs = []configstore.Difference{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"a":           a.Name,
		"b":           b.Name,
		"differences": diffs,
	})
}

// IngestTransactions stores a dataset posted as a JSON array or as CSV
// (Content-Type text/csv). Records are sorted chronologically before
// storage; an invalid record rejects the whole upload.
func (h *Handler) IngestTransactions(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var txs []domain.Transaction
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/csv" {
		parsed, err := dataset.Read(r.Body)
		if err != nil {
			writeError(w, err)
			return
		}
		txs = parsed
	} else if !decodeJSON(w, r, &txs) {
		return
	}

	dataset.SortChronological(txs)
	if err := h.repo.SaveTransactions(r.Context(), txs); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("transactions ingested", "count", len(txs))
	writeJSON(w, http.StatusCreated, map[string]int{
		"stored": len(txs),
	})
}

// ListTransactions returns stored transactions, optionally for one user.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	var (
		txs []domain.Transaction
		err error
	)
	if user := r.URL.Query().Get("user"); user != "" {
		txs, err = h.repo.GetTransactionsByUser(r.Context(), user)
	} else {
		txs, err = h.repo.ListTransactions(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

// CreateRun screens a transaction set and stores the run. With ?async=true
// the request is queued on the event bus and 202 is returned with the run ID.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireRepo(w) {
		return
	}

	var req domain.RunRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Persist = true

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "event bus not available",
			})
			return
		}
		if _, err := h.pipeline.ResolveConfiguration(ctx, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.RunID == "" {
			req.RunID = uuid.New().String()
		}
		if err := bus.PublishJSON(ctx, h.bus, domain.TopicRunRequested, req); err != nil {
			slog.Error("failed to queue run", "run_id", req.RunID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "failed to queue run",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"runId":  req.RunID,
			"status": "accepted",
		})
		return
	}

	run, err := h.pipeline.Run(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	summary := *run
	summary.Results = nil
	writeJSON(w, http.StatusCreated, summary)
}

// ListRuns returns recent runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*domain.DetectionRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun returns a stored run without its per-transaction results.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	run, err := h.repo.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetRunMetrics returns a run's metrics, served from the cache when warm.
func (h *Handler) GetRunMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.pipeline.RunMetrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetRunTransactions returns a run's annotated transactions. Query
// parameters: suspicious=true keeps flagged ones, filter=<CEL> selects with
// an expression.
func (h *Handler) GetRunTransactions(w http.ResponseWriter, r *http.Request) {
	results, ok := h.runResults(w, r)
	if !ok {
		return
	}

	if suspicious, _ := strconv.ParseBool(r.URL.Query().Get("suspicious")); suspicious {
		flagged := results[:0:0]
		for _, a := range results {
			if a.Suspicious {
				flagged = append(flagged, a)
			}
		}
		results = flagged
	}

	if expr := r.URL.Query().Get("filter"); expr != "" {
		f, err := rules.NewFilter(expr)
		if err != nil {
			writeError(w, err)
			return
		}
		if results, err = f.Apply(results); err != nil {
			writeError(w, err)
			return
		}
	}
	if results == nil {
		results = []domain.AnnotatedTransaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": results,
		"count":        len(results),
	})
}

// GetRunReport streams a run's annotated transactions as CSV. With
// flagged=true only suspicious ones are included.
func (h *Handler) GetRunReport(w http.ResponseWriter, r *http.Request) {
	results, ok := h.runResults(w, r)
	if !ok {
		return
	}
	flaggedOnly, _ := strconv.ParseBool(r.URL.Query().Get("flagged"))

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, results, flaggedOnly); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="run-`+chi.URLParam(r, "id")+`.csv"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// GetRunSummary renders the executive summary of a run as plain text.
func (h *Handler) GetRunSummary(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	run, err := h.repo.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteSummary(&buf, summaryOf(run)); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, buf.Bytes())
}

// GetRunDetails renders the flagged transactions of a run as plain text,
// highest risk first. limit defaults to 50; 0 lists all.
func (h *Handler) GetRunDetails(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	run, err := h.repo.GetRun(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	results, err := h.repo.GetRunResults(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteDetails(&buf, summaryOf(run), results, limit); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, buf.Bytes())
}

func (h *Handler) runResults(w http.ResponseWriter, r *http.Request) ([]domain.AnnotatedTransaction, bool) {
	if !h.requireRepo(w) {
		return nil, false
	}
	results, err := h.repo.GetRunResults(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return results, true
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return false
	}
	return true
}

func summaryOf(run *domain.DetectionRun) report.Summary {
	return report.Summary{
		Configuration: run.ConfigurationName,
		GeneratedAt:   run.CreatedAt,
		Metrics:       run.Metrics,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		msg := "invalid JSON request body"
		if errors.Is(err, domain.ErrInvalidConfiguration) {
			msg = err.Error()
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": msg,
		})
		return false
	}
	return true
}

// statusOf maps domain and storage errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidConfiguration),
		errors.Is(err, domain.ErrInvalidTransaction),
		errors.Is(err, rules.ErrInvalidFilter),
		errors.Is(err, repository.ErrInvalidInput),
		errors.Is(err, dataset.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, domain.ErrUnknownPreset):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrReservedName):
		return http.StatusConflict
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeText(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
