package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline *scoring.Pipeline
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	config   *domain.Config
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(pipeline *scoring.Pipeline, repo domain.Repository, cache domain.Cache, bus domain.EventBus, cfg *domain.Config, version string) *Handler {
	return &Handler{
		pipeline: pipeline,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		config:   cfg,
		version:  version,
	}
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	Score      *domain.ScoreResult       `json:"score"`
	Escalation domain.EscalationDecision `json:"escalation"`
	CaseID     string                    `json:"caseId,omitempty"`
	Metadata   struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Score handles POST /score: synchronous scoring of a single transaction.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	req, ok := decodeScoreRequest(w, r)
	if !ok {
		return
	}

	tx := req.ToTransaction()
	tx.ID = uuid.New().String()

	result, escalation, c, err := h.pipeline.Process(ctx, tx)
	if err != nil {
		slog.Error("scoring pipeline failed", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "scoring failed",
		})
		return
	}

	resp := ScoreResponse{
		Score:      result,
		Escalation: escalation,
	}
	if c != nil {
		resp.CaseID = c.CaseID
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// Ingest handles POST /ingest: accepts a transaction for asynchronous scoring
// via the event bus. Returns 202 with the assigned transaction id.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := decodeScoreRequest(w, r)
	if !ok {
		return
	}

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	tx := req.ToTransaction()
	tx.ID = uuid.New().String()

	payload, err := json.Marshal(tx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode transaction",
		})
		return
	}

	if err := h.bus.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
		slog.Error("failed to publish ingested transaction", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to enqueue transaction",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"txId":   tx.ID,
		"status": "accepted",
	})
}

// Compliance handles POST /compliance: runs the compliance checks alone,
// without anomaly scoring, and returns the full report.
func (h *Handler) Compliance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := decodeScoreRequest(w, r)
	if !ok {
		return
	}

	tx := req.ToTransaction()
	tx.ID = uuid.New().String()

	// Standalone check requests carry no ingest counter; 0 makes the
	// velocity check count from the repository.
	report, err := h.pipeline.Checks().RunAll(ctx, tx, 0)
	if err != nil {
		slog.Error("compliance checks failed", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "compliance checks failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func decodeScoreRequest(w http.ResponseWriter, r *http.Request) (*domain.ScoreRequest, bool) {
	var req domain.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return nil, false
	}

	if req.Amount < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be non-negative",
		})
		return nil, false
	}
	if req.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customerId is required",
		})
		return nil, false
	}

	return &req, true
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetScore retrieves a score result by ID.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scoreID := chi.URLParam(r, "id")

	if scoreID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "score id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	score, err := h.repo.GetScore(ctx, scoreID)
	if err != nil {
		slog.Error("failed to get score", "id", scoreID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "score not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, score)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetCase retrieves an investigation case by its human-readable case ID.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := chi.URLParam(r, "id")

	if caseID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "case id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	c, err := h.repo.GetCase(ctx, caseID)
	if err != nil {
		slog.Error("failed to get case", "id", caseID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "case not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// Drift returns the current score-distribution drift metrics.
func (h *Handler) Drift(w http.ResponseWriter, r *http.Request) {
	monitor := h.pipeline.Orchestrator().Monitor()
	if monitor == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "drift monitor not available",
		})
		return
	}

	writeJSON(w, http.StatusOK, monitor.Metrics())
}

// ReloadModel reloads the model and scaler artifacts from disk and atomically
// swaps them into the orchestrator. In-flight scores finish against the old
// artifacts.
func (h *Handler) ReloadModel(w http.ResponseWriter, r *http.Request) {
	scaler, err := feature.LoadScaler(h.config.Artifacts.ScalerPath)
	if err != nil {
		slog.Error("failed to load scaler artifact", "path", h.config.Artifacts.ScalerPath, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load scaler: " + err.Error(),
		})
		return
	}

	ae, err := model.Load(h.config.Artifacts.ModelPath)
	if err != nil {
		slog.Error("failed to load model artifact", "path", h.config.Artifacts.ModelPath, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load model: " + err.Error(),
		})
		return
	}

	engineer := feature.NewEngineerWithScaler(scaler)
	classifier := risk.NewClassifier(h.config.Scoring)

	h.pipeline.Orchestrator().Reload(engineer, ae, classifier)

	slog.Info("model artifacts reloaded",
		"model_path", h.config.Artifacts.ModelPath,
		"scaler_path", h.config.Artifacts.ScalerPath,
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "model reloaded",
	})
}

// CreateRuleRequest is the request body for creating a custom compliance rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Reason      string `json:"reason"`
	Enabled     bool   `json:"enabled"`
}

// ListRules returns the custom compliance rules stored in the repository.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rules, err := h.repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  rules,
		"count":  len(rules),
		"loaded": h.pipeline.Checks().Rules().Count(),
	})
}

// CreateRule validates, compiles, and persists a custom compliance rule.
// Call POST /rules/reload afterwards to apply it to the live engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	cfg := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression by compiling it into the live rule set
	if err := h.pipeline.Checks().Rules().Load(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, cfg); err != nil {
			slog.Error("failed to save rule config", "id", cfg.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("compliance rule created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    cfg,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all enabled custom rules from the database into the
// compliance engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.pipeline.Checks().Rules().Reload(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("compliance rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
