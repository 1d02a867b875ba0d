package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// Pipeline runs the full scoring flow for one transaction: persistence,
// historical stats, anomaly scoring, compliance checks, escalation, and event
// publication. The API handler drives it synchronously; the worker drives it
// from ingested-transaction events.
type Pipeline struct {
	orch     *Orchestrator
	checks   *compliance.Engine
	history  *history.Service
	repo     domain.Repository
	bus      domain.EventBus
	velocity time.Duration
}

// NewPipeline wires the pipeline. repo and bus may be nil; the pipeline then
// skips persistence and event publication respectively.
func NewPipeline(orch *Orchestrator, checks *compliance.Engine, hist *history.Service, repo domain.Repository, bus domain.EventBus, velocityWindow time.Duration) *Pipeline {
	if velocityWindow <= 0 {
		velocityWindow = 24 * time.Hour
	}
	return &Pipeline{
		orch:     orch,
		checks:   checks,
		history:  hist,
		repo:     repo,
		bus:      bus,
		velocity: velocityWindow,
	}
}

// Orchestrator exposes the underlying orchestrator for reloads.
func (p *Pipeline) Orchestrator() *Orchestrator {
	return p.orch
}

// Checks exposes the compliance engine for rule management.
func (p *Pipeline) Checks() *compliance.Engine {
	return p.checks
}

// Process scores a transaction end to end. The returned case is non-nil only
// when the escalation decision produced one. Persistence and compliance
// failures degrade the result rather than failing the score; only the core
// scoring path is fatal.
func (p *Pipeline) Process(ctx context.Context, tx *domain.Transaction) (*domain.ScoreResult, domain.EscalationDecision, *domain.Case, error) {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	if p.repo != nil {
		if err := p.repo.SaveTransaction(ctx, tx); err != nil {
			slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		}
	}

	var stats *domain.HistoricalStats
	var velocityCount int64
	if p.history != nil {
		count, err := p.history.RecordArrival(ctx, tx.CustomerID, p.velocity)
		if err != nil {
			slog.Warn("velocity counter update failed", "customer_id", tx.CustomerID, "error", err)
		} else {
			velocityCount = count
		}

		s, err := p.history.Stats(ctx, tx.CustomerID, tx.Timestamp)
		if err != nil {
			slog.Warn("historical stats unavailable, scoring with defaults",
				"customer_id", tx.CustomerID, "error", err)
		} else {
			stats = s
		}
	}

	result, err := p.orch.Score(ctx, tx, stats)
	if err != nil {
		return nil, domain.EscalationDecision{Priority: domain.PriorityMedium}, nil, fmt.Errorf("scoring failed: %w", err)
	}

	compliancePassed := true
	if p.checks != nil {
		report, err := p.checks.RunAll(ctx, tx, velocityCount)
		if err != nil {
			slog.Error("compliance checks failed to run", "tx_id", tx.ID, "error", err)
		} else {
			result.ComplianceViolations = report.Reasons
			compliancePassed = report.Passed
		}
	}

	decision := Escalation(result)
	if !compliancePassed {
		decision.Escalate = true
	}

	if p.repo != nil {
		if err := p.repo.SaveScore(ctx, result); err != nil {
			slog.Error("failed to save score", "score_id", result.ID, "error", err)
		}
	}

	p.publish(ctx, domain.TopicScoreCompleted, result)

	var c *domain.Case
	if decision.Escalate {
		c = p.escalate(ctx, tx, result, decision)
	}

	return result, decision, c, nil
}

// escalate opens an investigation case for an escalated transaction.
func (p *Pipeline) escalate(ctx context.Context, tx *domain.Transaction, result *domain.ScoreResult, decision domain.EscalationDecision) *domain.Case {
	id := uuid.New().String()
	c := &domain.Case{
		ID:          id,
		CaseID:      fmt.Sprintf("CASE-%s-%s", time.Now().UTC().Format("20060102150405"), id[:8]),
		Title:       fmt.Sprintf("%s risk transaction %s", result.RiskLevel, tx.ID),
		Description: caseDescription(result),
		Status:      domain.CaseStatusTriage,
		Priority:    decision.Priority,
		TxID:        tx.ID,
		ScoreID:     result.ID,
		CreatedAt:   time.Now().UTC(),
	}

	if p.repo != nil {
		if err := p.repo.SaveCase(ctx, c); err != nil {
			slog.Error("failed to save case", "case_id", c.CaseID, "error", err)
		}
	}

	slog.Info("transaction escalated",
		"case_id", c.CaseID,
		"tx_id", tx.ID,
		"risk_level", result.RiskLevel,
		"priority", decision.Priority,
	)

	p.publish(ctx, domain.TopicEscalation, c)
	return c
}

func caseDescription(result *domain.ScoreResult) string {
	desc := fmt.Sprintf("anomaly score %.4f, decision %s", result.AnomalyScore, result.Decision)
	for _, v := range result.ComplianceViolations {
		desc += "; " + v
	}
	return desc
}

func (p *Pipeline) publish(ctx context.Context, topic string, payload any) {
	if p.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal event payload", "topic", topic, "error", err)
		return
	}
	if err := p.bus.Publish(ctx, topic, data); err != nil {
		slog.Warn("event publish failed", "topic", topic, "error", err)
	}
}
