// Package scoring composes feature engineering, the anomaly model, and risk
// classification into a single scoring pipeline.
package scoring

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/drift"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/risk"
)

var tracer = otel.Tracer("kestrel/scoring")

// artifacts is the immutable model/engineer pair published as one unit so a
// hot reload can never expose a scaler fitted for a different model.
type artifacts struct {
	engineer   *feature.Engineer
	scorer     model.Scorer
	classifier *risk.Classifier
}

// Orchestrator scores transactions. It is explicitly constructed with its
// dependencies and holds no per-transaction state; concurrent Score calls are
// safe because the loaded artifacts are read-only and the drift monitor
// serializes its own appends.
type Orchestrator struct {
	current atomic.Pointer[artifacts]
	monitor *drift.Monitor
}

// NewOrchestrator creates an orchestrator around loaded artifacts.
func NewOrchestrator(engineer *feature.Engineer, scorer model.Scorer, classifier *risk.Classifier, monitor *drift.Monitor) *Orchestrator {
	o := &Orchestrator{monitor: monitor}
	o.current.Store(&artifacts{
		engineer:   engineer,
		scorer:     scorer,
		classifier: classifier,
	})
	return o
}

// Reload atomically swaps in a new artifact set. In-flight Score calls finish
// against the artifacts they started with; readers never observe a partially
// updated pair.
func (o *Orchestrator) Reload(engineer *feature.Engineer, scorer model.Scorer, classifier *risk.Classifier) {
	o.current.Store(&artifacts{
		engineer:   engineer,
		scorer:     scorer,
		classifier: classifier,
	})
}

// Monitor returns the drift monitor observing emitted scores.
func (o *Orchestrator) Monitor() *drift.Monitor {
	return o.monitor
}

// Score runs the pipeline: features -> scaler -> anomaly model -> risk
// classification. stats may be nil. The returned result is owned by the
// caller; compliance checks run separately and their reasons are merged by
// the caller.
func (o *Orchestrator) Score(ctx context.Context, tx *domain.Transaction, stats *domain.HistoricalStats) (*domain.ScoreResult, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "scoring.Score", trace.WithAttributes(
		attribute.String("tx.id", tx.ID),
		attribute.Float64("tx.amount", tx.Amount),
	))
	defer span.End()

	arts := o.current.Load()

	vector := arts.engineer.BuildFeatures(tx, stats)

	scaled, err := arts.engineer.Transform(vector)
	if err != nil {
		return nil, fmt.Errorf("feature transform failed: %w", err)
	}

	anomalyScore, reconErr, err := arts.scorer.PredictAnomalyScore(scaled)
	if err != nil {
		return nil, fmt.Errorf("anomaly prediction failed: %w", err)
	}

	contributions := arts.engineer.FeatureContributions(vector, reconErr)
	classification := arts.classifier.Classify(anomalyScore, reconErr)

	if o.monitor != nil {
		o.monitor.Record(anomalyScore)
	}

	span.SetAttributes(
		attribute.Float64("score.anomaly", anomalyScore),
		attribute.String("score.risk_level", string(classification.RiskLevel)),
	)

	return &domain.ScoreResult{
		ID:                   uuid.New().String(),
		TxID:                 tx.ID,
		AnomalyScore:         anomalyScore,
		ReconstructionError:  reconErr,
		RiskLevel:            classification.RiskLevel,
		Decision:             classification.Decision,
		IsAnomaly:            classification.IsAnomaly,
		FeatureContributions: contributions,
		Timestamp:            time.Now().UTC(),
		ScoredIn:             time.Since(start).Milliseconds(),
	}, nil
}

// Escalation derives the case-escalation suggestion from a score result.
// CRITICAL and HIGH risk levels suggest escalation; the caller's
// case-management collaborator decides whether to act. A nil result yields
// no escalation at medium priority.
func Escalation(result *domain.ScoreResult) domain.EscalationDecision {
	if result == nil {
		return domain.EscalationDecision{Priority: domain.PriorityMedium}
	}

	return domain.EscalationDecision{
		Escalate: result.RiskLevel == domain.RiskCritical || result.RiskLevel == domain.RiskHigh,
		Priority: risk.PriorityFor(result.RiskLevel),
		TxID:     result.TxID,
		ScoreID:  result.ID,
	}
}
