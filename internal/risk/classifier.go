// Package risk maps anomaly indicators to discrete risk levels and decisions.
package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Classifier maps (anomaly score, reconstruction error) to a risk level and
// decision. Without a fitted threshold it classifies on anomaly score cut
// points; once a threshold is fitted from historical reconstruction errors it
// switches to threshold multiples. Read-only after construction/fitting, safe
// for concurrent use.
type Classifier struct {
	cfg domain.ScoringConfig

	// threshold is the fitted reconstruction error threshold; nil means
	// percentile mode.
	threshold *float64
}

// NewClassifier creates a classifier in percentile mode.
func NewClassifier(cfg domain.ScoringConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// SetThreshold switches the classifier into threshold mode.
func (c *Classifier) SetThreshold(threshold float64) {
	c.threshold = &threshold
}

// Threshold returns the fitted threshold, or nil in percentile mode.
func (c *Classifier) Threshold() *float64 {
	return c.threshold
}

// ComputeThresholdFromData fits the threshold as the configured percentile of
// historical reconstruction errors.
func (c *Classifier) ComputeThresholdFromData(errors []float64) error {
	if len(errors) == 0 {
		return fmt.Errorf("%w: no historical errors to fit threshold", domain.ErrInvalidInput)
	}
	t := Percentile(errors, c.cfg.ThresholdPercentile)
	c.threshold = &t
	return nil
}

// Classification is the classifier output for one transaction.
type Classification struct {
	RiskLevel domain.RiskLevel
	Decision  domain.Decision
	IsAnomaly bool
}

// Classify maps anomaly indicators to a risk level. Levels are non-decreasing
// in anomalyScore (percentile mode) and in reconstructionError (threshold
// mode).
func (c *Classifier) Classify(anomalyScore, reconstructionError float64) Classification {
	var level domain.RiskLevel
	isAnomaly := false

	if c.threshold == nil {
		switch {
		case anomalyScore > c.cfg.CriticalScore:
			level = domain.RiskCritical
		case anomalyScore > c.cfg.HighScore:
			level = domain.RiskHigh
		case anomalyScore > c.cfg.MediumScore:
			level = domain.RiskMedium
		default:
			level = domain.RiskLow
		}
	} else {
		t := *c.threshold
		isAnomaly = reconstructionError > t
		switch {
		case reconstructionError > t*c.cfg.CriticalMultiple:
			level = domain.RiskCritical
		case reconstructionError > t*c.cfg.HighMultiple:
			level = domain.RiskHigh
		case reconstructionError > t:
			level = domain.RiskMedium
		default:
			level = domain.RiskLow
		}
	}

	return Classification{
		RiskLevel: level,
		Decision:  DecisionFor(level),
		IsAnomaly: isAnomaly,
	}
}

// DecisionFor is the pure risk-level to decision mapping.
func DecisionFor(level domain.RiskLevel) domain.Decision {
	switch level {
	case domain.RiskCritical, domain.RiskHigh:
		return domain.DecisionReview
	case domain.RiskMedium:
		return domain.DecisionMonitor
	default:
		return domain.DecisionApprove
	}
}

// PriorityFor derives a case escalation priority from a risk level.
func PriorityFor(level domain.RiskLevel) domain.EscalationPriority {
	switch level {
	case domain.RiskCritical:
		return domain.PriorityCritical
	case domain.RiskHigh:
		return domain.PriorityHigh
	case domain.RiskMedium:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

// Percentile computes the p-th percentile of values using linear
// interpolation between closest ranks. p is clamped to [0, 100]; an empty
// input yields 0.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	p = math.Max(0, math.Min(100, p))
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
