package domain

import (
	"time"
)

// RiskLevel is the ordinal risk classification of a scored transaction.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Decision is the coarse action derived from a risk level.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionMonitor Decision = "monitor"
	DecisionReview  Decision = "review"
)

// ScoreResult is the complete scoring outcome for one transaction.
// Owned by the caller after return; the engine keeps no reference.
type ScoreResult struct {
	ID   string `json:"id"`
	TxID string `json:"txId"`

	// AnomalyScore is bounded to [0, 1]; ReconstructionError is the raw
	// non-negative model error it was derived from.
	AnomalyScore        float64  `json:"anomalyScore"`
	ReconstructionError float64  `json:"reconstructionError"`
	ClassifierScore     *float64 `json:"classifierScore,omitempty"`

	RiskLevel RiskLevel `json:"riskLevel"`
	Decision  Decision  `json:"decision"`
	IsAnomaly bool      `json:"isAnomaly"`

	// FeatureContributions attributes the reconstruction error across input
	// features; values are non-negative and sum to ReconstructionError.
	FeatureContributions map[string]float64 `json:"featureContributions"`

	// Compliance violations merged in by the caller, if checks were run.
	ComplianceViolations []string `json:"complianceViolations,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	ScoredIn  int64     `json:"scoredInMs"`
}

// EscalationPriority is the suggested investigation priority for a case.
type EscalationPriority string

const (
	PriorityLow      EscalationPriority = "low"
	PriorityMedium   EscalationPriority = "medium"
	PriorityHigh     EscalationPriority = "high"
	PriorityCritical EscalationPriority = "critical"
)

// EscalationDecision tells the case-management collaborator whether a scored
// transaction warrants a case, and at what priority.
type EscalationDecision struct {
	Escalate bool               `json:"escalate"`
	Priority EscalationPriority `json:"priority"`
	TxID     string             `json:"txId,omitempty"`
	ScoreID  string             `json:"scoreId,omitempty"`
}

// Case is an investigation case created from an escalated transaction.
type Case struct {
	ID          string             `json:"id"`
	CaseID      string             `json:"caseId"` // human-readable CASE-... identifier
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Status      string             `json:"status"`
	Priority    EscalationPriority `json:"priority"`
	TxID        string             `json:"txId"`
	ScoreID     string             `json:"scoreId,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// Case status values.
const (
	CaseStatusTriage = "triage"
	CaseStatusOpen   = "open"
	CaseStatusClosed = "closed"
)

// DriftSnapshot reports the score-distribution drift metrics at a point in time.
type DriftSnapshot struct {
	Status        string  `json:"status"` // "ok" or "insufficient_data"
	RecentMean    float64 `json:"recentMean,omitempty"`
	OlderMean     float64 `json:"olderMean,omitempty"`
	DriftRatio    float64 `json:"driftRatio,omitempty"`
	DriftDetected bool    `json:"driftDetected"`
	SampleRecent  int     `json:"sampleSizeRecent,omitempty"`
	SampleOlder   int     `json:"sampleSizeOlder,omitempty"`
}

// Drift status values.
const (
	DriftStatusOK               = "ok"
	DriftStatusInsufficientData = "insufficient_data"
)
