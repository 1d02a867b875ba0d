package domain

// ComplianceCheckResult is the structured outcome of one compliance check.
// Violations are free-text strings suitable for direct audit-log consumption.
type ComplianceCheckResult struct {
	Check      string   `json:"check"`
	Passed     bool     `json:"passed"`
	Violations []string `json:"violations,omitempty"`
	Reason     string   `json:"reason,omitempty"` // e.g. "insufficient data"

	// Check-specific fields
	TransactionCount int      `json:"transactionCount,omitempty"` // velocity
	WindowHours      float64  `json:"windowHours,omitempty"`      // velocity
	PreviousCountry  string   `json:"previousCountry,omitempty"`  // geographic
	CurrentCountry   string   `json:"currentCountry,omitempty"`   // geographic
	TimeDiffHours    *float64 `json:"timeDiffHours,omitempty"`    // geographic
	MerchantCategory string   `json:"merchantCategory,omitempty"` // merchant
	EntityID         string   `json:"entityId,omitempty"`         // sanctions
}

// ComplianceReport aggregates every check run for a transaction.
type ComplianceReport struct {
	TxID    string                  `json:"txId"`
	Passed  bool                    `json:"passed"`
	Checks  []ComplianceCheckResult `json:"checks"`
	Reasons []string                `json:"reasons,omitempty"`
}

// Compliance check names.
const (
	CheckVelocity   = "velocity"
	CheckGeographic = "geographic_consistency"
	CheckMerchant   = "merchant_restriction"
	CheckSanctions  = "sanctions"
	CheckCustomRule = "custom_rule"
)

// RuleConfig defines a custom compliance rule evaluated alongside the
// built-in checks. The expression is CEL over transaction fields.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Expression must evaluate to bool: true means the rule is violated.
	Expression string `json:"expression"`

	// Reason reported when the rule fires.
	Reason string `json:"reason"`

	Enabled bool `json:"enabled"`
}
