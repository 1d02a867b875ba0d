package risk

import (
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func testConfig() domain.ScoringConfig {
	return domain.ScoringConfig{
		CriticalScore:       0.8,
		HighScore:           0.6,
		MediumScore:         0.4,
		CriticalMultiple:    2.0,
		HighMultiple:        1.5,
		ThresholdPercentile: 95.0,
	}
}

func TestClassifyPercentileMode(t *testing.T) {
	c := NewClassifier(testConfig())

	cases := []struct {
		name  string
		score float64
		level domain.RiskLevel
	}{
		{"Low", 0.1, domain.RiskLow},
		{"LowAtBoundary", 0.4, domain.RiskLow},
		{"Medium", 0.5, domain.RiskMedium},
		{"High", 0.7, domain.RiskHigh},
		{"Critical", 0.9, domain.RiskCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.score, 0.01)
			if got.RiskLevel != tc.level {
				t.Errorf("score %v: expected %s, got %s", tc.score, tc.level, got.RiskLevel)
			}
			if got.IsAnomaly {
				t.Error("percentile mode never flags isAnomaly")
			}
			if got.Decision != DecisionFor(tc.level) {
				t.Errorf("decision %s does not match level %s", got.Decision, tc.level)
			}
		})
	}

	t.Run("Monotonic", func(t *testing.T) {
		order := map[domain.RiskLevel]int{
			domain.RiskLow: 0, domain.RiskMedium: 1, domain.RiskHigh: 2, domain.RiskCritical: 3,
		}
		prev := -1
		for score := 0.0; score <= 1.0; score += 0.05 {
			level := order[c.Classify(score, 0).RiskLevel]
			if level < prev {
				t.Fatalf("risk level decreased at score %v", score)
			}
			prev = level
		}
	})
}

func TestClassifyThresholdMode(t *testing.T) {
	c := NewClassifier(testConfig())
	c.SetThreshold(0.1)

	cases := []struct {
		name     string
		reconErr float64
		level    domain.RiskLevel
		anomaly  bool
	}{
		{"BelowThreshold", 0.05, domain.RiskLow, false},
		{"AtThreshold", 0.1, domain.RiskLow, false},
		{"AboveThreshold", 0.12, domain.RiskMedium, true},
		{"AboveHighMultiple", 0.16, domain.RiskHigh, true},
		{"AboveCriticalMultiple", 0.25, domain.RiskCritical, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Anomaly score is irrelevant in threshold mode
			got := c.Classify(0.99, tc.reconErr)
			if got.RiskLevel != tc.level {
				t.Errorf("error %v: expected %s, got %s", tc.reconErr, tc.level, got.RiskLevel)
			}
			if got.IsAnomaly != tc.anomaly {
				t.Errorf("error %v: expected isAnomaly=%v, got %v", tc.reconErr, tc.anomaly, got.IsAnomaly)
			}
		})
	}
}

func TestComputeThresholdFromData(t *testing.T) {
	t.Run("FitsPercentile", func(t *testing.T) {
		c := NewClassifier(testConfig())
		if c.Threshold() != nil {
			t.Fatal("new classifier should start in percentile mode")
		}

		errs := make([]float64, 100)
		for i := range errs {
			errs[i] = float64(i + 1) // 1..100
		}
		if err := c.ComputeThresholdFromData(errs); err != nil {
			t.Fatalf("ComputeThresholdFromData failed: %v", err)
		}
		if c.Threshold() == nil {
			t.Fatal("threshold not set")
		}
		// p95 of 1..100 with linear interpolation is 95.05
		if math.Abs(*c.Threshold()-95.05) > 1e-9 {
			t.Errorf("expected threshold 95.05, got %v", *c.Threshold())
		}
	})

	t.Run("EmptyErrors", func(t *testing.T) {
		c := NewClassifier(testConfig())
		if err := c.ComputeThresholdFromData(nil); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestDecisionFor(t *testing.T) {
	cases := map[domain.RiskLevel]domain.Decision{
		domain.RiskLow:      domain.DecisionApprove,
		domain.RiskMedium:   domain.DecisionMonitor,
		domain.RiskHigh:     domain.DecisionReview,
		domain.RiskCritical: domain.DecisionReview,
	}
	for level, want := range cases {
		if got := DecisionFor(level); got != want {
			t.Errorf("%s: expected %s, got %s", level, want, got)
		}
	}
}

func TestPriorityFor(t *testing.T) {
	cases := map[domain.RiskLevel]domain.EscalationPriority{
		domain.RiskLow:      domain.PriorityLow,
		domain.RiskMedium:   domain.PriorityMedium,
		domain.RiskHigh:     domain.PriorityHigh,
		domain.RiskCritical: domain.PriorityCritical,
	}
	for level, want := range cases {
		if got := PriorityFor(level); got != want {
			t.Errorf("%s: expected %s, got %s", level, want, got)
		}
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{5, 1, 3, 2, 4}

	t.Run("EmptyInput", func(t *testing.T) {
		if got := Percentile(nil, 95); got != 0 {
			t.Errorf("expected 0 for empty input, got %v", got)
		}
	})

	t.Run("Median", func(t *testing.T) {
		if got := Percentile(values, 50); got != 3 {
			t.Errorf("expected median 3, got %v", got)
		}
	})

	t.Run("Extremes", func(t *testing.T) {
		if got := Percentile(values, 0); got != 1 {
			t.Errorf("expected p0 = 1, got %v", got)
		}
		if got := Percentile(values, 100); got != 5 {
			t.Errorf("expected p100 = 5, got %v", got)
		}
	})

	t.Run("Interpolates", func(t *testing.T) {
		if got := Percentile([]float64{1, 2}, 50); got != 1.5 {
			t.Errorf("expected interpolated 1.5, got %v", got)
		}
	})

	t.Run("ClampsOutOfRange", func(t *testing.T) {
		if got := Percentile(values, -10); got != 1 {
			t.Errorf("expected clamp to p0, got %v", got)
		}
		if got := Percentile(values, 150); got != 5 {
			t.Errorf("expected clamp to p100, got %v", got)
		}
	})

	t.Run("SingleValue", func(t *testing.T) {
		if got := Percentile([]float64{7}, 95); got != 7 {
			t.Errorf("expected 7, got %v", got)
		}
	})

	t.Run("DoesNotMutateInput", func(t *testing.T) {
		in := []float64{3, 1, 2}
		Percentile(in, 50)
		if in[0] != 3 || in[1] != 1 || in[2] != 2 {
			t.Errorf("input mutated: %v", in)
		}
	})
}
