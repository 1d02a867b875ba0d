// Package drift tracks the distribution of emitted anomaly scores over time.
package drift

import (
	"math"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Monitor keeps a bounded FIFO history of anomaly scores in a fixed-capacity
// ring buffer and computes distributional drift metrics on demand. It is the
// only mutable shared state in the scoring core; a single mutex serializes
// concurrent appends from scoring calls and reads from metric requests.
type Monitor struct {
	mu  sync.Mutex
	cfg domain.DriftConfig

	scores []float64
	head   int
	filled bool
}

// NewMonitor creates a monitor. Zero-valued config fields take the reference
// defaults (capacity 10000, min 100 samples, windows 1000/4000, 20% ratio).
func NewMonitor(cfg domain.DriftConfig) *Monitor {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = 10000
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 100
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 1000
	}
	if cfg.OlderWindow <= 0 {
		cfg.OlderWindow = 4000
	}
	if cfg.RatioThreshold <= 0 {
		cfg.RatioThreshold = 0.20
	}
	return &Monitor{
		cfg:    cfg,
		scores: make([]float64, cfg.HistoryCapacity),
	}
}

// Record appends an anomaly score, evicting the oldest once at capacity.
func (m *Monitor) Record(score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scores[m.head] = score
	m.head = (m.head + 1) % len(m.scores)
	if m.head == 0 {
		m.filled = true
	}
}

// Len returns the number of recorded scores.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.length()
}

func (m *Monitor) length() int {
	if m.filled {
		return len(m.scores)
	}
	return m.head
}

// ordered returns the history oldest-first.
func (m *Monitor) ordered() []float64 {
	n := m.length()
	out := make([]float64, n)
	if !m.filled {
		copy(out, m.scores[:n])
		return out
	}
	copy(out, m.scores[m.head:])
	copy(out[len(m.scores)-m.head:], m.scores[:m.head])
	return out
}

// Metrics computes the current drift snapshot. With fewer than MinSamples
// scores, or an empty comparison window, the snapshot carries the
// insufficient-data status; this is never an error.
func (m *Monitor) Metrics() domain.DriftSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.ordered()
	if len(history) < m.cfg.MinSamples {
		return domain.DriftSnapshot{Status: domain.DriftStatusInsufficientData}
	}

	recentStart := max(0, len(history)-m.cfg.RecentWindow)
	recent := history[recentStart:]

	olderStart := max(0, recentStart-m.cfg.OlderWindow)
	older := history[olderStart:recentStart]

	if len(older) == 0 {
		return domain.DriftSnapshot{Status: domain.DriftStatusInsufficientData}
	}

	recentMean := mean(recent)
	olderMean := mean(older)

	ratio := 1.0
	if olderMean > 0 {
		ratio = recentMean / olderMean
	}

	return domain.DriftSnapshot{
		Status:        domain.DriftStatusOK,
		RecentMean:    recentMean,
		OlderMean:     olderMean,
		DriftRatio:    ratio,
		DriftDetected: math.Abs(ratio-1.0) > m.cfg.RatioThreshold,
		SampleRecent:  len(recent),
		SampleOlder:   len(older),
	}
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
