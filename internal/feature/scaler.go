package feature

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// scalerFormatVersion guards the serialized scaler layout.
const scalerFormatVersion = 1

// Scaler is a standard (zero-mean, unit-variance) feature scaler. It is a
// stateful artifact: Transform before Fit or Load returns domain.ErrNotFitted.
// Once fitted it is read-only and safe for concurrent use.
type Scaler struct {
	fitted bool
	mean   []float64
	std    []float64
	names  []string
}

// NewScaler creates an unfitted scaler.
func NewScaler() *Scaler {
	return &Scaler{}
}

// Fit computes per-column mean and standard deviation over a sample matrix.
// Columns with zero variance get a unit std so Transform never divides by zero.
func (s *Scaler) Fit(matrix [][]float64) error {
	if len(matrix) == 0 || len(matrix[0]) == 0 {
		return fmt.Errorf("%w: empty feature matrix", domain.ErrInvalidInput)
	}

	cols := len(matrix[0])
	mean := make([]float64, cols)
	std := make([]float64, cols)

	for _, row := range matrix {
		if len(row) != cols {
			return fmt.Errorf("%w: ragged feature matrix", domain.ErrInvalidInput)
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(matrix))
	for j := range mean {
		mean[j] /= n
	}

	for _, row := range matrix {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
		if std[j] == 0 {
			std[j] = 1.0
		}
	}

	s.mean = mean
	s.std = std
	s.names = append([]string(nil), FeatureNames...)
	s.fitted = true
	return nil
}

// Transform scales a single feature vector.
func (s *Scaler) Transform(vec []float64) ([]float64, error) {
	if !s.fitted {
		return nil, domain.ErrNotFitted
	}
	if len(vec) != len(s.mean) {
		return nil, fmt.Errorf("%w: expected %d features, got %d", domain.ErrConfig, len(s.mean), len(vec))
	}

	out := make([]float64, len(vec))
	for j, v := range vec {
		out[j] = (v - s.mean[j]) / s.std[j]
	}
	return out, nil
}

// TransformMatrix scales each row of a sample matrix.
func (s *Scaler) TransformMatrix(matrix [][]float64) ([][]float64, error) {
	if !s.fitted {
		return nil, domain.ErrNotFitted
	}

	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}

// FeatureNames returns the ordered feature-name list captured at fit time.
func (s *Scaler) FeatureNames() []string {
	return s.names
}

// Fitted reports whether the scaler has been fitted or loaded.
func (s *Scaler) Fitted() bool {
	return s.fitted
}

// scalerArtifact is the on-disk representation.
type scalerArtifact struct {
	Version      int       `json:"version"`
	FeatureNames []string  `json:"featureNames"`
	Mean         []float64 `json:"mean"`
	Std          []float64 `json:"std"`
}

// Save writes the fitted scaler to path as versioned JSON.
func (s *Scaler) Save(path string) error {
	if !s.fitted {
		return domain.ErrNotFitted
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create artifact dir: %w", err)
		}
	}

	artifact := scalerArtifact{
		Version:      scalerFormatVersion,
		FeatureNames: s.names,
		Mean:         s.mean,
		Std:          s.std,
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode scaler: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadScaler reads a scaler artifact from path. A feature-name list that does
// not match the current FeatureNames order is a fatal configuration error:
// the artifact was fitted against a different feature contract.
func LoadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scaler artifact: %w", err)
	}

	var artifact scalerArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to decode scaler artifact: %w", err)
	}

	if artifact.Version != scalerFormatVersion {
		return nil, fmt.Errorf("%w: unsupported scaler format version %d", domain.ErrConfig, artifact.Version)
	}
	if len(artifact.Mean) != len(artifact.FeatureNames) || len(artifact.Std) != len(artifact.FeatureNames) {
		return nil, fmt.Errorf("%w: scaler artifact is internally inconsistent", domain.ErrConfig)
	}
	if len(artifact.FeatureNames) != len(FeatureNames) {
		return nil, fmt.Errorf("%w: scaler fitted on %d features, engine expects %d",
			domain.ErrConfig, len(artifact.FeatureNames), len(FeatureNames))
	}
	for i, name := range artifact.FeatureNames {
		if name != FeatureNames[i] {
			return nil, fmt.Errorf("%w: feature name mismatch at index %d: artifact %q, engine %q",
				domain.ErrConfig, i, name, FeatureNames[i])
		}
	}

	return &Scaler{
		fitted: true,
		mean:   artifact.Mean,
		std:    artifact.Std,
		names:  artifact.FeatureNames,
	}, nil
}
