// Package model provides reconstruction-based anomaly scoring.
package model

// Scorer is the capability the orchestrator needs from an anomaly model:
// map a normalized feature vector to a bounded anomaly score plus the raw
// reconstruction error it was derived from. The autoencoder is one concrete
// implementation; a PCA-residual or kernel-density model satisfies the same
// contract.
type Scorer interface {
	PredictAnomalyScore(features []float64) (score float64, reconstructionError float64, err error)
}

// ErrorScale converts a raw reconstruction error into a bounded anomaly
// score: min(err*ErrorScale, 1). A blunt instrument that saturates quickly
// for larger errors; prefer percentile-based normalization once a historical
// error distribution is available, and recalibrate against real data.
const ErrorScale = 10.0
