package model

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const testDim = 18

// trainingData generates a correlated synthetic sample so there is structure
// for the autoencoder to learn.
func trainingData(n int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	data := make([][]float64, n)
	for i := range data {
		row := make([]float64, testDim)
		base := rng.NormFloat64()
		for j := range row {
			row[j] = base*0.8 + rng.NormFloat64()*0.2
		}
		data[i] = row
	}
	return data
}

func TestNewAutoencoder(t *testing.T) {
	t.Run("DefaultDimensions", func(t *testing.T) {
		ae, err := NewAutoencoder(testDim, 0, 42)
		if err != nil {
			t.Fatalf("NewAutoencoder failed: %v", err)
		}
		if ae.InputDim() != testDim {
			t.Errorf("expected input dim %d, got %d", testDim, ae.InputDim())
		}
		if ae.LatentDim() != 8 {
			t.Errorf("expected default latent dim max(18/3, 8)=8, got %d", ae.LatentDim())
		}
	})

	t.Run("ExplicitLatentDim", func(t *testing.T) {
		ae, err := NewAutoencoder(testDim, 4, 42)
		if err != nil {
			t.Fatalf("NewAutoencoder failed: %v", err)
		}
		if ae.LatentDim() != 4 {
			t.Errorf("expected latent dim 4, got %d", ae.LatentDim())
		}
	})

	t.Run("InvalidInputDim", func(t *testing.T) {
		if _, err := NewAutoencoder(0, 0, 42); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("SeededInitIsReproducible", func(t *testing.T) {
		a, _ := NewAutoencoder(testDim, 0, 7)
		b, _ := NewAutoencoder(testDim, 0, 7)

		x := trainingData(1, 1)[0]
		ra, _ := a.ReconstructionError(x)
		rb, _ := b.ReconstructionError(x)
		if ra != rb {
			t.Errorf("same seed produced different networks: %v vs %v", ra, rb)
		}
	})
}

func TestReconstructionError(t *testing.T) {
	ae, err := NewAutoencoder(testDim, 0, 42)
	if err != nil {
		t.Fatalf("NewAutoencoder failed: %v", err)
	}

	t.Run("NonNegative", func(t *testing.T) {
		for _, row := range trainingData(10, 3) {
			re, err := ae.ReconstructionError(row)
			if err != nil {
				t.Fatalf("ReconstructionError failed: %v", err)
			}
			if re < 0 {
				t.Errorf("negative reconstruction error: %v", re)
			}
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		if _, err := ae.ReconstructionError(make([]float64, testDim-1)); !errors.Is(err, domain.ErrConfig) {
			t.Errorf("expected ErrConfig, got %v", err)
		}
	})
}

func TestPredictAnomalyScore(t *testing.T) {
	ae, err := NewAutoencoder(testDim, 0, 42)
	if err != nil {
		t.Fatalf("NewAutoencoder failed: %v", err)
	}

	score, reconErr, err := ae.PredictAnomalyScore(trainingData(1, 5)[0])
	if err != nil {
		t.Fatalf("PredictAnomalyScore failed: %v", err)
	}
	if score < 0 || score > 1 {
		t.Errorf("anomaly score out of [0,1]: %v", score)
	}
	if reconErr < 0 {
		t.Errorf("negative reconstruction error: %v", reconErr)
	}
	if want := math.Min(reconErr*ErrorScale, 1.0); score != want {
		t.Errorf("score %v is not min(err*scale, 1) = %v", score, want)
	}
}

func TestTrain(t *testing.T) {
	t.Run("LossDecreases", func(t *testing.T) {
		ae, err := NewAutoencoder(testDim, 0, 42)
		if err != nil {
			t.Fatalf("NewAutoencoder failed: %v", err)
		}

		data := trainingData(256, 42)
		losses, err := ae.Train(context.Background(), data, TrainOptions{
			Epochs:       30,
			BatchSize:    32,
			LearningRate: 0.01,
			Seed:         42,
		})
		if err != nil {
			t.Fatalf("Train failed: %v", err)
		}
		if len(losses) != 30 {
			t.Fatalf("expected 30 epoch losses, got %d", len(losses))
		}
		if losses[len(losses)-1] >= losses[0] {
			t.Errorf("training did not reduce loss: first %v, last %v", losses[0], losses[len(losses)-1])
		}
	})

	t.Run("Reproducible", func(t *testing.T) {
		data := trainingData(128, 9)
		opts := TrainOptions{Epochs: 5, BatchSize: 16, LearningRate: 0.01, Seed: 9}

		a, _ := NewAutoencoder(testDim, 0, 9)
		b, _ := NewAutoencoder(testDim, 0, 9)

		la, err := a.Train(context.Background(), data, opts)
		if err != nil {
			t.Fatalf("Train failed: %v", err)
		}
		lb, err := b.Train(context.Background(), data, opts)
		if err != nil {
			t.Fatalf("Train failed: %v", err)
		}

		for i := range la {
			if la[i] != lb[i] {
				t.Errorf("epoch %d loss differs across identical seeded runs: %v vs %v", i, la[i], lb[i])
			}
		}
	})

	t.Run("EmptyTrainingSet", func(t *testing.T) {
		ae, _ := NewAutoencoder(testDim, 0, 42)
		if _, err := ae.Train(context.Background(), nil, TrainOptions{}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		ae, _ := NewAutoencoder(testDim, 0, 42)
		bad := [][]float64{make([]float64, testDim+1)}
		if _, err := ae.Train(context.Background(), bad, TrainOptions{}); !errors.Is(err, domain.ErrConfig) {
			t.Errorf("expected ErrConfig, got %v", err)
		}
	})

	t.Run("Cancellation", func(t *testing.T) {
		ae, _ := NewAutoencoder(testDim, 0, 42)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := ae.Train(ctx, trainingData(64, 1), TrainOptions{Epochs: 100})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestModelPersistence(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		ae, err := NewAutoencoder(testDim, 0, 42)
		if err != nil {
			t.Fatalf("NewAutoencoder failed: %v", err)
		}
		data := trainingData(128, 42)
		if _, err := ae.Train(context.Background(), data, TrainOptions{Epochs: 5, Seed: 42}); err != nil {
			t.Fatalf("Train failed: %v", err)
		}

		path := filepath.Join(t.TempDir(), "artifacts", "autoencoder.json")
		if err := ae.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.InputDim() != ae.InputDim() || loaded.LatentDim() != ae.LatentDim() {
			t.Errorf("dimensions changed after reload: %d/%d vs %d/%d",
				loaded.InputDim(), loaded.LatentDim(), ae.InputDim(), ae.LatentDim())
		}

		// Identical weights imply identical errors.
		for _, row := range data[:10] {
			want, _ := ae.ReconstructionError(row)
			got, err := loaded.ReconstructionError(row)
			if err != nil {
				t.Fatalf("loaded ReconstructionError failed: %v", err)
			}
			if want != got {
				t.Errorf("reconstruction error differs after reload: %v vs %v", want, got)
			}
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
			t.Error("expected error for missing artifact")
		}
	})
}
