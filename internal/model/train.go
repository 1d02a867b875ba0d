package model

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// TrainOptions configures a training run. Zero values select the defaults.
type TrainOptions struct {
	Epochs       int     // default 50
	BatchSize    int     // default 32
	LearningRate float64 // default 0.001
	Seed         int64   // shuffle seed; same seed, same run
}

func (o *TrainOptions) applyDefaults() {
	if o.Epochs <= 0 {
		o.Epochs = 50
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.LearningRate <= 0 {
		o.LearningRate = 0.001
	}
}

// Train minimizes mean-squared reconstruction error with mini-batch gradient
// descent over randomly shuffled indices each epoch. Returns per-epoch
// average losses. Training is an offline batch operation; do not run it
// concurrently with inference against the same instance. The context is
// checked between batches so long runs can be cancelled.
func (ae *Autoencoder) Train(ctx context.Context, data [][]float64, opts TrainOptions) ([]float64, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty training set", domain.ErrInvalidInput)
	}
	for _, row := range data {
		if len(row) != ae.inputDim {
			return nil, fmt.Errorf("%w: expected %d features, got %d", domain.ErrConfig, ae.inputDim, len(row))
		}
	}
	opts.applyDefaults()

	rng := rand.New(rand.NewSource(opts.Seed))
	layers := append(append([]*denseLayer{}, ae.encoder...), ae.decoder...)
	losses := make([]float64, 0, opts.Epochs)

	indices := make([]int, len(data))
	for i := range indices {
		indices[i] = i
	}

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})

		epochLoss := 0.0
		batches := 0

		for start := 0; start < len(indices); start += opts.BatchSize {
			if err := ctx.Err(); err != nil {
				return losses, err
			}

			end := min(start+opts.BatchSize, len(indices))
			batch := indices[start:end]

			loss := trainBatch(layers, data, batch, opts.LearningRate)
			epochLoss += loss
			batches++
		}

		losses = append(losses, epochLoss/float64(batches))
	}

	return losses, nil
}

// trainBatch runs forward/backward passes for one mini-batch and applies the
// averaged gradient. Returns the batch's mean reconstruction loss.
func trainBatch(layers []*denseLayer, data [][]float64, batch []int, lr float64) float64 {
	gradW := make([][][]float64, len(layers))
	gradB := make([][]float64, len(layers))
	for li, l := range layers {
		gradW[li] = make([][]float64, l.Out)
		for i := range gradW[li] {
			gradW[li][i] = make([]float64, l.In)
		}
		gradB[li] = make([]float64, l.Out)
	}

	totalLoss := 0.0
	for _, idx := range batch {
		x := data[idx]

		// Forward pass, keeping pre-activations for the backward pass.
		activations := make([][]float64, len(layers)+1)
		preacts := make([][]float64, len(layers))
		activations[0] = x
		for li, l := range layers {
			z := make([]float64, l.Out)
			in := activations[li]
			for i := 0; i < l.Out; i++ {
				sum := l.B[i]
				row := l.W[i]
				for j, v := range in {
					sum += row[j] * v
				}
				z[i] = sum
			}
			preacts[li] = z
			a := make([]float64, l.Out)
			for i, v := range z {
				if l.ReLU && v < 0 {
					a[i] = 0
				} else {
					a[i] = v
				}
			}
			activations[li+1] = a
		}

		out := activations[len(layers)]
		dim := float64(len(x))
		delta := make([]float64, len(out))
		for i := range out {
			d := out[i] - x[i]
			totalLoss += d * d / dim
			delta[i] = 2 * d / dim
		}

		// Backward pass.
		for li := len(layers) - 1; li >= 0; li-- {
			l := layers[li]
			if l.ReLU {
				for i := range delta {
					if preacts[li][i] <= 0 {
						delta[i] = 0
					}
				}
			}

			in := activations[li]
			for i := 0; i < l.Out; i++ {
				di := delta[i]
				if di == 0 {
					continue
				}
				gw := gradW[li][i]
				for j, v := range in {
					gw[j] += di * v
				}
				gradB[li][i] += di
			}

			if li > 0 {
				next := make([]float64, l.In)
				for i := 0; i < l.Out; i++ {
					di := delta[i]
					if di == 0 {
						continue
					}
					row := l.W[i]
					for j := range next {
						next[j] += row[j] * di
					}
				}
				delta = next
			}
		}
	}

	// Averaged gradient step.
	n := float64(len(batch))
	for li, l := range layers {
		for i := 0; i < l.Out; i++ {
			row := l.W[i]
			gw := gradW[li][i]
			for j := range row {
				row[j] -= lr * gw[j] / n
			}
			l.B[i] -= lr * gradB[li][i] / n
		}
	}

	return totalLoss / n
}
