package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Autoencoder is a dense encoder/decoder network scoring transactions by
// reconstruction error. Once trained or loaded it is read-only and safe for
// concurrent PredictAnomalyScore calls.
type Autoencoder struct {
	inputDim  int
	latentDim int
	hidden    []int

	encoder []*denseLayer
	decoder []*denseLayer
}

// denseLayer is a fully connected layer: out = act(W*in + b).
type denseLayer struct {
	In   int         `json:"in"`
	Out  int         `json:"out"`
	W    [][]float64 `json:"w"` // Out rows of In weights
	B    []float64   `json:"b"`
	ReLU bool        `json:"relu"`
}

// NewAutoencoder builds an untrained autoencoder. latentDim <= 0 selects the
// default max(inputDim/3, 8); hidden layers are [inputDim, max(2*inputDim/3, 16)]
// mirrored in the decoder. Weights are initialized from the given seed so
// training runs are reproducible.
func NewAutoencoder(inputDim, latentDim int, seed int64) (*Autoencoder, error) {
	if inputDim <= 0 {
		return nil, fmt.Errorf("%w: input dimension must be positive", domain.ErrInvalidInput)
	}
	if latentDim <= 0 {
		latentDim = max(inputDim/3, 8)
	}
	hidden := []int{inputDim, max(inputDim*2/3, 16)}

	rng := rand.New(rand.NewSource(seed))

	ae := &Autoencoder{
		inputDim:  inputDim,
		latentDim: latentDim,
		hidden:    hidden,
	}

	prev := inputDim
	for _, h := range hidden {
		ae.encoder = append(ae.encoder, newDenseLayer(prev, h, true, rng))
		prev = h
	}
	ae.encoder = append(ae.encoder, newDenseLayer(prev, latentDim, false, rng))

	prev = latentDim
	for i := len(hidden) - 1; i >= 0; i-- {
		ae.decoder = append(ae.decoder, newDenseLayer(prev, hidden[i], true, rng))
		prev = hidden[i]
	}
	ae.decoder = append(ae.decoder, newDenseLayer(prev, inputDim, false, rng))

	return ae, nil
}

// newDenseLayer initializes weights uniformly in +-sqrt(6/(in+out)).
func newDenseLayer(in, out int, relu bool, rng *rand.Rand) *denseLayer {
	limit := math.Sqrt(6.0 / float64(in+out))
	w := make([][]float64, out)
	for i := range w {
		w[i] = make([]float64, in)
		for j := range w[i] {
			w[i][j] = (rng.Float64()*2 - 1) * limit
		}
	}
	return &denseLayer{
		In:   in,
		Out:  out,
		W:    w,
		B:    make([]float64, out),
		ReLU: relu,
	}
}

// InputDim returns the expected feature vector length.
func (ae *Autoencoder) InputDim() int { return ae.inputDim }

// LatentDim returns the bottleneck dimension.
func (ae *Autoencoder) LatentDim() int { return ae.latentDim }

func (l *denseLayer) forward(in []float64) []float64 {
	out := make([]float64, l.Out)
	for i := 0; i < l.Out; i++ {
		sum := l.B[i]
		row := l.W[i]
		for j, v := range in {
			sum += row[j] * v
		}
		if l.ReLU && sum < 0 {
			sum = 0
		}
		out[i] = sum
	}
	return out
}

// Encode maps a feature vector into the latent space.
func (ae *Autoencoder) Encode(x []float64) []float64 {
	a := x
	for _, l := range ae.encoder {
		a = l.forward(a)
	}
	return a
}

// Decode reconstructs a feature vector from a latent vector.
func (ae *Autoencoder) Decode(z []float64) []float64 {
	a := z
	for _, l := range ae.decoder {
		a = l.forward(a)
	}
	return a
}

// Reconstruct runs the full encode/decode pass.
func (ae *Autoencoder) Reconstruct(x []float64) []float64 {
	return ae.Decode(ae.Encode(x))
}

// ReconstructionError returns the mean squared error between x and its
// reconstruction.
func (ae *Autoencoder) ReconstructionError(x []float64) (float64, error) {
	if len(x) != ae.inputDim {
		return 0, fmt.Errorf("%w: expected %d features, got %d", domain.ErrConfig, ae.inputDim, len(x))
	}
	decoded := ae.Reconstruct(x)
	sum := 0.0
	for i, v := range x {
		d := v - decoded[i]
		sum += d * d
	}
	return sum / float64(ae.inputDim), nil
}

// PredictAnomalyScore implements Scorer. The score is a bounded, monotonic
// function of the reconstruction error.
func (ae *Autoencoder) PredictAnomalyScore(features []float64) (float64, float64, error) {
	errVal, err := ae.ReconstructionError(features)
	if err != nil {
		return 0, 0, err
	}
	score := math.Min(errVal*ErrorScale, 1.0)
	return score, errVal, nil
}
