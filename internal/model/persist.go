package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// modelFormatVersion guards the serialized model layout.
const modelFormatVersion = 1

// modelArtifact captures architecture dimensions alongside the weights so
// Load can reconstruct an identically shaped network before restoring them.
type modelArtifact struct {
	Version   int           `json:"version"`
	InputDim  int           `json:"inputDim"`
	LatentDim int           `json:"latentDim"`
	Hidden    []int         `json:"hidden"`
	Encoder   []*denseLayer `json:"encoder"`
	Decoder   []*denseLayer `json:"decoder"`
}

// Save writes the model to path as versioned JSON.
func (ae *Autoencoder) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create artifact dir: %w", err)
		}
	}

	artifact := modelArtifact{
		Version:   modelFormatVersion,
		InputDim:  ae.inputDim,
		LatentDim: ae.latentDim,
		Hidden:    ae.hidden,
		Encoder:   ae.encoder,
		Decoder:   ae.decoder,
	}

	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a model artifact from path. The stored layer shapes must match
// the architecture implied by the stored dimensions; a mismatch is a fatal
// configuration error, never silently truncated or padded.
func Load(path string) (*Autoencoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	var artifact modelArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}

	if artifact.Version != modelFormatVersion {
		return nil, fmt.Errorf("%w: unsupported model format version %d", domain.ErrConfig, artifact.Version)
	}
	if artifact.InputDim <= 0 || artifact.LatentDim <= 0 {
		return nil, fmt.Errorf("%w: model artifact has invalid dimensions", domain.ErrConfig)
	}

	ae := &Autoencoder{
		inputDim:  artifact.InputDim,
		latentDim: artifact.LatentDim,
		hidden:    artifact.Hidden,
		encoder:   artifact.Encoder,
		decoder:   artifact.Decoder,
	}
	if err := ae.validateArchitecture(); err != nil {
		return nil, err
	}
	return ae, nil
}

// validateArchitecture checks that every stored layer is internally
// consistent and that the layer chain connects inputDim to latentDim and back.
func (ae *Autoencoder) validateArchitecture() error {
	check := func(layers []*denseLayer, in, out int, name string) error {
		if len(layers) == 0 {
			return fmt.Errorf("%w: model artifact has no %s layers", domain.ErrConfig, name)
		}
		prev := in
		for li, l := range layers {
			if l.In != prev {
				return fmt.Errorf("%w: %s layer %d expects %d inputs, previous layer emits %d",
					domain.ErrConfig, name, li, l.In, prev)
			}
			if len(l.W) != l.Out || len(l.B) != l.Out {
				return fmt.Errorf("%w: %s layer %d weight shape mismatch", domain.ErrConfig, name, li)
			}
			for _, row := range l.W {
				if len(row) != l.In {
					return fmt.Errorf("%w: %s layer %d weight row length mismatch", domain.ErrConfig, name, li)
				}
			}
			prev = l.Out
		}
		if prev != out {
			return fmt.Errorf("%w: %s output dimension %d, expected %d", domain.ErrConfig, name, prev, out)
		}
		return nil
	}

	if err := check(ae.encoder, ae.inputDim, ae.latentDim, "encoder"); err != nil {
		return err
	}
	return check(ae.decoder, ae.latentDim, ae.inputDim, "decoder")
}
