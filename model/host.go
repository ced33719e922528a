package model

import (
	"fmt"

	"go.uber.org/zap"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Density computes log densities with ordinary Go code
type Density interface {
	// ComputeLogProb returns log p(xs, zs[s, :]) for each row s of the
	// latent batch zs, which has shape (samples, vars). The keys of xs
	// are the keys of the Data passed to HostModel.LogProb, in the
	// same order.
	ComputeLogProb(xs *Values, zs tensor.Tensor) ([]float64, error)
}

// DensityFunc is a function that implements Density
type DensityFunc func(xs *Values, zs tensor.Tensor) ([]float64, error)

// ComputeLogProb calls f(xs, zs)
func (f DensityFunc) ComputeLogProb(xs *Values, zs tensor.Tensor) ([]float64,
	error) {
	return f(xs, zs)
}

// UnimplementedDensity can be embedded in a Density implementation. Its
// ComputeLogProb always returns ErrNotImplemented.
type UnimplementedDensity struct{}

// ComputeLogProb returns ErrNotImplemented
func (UnimplementedDensity) ComputeLogProb(*Values, tensor.Tensor) ([]float64,
	error) {
	return nil, fmt.Errorf("computeLogProb: %w", ErrNotImplemented)
}

// HostModel is a model whose density is written in Go, on concrete
// tensors, rather than as graph operations
type HostModel struct {
	density Density
	logger  *zap.Logger
	nVars   int
}

// NewHostModel returns a new HostModel with the given density
func NewHostModel(density Density, opts ...Option) (*HostModel, error) {
	if density == nil {
		return nil, fmt.Errorf("newHostModel: nil density: %w",
			ErrBackendUnavailable)
	}

	o := newOptions(opts)
	return &HostModel{
		density: density,
		logger:  o.logger,
		nVars:   -1,
	}, nil
}

// LogProb implements the Model interface. Each key of xs names a piece
// of data used by the density.
func (h *HostModel) LogProb(xs *Data, zs ...*G.Node) (*G.Node, error) {
	z, err := joinLatents(zs)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	density := func(xs *Values, zs tensor.Tensor) ([]float64, error) {
		h.logger.Debug("computing host log density",
			zap.Int("data", xs.Len()),
			zap.Ints("latents", zs.Shape()),
		)
		return h.density.ComputeLogProb(xs, zs)
	}

	lp, err := logProbNode("HostModel", xs, z, density, nil)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	if h.nVars < 0 {
		h.nVars = z.Shape()[1]
	}

	return lp, nil
}

// NVars returns the width of the first latent batch passed to LogProb
func (h *HostModel) NVars() (int, bool) {
	if h.nVars < 0 {
		return 0, false
	}
	return h.nVars, true
}
