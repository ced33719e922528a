package variational

import (
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer is one approximate-posterior family in a Variational
type Layer interface {
	// Shape is the shape of a single sample from the layer
	Shape() tensor.Shape

	// NVars is the number of latent variables the layer covers
	NVars() int

	// NParams is the number of variational parameters of the layer
	NParams() int

	IsDifferentiable() bool
	IsMultivariate() bool
	IsReparameterized() bool

	// Sample returns a node holding n samples along dimension 0
	Sample(n int) (*G.Node, error)

	// LogProb returns the log density of each sample in the batch x
	LogProb(x *G.Node) (*G.Node, error)
}

// Entropic is a Layer that can compute its entropy analytically
type Entropic interface {
	Layer
	Entropy() (*G.Node, error)
}
