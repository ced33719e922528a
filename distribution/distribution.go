// Package distribution provides probability distributions which can be
// used as layers of a variational approximation
package distribution

import (
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Distribution is a probability distribution over events of a fixed
// shape. Inputs to its methods hold a batch of events along dimension 0.
type Distribution interface {
	// LogProb returns the log of the probability density or mass of
	// each event in a batch. The input must have shape
	// (batch, Shape()...) or Shape(), in which case it is treated as a
	// batch of one event. The output has shape (batch).
	LogProb(*G.Node) (*G.Node, error)

	// Prob returns the probability density or mass of each event in a
	// batch. Inputs are treated as in LogProb.
	Prob(*G.Node) (*G.Node, error)

	// Entropy returns the entropy of the distribution as a scalar
	Entropy() (*G.Node, error)

	Shape() tensor.Shape
	Mean() *G.Node
	StdDev() *G.Node
	Variance() *G.Node

	// Sample returns a node of shape (samples, Shape()...) that
	// generates new samples each time the graph is run.
	Sample(samples int) (*G.Node, error)

	// Returns whether samples returned by Sample are reparameterized
	// and so differentiable with respect to the parameters of the
	// distribution
	HasRsample() bool
}
