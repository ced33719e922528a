// Package variational composes approximate-posterior layers into a
// single joint variational distribution. Layers are assumed to be
// independent, so the joint log density is the sum of the layers' log
// densities and the joint entropy the sum of their entropies.
package variational

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samuelfneumann/gopvi/distribution"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var (
	// ErrNoEntropy is returned when the entropy of a Variational is
	// requested but one of its layers cannot compute its entropy
	ErrNoEntropy = errors.New("layer does not compute entropy")

	// ErrEmpty is returned by operations which need at least one layer
	ErrEmpty = errors.New("variational has no layers")
)

// Variational is an ordered stack of layers. Layers are only ever
// appended; a layer, once added, is never removed or modified.
type Variational struct {
	layers []Layer

	shape             []tensor.Shape
	nVars             int
	nParams           int
	isDifferentiable  bool
	isMultivariate    []bool
	isReparameterized bool
	isNormal          bool
	isEntropy         bool
}

// New returns a Variational holding layers in order
func New(layers ...Layer) *Variational {
	v := &Variational{
		layers:         make([]Layer, len(layers)),
		shape:          make([]tensor.Shape, len(layers)),
		isMultivariate: make([]bool, len(layers)),
	}
	copy(v.layers, layers)

	v.isDifferentiable = true
	v.isReparameterized = true
	v.isNormal = true
	v.isEntropy = true
	for i, layer := range v.layers {
		v.shape[i] = layer.Shape()
		v.isMultivariate[i] = layer.IsMultivariate()
		v.nVars += layer.NVars()
		v.nParams += layer.NParams()
		v.isDifferentiable = v.isDifferentiable && layer.IsDifferentiable()
		v.isReparameterized = v.isReparameterized &&
			layer.IsReparameterized()
		v.isNormal = v.isNormal && isNormal(layer)
		v.isEntropy = v.isEntropy && isEntropic(layer)
	}

	return v
}

// Add adds a layer on top of the layer stack
func (v *Variational) Add(layer Layer) {
	v.layers = append(v.layers, layer)
	v.shape = append(v.shape, layer.Shape())
	v.nVars += layer.NVars()
	v.nParams += layer.NParams()
	v.isDifferentiable = v.isDifferentiable && layer.IsDifferentiable()
	v.isMultivariate = append(v.isMultivariate, layer.IsMultivariate())
	v.isReparameterized = v.isReparameterized && layer.IsReparameterized()
	v.isEntropy = v.isEntropy && isEntropic(layer)
	v.isNormal = v.isNormal && isNormal(layer)
}

// Layers returns the layers of the receiver in order
func (v *Variational) Layers() []Layer {
	layers := make([]Layer, len(v.layers))
	copy(layers, v.layers)
	return layers
}

// Len returns the number of layers
func (v *Variational) Len() int { return len(v.layers) }

// Shape returns the sample shape of each layer
func (v *Variational) Shape() []tensor.Shape {
	shape := make([]tensor.Shape, len(v.shape))
	copy(shape, v.shape)
	return shape
}

// NVars returns the total number of latent variables
func (v *Variational) NVars() int { return v.nVars }

// NParams returns the total number of variational parameters
func (v *Variational) NParams() int { return v.nParams }

// IsDifferentiable returns whether every layer is differentiable
func (v *Variational) IsDifferentiable() bool { return v.isDifferentiable }

// IsMultivariate returns whether each layer is multivariate
func (v *Variational) IsMultivariate() []bool {
	isMultivariate := make([]bool, len(v.isMultivariate))
	copy(isMultivariate, v.isMultivariate)
	return isMultivariate
}

// IsReparameterized returns whether every layer is reparameterized
func (v *Variational) IsReparameterized() bool { return v.isReparameterized }

// IsNormal returns whether every layer is a *distribution.Normal
func (v *Variational) IsNormal() bool { return v.isNormal }

// IsEntropy returns whether every layer computes its entropy
func (v *Variational) IsEntropy() bool { return v.isEntropy }

// Sample draws n samples from each layer. The returned nodes are in
// layer order, each of shape (n, layer.Shape()...). A slice is returned
// even for a single layer; its only node is that layer's own sample
// node. An empty Variational returns no nodes.
func (v *Variational) Sample(n int) (G.Nodes, error) {
	samples := make(G.Nodes, len(v.layers))
	for i, layer := range v.layers {
		s, err := layer.Sample(n)
		if err != nil {
			return nil, fmt.Errorf("sample: layer %d: %v", i, err)
		}
		samples[i] = s
	}

	return samples, nil
}

// LogProb returns the joint log density of a batch of samples, one
// node per layer in layer order. With a single layer, this is the
// layer's own log density. Otherwise, every node must have the same
// batch size, and the result is the elementwise sum of the layers' log
// densities.
func (v *Variational) LogProb(xs ...*G.Node) (*G.Node, error) {
	if len(v.layers) == 0 {
		return nil, fmt.Errorf("logProb: %w", ErrEmpty)
	}
	if len(xs) != len(v.layers) {
		return nil, fmt.Errorf("logProb: expected %d batches, one per "+
			"layer, but got %d", len(v.layers), len(xs))
	}
	if len(v.layers) == 1 {
		return v.layers[0].LogProb(xs[0])
	}

	var logProb *G.Node
	for l, layer := range v.layers {
		lp, err := layer.LogProb(xs[l])
		if err != nil {
			return nil, fmt.Errorf("logProb: layer %d: %v", l, err)
		}

		if logProb == nil {
			logProb = lp
			continue
		}
		logProb, err = G.Add(logProb, lp)
		if err != nil {
			return nil, fmt.Errorf("logProb: layer %d: %v", l, err)
		}
	}

	return logProb, nil
}

// Entropy returns the sum of the entropies of each layer. Every layer
// must implement Entropic, otherwise ErrNoEntropy is returned. An empty
// Variational has no graph to hold an entropy node, so it returns
// ErrEmpty rather than zero.
func (v *Variational) Entropy() (*G.Node, error) {
	if len(v.layers) == 0 {
		return nil, fmt.Errorf("entropy: %w", ErrEmpty)
	}

	var out *G.Node
	for l, layer := range v.layers {
		e, ok := layer.(Entropic)
		if !ok {
			return nil, fmt.Errorf("entropy: layer %d (%T): %w", l, layer,
				ErrNoEntropy)
		}

		entropy, err := e.Entropy()
		if err != nil {
			return nil, fmt.Errorf("entropy: layer %d: %v", l, err)
		}

		if out == nil {
			out = entropy
			continue
		}
		out, err = G.Add(out, entropy)
		if err != nil {
			return nil, fmt.Errorf("entropy: layer %d: %v", l, err)
		}
	}

	return out, nil
}

func (v *Variational) String() string {
	var b strings.Builder
	for l, layer := range v.layers {
		if l != 0 {
			b.WriteString("\n")
		}
		fmt.Fprint(&b, layer)
	}

	return b.String()
}

func isNormal(layer Layer) bool {
	_, ok := layer.(*distribution.Normal)
	return ok
}

func isEntropic(layer Layer) bool {
	_, ok := layer.(Entropic)
	return ok
}
