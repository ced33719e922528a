package distribution

import (
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func ones64(size int) []float64 {
	slice := make([]float64, size)
	for i := range slice {
		slice[i] = 1.0
	}

	return slice
}

func ones32(size int) []float32 {
	slice := make([]float32, size)
	for i := range slice {
		slice[i] = 1.0
	}

	return slice
}

// ones returns a tensor of ones with the given data type and shape
func ones(dt tensor.Dtype, shape tensor.Shape) *tensor.Dense {
	size := shape.TotalSize()
	if dt == tensor.Float32 {
		return tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(ones32(size)))
	}
	return tensor.New(tensor.WithShape(shape...),
		tensor.WithBacking(ones64(size)))
}

// zeros returns a tensor of zeros with the given data type and shape
func zeros(dt tensor.Dtype, shape tensor.Shape) *tensor.Dense {
	return tensor.New(tensor.Of(dt), tensor.WithShape(shape...))
}

// scalar returns a constant scalar node of data type dt
func scalar(g *G.ExprGraph, dt tensor.Dtype, v float64) *G.Node {
	if dt == tensor.Float32 {
		return g.Constant(G.NewF32(float32(v)))
	}
	return g.Constant(G.NewF64(v))
}

// sumEvents sums x over all but its first (batch) dimension
func sumEvents(x *G.Node) (*G.Node, error) {
	if x.Dims() < 2 {
		return x, nil
	}

	axes := make([]int, x.Dims()-1)
	for i := range axes {
		axes[i] = i + 1
	}

	return G.Sum(x, axes...)
}
