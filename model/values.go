package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// floats returns the elements of t in row-major order as float64s
func floats(t tensor.Tensor) ([]float64, error) {
	switch data := t.Data().(type) {
	case []float64:
		return append([]float64(nil), data...), nil
	case []float32:
		out := make([]float64, len(data))
		for i, x := range data {
			out[i] = float64(x)
		}
		return out, nil
	case float64:
		return []float64{data}, nil
	case float32:
		return []float64{float64(data)}, nil
	default:
		return nil, fmt.Errorf("unsupported data type %v", t.Dtype())
	}
}

// fromFloats returns a tensor of data type dt and the given shape
// holding data. An empty shape gives a scalar tensor.
func fromFloats(dt tensor.Dtype, shape tensor.Shape,
	data []float64) (tensor.Tensor, error) {
	if len(data) != numElems(shape) {
		return nil, fmt.Errorf("cannot fit %d elements into shape %v",
			len(data), shape)
	}

	switch dt {
	case tensor.Float64:
		if isScalar(shape) {
			return tensor.New(tensor.FromScalar(data[0])), nil
		}
		backing := append([]float64(nil), data...)
		return tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(backing)), nil

	case tensor.Float32:
		if isScalar(shape) {
			return tensor.New(tensor.FromScalar(float32(data[0]))), nil
		}
		backing := make([]float32, len(data))
		for i, x := range data {
			backing[i] = float32(x)
		}
		return tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(backing)), nil

	default:
		return nil, fmt.Errorf("unsupported data type %v", dt)
	}
}

// numElems returns the number of elements in a parameter of shape
// dims. Parameters with no dimensions, or a dimension of size zero,
// are scalars.
func numElems(dims []int) int {
	size := 1
	for _, d := range dims {
		size *= d
	}
	if size == 0 {
		return 1
	}
	return size
}

// isScalar returns whether a parameter of shape dims is a scalar
func isScalar(dims []int) bool {
	for _, d := range dims {
		if d == 0 {
			return true
		}
	}
	return len(dims) == 0
}

// latentRows returns the latent batch zs of shape (S, D) as a matrix
// with one sample per row
func latentRows(zs tensor.Tensor) (*mat.Dense, error) {
	shape := zs.Shape()
	if shape.Dims() != 2 || shape[0] == 0 || shape[1] == 0 {
		return nil, fmt.Errorf("expected a latent batch of shape "+
			"(samples, vars) but got %v", shape)
	}

	data, err := floats(zs)
	if err != nil {
		return nil, fmt.Errorf("latent batch: %v", err)
	}

	return mat.NewDense(shape[0], shape[1], data), nil
}
