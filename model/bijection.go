package model

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Point maps variable names to values
type Point map[string]tensor.Tensor

// VarSlice locates one variable in a flat vector
type VarSlice struct {
	Name       string
	Start, End int
	Shape      tensor.Shape
	Dtype      tensor.Dtype
}

// ArrayOrdering lays out a fixed sequence of variables in a flat vector
type ArrayOrdering struct {
	Vars []VarSlice
	Size int
}

// NewArrayOrdering returns an ArrayOrdering of the variables names, in
// order, taking each variable's shape and data type from point
func NewArrayOrdering(names []string, point Point) (*ArrayOrdering, error) {
	ordering := &ArrayOrdering{Vars: make([]VarSlice, 0, len(names))}

	for _, name := range names {
		value, ok := point[name]
		if !ok || value == nil {
			return nil, fmt.Errorf("newArrayOrdering: no value for "+
				"variable %v", name)
		}

		shape := value.Shape().Clone()
		size := numElems(shape)
		ordering.Vars = append(ordering.Vars, VarSlice{
			Name:  name,
			Start: ordering.Size,
			End:   ordering.Size + size,
			Shape: shape,
			Dtype: value.Dtype(),
		})
		ordering.Size += size
	}

	return ordering, nil
}

// Bijection maps between Points and the flat vectors of an
// ArrayOrdering. Variables of a Point which are not in the ordering
// keep their values from a fixed base point.
type Bijection struct {
	ordering *ArrayOrdering
	base     Point
}

// NewBijection returns a new Bijection
func NewBijection(ordering *ArrayOrdering, base Point) *Bijection {
	return &Bijection{ordering: ordering, base: base}
}

// Map returns the flat vector of the ordered variables of p
func (b *Bijection) Map(p Point) ([]float64, error) {
	out := make([]float64, b.ordering.Size)
	for _, v := range b.ordering.Vars {
		value, ok := p[v.Name]
		if !ok || value == nil {
			return nil, fmt.Errorf("map: no value for variable %v", v.Name)
		}

		data, err := floats(value)
		if err != nil {
			return nil, fmt.Errorf("map: variable %v: %v", v.Name, err)
		}
		if len(data) != v.End-v.Start {
			return nil, fmt.Errorf("map: expected %d elements for variable "+
				"%v but got %d", v.End-v.Start, v.Name, len(data))
		}
		copy(out[v.Start:v.End], data)
	}

	return out, nil
}

// RMap returns the point with the ordered variables set from the flat
// vector x, and all others from the base point
func (b *Bijection) RMap(x []float64) (Point, error) {
	if len(x) != b.ordering.Size {
		return nil, fmt.Errorf("rMap: expected a vector of length %d but "+
			"got %d", b.ordering.Size, len(x))
	}

	p := make(Point, len(b.base))
	for name, value := range b.base {
		p[name] = value
	}

	for _, v := range b.ordering.Vars {
		value, err := fromFloats(v.Dtype, v.Shape, x[v.Start:v.End])
		if err != nil {
			return nil, fmt.Errorf("rMap: variable %v: %v", v.Name, err)
		}
		p[v.Name] = value
	}

	return p, nil
}

// MapF returns f as a function of flat vectors
func (b *Bijection) MapF(f func(Point) (float64,
	error)) func([]float64) (float64, error) {
	return func(x []float64) (float64, error) {
		p, err := b.RMap(x)
		if err != nil {
			return 0, err
		}
		return f(p)
	}
}

// MapGrad returns f, which returns a gradient for each variable, as a
// function of flat vectors
func (b *Bijection) MapGrad(f func(Point) (Point,
	error)) func([]float64) ([]float64, error) {
	return func(x []float64) ([]float64, error) {
		p, err := b.RMap(x)
		if err != nil {
			return nil, err
		}

		grad, err := f(p)
		if err != nil {
			return nil, err
		}
		return b.Map(grad)
	}
}
