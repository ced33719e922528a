package gopvi

import (
	"fmt"
	"hash"

	"github.com/chewxy/hm"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// HostFunc is ordinary Go code run as a single node of a computational
// graph. It receives the concrete values of the node's inputs, in
// order, each time the node is executed.
type HostFunc func(inputs []tensor.Tensor) (tensor.Tensor, error)

// HostGradFunc returns the vector-Jacobian product of a HostFunc with
// respect to one of its inputs, given the gradient of the HostFunc's
// output. The returned tensor must have the shape and dtype of that
// input.
type HostGradFunc func(inputs []tensor.Tensor, grad tensor.Tensor) (
	tensor.Tensor, error)

// ShapeFunc computes the output shape of a HostFunc from the shapes of
// its inputs when the graph is constructed.
type ShapeFunc func(shapes ...tensor.Shape) (tensor.Shape, error)

// hostCallOp calls a HostFunc when the graph runs
type hostCallOp struct {
	name    string
	id      string
	fn      HostFunc
	dt      tensor.Dtype
	dims    int
	arity   int
	shapeFn ShapeFunc
}

func newHostCallOp(name string, fn HostFunc, dt tensor.Dtype,
	shapeFn ShapeFunc, inputs G.Nodes) (*hostCallOp, error) {
	if fn == nil {
		return nil, fmt.Errorf("newHostCallOp: nil host function")
	}
	if shapeFn == nil {
		return nil, fmt.Errorf("newHostCallOp: nil shape function")
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("newHostCallOp: expected at least one input")
	}

	shapes := make([]tensor.Shape, len(inputs))
	for i, in := range inputs {
		shapes[i] = in.Shape().Clone()
	}
	out, err := shapeFn(shapes...)
	if err != nil {
		return nil, fmt.Errorf("newHostCallOp: %v", err)
	}

	return &hostCallOp{
		name:    name,
		id:      Unique(name),
		fn:      fn,
		dt:      dt,
		dims:    out.Dims(),
		arity:   len(inputs),
		shapeFn: shapeFn,
	}, nil
}

// Arity implements the gorgonia.Op interface
func (h *hostCallOp) Arity() int { return h.arity }

// Type implements the gorgonia.Op interface. Each input may have any
// type; the output is a tensor of the op's dtype.
func (h *hostCallOp) Type() hm.Type {
	types := inputTypes(h.arity, 1)

	var out hm.Type = G.TensorType{Dims: h.dims, Of: h.dt}
	if h.dims == 0 {
		out = h.dt
	}
	types = append(types, out)

	return hm.NewFnType(types...)
}

// inputTypes returns n distinct type variables, one per input, in a
// slice with capacity for extra more. Gorgonia binds a and b when
// inferring a node's type, so inputs start at c.
func inputTypes(n, extra int) []hm.Type {
	types := make([]hm.Type, 0, n+extra)
	for i := 0; i < n; i++ {
		types = append(types, hm.TypeVariable('c'+rune(i)))
	}
	return types
}

// InferShape implements the gorgonia.Op interface
func (h *hostCallOp) InferShape(inputs ...G.DimSizer) (tensor.Shape, error) {
	err := CheckArity(h, len(inputs))
	if err != nil {
		return nil, fmt.Errorf("inferShape: %v", err)
	}

	shapes, err := G.DimSizersToShapes(inputs)
	if err != nil {
		return nil, fmt.Errorf("inferShape: %v", err)
	}

	return h.shapeFn(shapes...)
}

// ReturnsPtr implements the gorgonia.Op interface
func (h *hostCallOp) ReturnsPtr() bool { return false }

// CallsExtern implements the gorgonia.Op interface
func (h *hostCallOp) CallsExtern() bool { return false }

// OverwritesInput implements the gorgonia.Op interface
func (h *hostCallOp) OverwritesInput() int { return -1 }

// String implements the fmt.Stringer interface
func (h *hostCallOp) String() string {
	return fmt.Sprintf("HostCall{%v}()", h.id)
}

// WriteHash implements the gorgonia.Op interface
func (h *hostCallOp) WriteHash(w hash.Hash) { fmt.Fprint(w, h.String()) }

// Hashcode implements the gorgonia.Op interface
func (h *hostCallOp) Hashcode() uint32 { return SimpleHash(h) }

// Do implements the gorgonia.Op interface
func (h *hostCallOp) Do(values ...G.Value) (G.Value, error) {
	inputs, err := h.checkInputs(values...)
	if err != nil {
		return nil, fmt.Errorf("do: %v", err)
	}

	out, err := h.fn(inputs)
	if err != nil {
		return nil, fmt.Errorf("do: %v: %w", h.name, err)
	}
	if out == nil {
		return nil, fmt.Errorf("do: %v returned no value", h.name)
	}
	if !out.Dtype().Eq(h.dt) {
		return nil, fmt.Errorf("do: %v returned dtype %v, expected %v",
			h.name, out.Dtype(), h.dt)
	}

	return out, nil
}

// checkInputs returns the input values as tensors or an error if they
// are invalid
func (h *hostCallOp) checkInputs(values ...G.Value) ([]tensor.Tensor, error) {
	if err := CheckArity(h, len(values)); err != nil {
		return nil, err
	}

	inputs := make([]tensor.Tensor, len(values))
	for i, v := range values {
		t, err := AsTensor(v)
		if err != nil {
			return nil, fmt.Errorf("input %d: %v", i, err)
		}
		inputs[i] = t
	}

	return inputs, nil
}

// hostCallDiffOp is a hostCallOp which is differentiable with respect
// to a single input
type hostCallDiffOp struct {
	*hostCallOp
	grad HostGradFunc
	wrt  int
}

// DiffWRT implements the gorgonia.SDOp interface
func (h *hostCallDiffOp) DiffWRT(inputs int) []bool {
	diff := make([]bool, inputs)
	if h.wrt < inputs {
		diff[h.wrt] = true
	}
	return diff
}

// SymDiff implements the gorgonia.SDOp interface
func (h *hostCallDiffOp) SymDiff(inputs G.Nodes, output,
	grad *G.Node) (G.Nodes, error) {
	err := CheckArity(h, len(inputs))
	if err != nil {
		return nil, fmt.Errorf("symDiff: %v", err)
	}

	children := make(G.Nodes, 0, len(inputs)+1)
	children = append(children, inputs...)
	children = append(children, grad)

	nodes := make(G.Nodes, len(inputs))
	nodes[h.wrt], err = G.ApplyOp(&hostGradOp{h}, children...)

	return nodes, err
}

// hostGradOp computes the gradient of a hostCallDiffOp with respect to
// its differentiable input
type hostGradOp struct {
	op *hostCallDiffOp
}

func (h *hostGradOp) Arity() int { return h.op.arity + 1 }

func (h *hostGradOp) Type() hm.Type {
	types := inputTypes(h.op.arity+1, 1)
	types = append(types, types[h.op.wrt])

	return hm.NewFnType(types...)
}

func (h *hostGradOp) InferShape(inputs ...G.DimSizer) (tensor.Shape, error) {
	err := CheckArity(h, len(inputs))
	if err != nil {
		return nil, fmt.Errorf("inferShape: %v", err)
	}

	shapes, err := G.DimSizersToShapes(inputs)
	if err != nil {
		return nil, fmt.Errorf("inferShape: %v", err)
	}

	return shapes[h.op.wrt].Clone(), nil
}

func (h *hostGradOp) ReturnsPtr() bool { return false }

func (h *hostGradOp) CallsExtern() bool { return false }

func (h *hostGradOp) OverwritesInput() int { return -1 }

func (h *hostGradOp) String() string {
	return fmt.Sprintf("HostCallDiff{%v, wrt=%v}()", h.op.id, h.op.wrt)
}

func (h *hostGradOp) WriteHash(w hash.Hash) { fmt.Fprint(w, h.String()) }

func (h *hostGradOp) Hashcode() uint32 { return SimpleHash(h) }

func (h *hostGradOp) Do(values ...G.Value) (G.Value, error) {
	if err := CheckArity(h, len(values)); err != nil {
		return nil, fmt.Errorf("do: %v", err)
	}

	inputs, err := h.op.checkInputs(values[:h.op.arity]...)
	if err != nil {
		return nil, fmt.Errorf("do: %v", err)
	}
	grad, err := AsTensor(values[h.op.arity])
	if err != nil {
		return nil, fmt.Errorf("do: gradient: %v", err)
	}

	out, err := h.op.grad(inputs, grad)
	if err != nil {
		return nil, fmt.Errorf("do: %v gradient: %w", h.op.name, err)
	}

	wrt := inputs[h.op.wrt]
	if !out.Shape().Eq(wrt.Shape()) {
		return nil, fmt.Errorf("do: %v gradient has shape %v, expected %v",
			h.op.name, out.Shape(), wrt.Shape())
	}

	return out, nil
}
