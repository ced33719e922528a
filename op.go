// Package gopvi provides Gorgonia operations used to bring host-side
// model code and variational families into a computational graph.
package gopvi

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// HostCall adds a node to the graph of inputs which calls fn on the
// concrete values of inputs each time the node is executed. The output
// of fn must have data type dt and the shape returned by shapeFn.
//
// The node is not differentiable. Errors returned by fn are returned
// when the graph is run, not when it is constructed.
func HostCall(name string, fn HostFunc, dt tensor.Dtype, shapeFn ShapeFunc,
	inputs ...*G.Node) (*G.Node, error) {
	op, err := newHostCallOp(name, fn, dt, shapeFn, inputs)
	if err != nil {
		return nil, fmt.Errorf("hostCall: %v", err)
	}

	return G.ApplyOp(op, inputs...)
}

// HostCallDiff is like HostCall, but the returned node is
// differentiable with respect to inputs[wrt]. The gradient is computed
// on the host by grad.
func HostCallDiff(name string, fn HostFunc, grad HostGradFunc, wrt int,
	dt tensor.Dtype, shapeFn ShapeFunc, inputs ...*G.Node) (*G.Node, error) {
	if grad == nil {
		return nil, fmt.Errorf("hostCallDiff: nil gradient function")
	}
	if wrt < 0 || wrt >= len(inputs) {
		return nil, fmt.Errorf("hostCallDiff: cannot differentiate with "+
			"respect to input %v of %v", wrt, len(inputs))
	}

	op, err := newHostCallOp(name, fn, dt, shapeFn, inputs)
	if err != nil {
		return nil, fmt.Errorf("hostCallDiff: %v", err)
	}

	return G.ApplyOp(&hostCallDiffOp{op, grad, wrt}, inputs...)
}

// Clamp clamps a node's values to be between min and max. This function
// can clamp a tensor storing float64's, float32's, or any integer
// type, but is only differentiable if the tensor stores floating point
// types. The types of min and max must match the tensor's data type.
// If passGradient is true, then the gradient is passed through
// the clamping operation:
//
//	        { 1 if min <= x <= max
//	grad =  {
//	        { 1 otherwise
//
// Otherwise, the regular clamp gradient is used:
//
//	        { 1 if min <= x <= max
//	grad =  {
//	        { 0 otherwise
func Clamp(x *G.Node, min, max interface{}, passGradient bool) (*G.Node,
	error) {
	op, err := newClampOp(min, max, passGradient)
	if err != nil {
		return nil, fmt.Errorf("clamp: %v", err)
	}

	return G.ApplyOp(op, x)
}
