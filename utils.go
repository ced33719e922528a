package gopvi

import (
	"fmt"
	"hash/fnv"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// SimpleHash constructs the 32-bit FNV-1a hash of a Gorgonia Op.
// Taken from Gorgonia.
func SimpleHash(op G.Op) uint32 {
	h := fnv.New32a()
	op.WriteHash(h)
	return h.Sum32()
}

// CheckArity returns an error if an op with a fixed arity is given the
// wrong number of inputs
func CheckArity(op G.Op, inputs int) error {
	if inputs != op.Arity() && op.Arity() >= 0 {
		return fmt.Errorf("%v has an arity of %d. Got %d instead", op,
			op.Arity(), inputs)
	}
	return nil
}

// AsTensor returns v as a tensor. Scalar values are wrapped in a
// scalar-shaped dense tensor.
func AsTensor(v G.Value) (tensor.Tensor, error) {
	switch v := v.(type) {
	case tensor.Tensor:
		return v, nil
	case G.Scalar:
		return tensor.New(tensor.FromScalar(v.Data())), nil
	case nil:
		return nil, fmt.Errorf("asTensor: nil value")
	default:
		return nil, fmt.Errorf("asTensor: unable to convert %T", v)
	}
}
