package model

import (
	"fmt"

	"github.com/samuelfneumann/gopvi"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// hostDensity evaluates the log density of each sample in the latent
// batch zs on the host
type hostDensity func(xs *Values, zs tensor.Tensor) ([]float64, error)

// hostDensityGrad evaluates the gradient of the log density of each
// sample in zs with respect to that sample, one row per sample
type hostDensityGrad func(xs *Values, zs tensor.Tensor) (*mat.Dense, error)

// joinLatents joins latent batches along dimension 1
func joinLatents(zs []*G.Node) (*G.Node, error) {
	switch len(zs) {
	case 0:
		return nil, fmt.Errorf("no latent batch")
	case 1:
		return zs[0], nil
	default:
		return G.Concat(1, zs...)
	}
}

// batchShape returns the shape of the log densities of a latent batch,
// the last input of a density node
func batchShape(shapes ...tensor.Shape) (tensor.Shape, error) {
	zs := shapes[len(shapes)-1]
	if zs.Dims() != 2 {
		return nil, fmt.Errorf("expected a latent batch of shape "+
			"(samples, vars) but got %v", zs)
	}

	return tensor.Shape{zs[0]}, nil
}

// logProbNode returns a node computing density on the host. The nodes
// of xs, in order, followed by zs, are the inputs of the node. On the
// host, the values of the data nodes are put back under their keys
// before density is called.
//
// If grad is not nil, the node is differentiable with respect to zs.
func logProbNode(name string, xs *Data, zs *G.Node, density hostDensity,
	grad hostDensityGrad) (*G.Node, error) {
	var keys []interface{}
	var inputs G.Nodes
	if xs != nil {
		keys = make([]interface{}, 0, xs.Len())
		inputs = make(G.Nodes, 0, xs.Len()+1)
		for pair := xs.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Value == nil {
				return nil, fmt.Errorf("no data node for key %v", pair.Key)
			}
			keys = append(keys, pair.Key)
			inputs = append(inputs, pair.Value)
		}
	}
	inputs = append(inputs, zs)

	unflatten := func(values []tensor.Tensor) *Values {
		data := orderedmap.New[interface{}, tensor.Tensor]()
		for i, key := range keys {
			data.Set(key, values[i])
		}
		return data
	}

	fn := func(values []tensor.Tensor) (tensor.Tensor, error) {
		latents := values[len(values)-1]
		lp, err := density(unflatten(values), latents)
		if err != nil {
			return nil, err
		}

		samples := latents.Shape()[0]
		if len(lp) != samples {
			return nil, fmt.Errorf("expected %d log densities but got %d",
				samples, len(lp))
		}

		out := make([]float32, len(lp))
		for i, x := range lp {
			out[i] = float32(x)
		}

		return tensor.New(tensor.WithShape(len(out)),
			tensor.WithBacking(out)), nil
	}

	if grad == nil {
		return gopvi.HostCall(name, fn, tensor.Float32, batchShape, inputs...)
	}

	gradFn := func(values []tensor.Tensor, g tensor.Tensor) (tensor.Tensor,
		error) {
		latents := values[len(values)-1]
		rows, err := grad(unflatten(values), latents)
		if err != nil {
			return nil, err
		}

		upstream, err := floats(g)
		if err != nil {
			return nil, fmt.Errorf("gradient: %v", err)
		}
		r, c := rows.Dims()
		if r != len(upstream) {
			return nil, fmt.Errorf("expected %d gradients but got %d",
				len(upstream), r)
		}

		// Chain rule: ∂L/∂z[s, j] = ∂L/∂lp[s] · ∂lp[s]/∂z[s, j]
		var vjp mat.Dense
		vjp.Apply(func(i, j int, v float64) float64 {
			return upstream[i] * v
		}, rows)

		return fromFloats(latents.Dtype(), tensor.Shape{r, c},
			vjp.RawMatrix().Data)
	}

	return gopvi.HostCallDiff(name, fn, gradFn, len(inputs)-1,
		tensor.Float32, batchShape, inputs...)
}
