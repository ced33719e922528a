package distribution

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/gopvi"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MinStdDev is the smallest standard deviation a Normal will use.
// Smaller standard deviations are clamped to this value.
const MinStdDev = 1e-6

// Normal is a fully factorized (mean-field) normal distribution. If a
// Normal is created with a tensor mean and tensor standard deviation,
// then each element of the mean and standard deviation defines a
// different univariate normal. For example, consider if we
// use a 1-tensor for the mean and standard deviation:
//
//	mean   := [m_1, m_2, ..., m_N]
//	stddev := [s_1, s_2, ..., s_N]
//
// Then the Normal is considered to hold the following distributions:
//
//	[𝒩(m_1, s_1), 𝒩(m_2, s_2), ..., 𝒩(m_N, s_N)]
//
// and an event is one draw from each of them. The shape of the mean
// and standard deviation tensors constitute the shape of the Normal.
// Scalar means and standard deviations are treated as having shape (1).
//
// Normal supports the following data types:
// - tensor.Float64
// - tensor.Float32
type Normal struct {
	mean   *G.Node
	stddev *G.Node

	seed uint64
}

// NewNormal returns a new Normal. Each call to Sample uses the next
// seed after seed.
func NewNormal(mean, stddev *G.Node, seed uint64) (*Normal, error) {
	if !mean.Shape().Eq(stddev.Shape()) {
		return nil, fmt.Errorf("newNormal: expected mean and stddev to "+
			"have the same shape but got %v and %v", mean.Shape(),
			stddev.Shape())
	}

	if mean.Dtype() != stddev.Dtype() {
		return nil, fmt.Errorf("newNormal: expected mean and stddev to "+
			"have the same data type but got %v and %v", mean.Dtype(),
			stddev.Dtype())
	}

	var min, max interface{}
	switch mean.Dtype() {
	case tensor.Float64:
		min, max = MinStdDev, math.MaxFloat64
	case tensor.Float32:
		min, max = float32(MinStdDev), float32(math.MaxFloat32)
	default:
		return nil, fmt.Errorf("newNormal: data type %v unsupported",
			mean.Dtype())
	}

	var err error
	if mean.IsScalar() {
		mean, err = G.Reshape(mean, []int{1})
		if err != nil {
			return nil, fmt.Errorf("newNormal: could not expand mean to "+
				"shape (1): %v", err)
		}
		stddev, err = G.Reshape(stddev, []int{1})
		if err != nil {
			return nil, fmt.Errorf("newNormal: could not expand stddev to "+
				"shape (1): %v", err)
		}
	}

	stddev, err = gopvi.Clamp(stddev, min, max, true)
	if err != nil {
		return nil, fmt.Errorf("newNormal: could not clamp stddev: %v", err)
	}

	return &Normal{
		mean:   mean,
		stddev: stddev,
		seed:   seed,
	}, nil
}

// LogProb calculates the log density of each event in the batch x.
// If the receiver has shape (n_1, ..., n_M), then x should have shape
// (a, n_1, ..., n_M), where a is the batch size, or (n_1, ..., n_M)
// for a batch of one:
//
//	x := ⎡x_11, x_21, ..., x_N1⎤ ⎫
//	     ⎢x_12, x_22, ..., x_N2⎥ ⎥
//	     ⎢... ... ... ..., ... ⎥ ⎬ ← Batch Dimension
//	     ⎣x_1a, x_2a, ... x_Na ⎦ ⎭
//
// The returned node has shape (a) and holds the sum of the univariate
// log densities of each row.
func (n *Normal) LogProb(x *G.Node) (*G.Node, error) {
	x, err := n.fixShape(x)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	g, dt := x.Graph(), n.mean.Dtype()
	two := scalar(g, dt, 2.0)
	negativeHalf := scalar(g, dt, -0.5)
	lnRootTwoPi := scalar(g, dt, math.Log(math.Sqrt(math.Pi*2.)))

	batchDim := []byte{0}
	x = G.Must(G.BroadcastSub(x, n.mean, nil, batchDim))
	x = G.Must(G.BroadcastHadamardDiv(x, n.stddev, nil, batchDim))
	x = G.Must(G.Pow(x, two))
	x = G.Must(G.HadamardProd(negativeHalf, x))
	lnStd := G.Must(G.Log(n.stddev))
	x = G.Must(G.BroadcastSub(x, lnStd, nil, batchDim))
	x = G.Must(G.Sub(x, lnRootTwoPi))

	x, err = sumEvents(x)
	if err != nil {
		return nil, fmt.Errorf("logProb: could not combine event dims: %v",
			err)
	}

	return x, nil
}

// Prob calculates the density of each event in the batch x. The shape
// of x is treated in the same way as the LogProb() method.
func (n *Normal) Prob(x *G.Node) (*G.Node, error) {
	logProb, err := n.LogProb(x)
	if err != nil {
		return nil, fmt.Errorf("prob: %v", err)
	}

	return G.Exp(logProb)
}

// Shape returns the shape of events of the receiver
func (n *Normal) Shape() tensor.Shape {
	return n.mean.Shape()
}

// Variance returns the variance of the distribution(s) stored by the
// receiver
func (n *Normal) Variance() *G.Node {
	two := scalar(n.mean.Graph(), n.mean.Dtype(), 2.0)
	return G.Must(G.Pow(n.stddev, two))
}

// StdDev returns the standard deviation of the distribution(s)
// stored by the receiver
func (n *Normal) StdDev() *G.Node {
	return n.stddev
}

// Mean returns the mean of the distribution(s) stored by the
// receiver
func (n *Normal) Mean() *G.Node {
	return n.mean
}

// Entropy returns the entropy of the receiver, which is the sum of the
// entropies of its univariate normals
func (n *Normal) Entropy() (*G.Node, error) {
	g, dt := n.mean.Graph(), n.mean.Dtype()
	half := scalar(g, dt, 0.5)
	twoPi := scalar(g, dt, math.Pi*2.0)
	two := scalar(g, dt, 2.0)

	entropy := G.Must(G.Pow(n.stddev, two))
	entropy = G.Must(G.HadamardProd(entropy, twoPi))
	entropy = G.Must(G.Log(entropy))
	entropy = G.Must(G.HadamardProd(half, entropy))
	entropy = G.Must(G.Add(entropy, half))

	return G.Sum(entropy)
}

// HasRsample returns true, samples are reparameterized
func (n *Normal) HasRsample() bool { return true }

// Sample returns a node of shape (samples, Shape()...) holding
// reparameterized samples:
//
//	z = mean + stddev ⊙ ε,	ε ~ 𝒩(0, I)
//
// so that the samples are differentiable with respect to the mean and
// standard deviation.
func (n *Normal) Sample(samples int) (*G.Node, error) {
	g, dt := n.mean.Graph(), n.mean.Dtype()

	zeroMean := g.Constant(zeros(dt, n.Shape()))
	unitStddev := g.Constant(ones(dt, n.Shape()))

	stdNormal, err := NormalRand(zeroMean, unitStddev, n.seed, samples)
	if err != nil {
		return nil, fmt.Errorf("sample: %v", err)
	}
	n.seed++

	batchDim := []byte{0}
	out := G.Must(G.BroadcastHadamardProd(stdNormal, n.stddev, nil, batchDim))
	out = G.Must(G.BroadcastAdd(out, n.mean, nil, batchDim))

	return out, nil
}

// NVars returns the number of random variables in an event
func (n *Normal) NVars() int { return n.Shape().TotalSize() }

// NParams returns the number of parameters of the receiver
func (n *Normal) NParams() int { return 2 * n.NVars() }

// IsDifferentiable returns true
func (n *Normal) IsDifferentiable() bool { return true }

// IsMultivariate returns false, the receiver is fully factorized
func (n *Normal) IsMultivariate() bool { return false }

// IsReparameterized returns true
func (n *Normal) IsReparameterized() bool { return n.HasRsample() }

func (n *Normal) String() string {
	return fmt.Sprintf("Normal{shape=%v, dtype=%v}", n.Shape(),
		n.mean.Dtype())
}

// fixShape adjusts the shape of x so that it is a batch of events. It
// returns an error indicating if x is of an invalid shape which could
// not be adjusted.
func (n *Normal) fixShape(x *G.Node) (*G.Node, error) {
	if x.Dtype() != n.mean.Dtype() {
		return nil, fmt.Errorf("expected dtype %v but got %v",
			n.mean.Dtype(), x.Dtype())
	}

	if x.IsScalar() && n.Shape().TotalSize() == 1 {
		return G.Reshape(x, []int{1, 1})
	}

	if x.Shape().Eq(n.Shape()) {
		return G.Reshape(x, append([]int{1}, n.Shape()...))
	}

	if x.Dims() != n.Shape().Dims()+1 ||
		!tensor.Shape(x.Shape()[1:]).Eq(n.Shape()) {
		msg := "expected shape to match distribution shape %v at all " +
			"dimensions except batch (dim 0) but got x shape %v"
		return nil, fmt.Errorf(msg, n.Shape(), x.Shape())
	}

	return x, nil
}
