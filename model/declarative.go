package model

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ProbModel is a compiled declarative probability model. Its
// continuous latent variables live on their original space; the model
// applies no change of variables to them.
type ProbModel interface {
	// ContinuousVars returns the names of the continuous latent
	// variables which are inputs to the model, in model order
	ContinuousVars() []string

	// TestPoint returns a valid value for each variable of the model
	TestPoint() Point

	// Logp returns the log joint density of the model at p, given the
	// current values of its SharedVariables
	Logp(p Point) (float64, error)

	// DLogp returns the gradient of Logp at p with respect to each of
	// the variables vars
	DLogp(p Point, vars []string) (Point, error)
}

// SharedVariable is a mutable placeholder in a ProbModel which stands
// in for observed data
type SharedVariable interface {
	SetValue(value tensor.Tensor) error
}

// DeclarativeModel adapts a ProbModel. Observed data is fed to the
// model by keying Data with the model's SharedVariables.
//
// Each run of a node returned by LogProb sets the values of the
// model's SharedVariables, so LogProb nodes for different data on the
// same DeclarativeModel must not be run concurrently.
type DeclarativeModel struct {
	model    ProbModel
	ordering *ArrayOrdering
	bij      *Bijection
	logp     func([]float64) (float64, error)
	dlogp    func([]float64) ([]float64, error)
	logger   *zap.Logger
}

// NewDeclarativeModel returns a new DeclarativeModel
func NewDeclarativeModel(m ProbModel, opts ...Option) (*DeclarativeModel,
	error) {
	if m == nil {
		return nil, fmt.Errorf("newDeclarativeModel: nil model: %w",
			ErrBackendUnavailable)
	}

	vars := m.ContinuousVars()
	testPoint := m.TestPoint()
	ordering, err := NewArrayOrdering(vars, testPoint)
	if err != nil {
		return nil, fmt.Errorf("newDeclarativeModel: %v", err)
	}
	bij := NewBijection(ordering, testPoint)

	o := newOptions(opts)
	return &DeclarativeModel{
		model:    m,
		ordering: ordering,
		bij:      bij,
		logp:     bij.MapF(m.Logp),
		dlogp: bij.MapGrad(func(p Point) (Point, error) {
			return m.DLogp(p, vars)
		}),
		logger: o.logger,
	}, nil
}

// LogProb implements the Model interface. Every key of xs must be a
// SharedVariable of the model. Each row of the latent batch is a flat
// vector laid out by the model's ArrayOrdering. The returned node is
// differentiable with respect to the latent batch.
func (d *DeclarativeModel) LogProb(xs *Data, zs ...*G.Node) (*G.Node, error) {
	if xs != nil {
		for pair := xs.Oldest(); pair != nil; pair = pair.Next() {
			if _, ok := pair.Key.(SharedVariable); !ok {
				return nil, fmt.Errorf("logProb: data key %v (%T) is not a "+
					"shared variable", pair.Key, pair.Key)
			}
		}
	}

	z, err := joinLatents(zs)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	lp, err := logProbNode("DeclarativeModel", xs, z, d.density, d.grad)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	return lp, nil
}

// NVars returns the length of the flat vectors of the model's latent
// variables
func (d *DeclarativeModel) NVars() (int, bool) {
	return d.ordering.Size, true
}

// Ordering returns the layout of latent variables in a flat vector
func (d *DeclarativeModel) Ordering() *ArrayOrdering { return d.ordering }

// Bijection returns the mapping between flat vectors and Points
func (d *DeclarativeModel) Bijection() *Bijection { return d.bij }

// setData sets the model's shared variables to their realizations
func (d *DeclarativeModel) setData(xs *Values) error {
	for pair := xs.Oldest(); pair != nil; pair = pair.Next() {
		shared := pair.Key.(SharedVariable)
		if err := shared.SetValue(pair.Value); err != nil {
			return fmt.Errorf("could not set %v: %w", pair.Key, err)
		}
	}

	d.logger.Debug("set shared variables", zap.Int("count", xs.Len()))
	return nil
}

func (d *DeclarativeModel) density(xs *Values, zs tensor.Tensor) ([]float64,
	error) {
	if err := d.setData(xs); err != nil {
		return nil, err
	}

	rows, err := latentRows(zs)
	if err != nil {
		return nil, err
	}

	samples, _ := rows.Dims()
	lp := make([]float64, samples)
	for s := range lp {
		lp[s], err = d.logp(rows.RawRowView(s))
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", s, err)
		}
	}

	return lp, nil
}

func (d *DeclarativeModel) grad(xs *Values, zs tensor.Tensor) (*mat.Dense,
	error) {
	if err := d.setData(xs); err != nil {
		return nil, err
	}

	rows, err := latentRows(zs)
	if err != nil {
		return nil, err
	}

	samples, vars := rows.Dims()
	grad := mat.NewDense(samples, vars, nil)
	for s := 0; s < samples; s++ {
		g, err := d.dlogp(rows.RawRowView(s))
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", s, err)
		}
		grad.SetRow(s, g)
	}

	return grad, nil
}
