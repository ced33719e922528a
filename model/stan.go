package model

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// StanData maps the names in a Stan program's data block to values
type StanData = orderedmap.OrderedMap[string, G.Value]

// StanPars maps the names in a Stan program's parameters block to
// values on their constrained space, in declaration order
type StanPars = orderedmap.OrderedMap[string, tensor.Tensor]

// StanProgram is a compiled Stan program
type StanProgram interface {
	// Sampling runs the sampler with the given data and returns the
	// fit
	Sampling(data *StanData, iter, chains int) (StanFit, error)
}

// StanFit is the result of sampling a StanProgram. It gives access to
// the program's log density.
type StanFit interface {
	// ParDims returns the dimensions of each parameter, in the order
	// of the parameters block. A scalar parameter has no dimensions.
	ParDims() [][]int

	// ModelPars returns the names of each parameter, in the order of
	// the parameters block
	ModelPars() []string

	// UnconstrainPars transforms named parameters on their constrained
	// space to a flat vector on the unconstrained space
	UnconstrainPars(pars *StanPars) ([]float64, error)

	// LogProb returns the log density at unconstrained parameters
	// upars. If adjustTransform is true, the log Jacobian of the
	// unconstraining transform is added.
	LogProb(upars []float64, adjustTransform bool) (float64, error)
}

// StanSource is a Stan program to compile. Either Code or File must be
// set.
type StanSource struct {
	Name string
	Code string
	File string
}

// StanCompiler compiles Stan programs
type StanCompiler interface {
	Compile(src StanSource) (StanProgram, error)
}

// StanModel adapts a Stan program. Latent variables live on the
// program's constrained parameter space.
//
// Stan only exposes a program's log density through a fit, so each
// call to LogProb samples the program once, with the given data, to
// get a fresh fit. LogProb must not be called concurrently on the same
// StanModel.
type StanModel struct {
	program StanProgram
	fit     StanFit
	logger  *zap.Logger

	isInitialized bool
	nVars         int
}

// NewStanModel returns a StanModel of an already compiled program
func NewStanModel(program StanProgram, opts ...Option) (*StanModel, error) {
	if program == nil {
		return nil, fmt.Errorf("newStanModel: nil program: %w",
			ErrBackendUnavailable)
	}

	o := newOptions(opts)
	return &StanModel{
		program: program,
		logger:  o.logger,
	}, nil
}

// CompileStanModel compiles src with c and returns a StanModel of the
// compiled program
func CompileStanModel(c StanCompiler, src StanSource,
	opts ...Option) (*StanModel, error) {
	if c == nil {
		return nil, fmt.Errorf("compileStanModel: nil compiler: %w",
			ErrBackendUnavailable)
	}
	if src.Code == "" && src.File == "" {
		return nil, fmt.Errorf("compileStanModel: no program code or file")
	}

	program, err := c.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compileStanModel: could not compile %v: %w",
			src.Name, err)
	}

	return NewStanModel(program, opts...)
}

// LogProb implements the Model interface. The keys of xs are the names
// in the program's data block. Data values are read from the nodes of
// xs when LogProb is called, so the nodes must already hold values.
// Only the latent batch is an input to the returned node.
func (s *StanModel) LogProb(xs *Data, zs ...*G.Node) (*G.Node, error) {
	data, err := stanData(xs)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	z, err := joinLatents(zs)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	s.logger.Info("the empty sampling pass exists for accessing Stan's "+
		"log_prob method", zap.Int("iter", 1), zap.Int("chains", 1))
	fit, err := s.program.Sampling(data, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("logProb: sampling: %w", err)
	}
	s.fit = fit

	if !s.isInitialized {
		s.initialize()
	}

	density := func(_ *Values, zs tensor.Tensor) ([]float64, error) {
		return stanLogProb(fit, zs)
	}

	lp, err := logProbNode("StanModel", nil, z, density, nil)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	return lp, nil
}

// NVars returns the number of latent variables, known after the first
// call to LogProb. It is the total number of elements of the program's
// parameters, the product of each parameter's dimensions, with a
// parameter without dimensions counting as one. For vector parameters
// this is the sum of their lengths. It is computed from the first fit
// only.
func (s *StanModel) NVars() (int, bool) {
	return s.nVars, s.isInitialized
}

// Fit returns the fit from the last call to LogProb
func (s *StanModel) Fit() StanFit { return s.fit }

// Program returns the program of the receiver
func (s *StanModel) Program() StanProgram { return s.program }

func (s *StanModel) initialize() {
	s.isInitialized = true

	s.nVars = 0
	for _, dims := range s.fit.ParDims() {
		s.nVars += numElems(dims)
	}
	s.logger.Debug("resolved latent dimension", zap.Int("nVars", s.nVars))
}

// stanData returns the values of the data nodes of xs
func stanData(xs *Data) (*StanData, error) {
	data := orderedmap.New[string, G.Value]()
	if xs == nil {
		return data, nil
	}

	for pair := xs.Oldest(); pair != nil; pair = pair.Next() {
		name, ok := pair.Key.(string)
		if !ok {
			return nil, fmt.Errorf("data key %v (%T) is not a string",
				pair.Key, pair.Key)
		}
		if pair.Value == nil || pair.Value.Value() == nil {
			return nil, fmt.Errorf("no value for data %v", name)
		}
		data.Set(name, pair.Value.Value())
	}

	return data, nil
}

// stanLogProb computes the log density of each row of zs with fit.
//
// Stan's log density takes parameters on the unconstrained space, as a
// flat vector, while zs lives on the constrained space. Each row is
// split into named parameters and passed through UnconstrainPars
// first, which can be expensive.
func stanLogProb(fit StanFit, zs tensor.Tensor) ([]float64, error) {
	rows, err := latentRows(zs)
	if err != nil {
		return nil, err
	}

	dims, names := fit.ParDims(), fit.ModelPars()
	if len(dims) != len(names) {
		return nil, fmt.Errorf("fit has %d parameter names but %d "+
			"parameter dimensions", len(names), len(dims))
	}

	samples, vars := rows.Dims()
	lp := make([]float64, samples)
	for b := range lp {
		z := rows.RawRowView(b)

		pars := orderedmap.New[string, tensor.Tensor]()
		idx := 0
		for i, dim := range dims {
			elems := numElems(dim)
			if idx+elems > vars {
				return nil, fmt.Errorf("sample %d: %d latent variables are "+
					"too few for parameter %v", b, vars, names[i])
			}

			var par tensor.Tensor
			if isScalar(dim) {
				par = tensor.New(tensor.FromScalar(z[idx]))
			} else {
				backing := append([]float64(nil), z[idx:idx+elems]...)
				par = tensor.New(tensor.WithShape(dim...),
					tensor.WithBacking(backing))
			}
			pars.Set(names[i], par)
			idx += elems
		}

		upars, err := fit.UnconstrainPars(pars)
		if err != nil {
			return nil, fmt.Errorf("sample %d: unconstrain: %w", b, err)
		}

		// zs already lives on the space Stan's density is wanted on, so
		// no Jacobian adjustment
		lp[b], err = fit.LogProb(upars, false)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", b, err)
		}
	}

	return lp, nil
}
