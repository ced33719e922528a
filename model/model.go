// Package model adapts models written for external backends to a
// single interface: given observed data and a batch of latent-variable
// samples, return the log joint density of each sample as a node of a
// Gorgonia graph.
//
// Backends evaluate densities with ordinary Go code on concrete values,
// outside of the graph. Each adapter crosses into the backend through a
// gopvi.HostCall node, so the density is only evaluated, and backend
// errors only returned, when the graph is run.
package model

import (
	"errors"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var (
	// ErrNotImplemented is returned by densities that have not been
	// implemented
	ErrNotImplemented = errors.New("not implemented")

	// ErrBackendUnavailable is returned when an adapter is constructed
	// without a usable backend
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Data maps keys to nodes holding observed data. Iteration follows
// insertion order, which fixes the order in which data is passed to a
// backend. Keys are strings for HostModel and StanModel and
// SharedVariables for DeclarativeModel.
type Data = orderedmap.OrderedMap[interface{}, *G.Node]

// Values maps the keys of a Data to the concrete values of its nodes,
// in the same order.
type Values = orderedmap.OrderedMap[interface{}, tensor.Tensor]

// NewData returns an empty Data
func NewData() *Data {
	return orderedmap.New[interface{}, *G.Node]()
}

// Model is a probability model p(x, z) over data x and latent
// variables z.
type Model interface {
	// LogProb returns a node of shape (S) and type tensor.Float32
	// holding log p(xs, z_s) for each of the S rows of the latent
	// batch. If more than one latent batch is given, such as one per
	// layer of a variational approximation, the batches are joined
	// along dimension 1 so that row s of each forms one joint sample.
	LogProb(xs *Data, zs ...*G.Node) (*G.Node, error)

	// NVars returns the number of latent variables of the model and
	// whether this number is known yet.
	NVars() (int, bool)
}

// Option configures a model adapter
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used by a model adapter
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}
