package builtin

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/dobrovols/trainctl/pkg/instantiate"
	"github.com/dobrovols/trainctl/pkg/schema"
	"github.com/dobrovols/trainctl/pkg/seed"
	"github.com/dobrovols/trainctl/pkg/training"
)

// LinearRegressionOptions configure a linear model trained on mean squared error.
type LinearRegressionOptions struct {
	InFeatures int     `mapstructure:"in_features"`
	LR         float64 `mapstructure:"lr"`
	L2         float64 `mapstructure:"l2"`
}

// LinearRegression predicts w·x + b. Without an injected configure-optimizers function it trains
// with plain SGD at its own lr.
type LinearRegression struct {
	opts      LinearRegressionOptions
	weight    *training.Parameter
	bias      *training.Parameter
	configure training.ConfigureOptimizersFunc
	data      *SyntheticRegression
}

// NewLinearRegression constructs a model with weights drawn from the process-wide random source.
func NewLinearRegression(opts LinearRegressionOptions) (*LinearRegression, error) {
	if opts.InFeatures <= 0 {
		return nil, fmt.Errorf("in_features must be positive, got %d", opts.InFeatures)
	}
	w := make([]float64, opts.InFeatures)
	rng := seed.Rand()
	for i := range w {
		w[i] = rng.NormFloat64() * 0.01
	}
	m := &LinearRegression{
		opts:   opts,
		weight: &training.Parameter{Name: "weight", Value: w, Grad: make([]float64, len(w))},
		bias:   &training.Parameter{Name: "bias", Value: []float64{0}, Grad: []float64{0}},
	}
	m.configure = func(context.Context) (training.OptimizerSetup, error) {
		opt := NewSGD(m.Parameters(), SGDOptions{LR: m.opts.LR})
		return training.OptimizerSetup{Optimizers: []training.Optimizer{opt}, Single: true}, nil
	}
	return m, nil
}

func (m *LinearRegression) Parameters() []*training.Parameter {
	return []*training.Parameter{m.weight, m.bias}
}

func (m *LinearRegression) HyperParameters() map[string]any {
	return map[string]any{"in_features": m.opts.InFeatures, "lr": m.opts.LR, "l2": m.opts.L2}
}

func (m *LinearRegression) ConfigureOptimizers() training.ConfigureOptimizersFunc { return m.configure }

func (m *LinearRegression) SetConfigureOptimizers(fn training.ConfigureOptimizersFunc) {
	m.configure = fn
}

// DataModule returns the default synthetic dataset sized to the model's features. The trainer uses
// it when an entry point is given no datamodule.
func (m *LinearRegression) DataModule() training.DataModule {
	if m.data == nil {
		opts := defaultSyntheticOptions()
		opts.NumFeatures = m.opts.InFeatures
		m.data = &SyntheticRegression{opts: opts}
	}
	return m.data
}

func (m *LinearRegression) forward(x []float64) (float64, error) {
	if len(x) != len(m.weight.Value) {
		return 0, fmt.Errorf("expected %d features, got %d", len(m.weight.Value), len(x))
	}
	return floats.Dot(m.weight.Value, x) + m.bias.Value[0], nil
}

func (m *LinearRegression) TrainingStep(_ context.Context, batch training.Batch) (float64, error) {
	n := float64(len(batch.Y))
	if n == 0 {
		return 0, nil
	}
	var loss float64
	for i, x := range batch.X {
		pred, err := m.forward(x)
		if err != nil {
			return 0, err
		}
		diff := pred - batch.Y[i]
		loss += diff * diff / n
		floats.AddScaled(m.weight.Grad, 2*diff/n, x)
		m.bias.Grad[0] += 2 * diff / n
	}
	if m.opts.L2 != 0 {
		loss += m.opts.L2 * floats.Dot(m.weight.Value, m.weight.Value)
		floats.AddScaled(m.weight.Grad, 2*m.opts.L2, m.weight.Value)
	}
	return loss, nil
}

func (m *LinearRegression) ValidationStep(_ context.Context, batch training.Batch) (float64, error) {
	n := float64(len(batch.Y))
	if n == 0 {
		return 0, nil
	}
	var loss float64
	for i, x := range batch.X {
		pred, err := m.forward(x)
		if err != nil {
			return 0, err
		}
		diff := pred - batch.Y[i]
		loss += diff * diff / n
	}
	return loss, nil
}

func (m *LinearRegression) PredictStep(_ context.Context, batch training.Batch) ([]float64, error) {
	out := make([]float64, len(batch.X))
	for i, x := range batch.X {
		pred, err := m.forward(x)
		if err != nil {
			return nil, err
		}
		out[i] = pred
	}
	return out, nil
}

func newLinearRegression(_ context.Context, _ schema.Args, init map[string]any) (any, error) {
	opts := LinearRegressionOptions{InFeatures: 1, LR: 0.01}
	if err := instantiate.DecodeInit(init, &opts); err != nil {
		return nil, err
	}
	return NewLinearRegression(opts)
}

// ridgeRegression is a plain function producing an L2-regularized LinearRegression.
func ridgeRegression(_ context.Context, _ schema.Args, init map[string]any) (any, error) {
	var opts struct {
		InFeatures int     `mapstructure:"in_features"`
		LR         float64 `mapstructure:"lr"`
		Alpha      float64 `mapstructure:"alpha"`
	}
	opts.InFeatures, opts.LR, opts.Alpha = 1, 0.01, 0.1
	if err := instantiate.DecodeInit(init, &opts); err != nil {
		return nil, err
	}
	return NewLinearRegression(LinearRegressionOptions{InFeatures: opts.InFeatures, LR: opts.LR, L2: opts.Alpha})
}
