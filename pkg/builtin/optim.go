package builtin

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/dobrovols/trainctl/pkg/instantiate"
	"github.com/dobrovols/trainctl/pkg/schema"
	"github.com/dobrovols/trainctl/pkg/training"
)

type baseOptimizer struct {
	lr     float64
	params []*training.Parameter
}

func (o *baseOptimizer) LR() float64 { return o.lr }

func (o *baseOptimizer) SetLR(lr float64) { o.lr = lr }

func (o *baseOptimizer) Params() []*training.Parameter { return o.params }

func (o *baseOptimizer) ZeroGrad() {
	for _, p := range o.params {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

// SGDOptions configure stochastic gradient descent.
type SGDOptions struct {
	LR          float64 `mapstructure:"lr"`
	Momentum    float64 `mapstructure:"momentum"`
	WeightDecay float64 `mapstructure:"weight_decay"`
}

// SGD is stochastic gradient descent with optional momentum.
type SGD struct {
	baseOptimizer
	opts     SGDOptions
	velocity [][]float64
}

// NewSGD constructs an SGD optimizer over params.
func NewSGD(params []*training.Parameter, opts SGDOptions) *SGD {
	o := &SGD{baseOptimizer: baseOptimizer{lr: opts.LR, params: params}, opts: opts}
	o.velocity = make([][]float64, len(params))
	for i, p := range params {
		o.velocity[i] = make([]float64, len(p.Value))
	}
	return o
}

func (o *SGD) Step() {
	for i, p := range o.params {
		grad := append([]float64(nil), p.Grad...)
		if o.opts.WeightDecay != 0 {
			floats.AddScaled(grad, o.opts.WeightDecay, p.Value)
		}
		if o.opts.Momentum != 0 {
			floats.Scale(o.opts.Momentum, o.velocity[i])
			floats.Add(o.velocity[i], grad)
			grad = o.velocity[i]
		}
		floats.AddScaled(p.Value, -o.lr, grad)
	}
}

// AdamOptions configure Adam.
type AdamOptions struct {
	LR          float64 `mapstructure:"lr"`
	Beta1       float64 `mapstructure:"beta1"`
	Beta2       float64 `mapstructure:"beta2"`
	Eps         float64 `mapstructure:"eps"`
	WeightDecay float64 `mapstructure:"weight_decay"`
}

// Adam keeps running first and second moment estimates per parameter.
type Adam struct {
	baseOptimizer
	opts  AdamOptions
	m, v  [][]float64
	steps int
}

// NewAdam constructs an Adam optimizer over params.
func NewAdam(params []*training.Parameter, opts AdamOptions) *Adam {
	o := &Adam{baseOptimizer: baseOptimizer{lr: opts.LR, params: params}, opts: opts}
	o.m = make([][]float64, len(params))
	o.v = make([][]float64, len(params))
	for i, p := range params {
		o.m[i] = make([]float64, len(p.Value))
		o.v[i] = make([]float64, len(p.Value))
	}
	return o
}

func (o *Adam) Step() {
	o.steps++
	c1 := 1 - math.Pow(o.opts.Beta1, float64(o.steps))
	c2 := 1 - math.Pow(o.opts.Beta2, float64(o.steps))
	for i, p := range o.params {
		for j, g := range p.Grad {
			if o.opts.WeightDecay != 0 {
				g += o.opts.WeightDecay * p.Value[j]
			}
			o.m[i][j] = o.opts.Beta1*o.m[i][j] + (1-o.opts.Beta1)*g
			o.v[i][j] = o.opts.Beta2*o.v[i][j] + (1-o.opts.Beta2)*g*g
			p.Value[j] -= o.lr * (o.m[i][j] / c1) / (math.Sqrt(o.v[i][j]/c2) + o.opts.Eps)
		}
	}
}

func paramsArg(args schema.Args) ([]*training.Parameter, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("params are required")
	}
	switch v := args[0].(type) {
	case []*training.Parameter:
		return v, nil
	case training.Model:
		return v.Parameters(), nil
	default:
		return nil, fmt.Errorf("params must be model parameters, got %T", args[0])
	}
}

func newSGD(_ context.Context, args schema.Args, init map[string]any) (any, error) {
	params, err := paramsArg(args)
	if err != nil {
		return nil, err
	}
	opts := SGDOptions{}
	if err := instantiate.DecodeInit(init, &opts); err != nil {
		return nil, err
	}
	if opts.LR <= 0 {
		return nil, fmt.Errorf("lr must be positive, got %v", opts.LR)
	}
	return NewSGD(params, opts), nil
}

func newAdam(_ context.Context, args schema.Args, init map[string]any) (any, error) {
	params, err := paramsArg(args)
	if err != nil {
		return nil, err
	}
	opts := AdamOptions{LR: 0.001, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
	if err := instantiate.DecodeInit(init, &opts); err != nil {
		return nil, err
	}
	if opts.LR <= 0 {
		return nil, fmt.Errorf("lr must be positive, got %v", opts.LR)
	}
	return NewAdam(params, opts), nil
}
