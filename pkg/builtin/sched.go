package builtin

import (
	"context"
	"fmt"
	"math"

	"github.com/dobrovols/trainctl/pkg/instantiate"
	"github.com/dobrovols/trainctl/pkg/schema"
	"github.com/dobrovols/trainctl/pkg/training"
)

// StepLR decays the learning rate by gamma every step_size epochs.
type StepLR struct {
	opt      training.Optimizer
	StepSize int     `mapstructure:"step_size"`
	Gamma    float64 `mapstructure:"gamma"`
	epoch    int
}

func (s *StepLR) Step(float64) {
	s.epoch++
	if s.epoch%s.StepSize == 0 {
		s.opt.SetLR(s.opt.LR() * s.Gamma)
	}
}

func (s *StepLR) Optimizer() training.Optimizer { return s.opt }

// ExponentialLR decays the learning rate by gamma every epoch.
type ExponentialLR struct {
	opt   training.Optimizer
	Gamma float64 `mapstructure:"gamma"`
}

func (s *ExponentialLR) Step(float64) { s.opt.SetLR(s.opt.LR() * s.Gamma) }

func (s *ExponentialLR) Optimizer() training.Optimizer { return s.opt }

// ReduceLROnPlateau scales the learning rate by factor once the metric stops improving for
// more than patience epochs.
type ReduceLROnPlateau struct {
	opt       training.Optimizer
	Mode      string  `mapstructure:"mode"`
	Factor    float64 `mapstructure:"factor"`
	Patience  int     `mapstructure:"patience"`
	Threshold float64 `mapstructure:"threshold"`
	MinLR     float64 `mapstructure:"min_lr"`
	best      float64
	bad       int
	seen      bool
}

func (s *ReduceLROnPlateau) Step(metric float64) {
	if math.IsNaN(metric) {
		return
	}
	improved := !s.seen
	if s.seen {
		if s.Mode == "max" {
			improved = metric > s.best+s.Threshold
		} else {
			improved = metric < s.best-s.Threshold
		}
	}
	if improved {
		s.best, s.bad, s.seen = metric, 0, true
		return
	}
	s.bad++
	if s.bad > s.Patience {
		s.opt.SetLR(math.Max(s.opt.LR()*s.Factor, s.MinLR))
		s.bad = 0
	}
}

func (s *ReduceLROnPlateau) Optimizer() training.Optimizer { return s.opt }

func optimizerArg(args schema.Args) (training.Optimizer, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("optimizer is required")
	}
	opt, ok := args[0].(training.Optimizer)
	if !ok {
		return nil, fmt.Errorf("optimizer must implement training.Optimizer, got %T", args[0])
	}
	return opt, nil
}

func newStepLR(_ context.Context, args schema.Args, init map[string]any) (any, error) {
	opt, err := optimizerArg(args)
	if err != nil {
		return nil, err
	}
	s := &StepLR{opt: opt, Gamma: 0.1}
	if err := instantiate.DecodeInit(init, s); err != nil {
		return nil, err
	}
	if s.StepSize <= 0 {
		return nil, fmt.Errorf("step_size must be positive, got %d", s.StepSize)
	}
	return s, nil
}

func newExponentialLR(_ context.Context, args schema.Args, init map[string]any) (any, error) {
	opt, err := optimizerArg(args)
	if err != nil {
		return nil, err
	}
	s := &ExponentialLR{opt: opt}
	if err := instantiate.DecodeInit(init, s); err != nil {
		return nil, err
	}
	return s, nil
}

func newReduceLROnPlateau(_ context.Context, args schema.Args, init map[string]any) (any, error) {
	opt, err := optimizerArg(args)
	if err != nil {
		return nil, err
	}
	s := &ReduceLROnPlateau{opt: opt, Mode: "min", Factor: 0.1, Patience: 10, Threshold: 1e-4}
	if err := instantiate.DecodeInit(init, s); err != nil {
		return nil, err
	}
	if s.Mode != "min" && s.Mode != "max" {
		return nil, fmt.Errorf("mode must be min or max, got %q", s.Mode)
	}
	return s, nil
}
