// Package training declares the collaborators the CLI wires together: trainers, models, data
// modules, callbacks, optimizers and learning rate schedulers.
package training

import (
	"context"

	"github.com/dobrovols/trainctl/pkg/persist"
)

// Stages passed to callbacks and data modules.
const (
	StageFit      = "fit"
	StageValidate = "validate"
	StageTest     = "test"
	StagePredict  = "predict"
	StageTune     = "tune"
)

// Parameter is a trainable tensor stored as a flat vector.
type Parameter struct {
	Name  string
	Value []float64
	Grad  []float64
}

// Batch is a minibatch of features and targets.
type Batch struct {
	X [][]float64
	Y []float64
}

// Model is a trainable module.
type Model interface {
	Parameters() []*Parameter
	// TrainingStep accumulates gradients for batch and returns its loss.
	TrainingStep(ctx context.Context, batch Batch) (float64, error)
	ValidationStep(ctx context.Context, batch Batch) (float64, error)
	PredictStep(ctx context.Context, batch Batch) ([]float64, error)
}

// HyperParameterized models report the init args they were built with; checkpoints store them.
type HyperParameterized interface {
	HyperParameters() map[string]any
}

// OptimizerSetup is what a configure-optimizers function returns: a bare optimizer (Single) or
// lists of optimizers and schedulers.
type OptimizerSetup struct {
	Optimizers []Optimizer
	Schedulers []LRScheduler
	Single     bool
}

// ConfigureOptimizersFunc builds the optimizers of a model when fitting starts.
type ConfigureOptimizersFunc func(ctx context.Context) (OptimizerSetup, error)

// OptimizerConfigurable is a model exposing a mutable configure-optimizers slot.
type OptimizerConfigurable interface {
	Model
	ConfigureOptimizers() ConfigureOptimizersFunc
	SetConfigureOptimizers(fn ConfigureOptimizersFunc)
}

// Optimizer updates parameters from their gradients.
type Optimizer interface {
	Step()
	ZeroGrad()
	LR() float64
	SetLR(lr float64)
	Params() []*Parameter
}

// LRScheduler adjusts the learning rate of an optimizer once per epoch.
type LRScheduler interface {
	// Step advances the schedule; metric is the epoch's validation loss for plateau schedulers.
	Step(metric float64)
	Optimizer() Optimizer
}

// DataModule supplies batches per stage.
type DataModule interface {
	Setup(ctx context.Context, stage string) error
	TrainBatches() []Batch
	ValBatches() []Batch
	TestBatches() []Batch
	PredictBatches() []Batch
}

// DataProvider is a model carrying its own data, used when an entry point gets no datamodule.
type DataProvider interface {
	DataModule() DataModule
}

// Callback hooks into the trainer. Setup runs at the start of every entry point.
type Callback interface {
	Setup(ctx context.Context, trainer Trainer, model Model, stage string) error
}

// EpochEndCallback is notified after every fitting epoch with the epoch metrics.
type EpochEndCallback interface {
	OnEpochEnd(ctx context.Context, trainer Trainer, model Model, metrics map[string]float64) error
}

// EntryArgs are the keyword arguments of an entry point.
type EntryArgs struct {
	Model      Model
	DataModule DataModule
	// Params holds the remaining entry-point arguments, such as ckpt_path.
	Params map[string]any
}

// String returns a string parameter, or "" when it is absent or null.
func (a EntryArgs) String(name string) string {
	s, _ := a.Params[name].(string)
	return s
}

// EntryPoint is one trainer operation.
type EntryPoint func(ctx context.Context, args EntryArgs) error

// Trainer runs the training loop.
type Trainer interface {
	Fit(ctx context.Context, args EntryArgs) error
	Validate(ctx context.Context, args EntryArgs) error
	Test(ctx context.Context, args EntryArgs) error
	Predict(ctx context.Context, args EntryArgs) error
	Tune(ctx context.Context, args EntryArgs) error

	LogDir() string
	// IsGlobalZero reports whether this process coordinates side effects across the fleet.
	IsGlobalZero() bool
	FastDevRun() bool
	FileSystem() persist.FileSystem
	Callbacks() []Callback
}

// Method returns the entry point of t named by a stage.
func Method(t Trainer, name string) (EntryPoint, bool) {
	switch name {
	case StageFit:
		return t.Fit, true
	case StageValidate:
		return t.Validate, true
	case StageTest:
		return t.Test, true
	case StagePredict:
		return t.Predict, true
	case StageTune:
		return t.Tune, true
	default:
		return nil, false
	}
}
