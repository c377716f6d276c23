package builtin

import (
	"context"
	"fmt"

	"github.com/dobrovols/trainctl/pkg/instantiate"
	"github.com/dobrovols/trainctl/pkg/schema"
	"github.com/dobrovols/trainctl/pkg/seed"
	"github.com/dobrovols/trainctl/pkg/training"
)

// SyntheticRegressionOptions describe a generated linear dataset y = slope·Σx + intercept + noise.
type SyntheticRegressionOptions struct {
	NumSamples  int     `mapstructure:"num_samples"`
	NumFeatures int     `mapstructure:"num_features"`
	Noise       float64 `mapstructure:"noise"`
	Slope       float64 `mapstructure:"slope"`
	Intercept   float64 `mapstructure:"intercept"`
	BatchSize   int     `mapstructure:"batch_size"`
	ValFraction float64 `mapstructure:"val_fraction"`
}

// SyntheticRegression generates its samples from the process-wide random source on first setup.
type SyntheticRegression struct {
	opts  SyntheticRegressionOptions
	train []training.Batch
	val   []training.Batch
}

// NewSyntheticRegression validates opts and constructs the data module.
func NewSyntheticRegression(opts SyntheticRegressionOptions) (*SyntheticRegression, error) {
	switch {
	case opts.NumSamples <= 0:
		return nil, fmt.Errorf("num_samples must be positive, got %d", opts.NumSamples)
	case opts.NumFeatures <= 0:
		return nil, fmt.Errorf("num_features must be positive, got %d", opts.NumFeatures)
	case opts.BatchSize <= 0:
		return nil, fmt.Errorf("batch_size must be positive, got %d", opts.BatchSize)
	case opts.ValFraction < 0 || opts.ValFraction >= 1:
		return nil, fmt.Errorf("val_fraction must be in [0, 1), got %v", opts.ValFraction)
	}
	return &SyntheticRegression{opts: opts}, nil
}

func (d *SyntheticRegression) Setup(_ context.Context, _ string) error {
	if d.train != nil {
		return nil
	}
	rng := seed.Rand()
	xs := make([][]float64, d.opts.NumSamples)
	ys := make([]float64, d.opts.NumSamples)
	for i := range xs {
		x := make([]float64, d.opts.NumFeatures)
		var sum float64
		for j := range x {
			x[j] = rng.Float64()*2 - 1
			sum += x[j]
		}
		xs[i] = x
		ys[i] = d.opts.Slope*sum + d.opts.Intercept + d.opts.Noise*rng.NormFloat64()
	}
	split := d.opts.NumSamples - int(float64(d.opts.NumSamples)*d.opts.ValFraction)
	d.train = batches(xs[:split], ys[:split], d.opts.BatchSize)
	d.val = batches(xs[split:], ys[split:], d.opts.BatchSize)
	return nil
}

func (d *SyntheticRegression) TrainBatches() []training.Batch { return d.train }

func (d *SyntheticRegression) ValBatches() []training.Batch { return d.val }

func (d *SyntheticRegression) TestBatches() []training.Batch { return d.val }

func (d *SyntheticRegression) PredictBatches() []training.Batch { return d.val }

func batches(xs [][]float64, ys []float64, size int) []training.Batch {
	out := []training.Batch{}
	for start := 0; start < len(xs); start += size {
		end := min(start+size, len(xs))
		out = append(out, training.Batch{X: xs[start:end], Y: ys[start:end]})
	}
	return out
}

func defaultSyntheticOptions() SyntheticRegressionOptions {
	return SyntheticRegressionOptions{
		NumSamples: 256, NumFeatures: 1, Noise: 0.1, Slope: 2, Intercept: 0.5, BatchSize: 32, ValFraction: 0.2,
	}
}

func newSyntheticRegression(_ context.Context, _ schema.Args, init map[string]any) (any, error) {
	opts := defaultSyntheticOptions()
	if err := instantiate.DecodeInit(init, &opts); err != nil {
		return nil, err
	}
	return NewSyntheticRegression(opts)
}
