package builtin

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dobrovols/trainctl/pkg/checkpoint"
	"github.com/dobrovols/trainctl/pkg/instantiate"
	"github.com/dobrovols/trainctl/pkg/schema"
	"github.com/dobrovols/trainctl/pkg/telemetry"
	"github.com/dobrovols/trainctl/pkg/training"
)

// Stopper is implemented by trainers that can end fitting early.
type Stopper interface {
	RequestStop()
}

// EarlyStopping stops fitting once the monitored metric has not improved for patience epochs.
type EarlyStopping struct {
	Monitor  string  `mapstructure:"monitor"`
	Patience int     `mapstructure:"patience"`
	MinDelta float64 `mapstructure:"min_delta"`
	Mode     string  `mapstructure:"mode"`

	best float64
	wait int
	seen bool
}

func (c *EarlyStopping) Setup(context.Context, training.Trainer, training.Model, string) error {
	c.best, c.wait, c.seen = 0, 0, false
	return nil
}

func (c *EarlyStopping) OnEpochEnd(_ context.Context, trainer training.Trainer, _ training.Model, metrics map[string]float64) error {
	v, ok := metrics[c.Monitor]
	if !ok {
		return fmt.Errorf("early stopping: metric %q not logged", c.Monitor)
	}
	if !c.seen || improved(c.Mode, v, c.best, c.MinDelta) {
		c.best, c.wait, c.seen = v, 0, true
		return nil
	}
	c.wait++
	if c.wait >= c.Patience {
		if s, ok := trainer.(Stopper); ok {
			s.RequestStop()
		}
	}
	return nil
}

func improved(mode string, v, best, delta float64) bool {
	if mode == "max" {
		return v > best+delta
	}
	return v < best-delta
}

// LearningRateMonitor logs the learning rate after every epoch.
type LearningRateMonitor struct {
	logger  telemetry.StructuredLogger
	history []float64
}

func (c *LearningRateMonitor) Setup(context.Context, training.Trainer, training.Model, string) error {
	c.history = nil
	return nil
}

func (c *LearningRateMonitor) OnEpochEnd(_ context.Context, _ training.Trainer, _ training.Model, metrics map[string]float64) error {
	lr, ok := metrics["lr"]
	if !ok {
		return nil
	}
	c.history = append(c.history, lr)
	return c.logger.Emit(telemetry.Entry{
		Category: telemetry.CategoryDiagnostic,
		Message:  "learning rate",
		Metadata: map[string]string{
			"epoch": strconv.Itoa(int(metrics["epoch"])),
			"lr":    strconv.FormatFloat(lr, 'g', -1, 64),
		},
	})
}

// History returns the learning rates seen so far.
func (c *LearningRateMonitor) History() []float64 { return append([]float64(nil), c.history...) }

// ModelCheckpoint saves the model after every epoch, or only on improvement when a metric is monitored.
type ModelCheckpoint struct {
	Dirpath  string `mapstructure:"dirpath"`
	Filename string `mapstructure:"filename"`
	Monitor  string `mapstructure:"monitor"`
	Mode     string `mapstructure:"mode"`

	logger telemetry.StructuredLogger
	best   float64
	seen   bool
	last   checkpoint.SaveResult
}

func (c *ModelCheckpoint) Setup(context.Context, training.Trainer, training.Model, string) error {
	c.seen = false
	return nil
}

func (c *ModelCheckpoint) OnEpochEnd(ctx context.Context, trainer training.Trainer, model training.Model, metrics map[string]float64) error {
	if !trainer.IsGlobalZero() || trainer.FastDevRun() {
		return nil
	}
	if c.Monitor != "" {
		v, ok := metrics[c.Monitor]
		if !ok {
			return fmt.Errorf("model checkpoint: metric %q not logged", c.Monitor)
		}
		if c.seen && !improved(c.Mode, v, c.best, 0) {
			return nil
		}
		c.best, c.seen = v, true
	}

	dir := c.Dirpath
	if dir == "" {
		dir = filepath.Join(trainer.LogDir(), "checkpoints")
	}
	path := filepath.Join(dir, c.Filename)
	res, err := checkpointIO(trainer, c.logger).SaveCheckpoint(ctx, Checkpoint(model, int(metrics["epoch"])), path)
	if err != nil {
		return err
	}
	c.last = res
	return nil
}

// Last returns the outcome of the most recent save.
func (c *ModelCheckpoint) Last() checkpoint.SaveResult { return c.last }

func checkpointIO(trainer training.Trainer, logger telemetry.StructuredLogger) checkpoint.IO {
	if p, ok := trainer.(interface{ CheckpointIO() checkpoint.IO }); ok {
		return p.CheckpointIO()
	}
	return checkpoint.NewFileIO(trainer.FileSystem(), logger)
}

func newEarlyStopping(_ context.Context, _ schema.Args, init map[string]any) (any, error) {
	c := &EarlyStopping{Monitor: "val_loss", Patience: 3, Mode: "min"}
	if err := instantiate.DecodeInit(init, c); err != nil {
		return nil, err
	}
	return c, nil
}

func newLearningRateMonitor(ctx context.Context, _ schema.Args, init map[string]any) (any, error) {
	if err := instantiate.DecodeInit(init, &struct{}{}); err != nil {
		return nil, err
	}
	return &LearningRateMonitor{logger: telemetry.LoggerFrom(ctx)}, nil
}

func newModelCheckpoint(ctx context.Context, _ schema.Args, init map[string]any) (any, error) {
	c := &ModelCheckpoint{Filename: "last.ckpt", Mode: "min", logger: telemetry.LoggerFrom(ctx)}
	if err := instantiate.DecodeInit(init, c); err != nil {
		return nil, err
	}
	return c, nil
}
