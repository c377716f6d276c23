package builtin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/dobrovols/trainctl/pkg/checkpoint"
	"github.com/dobrovols/trainctl/pkg/instantiate"
	"github.com/dobrovols/trainctl/pkg/persist"
	"github.com/dobrovols/trainctl/pkg/schema"
	"github.com/dobrovols/trainctl/pkg/telemetry"
	"github.com/dobrovols/trainctl/pkg/training"
)

// LogsDirName is the directory under default_root_dir holding one version_N directory per run.
const LogsDirName = "trainctl_logs"

// TrainerOptions configure the training loop.
type TrainerOptions struct {
	MaxEpochs      int                 `mapstructure:"max_epochs"`
	FastDevRun     bool                `mapstructure:"fast_dev_run"`
	DefaultRootDir string              `mapstructure:"default_root_dir"`
	Version        *int                `mapstructure:"version"`
	Callbacks      []training.Callback `mapstructure:"callbacks"`
	GlobalRank     int                 `mapstructure:"global_rank"`
}

// TrainerOption customizes a Trainer beyond its init args.
type TrainerOption func(*Trainer)

// WithFileSystem replaces the local filesystem.
func WithFileSystem(fs persist.FileSystem) TrainerOption {
	return func(t *Trainer) { t.fs = fs }
}

// WithCheckpointIO replaces the checkpoint plugin.
func WithCheckpointIO(io checkpoint.IO) TrainerOption {
	return func(t *Trainer) { t.ckptIO = io }
}

// WithLogger sets the logger used for epoch summaries.
func WithLogger(logger telemetry.StructuredLogger) TrainerOption {
	return func(t *Trainer) { t.logger = logger }
}

// Trainer is a single-process training loop over in-memory batches.
type Trainer struct {
	opts   TrainerOptions
	logDir string
	fs     persist.FileSystem
	ckptIO checkpoint.IO
	logger telemetry.StructuredLogger

	stop        bool
	metrics     map[string]float64
	predictions [][]float64
	suggestedLR float64
}

// NewTrainer validates opts and resolves the log directory.
func NewTrainer(opts TrainerOptions, options ...TrainerOption) (*Trainer, error) {
	if opts.MaxEpochs < 0 {
		return nil, fmt.Errorf("max_epochs must not be negative, got %d", opts.MaxEpochs)
	}
	if opts.GlobalRank < 0 {
		return nil, fmt.Errorf("global_rank must not be negative, got %d", opts.GlobalRank)
	}
	if opts.DefaultRootDir == "" {
		opts.DefaultRootDir = "."
	}
	t := &Trainer{opts: opts, logger: telemetry.Nop{}, metrics: map[string]float64{}}
	for _, o := range options {
		o(t)
	}
	if t.fs == nil {
		t.fs = persist.NewLocalFS()
	}
	if t.ckptIO == nil {
		t.ckptIO = checkpoint.NewFileIO(t.fs, t.logger)
	}
	version := 0
	if opts.Version != nil {
		version = *opts.Version
	} else {
		next, err := nextVersion(filepath.Join(opts.DefaultRootDir, LogsDirName))
		if err != nil {
			return nil, err
		}
		version = next
	}
	t.logDir = filepath.Join(opts.DefaultRootDir, LogsDirName, "version_"+strconv.Itoa(version))
	return t, nil
}

func nextVersion(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", root, err)
	}
	next := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "version_"))
		if err != nil || !strings.HasPrefix(e.Name(), "version_") {
			continue
		}
		if n >= next {
			next = n + 1
		}
	}
	return next, nil
}

func (t *Trainer) LogDir() string { return t.logDir }

func (t *Trainer) IsGlobalZero() bool { return t.opts.GlobalRank == 0 }

func (t *Trainer) FastDevRun() bool { return t.opts.FastDevRun }

func (t *Trainer) FileSystem() persist.FileSystem { return t.fs }

func (t *Trainer) Callbacks() []training.Callback { return t.opts.Callbacks }

func (t *Trainer) CheckpointIO() checkpoint.IO { return t.ckptIO }

func (t *Trainer) MaxEpochs() int { return t.opts.MaxEpochs }

// RequestStop ends fitting after the current epoch.
func (t *Trainer) RequestStop() { t.stop = true }

// Metrics returns the metrics of the most recent entry point.
func (t *Trainer) Metrics() map[string]float64 {
	out := make(map[string]float64, len(t.metrics))
	for k, v := range t.metrics {
		out[k] = v
	}
	return out
}

// Predictions returns the per-batch outputs of the last predict call.
func (t *Trainer) Predictions() [][]float64 { return t.predictions }

// SuggestedLR returns the learning rate picked by the last tune call.
func (t *Trainer) SuggestedLR() float64 { return t.suggestedLR }

// setup returns the datamodule of the entry point, falling back to the model's own data.
func (t *Trainer) setup(ctx context.Context, stage string, args training.EntryArgs) (training.DataModule, error) {
	if args.Model == nil {
		return nil, fmt.Errorf("%s: model is required", stage)
	}
	dm := args.DataModule
	if dm == nil {
		if p, ok := args.Model.(training.DataProvider); ok {
			dm = p.DataModule()
		}
	}
	if dm == nil {
		return nil, fmt.Errorf("%s: datamodule is required; model %T provides no data", stage, args.Model)
	}
	for _, cb := range t.opts.Callbacks {
		if err := cb.Setup(ctx, t, args.Model, stage); err != nil {
			return nil, fmt.Errorf("%s: callback setup: %w", stage, err)
		}
	}
	if err := dm.Setup(ctx, stage); err != nil {
		return nil, fmt.Errorf("%s: datamodule setup: %w", stage, err)
	}
	return dm, nil
}

func (t *Trainer) restore(ctx context.Context, model training.Model, path string) (int, error) {
	ckpt, err := t.ckptIO.LoadCheckpoint(ctx, path)
	if err != nil {
		return 0, err
	}
	if err := LoadStateDict(model, ckpt); err != nil {
		return 0, fmt.Errorf("restore %s: %w", path, err)
	}
	switch e := ckpt[epochKey].(type) {
	case float64:
		return int(e), nil
	case int:
		return e, nil
	default:
		return 0, nil
	}
}

func (t *Trainer) limit(batches []training.Batch) []training.Batch {
	if t.opts.FastDevRun && len(batches) > 1 {
		return batches[:1]
	}
	return batches
}

func (t *Trainer) evaluate(ctx context.Context, model training.Model, batches []training.Batch) (float64, error) {
	batches = t.limit(batches)
	if len(batches) == 0 {
		return math.NaN(), nil
	}
	losses := make([]float64, len(batches))
	for i, b := range batches {
		loss, err := model.ValidationStep(ctx, b)
		if err != nil {
			return 0, err
		}
		losses[i] = loss
	}
	return stat.Mean(losses, nil), nil
}

func optimizers(ctx context.Context, model training.Model) (training.OptimizerSetup, error) {
	m, ok := model.(training.OptimizerConfigurable)
	if !ok || m.ConfigureOptimizers() == nil {
		return training.OptimizerSetup{}, fmt.Errorf("model %T does not configure optimizers", model)
	}
	setup, err := m.ConfigureOptimizers()(ctx)
	if err != nil {
		return training.OptimizerSetup{}, fmt.Errorf("configure optimizers: %w", err)
	}
	if len(setup.Optimizers) == 0 {
		return training.OptimizerSetup{}, fmt.Errorf("configure optimizers returned no optimizer")
	}
	return setup, nil
}

func (t *Trainer) Fit(ctx context.Context, args training.EntryArgs) error {
	dm, err := t.setup(ctx, training.StageFit, args)
	if err != nil {
		return err
	}
	model := args.Model
	setup, err := optimizers(ctx, model)
	if err != nil {
		return err
	}
	start := 0
	if path := args.String("ckpt_path"); path != "" {
		epoch, err := t.restore(ctx, model, path)
		if err != nil {
			return err
		}
		start = epoch + 1
	}
	epochs := t.opts.MaxEpochs
	if t.opts.FastDevRun {
		epochs = start + 1
	}

	t.stop = false
	for epoch := start; epoch < epochs && !t.stop; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		batches := t.limit(dm.TrainBatches())
		losses := make([]float64, 0, len(batches))
		for _, b := range batches {
			for _, opt := range setup.Optimizers {
				opt.ZeroGrad()
			}
			loss, err := model.TrainingStep(ctx, b)
			if err != nil {
				return fmt.Errorf("epoch %d: %w", epoch, err)
			}
			for _, opt := range setup.Optimizers {
				opt.Step()
			}
			losses = append(losses, loss)
		}
		valLoss, err := t.evaluate(ctx, model, dm.ValBatches())
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		metrics := map[string]float64{
			"epoch":    float64(epoch),
			"val_loss": valLoss,
			"lr":       setup.Optimizers[0].LR(),
		}
		if len(losses) > 0 {
			metrics["train_loss"] = stat.Mean(losses, nil)
		}
		for _, s := range setup.Schedulers {
			s.Step(valLoss)
		}
		t.metrics = metrics
		for _, cb := range t.opts.Callbacks {
			if e, ok := cb.(training.EpochEndCallback); ok {
				if err := e.OnEpochEnd(ctx, t, model, metrics); err != nil {
					return err
				}
			}
		}
		_ = t.logger.Emit(telemetry.Entry{
			Category: telemetry.CategoryDiagnostic,
			Message:  "epoch complete",
			Step:     training.StageFit,
			Metadata: metricMetadata(metrics),
		})
	}
	return nil
}

func (t *Trainer) eval(ctx context.Context, stage, metric string, args training.EntryArgs, batches func(training.DataModule) []training.Batch) error {
	dm, err := t.setup(ctx, stage, args)
	if err != nil {
		return err
	}
	if path := args.String("ckpt_path"); path != "" {
		if _, err := t.restore(ctx, args.Model, path); err != nil {
			return err
		}
	}
	loss, err := t.evaluate(ctx, args.Model, batches(dm))
	if err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	t.metrics = map[string]float64{metric: loss}
	if verbose, ok := args.Params["verbose"].(bool); !ok || verbose {
		_ = t.logger.Emit(telemetry.Entry{
			Category: telemetry.CategoryDiagnostic,
			Message:  stage + " complete",
			Step:     stage,
			Metadata: metricMetadata(t.metrics),
		})
	}
	return nil
}

func (t *Trainer) Validate(ctx context.Context, args training.EntryArgs) error {
	return t.eval(ctx, training.StageValidate, "val_loss", args, training.DataModule.ValBatches)
}

func (t *Trainer) Test(ctx context.Context, args training.EntryArgs) error {
	return t.eval(ctx, training.StageTest, "test_loss", args, training.DataModule.TestBatches)
}

func (t *Trainer) Predict(ctx context.Context, args training.EntryArgs) error {
	dm, err := t.setup(ctx, training.StagePredict, args)
	if err != nil {
		return err
	}
	if path := args.String("ckpt_path"); path != "" {
		if _, err := t.restore(ctx, args.Model, path); err != nil {
			return err
		}
	}
	var out [][]float64
	for _, b := range t.limit(dm.PredictBatches()) {
		pred, err := args.Model.PredictStep(ctx, b)
		if err != nil {
			return fmt.Errorf("predict: %w", err)
		}
		out = append(out, pred)
	}
	t.predictions = nil
	if keep, ok := args.Params["return_predictions"].(bool); !ok || keep {
		t.predictions = out
	}
	return nil
}

// LRFindOptions configure the learning rate range test run by Tune.
type LRFindOptions struct {
	MinLR       float64 `mapstructure:"min_lr"`
	MaxLR       float64 `mapstructure:"max_lr"`
	NumTraining int     `mapstructure:"num_training"`
}

// Tune sweeps the learning rate geometrically over training batches and keeps the one with the
// lowest loss. Parameters are restored afterwards.
func (t *Trainer) Tune(ctx context.Context, args training.EntryArgs) error {
	dm, err := t.setup(ctx, training.StageTune, args)
	if err != nil {
		return err
	}
	find := LRFindOptions{MinLR: 1e-6, MaxLR: 1, NumTraining: 20}
	if raw, ok := args.Params["lr_find_kwargs"].(map[string]any); ok {
		if err := instantiate.DecodeInit(raw, &find); err != nil {
			return fmt.Errorf("lr_find_kwargs: %w", err)
		}
	}
	if find.MinLR <= 0 || find.MaxLR <= find.MinLR || find.NumTraining < 2 {
		return fmt.Errorf("lr_find_kwargs: need 0 < min_lr < max_lr and num_training >= 2")
	}
	batches := dm.TrainBatches()
	if len(batches) == 0 {
		return fmt.Errorf("tune: no training batches")
	}
	model := args.Model
	setup, err := optimizers(ctx, model)
	if err != nil {
		return err
	}
	snapshot := StateDict(model)
	defer func() {
		_ = LoadStateDict(model, map[string]any{stateDictKey: snapshot})
	}()

	best, bestLoss := find.MinLR, math.Inf(1)
	ratio := find.MaxLR / find.MinLR
	for i := 0; i < find.NumTraining; i++ {
		lr := find.MinLR * math.Pow(ratio, float64(i)/float64(find.NumTraining-1))
		for _, opt := range setup.Optimizers {
			opt.SetLR(lr)
			opt.ZeroGrad()
		}
		if _, err := model.TrainingStep(ctx, batches[i%len(batches)]); err != nil {
			return fmt.Errorf("tune: %w", err)
		}
		for _, opt := range setup.Optimizers {
			opt.Step()
		}
		loss, err := t.evaluate(ctx, model, batches)
		if err != nil {
			return fmt.Errorf("tune: %w", err)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			break
		}
		if loss < bestLoss {
			best, bestLoss = lr, loss
		}
	}
	t.suggestedLR = best
	t.metrics = map[string]float64{"suggested_lr": best}
	_ = t.logger.Emit(telemetry.Entry{
		Category: telemetry.CategoryDiagnostic,
		Message:  "learning rate finder complete",
		Step:     training.StageTune,
		Metadata: metricMetadata(t.metrics),
	})
	return nil
}

func metricMetadata(metrics map[string]float64) map[string]string {
	out := make(map[string]string, len(metrics))
	for k, v := range metrics {
		out[k] = strconv.FormatFloat(v, 'g', 6, 64)
	}
	return out
}

func newTrainer(ctx context.Context, _ schema.Args, init map[string]any) (any, error) {
	opts := TrainerOptions{MaxEpochs: 10, DefaultRootDir: "."}
	if err := instantiate.DecodeInit(init, &opts); err != nil {
		return nil, err
	}
	return NewTrainer(opts, WithLogger(telemetry.LoggerFrom(ctx)))
}
