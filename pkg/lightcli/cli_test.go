package lightcli_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dobrovols/trainctl/pkg/builtin"
	"github.com/dobrovols/trainctl/pkg/clierr"
	"github.com/dobrovols/trainctl/pkg/config"
	"github.com/dobrovols/trainctl/pkg/lightcli"
	"github.com/dobrovols/trainctl/pkg/parser"
	"github.com/dobrovols/trainctl/pkg/schema"
	"github.com/dobrovols/trainctl/pkg/telemetry"
	"github.com/dobrovols/trainctl/pkg/training"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []telemetry.Entry
}

func (r *recordingLogger) Emit(e telemetry.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingLogger) warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if e.Severity == telemetry.SeverityWarn {
			out = append(out, e.Message)
		}
	}
	return out
}

func newCLI(t *testing.T, mutate func(*lightcli.Options)) *lightcli.CLI {
	t.Helper()
	opts := lightcli.Options{
		Registry:        builtin.NewRegistry(),
		ModelClass:      builtin.LinearRegressionPath,
		DataModuleClass: builtin.SyntheticRegressionPath,
		TrainerClass:    builtin.TrainerPath,
		Run:             true,
		Stdout:          &bytes.Buffer{},
		Stderr:          &bytes.Buffer{},
	}
	if mutate != nil {
		mutate(&opts)
	}
	cli, err := lightcli.New(opts)
	require.NoError(t, err)
	return cli
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func isolateSeedEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PL_GLOBAL_SEED", "")
	t.Setenv("PL_SEED_WORKERS", "")
}

func TestFitEndToEnd(t *testing.T) {
	isolateSeedEnv(t)
	root := t.TempDir()
	cfg := writeFile(t, t.TempDir(), "config.yaml", `
trainer:
  max_epochs: 3
  default_root_dir: `+strconv.Quote(root)+`
model:
  lr: 0.01
seed_everything: 42
`)
	cli := newCLI(t, nil)
	require.NoError(t, cli.Execute(context.Background(), []string{"fit", "--config", cfg}, nil))

	assert.Equal(t, lightcli.StateDispatched, cli.State())
	assert.Equal(t, "fit", cli.Subcommand)
	assert.Equal(t, "42", os.Getenv("PL_GLOBAL_SEED"))
	assert.Equal(t, "1", os.Getenv("PL_SEED_WORKERS"))

	model, ok := cli.Model.(*builtin.LinearRegression)
	require.True(t, ok)
	assert.Equal(t, 0.01, model.HyperParameters()["lr"])

	trainer, ok := cli.Trainer.(*builtin.Trainer)
	require.True(t, ok)
	assert.Equal(t, 3, trainer.MaxEpochs())
	assert.Equal(t, 2.0, trainer.Metrics()["epoch"])

	saved := filepath.Join(trainer.LogDir(), lightcli.DefaultSaveConfigFilename)
	assert.FileExists(t, saved)
}

func TestSeedMakesConstructionReproducible(t *testing.T) {
	isolateSeedEnv(t)
	weights := func() []float64 {
		cli := newCLI(t, func(o *lightcli.Options) { o.Run = false })
		args := []string{"--seed_everything", "7", "--model.in_features", "4", "--trainer.default_root_dir", t.TempDir()}
		require.NoError(t, cli.Execute(context.Background(), args, nil))
		assert.Equal(t, lightcli.StateIdle, cli.State())
		return append([]float64(nil), cli.Model.Parameters()[0].Value...)
	}
	assert.Equal(t, weights(), weights())
}

func TestDispatchPassesModelAndDataModule(t *testing.T) {
	var got training.EntryArgs
	cli := newCLI(t, func(o *lightcli.Options) {
		o.Overrides = map[string]lightcli.Override{
			"fit": func(_ context.Context, _ *lightcli.CLI, args training.EntryArgs) error {
				got = args
				return nil
			},
		}
	})
	args := []string{"fit", "--trainer.default_root_dir", t.TempDir(), "--ckpt_path", "last.ckpt"}
	require.NoError(t, cli.Execute(context.Background(), args, nil))

	assert.Same(t, cli.Model, got.Model)
	assert.Same(t, cli.DataModule, got.DataModule)
	assert.Equal(t, map[string]any{"ckpt_path": "last.ckpt"}, got.Params)
}

func TestFitExcludesCallTimeArguments(t *testing.T) {
	for _, flag := range []string{"--train_dataloaders", "--datamodule", "--val_dataloaders"} {
		cli := newCLI(t, nil)
		err := cli.Execute(context.Background(), []string{"fit", flag, "x"}, nil)
		require.Error(t, err, flag)
		assert.True(t, errors.Is(err, clierr.ErrParse), flag)
		assert.Equal(t, lightcli.StateParserBuilt, cli.State())
	}

	cfg := writeFile(t, t.TempDir(), "fit.yaml", "train_dataloader: 1\n")
	cli := newCLI(t, nil)
	err := cli.Execute(context.Background(), []string{"fit", "--config", cfg}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, clierr.ErrParse))

	sub, ok := cli.Parser.Subcommand("validate")
	require.True(t, ok)
	for _, e := range sub.Entries() {
		assert.NotContains(t, []string{"model", "dataloaders", "val_dataloaders", "datamodule"}, e.Key)
	}
}

func TestHooksSurroundDispatch(t *testing.T) {
	var calls []string
	record := func(name string) lightcli.Hook {
		return func(context.Context, *lightcli.CLI) error {
			calls = append(calls, name)
			return nil
		}
	}
	cli := newCLI(t, func(o *lightcli.Options) {
		o.BeforeInstantiate = record("before_instantiate")
		o.Before = map[string]lightcli.Hook{"validate": record("before_validate")}
		o.After = map[string]lightcli.Hook{"validate": record("after_validate")}
		o.Overrides = map[string]lightcli.Override{
			"validate": func(context.Context, *lightcli.CLI, training.EntryArgs) error {
				calls = append(calls, "validate")
				return nil
			},
		}
	})
	require.NoError(t, cli.Execute(context.Background(), []string{"validate", "--trainer.default_root_dir", t.TempDir()}, nil))
	assert.Equal(t, []string{"before_instantiate", "before_validate", "validate", "after_validate"}, calls)
}

func TestPrintConfigStopsAfterParse(t *testing.T) {
	out := &bytes.Buffer{}
	cli := newCLI(t, func(o *lightcli.Options) { o.Stdout = out })
	require.NoError(t, cli.Execute(context.Background(), []string{"fit", "--trainer.max_epochs", "2", "--print_config"}, nil))
	assert.Equal(t, lightcli.StateParsed, cli.State())
	assert.Nil(t, cli.Trainer)
	assert.Contains(t, out.String(), "max_epochs: 2")
}

func TestSavedConfigReparsesIdentically(t *testing.T) {
	root := t.TempDir()
	first := newCLI(t, nil)
	args := []string{"fit", "--trainer.default_root_dir", root, "--trainer.max_epochs", "1", "--model.l2", "0.5", "--data.batch_size", "64"}
	require.NoError(t, first.Execute(context.Background(), args, nil))
	saved := filepath.Join(first.Trainer.LogDir(), lightcli.DefaultSaveConfigFilename)

	second := newCLI(t, nil)
	res, err := second.Parser.Parse(context.Background(), []string{"fit", "--config", saved}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Config(), res.Tree())
}

func TestSaveConfigRefusesOverwrite(t *testing.T) {
	root := t.TempDir()
	args := []string{"fit", "--trainer.default_root_dir", root, "--trainer.version", "0", "--trainer.max_epochs", "1"}
	require.NoError(t, newCLI(t, nil).Execute(context.Background(), args, nil))

	err := newCLI(t, nil).Execute(context.Background(), args, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, clierr.ErrPersistenceConflict))
	assert.Equal(t, clierr.ExitCodeCantCreate, clierr.ExitCode(err))

	cli := newCLI(t, func(o *lightcli.Options) { o.SaveConfigOverwrite = true })
	require.NoError(t, cli.Execute(context.Background(), args, nil))
}

func TestSaveConfigSkipped(t *testing.T) {
	t.Run("fast dev run", func(t *testing.T) {
		cli := newCLI(t, nil)
		args := []string{"fit", "--trainer.default_root_dir", t.TempDir(), "--trainer.fast_dev_run"}
		require.NoError(t, cli.Execute(context.Background(), args, nil))
		assert.NoFileExists(t, filepath.Join(cli.Trainer.LogDir(), lightcli.DefaultSaveConfigFilename))
		for _, cb := range cli.Trainer.Callbacks() {
			_, isSave := cb.(*lightcli.SaveConfigCallback)
			assert.False(t, isSave)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		cli := newCLI(t, func(o *lightcli.Options) { o.DisableSaveConfig = true })
		args := []string{"fit", "--trainer.default_root_dir", t.TempDir(), "--trainer.max_epochs", "1"}
		require.NoError(t, cli.Execute(context.Background(), args, nil))
		assert.NoFileExists(t, filepath.Join(cli.Trainer.LogDir(), lightcli.DefaultSaveConfigFilename))
	})

	t.Run("non-coordinator still checks for conflicts", func(t *testing.T) {
		root := t.TempDir()
		args := []string{"fit", "--trainer.default_root_dir", root, "--trainer.version", "0", "--trainer.max_epochs", "1", "--trainer.global_rank", "1"}
		cli := newCLI(t, nil)
		require.NoError(t, cli.Execute(context.Background(), args, nil))
		saved := filepath.Join(cli.Trainer.LogDir(), lightcli.DefaultSaveConfigFilename)
		assert.NoFileExists(t, saved)

		require.NoError(t, os.MkdirAll(cli.Trainer.LogDir(), 0o755))
		writeFile(t, cli.Trainer.LogDir(), lightcli.DefaultSaveConfigFilename, "trainer: {}\n")
		err := newCLI(t, nil).Execute(context.Background(), args, nil)
		assert.True(t, errors.Is(err, clierr.ErrPersistenceConflict))
	})
}

func TestSaveConfigJSONFilename(t *testing.T) {
	cli := newCLI(t, func(o *lightcli.Options) { o.SaveConfigFilename = "config.json" })
	args := []string{"fit", "--trainer.default_root_dir", t.TempDir(), "--trainer.max_epochs", "1"}
	require.NoError(t, cli.Execute(context.Background(), args, nil))
	data, err := os.ReadFile(filepath.Join(cli.Trainer.LogDir(), "config.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"max_epochs": 1`)
}

func TestTrainerCallbackOrder(t *testing.T) {
	defaultCallback := &builtin.EarlyStopping{Monitor: "val_loss", Patience: 100, Mode: "min"}
	cfg := writeFile(t, t.TempDir(), "fit.yaml", `
trainer:
  callbacks:
    - class_path: LearningRateMonitor
`)
	cli := newCLI(t, func(o *lightcli.Options) {
		o.TrainerDefaults = map[string]any{"max_epochs": 1, "callbacks": defaultCallback}
		o.AddArguments = func(p *parser.Parser) error {
			return p.AddClassArgs(builtin.ModelCheckpointPath, "checkpoint", schema.ModeClass, false)
		}
	})
	args := []string{"fit", "--config", cfg, "--trainer.default_root_dir", t.TempDir()}
	require.NoError(t, cli.Execute(context.Background(), args, nil))

	callbacks := cli.Trainer.Callbacks()
	require.Len(t, callbacks, 4)
	assert.IsType(t, &builtin.LearningRateMonitor{}, callbacks[0])
	assert.IsType(t, &builtin.ModelCheckpoint{}, callbacks[1])
	assert.Same(t, defaultCallback, callbacks[2])
	assert.IsType(t, &lightcli.SaveConfigCallback{}, callbacks[3])
	assert.Equal(t, 1, cli.Trainer.(*builtin.Trainer).MaxEpochs())
	assert.Same(t, callbacks[1], cli.Instances["checkpoint"])
}

func TestEnvironmentLayer(t *testing.T) {
	environ := []string{"PL_TRAINER__MAX_EPOCHS=5", "PL_FIT__MODEL__LR=0.2", "PL_MODEL__LR=0.3"}
	newEnvCLI := func() *lightcli.CLI {
		return newCLI(t, func(o *lightcli.Options) {
			o.EnvParse = true
			o.Overrides = map[string]lightcli.Override{
				"fit": func(context.Context, *lightcli.CLI, training.EntryArgs) error { return nil },
			}
		})
	}

	cli := newEnvCLI()
	require.NoError(t, cli.Execute(context.Background(), []string{"fit", "--trainer.default_root_dir", t.TempDir()}, environ))
	assert.Equal(t, 5, cli.Trainer.(*builtin.Trainer).MaxEpochs())
	assert.Equal(t, 0.2, cli.Model.(*builtin.LinearRegression).HyperParameters()["lr"])

	cli = newEnvCLI()
	args := []string{"fit", "--trainer.default_root_dir", t.TempDir(), "--trainer.max_epochs", "6"}
	require.NoError(t, cli.Execute(context.Background(), args, environ))
	assert.Equal(t, 6, cli.Trainer.(*builtin.Trainer).MaxEpochs())
}

func TestUnknownClassPathFailsBeforeInstantiation(t *testing.T) {
	cli := newCLI(t, func(o *lightcli.Options) { o.SubclassModeModel = true; o.ModelClass = string(schema.RoleModel) })
	err := cli.Execute(context.Background(), []string{"fit", "--model", "NoSuchModel"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, clierr.ErrImportResolution))
	assert.Nil(t, cli.Model)
}

func TestSubclassModeModel(t *testing.T) {
	cli := newCLI(t, func(o *lightcli.Options) {
		o.Run = false
		o.SubclassModeModel = true
		o.ModelClass = string(schema.RoleModel)
	})
	args := []string{"--model", "ridge_regression", "--model.init_args.alpha", "0.25", "--trainer.default_root_dir", t.TempDir()}
	require.NoError(t, cli.Execute(context.Background(), args, nil))
	model := cli.Model.(*builtin.LinearRegression)
	assert.Equal(t, 0.25, model.HyperParameters()["l2"])
	v, _ := config.Get(cli.Config(), "model.class_path")
	assert.Equal(t, builtin.RidgeRegressionPath, v)
}

func TestNewRejectsNonLightningRole(t *testing.T) {
	_, err := lightcli.New(lightcli.Options{
		Registry:     builtin.NewRegistry(),
		ModelClass:   builtin.SGDPath,
		TrainerClass: builtin.TrainerPath,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, clierr.ErrConfiguration))
}

func TestExecuteOnlyOnce(t *testing.T) {
	cli := newCLI(t, func(o *lightcli.Options) { o.Run = false })
	require.NoError(t, cli.Execute(context.Background(), []string{"--trainer.default_root_dir", t.TempDir()}, nil))
	require.Error(t, cli.Execute(context.Background(), nil, nil))
}

func TestSubcommandOptionsReplaceDefaults(t *testing.T) {
	cli := newCLI(t, func(o *lightcli.Options) {
		o.EnvParse = true
		o.EnvPrefix = "TRAIN"
		o.SubcommandOptions = map[string]parser.Options{"fit": {Description: "fit only"}}
	})

	fit, ok := cli.Parser.Subcommand("fit")
	require.True(t, ok)
	assert.Equal(t, "fit only", fit.Options().Description)
	assert.False(t, fit.Options().EnvParse)
	assert.Equal(t, parser.DefaultEnvPrefix, fit.Options().EnvPrefix)

	validate, ok := cli.Parser.Subcommand("validate")
	require.True(t, ok)
	assert.True(t, validate.Options().EnvParse)
	assert.Equal(t, "TRAIN", validate.Options().EnvPrefix)
}

func TestSeedOutOfRange(t *testing.T) {
	isolateSeedEnv(t)
	cli := newCLI(t, nil)
	err := cli.Execute(context.Background(), []string{"fit", "--seed_everything", "4294967296", "--trainer.default_root_dir", t.TempDir()}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, clierr.ErrParse))
	assert.Contains(t, err.Error(), "seed_everything")
	assert.Equal(t, lightcli.StateParsed, cli.State())
	assert.Empty(t, os.Getenv("PL_GLOBAL_SEED"))
}
