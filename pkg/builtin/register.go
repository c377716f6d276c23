// Package builtin provides the stock trainer, models, data modules, callbacks, optimizers and
// learning rate schedulers registered under the trainctl class path namespace.
package builtin

import "github.com/dobrovols/trainctl/pkg/schema"

// Class paths of the built-in components.
const (
	TrainerPath             = "trainctl.Trainer"
	SGDPath                 = "trainctl.optim.SGD"
	AdamPath                = "trainctl.optim.Adam"
	StepLRPath              = "trainctl.optim.lr_scheduler.StepLR"
	ExponentialLRPath       = "trainctl.optim.lr_scheduler.ExponentialLR"
	ReduceLROnPlateauPath   = "trainctl.optim.lr_scheduler.ReduceLROnPlateau"
	LinearRegressionPath    = "trainctl.models.LinearRegression"
	RidgeRegressionPath     = "trainctl.models.ridge_regression"
	SyntheticRegressionPath = "trainctl.data.SyntheticRegression"
	EarlyStoppingPath       = "trainctl.callbacks.EarlyStopping"
	LearningRateMonitorPath = "trainctl.callbacks.LearningRateMonitor"
	ModelCheckpointPath     = "trainctl.callbacks.ModelCheckpoint"
)

func modelParam() schema.Param {
	return schema.Param{Name: "model", Type: schema.TypeClass, Base: string(schema.RoleModel), Nullable: true}
}

func datamoduleParam() schema.Param {
	return schema.Param{Name: "datamodule", Type: schema.TypeClass, Base: string(schema.RoleDataModule), Nullable: true}
}

func loaderParam(name string) schema.Param {
	return schema.Param{Name: name, Type: schema.TypeAny, Nullable: true}
}

func ckptParam() schema.Param {
	return schema.Param{Name: "ckpt_path", Type: schema.TypeString, Nullable: true, Help: "checkpoint to restore before running"}
}

func verboseParam() schema.Param {
	return schema.Param{Name: "verbose", Type: schema.TypeBool, Default: true, Help: "log the resulting metrics"}
}

func trainerComponent() schema.Component {
	return schema.Component{
		ClassPath: TrainerPath,
		Role:      schema.RoleTrainer,
		Help:      "Single-process training loop.",
		Params: []schema.Param{
			{Name: "max_epochs", Type: schema.TypeInt, Default: 10, Help: "stop fitting after this many epochs"},
			{Name: "fast_dev_run", Type: schema.TypeBool, Default: false, Help: "run one batch of one epoch and skip persistence"},
			{Name: "default_root_dir", Type: schema.TypeString, Default: ".", Help: "root of the log directory"},
			{Name: "version", Type: schema.TypeInt, Nullable: true, Help: "log directory version, next free one when null"},
			{Name: "callbacks", Type: schema.TypeClassList, Base: string(schema.RoleCallback), Nullable: true},
			{Name: "global_rank", Type: schema.TypeInt, Default: 0, Help: "rank of this process; rank 0 writes files"},
		},
		Methods: map[string][]schema.Param{
			"fit": {
				modelParam(), loaderParam("train_dataloaders"), loaderParam("train_dataloader"),
				loaderParam("val_dataloaders"), datamoduleParam(), ckptParam(),
			},
			"validate": {
				modelParam(), loaderParam("dataloaders"), loaderParam("val_dataloaders"),
				datamoduleParam(), ckptParam(), verboseParam(),
			},
			"test": {
				modelParam(), loaderParam("dataloaders"), loaderParam("test_dataloaders"),
				datamoduleParam(), ckptParam(), verboseParam(),
			},
			"predict": {
				modelParam(), loaderParam("dataloaders"), datamoduleParam(), ckptParam(),
				{Name: "return_predictions", Type: schema.TypeBool, Nullable: true},
			},
			"tune": {
				modelParam(), loaderParam("train_dataloaders"), loaderParam("train_dataloader"),
				loaderParam("val_dataloaders"), datamoduleParam(),
				{Name: "lr_find_kwargs", Type: schema.TypeMap, Nullable: true, Help: "min_lr, max_lr and num_training of the learning rate finder"},
			},
		},
		New: newTrainer,
	}
}

func components() []schema.Component {
	params := schema.Param{Name: "params", Type: schema.TypeAny}
	optimizer := schema.Param{Name: "optimizer", Type: schema.TypeAny}
	return []schema.Component{
		trainerComponent(),
		{
			ClassPath:  SGDPath,
			Role:       schema.RoleOptimizer,
			Positional: []string{"params"},
			Params: []schema.Param{
				params,
				{Name: "lr", Type: schema.TypeFloat, Required: true},
				{Name: "momentum", Type: schema.TypeFloat, Default: 0.0},
				{Name: "weight_decay", Type: schema.TypeFloat, Default: 0.0},
			},
			New: newSGD,
		},
		{
			ClassPath:  AdamPath,
			Role:       schema.RoleOptimizer,
			Positional: []string{"params"},
			Params: []schema.Param{
				params,
				{Name: "lr", Type: schema.TypeFloat, Default: 0.001},
				{Name: "beta1", Type: schema.TypeFloat, Default: 0.9},
				{Name: "beta2", Type: schema.TypeFloat, Default: 0.999},
				{Name: "eps", Type: schema.TypeFloat, Default: 1e-8},
				{Name: "weight_decay", Type: schema.TypeFloat, Default: 0.0},
			},
			New: newAdam,
		},
		{
			ClassPath:  StepLRPath,
			Role:       schema.RoleLRScheduler,
			Positional: []string{"optimizer"},
			Params: []schema.Param{
				optimizer,
				{Name: "step_size", Type: schema.TypeInt, Required: true},
				{Name: "gamma", Type: schema.TypeFloat, Default: 0.1},
			},
			New: newStepLR,
		},
		{
			ClassPath:  ExponentialLRPath,
			Role:       schema.RoleLRScheduler,
			Positional: []string{"optimizer"},
			Params: []schema.Param{
				optimizer,
				{Name: "gamma", Type: schema.TypeFloat, Required: true},
			},
			New: newExponentialLR,
		},
		{
			ClassPath:  ReduceLROnPlateauPath,
			Role:       schema.RoleLRScheduler,
			Positional: []string{"optimizer"},
			Params: []schema.Param{
				optimizer,
				{Name: "mode", Type: schema.TypeString, Default: "min"},
				{Name: "factor", Type: schema.TypeFloat, Default: 0.1},
				{Name: "patience", Type: schema.TypeInt, Default: 10},
				{Name: "threshold", Type: schema.TypeFloat, Default: 1e-4},
				{Name: "min_lr", Type: schema.TypeFloat, Default: 0.0},
			},
			New: newReduceLROnPlateau,
		},
		{
			ClassPath: LinearRegressionPath,
			Role:      schema.RoleModel,
			Help:      "Linear model trained on mean squared error.",
			Params: []schema.Param{
				{Name: "in_features", Type: schema.TypeInt, Default: 1},
				{Name: "lr", Type: schema.TypeFloat, Default: 0.01, Help: "learning rate of the default optimizer"},
				{Name: "l2", Type: schema.TypeFloat, Default: 0.0},
			},
			New: newLinearRegression,
		},
		{
			ClassPath: SyntheticRegressionPath,
			Role:      schema.RoleDataModule,
			Params: []schema.Param{
				{Name: "num_samples", Type: schema.TypeInt, Default: 256},
				{Name: "num_features", Type: schema.TypeInt, Default: 1},
				{Name: "noise", Type: schema.TypeFloat, Default: 0.1},
				{Name: "slope", Type: schema.TypeFloat, Default: 2.0},
				{Name: "intercept", Type: schema.TypeFloat, Default: 0.5},
				{Name: "batch_size", Type: schema.TypeInt, Default: 32},
				{Name: "val_fraction", Type: schema.TypeFloat, Default: 0.2},
			},
			New: newSyntheticRegression,
		},
		{
			ClassPath: EarlyStoppingPath,
			Role:      schema.RoleCallback,
			Params: []schema.Param{
				{Name: "monitor", Type: schema.TypeString, Default: "val_loss"},
				{Name: "patience", Type: schema.TypeInt, Default: 3},
				{Name: "min_delta", Type: schema.TypeFloat, Default: 0.0},
				{Name: "mode", Type: schema.TypeString, Default: "min"},
			},
			New: newEarlyStopping,
		},
		{
			ClassPath: LearningRateMonitorPath,
			Role:      schema.RoleCallback,
			New:       newLearningRateMonitor,
		},
		{
			ClassPath: ModelCheckpointPath,
			Role:      schema.RoleCallback,
			Params: []schema.Param{
				{Name: "dirpath", Type: schema.TypeString, Nullable: true, Help: "defaults to <log_dir>/checkpoints"},
				{Name: "filename", Type: schema.TypeString, Default: "last.ckpt"},
				{Name: "monitor", Type: schema.TypeString, Nullable: true},
				{Name: "mode", Type: schema.TypeString, Default: "min"},
			},
			New: newModelCheckpoint,
		},
	}
}

// Register adds every built-in component to reg.
func Register(reg *schema.Registry) error {
	for _, c := range components() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return reg.RegisterFunc(RidgeRegressionPath, schema.RoleModel, []schema.Param{
		{Name: "in_features", Type: schema.TypeInt, Default: 1},
		{Name: "lr", Type: schema.TypeFloat, Default: 0.01},
		{Name: "alpha", Type: schema.TypeFloat, Default: 0.1},
	}, ridgeRegression)
}

// NewRegistry returns a registry holding the built-in components.
func NewRegistry() *schema.Registry {
	reg := schema.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}
