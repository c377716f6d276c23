package lightcli

import "github.com/dobrovols/trainctl/pkg/training"

// SubcommandSpec is one trainer entry point exposed as a subcommand. Skip names the entry-point
// arguments supplied at call time, which never become flags or config keys.
type SubcommandSpec struct {
	Name string
	Help string
	Skip []string
}

// DefaultSubcommands returns fit, validate, test, predict and tune.
func DefaultSubcommands() []SubcommandSpec {
	fitSkip := []string{"model", "train_dataloaders", "train_dataloader", "val_dataloaders", "datamodule"}
	return []SubcommandSpec{
		{Name: training.StageFit, Help: "Runs the full optimization routine.", Skip: fitSkip},
		{Name: training.StageValidate, Help: "Runs one evaluation epoch over the validation set.",
			Skip: []string{"model", "dataloaders", "val_dataloaders", "datamodule"}},
		{Name: training.StageTest, Help: "Runs one evaluation epoch over the test set.",
			Skip: []string{"model", "dataloaders", "test_dataloaders", "datamodule"}},
		{Name: training.StagePredict, Help: "Runs inference on the data.",
			Skip: []string{"model", "dataloaders", "datamodule"}},
		{Name: training.StageTune, Help: "Runs routines to tune hyperparameters before training.",
			Skip: append([]string(nil), fitSkip...)},
	}
}
