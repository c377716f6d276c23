package config_test

import (
	"testing"

	"github.com/dobrovols/trainctl/pkg/config"
)

func TestFlagSetCloneIsIndependent(t *testing.T) {
	source := config.FlagSet{
		"trainer.max_epochs": {Value: 3, Source: config.ValueSourceDefault},
		"model.layers":       {Value: []any{"a"}, Source: config.ValueSourceConfig},
	}

	cloned := source.Clone()
	cloned["trainer.max_epochs"] = config.FlagValue{Value: 5, Source: config.ValueSourceRuntime}
	cloned["model.layers"].Value.([]any)[0] = "b"

	if source["trainer.max_epochs"].Value != 3 {
		t.Fatalf("expected original flag set to remain unchanged, got %v", source["trainer.max_epochs"].Value)
	}
	if source["model.layers"].Value.([]any)[0] != "a" {
		t.Fatalf("expected nested list to be copied")
	}
}

func TestTreeHelpers(t *testing.T) {
	tree := config.Tree{}
	config.Set(tree, "trainer.max_epochs", 3)
	config.Set(tree, "model.optimizer.class_path", "SGD")

	if v, ok := config.Get(tree, "trainer.max_epochs"); !ok || v != 3 {
		t.Fatalf("Get trainer.max_epochs = %v, %v", v, ok)
	}
	if _, ok := config.Get(tree, "trainer.missing"); ok {
		t.Fatalf("expected missing key")
	}

	flat := config.Flatten(tree, "", func(key string) bool { return key != "model.optimizer" })
	if _, ok := flat["model.optimizer"]; !ok {
		t.Fatalf("expected model.optimizer to be emitted whole, got %v", flat)
	}

	config.Delete(tree, "trainer.max_epochs")
	if _, ok := config.Get(tree, "trainer.max_epochs"); ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestUnflattenMergesParentMappings(t *testing.T) {
	tree := config.Unflatten(config.FlagSet{
		"optimizer":              {Value: map[string]any{"class_path": "SGD"}},
		"optimizer.init_args.lr": {Value: 0.1},
	})
	got, _ := config.Get(tree, "optimizer.init_args.lr")
	if got != 0.1 {
		t.Fatalf("expected merged init arg, got %v", tree)
	}
	if cp, _ := config.Get(tree, "optimizer.class_path"); cp != "SGD" {
		t.Fatalf("expected class path kept, got %v", tree)
	}
}
