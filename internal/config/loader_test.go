package config_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/dobrovols/trainctl/internal/config"
	"github.com/dobrovols/trainctl/pkg/clierr"
)

func TestLoaderFlattensYAMLGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	mustWriteFile(t, path, `
seed_everything: 42
trainer:
  max_epochs: 3
  callbacks:
    - class_path: EarlyStopping
model:
  lr: 0.01
  encoder:
    width: 16
optimizer:
  class_path: SGD
  init_args:
    lr: 0.1
`)

	loader := config.NewLoader(newCatalog())
	values, err := loader.Load("trainctl fit", config.LocationResult{Path: path})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if values["trainer.max_epochs"] != 3 {
		t.Fatalf("trainer.max_epochs = %v", values["trainer.max_epochs"])
	}
	if values["model.encoder.width"] != 16 {
		t.Fatalf("model.encoder.width = %v", values["model.encoder.width"])
	}
	opt, ok := values["optimizer"].(map[string]any)
	if !ok || opt["class_path"] != "SGD" {
		t.Fatalf("optimizer should be emitted whole, got %#v", values["optimizer"])
	}
	if _, ok := values["trainer.callbacks"].([]any); !ok {
		t.Fatalf("callbacks should stay a list, got %#v", values["trainer.callbacks"])
	}
}

func TestLoaderReadsTOMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "config.toml")
	mustWriteFile(t, tomlPath, "[trainer]\nmax_epochs = 5\n")
	jsonPath := filepath.Join(dir, "config.json")
	mustWriteFile(t, jsonPath, `{"model": {"lr": 0.5}}`)

	loader := config.NewLoader(newCatalog())

	values, err := loader.Load("trainctl fit", config.LocationResult{Path: tomlPath})
	if err != nil {
		t.Fatalf("Load toml: %v", err)
	}
	if values["trainer.max_epochs"] != 5 {
		t.Fatalf("expected int 5 from toml, got %#v", values["trainer.max_epochs"])
	}

	values, err = loader.Load("trainctl fit", config.LocationResult{Path: jsonPath})
	if err != nil {
		t.Fatalf("Load json: %v", err)
	}
	if values["model.lr"] != 0.5 {
		t.Fatalf("model.lr = %#v", values["model.lr"])
	}
}

func TestLoaderRejectsUnknownKeysAndMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.yaml")
	mustWriteFile(t, unknown, "trainer:\n  max_epoch: 3\n")
	malformed := filepath.Join(dir, "malformed.yaml")
	mustWriteFile(t, malformed, "trainer: [unclosed\n")
	scalar := filepath.Join(dir, "scalar.yaml")
	mustWriteFile(t, scalar, "- a\n- b\n")

	loader := config.NewLoader(newCatalog())
	for _, path := range []string{unknown, malformed, scalar} {
		_, err := loader.Load("trainctl fit", config.LocationResult{Path: path})
		if !errors.Is(err, clierr.ErrParse) {
			t.Fatalf("%s: expected parse error, got %v", filepath.Base(path), err)
		}
	}

	_, err := loader.Load("trainctl fit", config.LocationResult{Path: unknown})
	if err == nil || !containsKey(err.Error(), "trainer.max_epoch") {
		t.Fatalf("expected error naming the key, got %v", err)
	}
}

func TestLoaderInlineContent(t *testing.T) {
	loader := config.NewLoader(newCatalog())
	values, err := loader.Load("trainctl fit", config.LocationResult{Inline: "{trainer: {max_epochs: 7}}", Source: config.ConfigSourceEnv})
	if err != nil {
		t.Fatalf("Load inline: %v", err)
	}
	if values["trainer.max_epochs"] != 7 {
		t.Fatalf("trainer.max_epochs = %v", values["trainer.max_epochs"])
	}
}

func containsKey(msg, key string) bool {
	for i := 0; i+len(key) <= len(msg); i++ {
		if msg[i:i+len(key)] == key {
			return true
		}
	}
	return false
}
