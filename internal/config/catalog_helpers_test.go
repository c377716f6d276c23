package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/dobrovols/trainctl/internal/config"
)

func annotatedCommand(name string, flags map[string]config.FlagKind) *cobra.Command {
	cmd := &cobra.Command{Use: name}
	for flagName, kind := range flags {
		cmd.Flags().String(flagName, "", "")
		_ = cmd.Flags().SetAnnotation(flagName, config.KindAnnotation, []string{string(kind)})
	}
	return cmd
}

func newCatalog() config.FlagCatalog {
	root := annotatedCommand("trainctl", nil)
	root.Flags().String("config", "", "")
	fit := annotatedCommand("fit", map[string]config.FlagKind{
		"seed_everything":      config.FlagKindValue,
		"trainer.max_epochs":   config.FlagKindValue,
		"trainer.callbacks":    config.FlagKindClassList,
		"model.lr":             config.FlagKindValue,
		"model.encoder.width":  config.FlagKindValue,
		"optimizer":            config.FlagKindClass,
		"optimizer.class_path": config.FlagKindClassPath,
		"ckpt_path":            config.FlagKindValue,
	})
	fit.Flags().StringArray("config", nil, "")
	root.AddCommand(fit)
	return config.NewCobraCatalog(root)
}

func mustWriteFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
}
