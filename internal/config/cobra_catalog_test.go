package config_test

import (
	"testing"

	"github.com/dobrovols/trainctl/internal/config"
)

func TestCobraCatalogKinds(t *testing.T) {
	catalog := newCatalog()

	if !catalog.IsCommandSupported("trainctl fit") {
		t.Fatalf("expected fit to be supported, got %v", catalog.Commands())
	}

	cases := map[string]config.FlagKind{
		"trainer.max_epochs":              config.FlagKindValue,
		"optimizer":                       config.FlagKindClass,
		"optimizer.init_args":             config.FlagKindInitArg,
		"optimizer.init_args.lr":          config.FlagKindInitArg,
		"optimizer.init_args.nested.deep": config.FlagKindInitArg,
		"config":                          config.FlagKindControl,
	}
	for key, want := range cases {
		got, ok := catalog.Kind("trainctl fit", key)
		if !ok || got != want {
			t.Fatalf("Kind(%q) = %q, %v; want %q", key, got, ok, want)
		}
	}
	if _, ok := catalog.Kind("trainctl fit", "model.missing"); ok {
		t.Fatalf("expected unknown key")
	}
}

func TestCobraCatalogGroups(t *testing.T) {
	catalog := newCatalog()

	if !catalog.HasChildren("trainctl fit", "model") || !catalog.HasChildren("trainctl fit", "model.encoder") {
		t.Fatalf("expected model groups")
	}
	if catalog.HasChildren("trainctl fit", "optimizer") {
		t.Fatalf("class keys are not groups")
	}
	for _, key := range catalog.Keys("trainctl fit") {
		if key == "config" {
			t.Fatalf("control flags must not be listed as keys")
		}
	}
}
