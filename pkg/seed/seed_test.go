package seed_test

import (
	"errors"
	"os"
	"testing"

	"github.com/dobrovols/trainctl/pkg/seed"
)

func TestEverythingIsReproducible(t *testing.T) {
	t.Setenv(seed.EnvGlobalSeed, "")
	t.Setenv(seed.EnvSeedWorkers, "")

	if err := seed.Everything(42, true); err != nil {
		t.Fatalf("seed: %v", err)
	}
	first := []float64{seed.Rand().Float64(), seed.Rand().Float64()}

	if err := seed.Everything(42, true); err != nil {
		t.Fatalf("seed: %v", err)
	}
	second := []float64{seed.Rand().Float64(), seed.Rand().Float64()}

	if first[0] != second[0] || first[1] != second[1] {
		t.Fatalf("expected identical sequences, got %v and %v", first, second)
	}
	if got := os.Getenv(seed.EnvGlobalSeed); got != "42" {
		t.Fatalf("expected %s=42, got %q", seed.EnvGlobalSeed, got)
	}
	if got := os.Getenv(seed.EnvSeedWorkers); got != "1" {
		t.Fatalf("expected %s=1, got %q", seed.EnvSeedWorkers, got)
	}
}

func TestEverythingRejectsOutOfRangeSeeds(t *testing.T) {
	t.Setenv(seed.EnvGlobalSeed, "")
	t.Setenv(seed.EnvSeedWorkers, "")

	for _, v := range []int64{-1, seed.MaxSeed + 1} {
		err := seed.Everything(v, true)
		if !errors.Is(err, seed.ErrOutOfRange) {
			t.Fatalf("seed %d: expected ErrOutOfRange, got %v", v, err)
		}
	}
	if got := os.Getenv(seed.EnvGlobalSeed); got != "" {
		t.Fatalf("expected %s unset after rejected seeds, got %q", seed.EnvGlobalSeed, got)
	}
	if err := seed.Everything(seed.MaxSeed, false); err != nil {
		t.Fatalf("seed %d: %v", int64(seed.MaxSeed), err)
	}
}
