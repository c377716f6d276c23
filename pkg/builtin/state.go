package builtin

import (
	"fmt"

	"github.com/dobrovols/trainctl/pkg/checkpoint"
	"github.com/dobrovols/trainctl/pkg/training"
)

const (
	epochKey     = "epoch"
	stateDictKey = "state_dict"
)

// Checkpoint captures model parameters, hyper parameters and the epoch.
func Checkpoint(model training.Model, epoch int) map[string]any {
	ckpt := map[string]any{epochKey: epoch, stateDictKey: StateDict(model)}
	if hp, ok := model.(training.HyperParameterized); ok {
		ckpt[checkpoint.HyperParametersKey] = hp.HyperParameters()
	}
	return ckpt
}

// StateDict copies every parameter vector keyed by name.
func StateDict(model training.Model) map[string]any {
	out := map[string]any{}
	for _, p := range model.Parameters() {
		out[p.Name] = append([]float64(nil), p.Value...)
	}
	return out
}

// LoadStateDict restores parameters from a checkpoint's state dict.
func LoadStateDict(model training.Model, ckpt map[string]any) error {
	state, ok := ckpt[stateDictKey].(map[string]any)
	if !ok {
		return fmt.Errorf("checkpoint has no %s", stateDictKey)
	}
	for _, p := range model.Parameters() {
		values, err := floatSlice(state[p.Name])
		if err != nil {
			return fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		if len(values) != len(p.Value) {
			return fmt.Errorf("parameter %s: expected %d values, got %d", p.Name, len(p.Value), len(values))
		}
		copy(p.Value, values)
	}
	return nil
}

func floatSlice(raw any) ([]float64, error) {
	switch v := raw.(type) {
	case []float64:
		return v, nil
	case []any:
		out := make([]float64, len(v))
		for i, item := range v {
			f, ok := item.(float64)
			if !ok {
				return nil, fmt.Errorf("value %d is %T, not a number", i, item)
			}
			out[i] = f
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("missing")
	default:
		return nil, fmt.Errorf("unexpected %T", raw)
	}
}
