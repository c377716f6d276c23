package checkpoint_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dobrovols/trainctl/pkg/checkpoint"
	"github.com/dobrovols/trainctl/pkg/persist"
	"github.com/dobrovols/trainctl/pkg/telemetry"
)

type capture struct{ entries []telemetry.Entry }

func (c *capture) Emit(e telemetry.Entry) error {
	c.entries = append(c.entries, e)
	return nil
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"last.ckpt", "last.ckpt.zst"} {
		t.Run(name, func(t *testing.T) {
			io := checkpoint.NewFileIO(persist.NewLocalFS(), nil)
			path := filepath.Join(t.TempDir(), "checkpoints", name)
			ckpt := map[string]any{
				"epoch":      2,
				"state_dict": map[string]any{"weight": []any{0.5, 1.5}},
			}

			res, err := io.SaveCheckpoint(context.Background(), ckpt, path)
			require.NoError(t, err)
			assert.Empty(t, res.Dropped)

			got, err := io.LoadCheckpoint(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, float64(2), got["epoch"])
			assert.Equal(t, map[string]any{"weight": []any{0.5, 1.5}}, got["state_dict"])

			require.NoError(t, io.RemoveCheckpoint(context.Background(), path))
			_, err = os.Stat(path)
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestSaveDropsHyperParametersAndRetriesOnce(t *testing.T) {
	logs := &capture{}
	io := checkpoint.NewFileIO(persist.NewLocalFS(), logs)
	path := filepath.Join(t.TempDir(), "last.ckpt")
	ckpt := map[string]any{
		"epoch":                       1,
		checkpoint.HyperParametersKey: map[string]any{"hook": make(chan int)},
	}

	res, err := io.SaveCheckpoint(context.Background(), ckpt, path)
	require.NoError(t, err)
	assert.Equal(t, []string{checkpoint.HyperParametersKey}, res.Dropped)
	assert.Contains(t, ckpt, checkpoint.HyperParametersKey, "caller's map is left intact")

	require.Len(t, logs.entries, 1)
	assert.Equal(t, telemetry.SeverityWarn, logs.entries[0].Severity)
	assert.Contains(t, logs.entries[0].Message, checkpoint.HyperParametersKey)

	got, err := io.LoadCheckpoint(context.Background(), path)
	require.NoError(t, err)
	assert.NotContains(t, got, checkpoint.HyperParametersKey)
}

func TestSaveFailsWhenNothingCanBeDropped(t *testing.T) {
	io := checkpoint.NewFileIO(persist.NewLocalFS(), nil)
	path := filepath.Join(t.TempDir(), "last.ckpt")

	_, err := io.SaveCheckpoint(context.Background(), map[string]any{"state": make(chan int)}, path)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
