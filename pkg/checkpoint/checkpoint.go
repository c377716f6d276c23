// Package checkpoint is the swappable save/load boundary for training checkpoints.
package checkpoint

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"

	"github.com/dobrovols/trainctl/pkg/persist"
	"github.com/dobrovols/trainctl/pkg/telemetry"
)

// HyperParametersKey holds the init args of the model inside a checkpoint.
const HyperParametersKey = "hyper_parameters"

// CompressedSuffix marks zstd-compressed checkpoints.
const CompressedSuffix = ".zst"

// SaveResult reports where a checkpoint went and which top-level keys had to be dropped.
type SaveResult struct {
	Path    string
	Dropped []string
}

// IO saves and loads checkpoints.
type IO interface {
	SaveCheckpoint(ctx context.Context, ckpt map[string]any, path string) (SaveResult, error)
	LoadCheckpoint(ctx context.Context, path string) (map[string]any, error)
	RemoveCheckpoint(ctx context.Context, path string) error
}

// FileIO stores checkpoints as JSON documents through a persist.FileSystem.
type FileIO struct {
	fs     persist.FileSystem
	logger telemetry.StructuredLogger
}

// NewFileIO constructs a FileIO. A nil logger discards warnings.
func NewFileIO(fs persist.FileSystem, logger telemetry.StructuredLogger) *FileIO {
	if logger == nil {
		logger = telemetry.Nop{}
	}
	return &FileIO{fs: fs, logger: logger}
}

// SaveCheckpoint writes ckpt atomically. When it cannot be serialized, the hyper parameters are
// dropped with a warning and the save is retried once.
func (f *FileIO) SaveCheckpoint(_ context.Context, ckpt map[string]any, path string) (SaveResult, error) {
	result := SaveResult{Path: path}
	data, err := encode(ckpt, path)
	if err != nil {
		if _, ok := ckpt[HyperParametersKey]; !ok {
			return result, fmt.Errorf("save checkpoint %s: %w", path, err)
		}
		trimmed := make(map[string]any, len(ckpt))
		for k, v := range ckpt {
			if k != HyperParametersKey {
				trimmed[k] = v
			}
		}
		_ = f.logger.Emit(telemetry.Entry{
			Category: telemetry.CategoryDiagnostic,
			Severity: telemetry.SeverityWarn,
			Message:  fmt.Sprintf("%s dropped from checkpoint: an attribute is not serializable", HyperParametersKey),
			Metadata: map[string]string{"path": path, "cause": err.Error()},
		})
		data, err = encode(trimmed, path)
		if err != nil {
			return result, fmt.Errorf("save checkpoint %s: %w", path, err)
		}
		result.Dropped = []string{HyperParametersKey}
	}
	if err := f.fs.WriteFile(path, data); err != nil {
		return result, fmt.Errorf("save checkpoint %s: %w", path, err)
	}
	return result, nil
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint.
func (f *FileIO) LoadCheckpoint(_ context.Context, path string) (map[string]any, error) {
	data, err := f.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", path, err)
	}
	if strings.HasSuffix(path, CompressedSuffix) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %s: decompress: %w", path, err)
		}
	}
	var ckpt map[string]any
	if err := sonic.ConfigStd.Unmarshal(data, &ckpt); err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", path, err)
	}
	return ckpt, nil
}

// RemoveCheckpoint deletes path; a missing file is not an error.
func (f *FileIO) RemoveCheckpoint(_ context.Context, path string) error {
	return f.fs.Remove(path)
}

func encode(ckpt map[string]any, path string) ([]byte, error) {
	data, err := sonic.ConfigStd.Marshal(ckpt)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, CompressedSuffix) {
		return data, nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}
