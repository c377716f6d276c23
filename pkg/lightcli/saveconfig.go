package lightcli

import (
	"context"
	"path/filepath"

	"github.com/dobrovols/trainctl/pkg/config"
	"github.com/dobrovols/trainctl/pkg/parser"
	"github.com/dobrovols/trainctl/pkg/persist"
	"github.com/dobrovols/trainctl/pkg/telemetry"
	"github.com/dobrovols/trainctl/pkg/training"
)

// SaveConfigCallback writes the resolved configuration into the trainer log directory when the
// trainer sets up. Every process checks for an existing file; only the coordinator writes.
type SaveConfigCallback struct {
	parser    *parser.Parser
	config    config.Tree
	filename  string
	overwrite bool
	logger    telemetry.StructuredLogger
	path      string
}

// NewSaveConfigCallback binds the callback to a parsed configuration.
func NewSaveConfigCallback(p *parser.Parser, tree config.Tree, filename string, overwrite bool, logger telemetry.StructuredLogger) *SaveConfigCallback {
	if logger == nil {
		logger = telemetry.Nop{}
	}
	return &SaveConfigCallback{parser: p, config: tree, filename: filename, overwrite: overwrite, logger: logger}
}

func (s *SaveConfigCallback) Setup(_ context.Context, trainer training.Trainer, _ training.Model, stage string) error {
	path := filepath.Join(trainer.LogDir(), s.filename)
	fs := trainer.FileSystem()
	if err := persist.CheckConflict(fs, path, s.overwrite); err != nil {
		return err
	}
	if !trainer.IsGlobalZero() {
		return nil
	}
	if err := persist.Save(fs, s.parser.Dump(s.config), path, s.overwrite); err != nil {
		return err
	}
	s.path = path
	return s.logger.Emit(telemetry.Entry{
		Category: telemetry.CategoryConfig,
		Message:  "configuration saved",
		Step:     stage,
		Metadata: map[string]string{"path": path},
	})
}

// Path returns where the configuration was written, or "" when this process did not write it.
func (s *SaveConfigCallback) Path() string { return s.path }
