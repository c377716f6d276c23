package cli

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dobrovols/trainctl/internal/cli/logging"
	"github.com/dobrovols/trainctl/internal/settings"
	"github.com/dobrovols/trainctl/pkg/builtin"
	"github.com/dobrovols/trainctl/pkg/lightcli"
	"github.com/dobrovols/trainctl/pkg/links"
	"github.com/dobrovols/trainctl/pkg/parser"
	"github.com/dobrovols/trainctl/pkg/schema"
	"github.com/dobrovols/trainctl/pkg/telemetry"
)

// Keys of the optimizer groups wired into every trainctl model.
const (
	OptimizerKey   = "optimizer"
	LRSchedulerKey = "lr_scheduler"
)

// Environ supplies the process environment; tests replace it.
var Environ = os.Environ

// NewRootCommand constructs the root trainctl command. Flag parsing is left to the lightcli parser,
// which sees the raw arguments.
func NewRootCommand(s settings.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:                "trainctl",
		Short:              "trainctl trains and evaluates models described by config files and flags",
		DisableFlagParsing: true,
		SilenceErrors:      true,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := telemetry.NewLogger(cmd.ErrOrStderr(), telemetry.NewRunID(),
				telemetry.WithLevel(s.LogLevel),
				telemetry.WithFormat(s.LogFormat),
				telemetry.WithSanitizer(logging.SanitizeMetadata),
			)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			environ := Environ()
			_ = logger.Emit(telemetry.Entry{
				Category: telemetry.CategoryDiagnostic,
				Severity: telemetry.SeverityDebug,
				Message:  "invocation",
				Command:  logging.SanitizeCommand(args),
				Metadata: logging.SanitizeEnv(prefixed(environ, parser.DefaultEnvPrefix+"_")),
			})

			app, err := lightcli.New(Options(s, logger, cmd.OutOrStdout(), cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			return app.Execute(cmd.Context(), args, environ)
		},
	}
	return cmd
}

// Options returns the lightcli configuration of the trainctl binary: any registered model and
// data module in subclass mode, environment parsing, and automatically wired optimizer and
// scheduler groups.
func Options(s settings.Settings, logger telemetry.StructuredLogger, stdout, stderr io.Writer) lightcli.Options {
	return lightcli.Options{
		Registry:            builtin.NewRegistry(),
		ModelClass:          string(schema.RoleModel),
		DataModuleClass:     string(schema.RoleDataModule),
		TrainerClass:        builtin.TrainerPath,
		SubclassModeModel:   true,
		SubclassModeData:    true,
		SaveConfigOverwrite: s.SaveConfigOverwrite,
		Description:         "trainctl trains and evaluates models described by config files and flags",
		EnvParse:            true,
		DefaultConfigFiles:  s.DefaultConfigFiles,
		Run:                 true,
		AddArguments:        addOptimizerArguments,
		Logger:              logger,
		Stdout:              stdout,
		Stderr:              stderr,
	}
}

func addOptimizerArguments(p *parser.Parser) error {
	if err := p.AddOptimizerArgs(schema.AnyOf(string(schema.RoleOptimizer)), OptimizerKey, links.Automatic); err != nil {
		return err
	}
	return p.AddLRSchedulerArgs(schema.AnyOf(string(schema.RoleLRScheduler)), LRSchedulerKey, links.Automatic)
}

func prefixed(environ []string, prefix string) map[string]string {
	out := map[string]string{}
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}
