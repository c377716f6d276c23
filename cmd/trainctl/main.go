package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dobrovols/trainctl/internal/cli"
	"github.com/dobrovols/trainctl/internal/settings"
	telemetryinit "github.com/dobrovols/trainctl/internal/telemetry"
	"github.com/dobrovols/trainctl/pkg/clierr"
)

var (
	loadSettings  = settings.Load
	telemetryInit = telemetryinit.InitProvider
	rootCommand   = cli.NewRootCommand
	osExit        = os.Exit
)

func main() {
	ctx := context.Background()
	s, err := loadSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		osExit(clierr.ExitCodeConfiguration)
		return
	}

	shutdown, err := telemetryInit(ctx, telemetryinit.Options{Exporter: s.OTelExporter, InstanceID: s.InstanceID})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize telemetry: %v\n", err)
	}
	if shutdown != nil {
		cleanupCtx, cancel := context.WithTimeout(ctx, telemetryinit.ShutdownTimeout)
		defer func() {
			defer cancel()
			if err := shutdown(cleanupCtx); err != nil {
				fmt.Fprintf(os.Stderr, "telemetry shutdown error: %v\n", err)
			}
		}()
	}

	cmd := rootCommand(s)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		osExit(clierr.ExitCode(err))
	}
}
