// Package settings loads the ambient TRAINCTL_* process settings.
package settings

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Prefix of every ambient setting variable.
const Prefix = "TRAINCTL"

// Settings controls logging and telemetry of a trainctl process.
type Settings struct {
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"json"`
	OTelExporter string `envconfig:"OTEL_EXPORTER" default:"none"`
	// InstanceID identifies this process in telemetry; the hostname is used when empty.
	InstanceID string `envconfig:"INSTANCE_ID"`
	// DefaultConfigFiles are searched in order before any other configuration source.
	DefaultConfigFiles  []string `envconfig:"DEFAULT_CONFIG_FILES"`
	SaveConfigOverwrite bool     `envconfig:"SAVE_CONFIG_OVERWRITE"`
}

// Load reads settings from the environment.
func Load() (Settings, error) {
	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	switch s.LogFormat {
	case "":
		s.LogFormat = "json"
	case "json", "console":
	default:
		return Settings{}, fmt.Errorf("load settings: %s_LOG_FORMAT must be json or console, got %q", Prefix, s.LogFormat)
	}
	return s, nil
}
