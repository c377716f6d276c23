package config

import (
	"strings"
)

const envNestSeparator = "__"

// EnvName renders the environment variable name of key, optionally scoped to a subcommand.
func EnvName(prefix, subcommand, key string) string {
	parts := strings.Split(key, ".")
	if subcommand != "" {
		parts = append([]string{subcommand}, parts...)
	}
	return strings.ToUpper(prefix + "_" + strings.Join(parts, envNestSeparator))
}

// EnvValues collects <PREFIX>_<GROUP>__<FIELD> variables known to command's catalog. Names scoped
// to subcommand (<PREFIX>_<SUBCOMMAND>__<GROUP>__<FIELD>) win over unscoped ones. Unknown names are ignored.
func EnvValues(catalog FlagCatalog, command, prefix, subcommand string, environ []string) map[string]any {
	general := map[string]any{}
	scoped := map[string]any{}
	head := strings.ToUpper(prefix) + "_"
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(strings.ToUpper(name), head) {
			continue
		}
		segments := strings.Split(strings.ToLower(name[len(head):]), envNestSeparator)
		target := general
		if subcommand != "" && len(segments) > 1 && segments[0] == strings.ToLower(subcommand) {
			segments = segments[1:]
			target = scoped
		}
		key := strings.Join(segments, ".")
		kind, known := catalog.Kind(command, key)
		if !known || kind == FlagKindControl {
			continue
		}
		target[key] = value
	}
	for key, value := range scoped {
		general[key] = value
	}
	return general
}
