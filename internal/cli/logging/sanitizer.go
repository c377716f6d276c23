package logging

import (
	"regexp"
	"strings"
)

const redactionPlaceholder = "***"

var allowlistedEnvKeys = map[string]struct{}{
	"PATH":    {},
	"HOME":    {},
	"USER":    {},
	"SHELL":   {},
	"PWD":     {},
	"LANG":    {},
	"LC_ALL":  {},
	"TMPDIR":  {},
	"TMP":     {},
	"TERM":    {},
	"LOGNAME": {},
}

// SanitizeCommand returns a sanitized string representation of the provided command arguments.
// Values of flags whose dotted key names a secret are redacted; inline descriptors given to a
// class flag are scanned for key=value secrets.
func SanitizeCommand(args []string) string {
	if len(args) == 0 {
		return ""
	}

	sanitized := make([]string, 0, len(args))
	redactNext := false
	for _, arg := range args {
		if redactNext {
			sanitized = append(sanitized, redactionPlaceholder)
			redactNext = false
			continue
		}
		cleaned, next := sanitizeCommandArg(arg)
		sanitized = append(sanitized, cleaned)
		redactNext = next
	}
	return strings.Join(sanitized, " ")
}

func sanitizeCommandArg(arg string) (string, bool) {
	if !strings.HasPrefix(arg, "--") {
		return SanitizeText(arg), false
	}
	flag, value, inline := strings.Cut(arg, "=")
	if !isSensitiveFlag(flag) {
		if inline {
			return flag + "=" + SanitizeText(value), false
		}
		return arg, false
	}
	if inline {
		return flag + "=" + redactionPlaceholder, false
	}
	return arg, true
}

// SanitizeEnv returns a sanitized copy of the provided environment variables.
// Sensitive values are replaced with a placeholder while preserving allowlisted keys.
func SanitizeEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(env))
	for key, value := range env {
		if _, ok := allowlistedEnvKeys[key]; ok {
			out[key] = value
			continue
		}
		if isSensitiveKey(key) {
			out[key] = redactionPlaceholder
			continue
		}
		out[key] = value
	}
	return out
}

// SanitizeMetadata redacts log metadata: values under sensitive keys entirely, and key=value
// secrets embedded in other values.
func SanitizeMetadata(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return meta
	}
	out := make(map[string]string, len(meta))
	for key, value := range meta {
		if isSensitiveKey(key) {
			out[key] = redactionPlaceholder
			continue
		}
		out[key] = SanitizeText(value)
	}
	return out
}

var sensitivePattern = regexp.MustCompile(`(?i)(password|passphrase|secret|token|apikey|api_key|privatekey)(["']?\s*[=:]\s*)([^\s,}]{1,128})`)

// SanitizeText redacts sensitive key/value pairs inside freeform strings.
func SanitizeText(text string) string {
	if text == "" {
		return ""
	}
	return sensitivePattern.ReplaceAllString(text, "${1}${2}"+redactionPlaceholder)
}

func isSensitiveFlag(flag string) bool {
	name := strings.TrimLeft(flag, "-")
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return isSensitiveKey(name) || strings.Contains(strings.ToLower(name), "credential")
}

func isSensitiveKey(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "password") ||
		strings.Contains(lower, "passphrase") ||
		strings.Contains(lower, "secret") ||
		strings.Contains(lower, "token") ||
		strings.Contains(lower, "apikey") ||
		strings.Contains(lower, "api_key") ||
		strings.Contains(lower, "privatekey")
}
