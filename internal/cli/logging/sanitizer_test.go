package logging

import (
	"strings"
	"testing"
)

func TestSanitizeCommandRedactsInlineSecrets(t *testing.T) {
	args := []string{"fit", "--model.init_args.api_token=abcd1234", "--trainer.max_epochs", "3"}

	sanitized := SanitizeCommand(args)

	if !strings.Contains(sanitized, "--model.init_args.api_token=***") {
		t.Fatalf("expected inline secret to be redacted; sanitized=%q", sanitized)
	}
	if strings.Contains(sanitized, "abcd1234") {
		t.Fatalf("expected original token to be removed; sanitized=%q", sanitized)
	}
	if !strings.Contains(sanitized, "--trainer.max_epochs 3") {
		t.Fatalf("expected non-sensitive flag to remain; sanitized=%q", sanitized)
	}
}

func TestSanitizeCommandRedactsSeparatedSecrets(t *testing.T) {
	args := []string{"fit", "--data.init_args.password", "super-secret", "--data.batch_size", "64"}

	sanitized := SanitizeCommand(args)

	if strings.Contains(sanitized, "super-secret") {
		t.Fatalf("expected separated value to be redacted; sanitized=%q", sanitized)
	}
	if !strings.Contains(sanitized, "--data.init_args.password ***") {
		t.Fatalf("expected password flag to be redacted; sanitized=%q", sanitized)
	}
	if !strings.Contains(sanitized, "--data.batch_size 64") {
		t.Fatalf("expected plain flag to remain; sanitized=%q", sanitized)
	}
}

func TestSanitizeCommandRedactsInlineDescriptors(t *testing.T) {
	args := []string{"fit", "--data", `{"class_path": "Remote", "init_args": {"token": "abc"}}`}

	sanitized := SanitizeCommand(args)

	if strings.Contains(sanitized, "abc\"") {
		t.Fatalf("expected descriptor secret to be redacted; sanitized=%q", sanitized)
	}
	if !strings.Contains(sanitized, "Remote") {
		t.Fatalf("expected class path to remain; sanitized=%q", sanitized)
	}
}

func TestSanitizeEnvMasksSensitiveVariables(t *testing.T) {
	env := map[string]string{
		"HOME":                         "/home/trainer",
		"PL_DATA__INIT_ARGS__PASSWORD": "hunter2",
		"PL_TRAINER__MAX_EPOCHS":       "3",
	}

	sanitized := SanitizeEnv(env)

	if sanitized["HOME"] != "/home/trainer" {
		t.Fatalf("expected allowlisted env to remain, got %q", sanitized["HOME"])
	}
	if sanitized["PL_DATA__INIT_ARGS__PASSWORD"] != "***" {
		t.Fatalf("expected password to be redacted, got %q", sanitized["PL_DATA__INIT_ARGS__PASSWORD"])
	}
	if sanitized["PL_TRAINER__MAX_EPOCHS"] != "3" {
		t.Fatalf("expected plain value to remain, got %q", sanitized["PL_TRAINER__MAX_EPOCHS"])
	}
}

func TestSanitizeMetadata(t *testing.T) {
	got := SanitizeMetadata(map[string]string{
		"secret_key": "value",
		"command":    "fit --token=abcd",
		"path":       "/tmp/config.yaml",
	})
	if got["secret_key"] != "***" {
		t.Fatalf("expected sensitive key to be redacted, got %q", got["secret_key"])
	}
	if got["command"] != "fit --token=***" {
		t.Fatalf("expected embedded token to be redacted, got %q", got["command"])
	}
	if got["path"] != "/tmp/config.yaml" {
		t.Fatalf("expected path to remain, got %q", got["path"])
	}
	if SanitizeMetadata(nil) != nil {
		t.Fatalf("expected nil metadata to stay nil")
	}
}

func TestSanitizeTextRedactsKeyValuePairs(t *testing.T) {
	input := "error: token=abcd password: topsecret still here"
	got := SanitizeText(input)
	if strings.Contains(got, "abcd") || strings.Contains(got, "topsecret") {
		t.Fatalf("expected sensitive values to be redacted, got %q", got)
	}
	if !strings.Contains(got, "token=***") {
		t.Fatalf("expected token placeholder, got %q", got)
	}
}
