package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode payload %q: %v", buf.String(), err)
	}
	return payload
}

func TestLoggerEmitPopulatesRequiredFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "run-123")
	if err != nil {
		t.Fatalf("unexpected error constructing logger: %v", err)
	}

	err = logger.Emit(Entry{
		Category: CategoryWorkflow,
		Severity: SeverityInfo,
		Message:  "parsing arguments",
		Step:     "parse",
	})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	payload := decodeLine(t, &buf)
	for _, key := range []string{"timestamp", "category", "message", "severity", "runId"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("expected key %q in payload: %v", key, payload)
		}
	}
	if payload["category"] != string(CategoryWorkflow) {
		t.Fatalf("expected category %q, got %v", CategoryWorkflow, payload["category"])
	}
	if payload["severity"] != string(SeverityInfo) {
		t.Fatalf("expected severity info, got %v", payload["severity"])
	}
	if payload["runId"] != "run-123" {
		t.Fatalf("expected runId to be propagated, got %v", payload["runId"])
	}
	if payload["step"] != "parse" {
		t.Fatalf("expected step to be preserved, got %v", payload["step"])
	}
}

func TestLoggerEmitEscalatesSeverityOnError(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "run-123")
	if err != nil {
		t.Fatalf("unexpected error constructing logger: %v", err)
	}

	err = logger.Emit(Entry{
		Category: CategoryConfig,
		Message:  "save config",
		Severity: SeverityInfo,
		Error:    errors.New("boom"),
	})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	payload := decodeLine(t, &buf)
	if payload["severity"] != string(SeverityError) {
		t.Fatalf("expected severity escalated to error, got %v", payload["severity"])
	}
	metadata, ok := payload["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("expected metadata map, got %T", payload["metadata"])
	}
	if metadata["error"] != "boom" {
		t.Fatalf("expected error metadata to be captured, got %v", metadata["error"])
	}
}

func TestLoggerFiltersBelowLevelAndSanitizes(t *testing.T) {
	var buf bytes.Buffer
	redact := func(in map[string]string) map[string]string {
		out := map[string]string{}
		for k, v := range in {
			if strings.Contains(k, "token") {
				v = "***"
			}
			out[k] = v
		}
		return out
	}
	logger, err := NewLogger(&buf, "run-123", WithLevel("warn"), WithSanitizer(redact))
	if err != nil {
		t.Fatalf("unexpected error constructing logger: %v", err)
	}

	if err := logger.Emit(Entry{Category: CategoryDiagnostic, Message: "quiet"}); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected info entry to be filtered, got %q", buf.String())
	}

	if err := logger.Emit(Entry{
		Category: CategoryDiagnostic,
		Severity: SeverityWarn,
		Message:  "loud",
		Metadata: map[string]string{"api_token": "abc"},
	}); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	payload := decodeLine(t, &buf)
	metadata := payload["metadata"].(map[string]any)
	if metadata["api_token"] != "***" {
		t.Fatalf("expected token to be redacted, got %v", metadata["api_token"])
	}
}

func TestLoggerValidatesOptions(t *testing.T) {
	if _, err := NewLogger(io.Discard, ""); err == nil {
		t.Fatalf("expected error when run ID missing")
	}
	if _, err := NewLogger(io.Discard, "run", WithLevel("loud")); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := NewLogger(io.Discard, "run", WithFormat("xml")); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if NewRunID() == NewRunID() {
		t.Fatalf("expected distinct run ids")
	}
}
