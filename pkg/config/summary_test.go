package config

import (
	"encoding/json"
	"strings"
	"testing"
)

func summaryRow(t *testing.T, text, key string) []string {
	t.Helper()
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == key {
			return fields
		}
	}
	t.Fatalf("summary has no row for %s:\n%s", key, text)
	return nil
}

func TestFormatSummaryText(t *testing.T) {
	resolved := &ResolvedInvocation{
		CommandPath: "trainctl fit",
		SourcePaths: []string{"/runs/config.yaml"},
		Overrides:   []string{"runtime overrides trainer.max_epochs (was default)"},
		Flags: FlagSet{
			"trainer.max_epochs":     {Value: 3, Source: ValueSourceRuntime},
			"model.lr":               {Value: 0.01, Source: ValueSourceConfig},
			"model.in_features":      {Value: 4, Source: ValueSourceLink},
			"trainer.callbacks":      {Value: []any{map[string]any{"class_path": "EarlyStopping"}}, Source: ValueSourceDefault},
			"seed_everything":        {Value: nil, Source: ValueSourceDefault},
			"optimizer.init_args.lr": {Value: 1e-3, Source: ValueSourceEnv},
			"optimizer.class_path":   {Value: "trainctl.optim.Adam", Source: ValueSourceEnv},
		},
	}

	text, err := FormatSummary(resolved, SummaryFormatText)
	if err != nil {
		t.Fatalf("text summary error: %v", err)
	}
	if got := summaryRow(t, text, "Command:"); got[1] != "trainctl" || got[2] != "fit" {
		t.Fatalf("unexpected command row %v", got)
	}
	if got := summaryRow(t, text, "Override:"); len(got) < 3 || got[3] != "trainer.max_epochs" {
		t.Fatalf("unexpected override row %v", got)
	}
	if got := summaryRow(t, text, "model.in_features"); got[1] != "4" || got[2] != "link" {
		t.Fatalf("unexpected link row %v", got)
	}
	if got := summaryRow(t, text, "seed_everything"); got[1] != "null" {
		t.Fatalf("unexpected seed row %v", got)
	}
	if got := summaryRow(t, text, "optimizer.init_args.lr"); got[1] != "0.001" || got[2] != "env" {
		t.Fatalf("unexpected optimizer row %v", got)
	}
	if got := summaryRow(t, text, "trainer.callbacks"); got[1] != `[{"class_path":"EarlyStopping"}]` {
		t.Fatalf("unexpected callbacks row %v", got)
	}
	model := strings.Index(text, "[model]")
	trainer := strings.Index(text, "[trainer]")
	if model < 0 || trainer < 0 || model > trainer {
		t.Fatalf("expected groups in key order:\n%s", text)
	}
}

func TestFormatSummaryJSON(t *testing.T) {
	resolved := &ResolvedInvocation{
		CommandPath: "trainctl fit",
		Flags: FlagSet{
			"trainer.max_epochs": {Value: 3, Source: ValueSourceRuntime},
			"model.lr":           {Value: 0.01, Source: ValueSourceConfig},
			"model.l2":           {Value: 0.0, Source: ValueSourceDefault},
		},
	}
	out, err := FormatSummary(resolved, SummaryFormatJSON)
	if err != nil {
		t.Fatalf("json summary error: %v", err)
	}
	var payload Summary
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("unmarshal json summary: %v", err)
	}
	if payload.CommandPath != "trainctl fit" || len(payload.Groups) != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Groups[0].Name != "model" || len(payload.Groups[0].Entries) != 2 || payload.Groups[0].Entries[0].Key != "model.l2" {
		t.Fatalf("unexpected model group %+v", payload.Groups[0])
	}
	if payload.Groups[1].Entries[0].Source != ValueSourceRuntime {
		t.Fatalf("unexpected trainer group %+v", payload.Groups[1])
	}

	if _, err := FormatSummary(resolved, "invalid-format"); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
	if _, err := FormatSummary(nil, SummaryFormatText); err == nil {
		t.Fatalf("expected error for nil invocation")
	}
}
