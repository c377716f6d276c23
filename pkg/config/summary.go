package config

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/bytedance/sonic"
)

// Supported summary output formats.
const (
	SummaryFormatText = "text"
	SummaryFormatJSON = "json"
)

// SummaryEntry is one resolved key with the layer that supplied it.
type SummaryEntry struct {
	Key    string      `json:"key"`
	Value  any         `json:"value"`
	Source ValueSource `json:"source"`
}

// SummaryGroup collects the entries under one top-level key such as trainer or model.
type SummaryGroup struct {
	Name    string         `json:"name"`
	Entries []SummaryEntry `json:"entries"`
}

// Summary is the provenance report of one invocation.
type Summary struct {
	CommandPath string         `json:"commandPath"`
	SourcePaths []string       `json:"sourcePaths,omitempty"`
	Overrides   []string       `json:"overrides,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
	Groups      []SummaryGroup `json:"groups"`
}

// Summarize groups the resolved keys by their first segment, in key order.
func Summarize(resolved *ResolvedInvocation) Summary {
	s := Summary{
		CommandPath: resolved.CommandPath,
		SourcePaths: resolved.SourcePaths,
		Overrides:   resolved.Overrides,
		Warnings:    resolved.Warnings,
	}
	for _, key := range SortedKeys(resolved.Flags) {
		name, _, _ := strings.Cut(key, ".")
		if n := len(s.Groups); n == 0 || s.Groups[n-1].Name != name {
			s.Groups = append(s.Groups, SummaryGroup{Name: name})
		}
		g := &s.Groups[len(s.Groups)-1]
		fv := resolved.Flags[key]
		g.Entries = append(g.Entries, SummaryEntry{Key: key, Value: fv.Value, Source: fv.Source})
	}
	return s
}

// FormatSummary renders a resolved invocation summary in the requested format.
func FormatSummary(resolved *ResolvedInvocation, format string) (string, error) {
	if resolved == nil {
		return "", fmt.Errorf("resolved invocation is nil")
	}

	switch strings.ToLower(format) {
	case "", SummaryFormatText:
		return formatSummaryText(Summarize(resolved))
	case SummaryFormatJSON:
		encoded, err := sonic.ConfigStd.MarshalIndent(Summarize(resolved), "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal summary json: %w", err)
		}
		return string(encoded), nil
	default:
		return "", fmt.Errorf("unsupported summary format %q", format)
	}
}

func formatSummaryText(s Summary) (string, error) {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Command:\t%s\n", s.CommandPath)
	if len(s.SourcePaths) > 0 {
		fmt.Fprintf(tw, "Sources:\t%s\n", strings.Join(s.SourcePaths, ", "))
	}
	for _, o := range s.Overrides {
		fmt.Fprintf(tw, "Override:\t%s\n", o)
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(tw, "Warning:\t%s\n", w)
	}
	for _, g := range s.Groups {
		fmt.Fprintln(tw)
		fmt.Fprintf(tw, "[%s]\t\t\n", g.Name)
		for _, e := range g.Entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Key, renderValue(e.Value), e.Source)
		}
	}

	if err := tw.Flush(); err != nil {
		return "", fmt.Errorf("flush summary: %w", err)
	}
	return buf.String(), nil
}

func renderValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case []string:
		return strings.Join(v, ",")
	case map[string]any, []any:
		encoded, err := sonic.ConfigStd.MarshalToString(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return encoded
	default:
		return fmt.Sprint(v)
	}
}
