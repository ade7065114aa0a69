package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"call-audit-go/internal/types"
)

func utterances(texts ...string) types.Transcript {
	t := types.Transcript{}
	for i, s := range texts {
		st := float64(i) * 2.5
		t.Utterances = append(t.Utterances, types.Utterance{Speaker: "agent", Text: s, StartTime: &st})
	}
	return t
}

func TestDefaultEngine(t *testing.T) {
	e, err := NewDefaultEngine()
	if err != nil {
		t.Fatalf("NewDefaultEngine: %v", err)
	}

	tests := []struct {
		name    string
		text    string
		wantIDs []string
	}{
		{"clean", "Thank you for calling, how can I help you today?", nil},
		{"guarantee", "This plan is GUARANTEED to save you money", []string{"guaranteed-outcome"}},
		{"word boundary", "We offer guarantees on hardware only", nil},
		{"two rules", "Act now, it is risk free", []string{"pressure-tactics", "guaranteed-outcome"}},
		{"regex", "Please read me your PIN so I can verify", []string{"sensitive-data-request"}},
		{"card number", "I need the full credit card number", []string{"full-card-number"}},
		{"whitespace in phrase", "Honestly   that is not  my problem", []string{"dismissive-response"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := e.Check(context.Background(), utterances(tt.text))
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if rep.Checker != "rules" {
				t.Errorf("checker = %q", rep.Checker)
			}
			if len(rep.Violations) != len(tt.wantIDs) {
				t.Fatalf("got %d violations %+v, want %v", len(rep.Violations), rep.Violations, tt.wantIDs)
			}
			for i, id := range tt.wantIDs {
				if rep.Violations[i].RuleID != id {
					t.Errorf("violation %d = %s, want %s", i, rep.Violations[i].RuleID, id)
				}
			}
		})
	}
}

func TestCheckOrderingAndLocation(t *testing.T) {
	rs, err := Parse([]byte(`
rules:
  - id: b-rule
    phrases: [refund]
  - id: a-rule
    pattern: '(?i)refund'
  - id: c-rule
    phrases: [sorry]
`))
	if err != nil {
		t.Fatal(err)
	}
	e, err := NewEngine(rs)
	if err != nil {
		t.Fatal(err)
	}

	tr := utterances("sorry, no refund", "refund please")
	rep, err := e.Check(context.Background(), tr)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	want := []struct {
		id   string
		utt  int
		off  int
		text string
	}{
		{"c-rule", 0, 0, "sorry"},
		{"a-rule", 0, 10, "refund"},
		{"b-rule", 0, 10, "refund"},
		{"a-rule", 1, 0, "refund"},
		{"b-rule", 1, 0, "refund"},
	}
	if len(rep.Violations) != len(want) {
		t.Fatalf("got %d violations: %+v", len(rep.Violations), rep.Violations)
	}
	for i, w := range want {
		v := rep.Violations[i]
		if v.RuleID != w.id || v.Location.Utterance != w.utt || v.Location.Offset != w.off || v.Matched != w.text {
			t.Errorf("violation %d = %+v, want %+v", i, v, w)
		}
		if v.Severity != "medium" {
			t.Errorf("default severity not applied: %q", v.Severity)
		}
	}
	if *rep.Violations[3].StartTime != 2.5 {
		t.Errorf("start time not carried: %v", *rep.Violations[3].StartTime)
	}

	// the report owns its start times
	*tr.Utterances[1].StartTime = 99
	if *rep.Violations[3].StartTime != 2.5 {
		t.Error("violation aliases transcript start time")
	}
}

func TestCheckEmptyTranscript(t *testing.T) {
	e, err := NewDefaultEngine()
	if err != nil {
		t.Fatal(err)
	}
	rep, err := e.Check(context.Background(), types.Transcript{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rep.Count() != 0 || rep.Violations == nil {
		t.Errorf("expected empty non-nil violations, got %+v", rep)
	}
}

func TestCheckCancelled(t *testing.T) {
	e, _ := NewDefaultEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Check(ctx, utterances("hello")); !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestNewEngineErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", `rules: []`},
		{"missing id", `rules: [{phrases: [x]}]`},
		{"duplicate id", `rules: [{id: a, phrases: [x]}, {id: a, phrases: [y]}]`},
		{"both kinds", `rules: [{id: a, phrases: [x], pattern: "y"}]`},
		{"neither kind", `rules: [{id: a}]`},
		{"bad regex", `rules: [{id: a, pattern: "(unclosed"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if _, err := NewEngine(rs); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("version: v9\nrules:\n  - id: x\n    phrases: [hello]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rs, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	e, err := NewEngine(rs)
	if err != nil {
		t.Fatal(err)
	}
	if e.Version() != "v9" {
		t.Errorf("version = %q", e.Version())
	}
}
