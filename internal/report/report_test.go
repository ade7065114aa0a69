package report

import (
	"encoding/json"
	"testing"

	"call-audit-go/internal/types"
)

func TestReason(t *testing.T) {
	tests := []struct {
		name       string
		violations int
		tone       types.ToneScores
		pitch      float64
		want       string
	}{
		{
			name:       "all clauses",
			violations: 2,
			tone:       types.ToneScores{types.TonePositive: 0.1, types.ToneNegative: 0.6},
			pitch:      270,
			want:       "2 rule violations and Negative tone dominates and High pitch (indicating stress)",
		},
		{
			name:  "compliant",
			tone:  types.ToneScores{types.TonePositive: 0.7, types.ToneNegative: 0.1},
			pitch: 180,
			want:  "Call is normal and compliant",
		},
		{
			name:  "pitch boundary is not high",
			pitch: 250,
			want:  "Call is normal and compliant",
		},
		{
			name:  "equal tone does not dominate",
			tone:  types.ToneScores{types.TonePositive: 0.5, types.ToneNegative: 0.5},
			pitch: 251,
			want:  "High pitch (indicating stress)",
		},
		{
			name:       "one violation",
			violations: 1,
			want:       "1 rule violations",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reason(tt.violations, tt.tone, tt.pitch); got != tt.want {
				t.Errorf("Reason = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAssemble(t *testing.T) {
	st := 1.5
	in := Inputs{
		Features: types.AudioFeatures{Pitch: 180, MFCC: []float64{1, 2}},
		Violations: types.ViolationReport{Checker: "rules", Violations: []types.Violation{
			{RuleID: "pressure-tactics", Matched: "act now", StartTime: &st},
		}},
		ToneLabel:      types.TonePositive,
		ToneScores:     types.ToneScores{types.TonePositive: 0.8, types.ToneNegative: 0.2, types.ToneNeutral: 0.5},
		Classification: types.ClassificationResult{Status: types.StatusCompliant, Label: 1, Confidence: 0.87654},
		Provenance:     types.Provenance{AgentName: "test_agent", CallDate: "2025-12-01", FileName: "call.wav", RunID: "r1"},
	}
	rep := Assemble(in)

	if rep.Classification.Confidence != 0.88 {
		t.Errorf("confidence = %v, want 0.88", rep.Classification.Confidence)
	}
	if rep.Classification.Reason != "1 rule violations" {
		t.Errorf("reason = %q", rep.Classification.Reason)
	}

	// mutating the inputs must not reach the report
	in.Features.MFCC[0] = 99
	in.ToneScores[types.TonePositive] = 0
	in.Violations.Violations[0].RuleID = "changed"
	st = 42
	if rep.AudioFeatures.MFCC[0] != 1 || rep.ToneScores[types.TonePositive] != 0.8 {
		t.Error("report aliases feature or tone inputs")
	}
	if rep.RuleViolations.Violations[0].RuleID != "pressure-tactics" || *rep.RuleViolations.Violations[0].StartTime != 1.5 {
		t.Error("report aliases violation inputs")
	}
}

func TestAssembleJSONShape(t *testing.T) {
	rep := Assemble(Inputs{
		ToneScores:     types.ToneScores{types.ToneNeutral: 1},
		Classification: types.ClassificationResult{Status: types.StatusNonCompliant, Confidence: 0.5},
	})
	b, err := json.Marshal(rep)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"audio_features", "rule_violations", "agent_tone", "tone_scores", "classification", "provenance"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("missing %q in %s", key, b)
		}
	}
	var cls map[string]any
	if err := json.Unmarshal(doc["classification"], &cls); err != nil {
		t.Fatal(err)
	}
	if cls["status"] != types.StatusNonCompliant || cls["reason"] != "Call is normal and compliant" {
		t.Errorf("classification = %v", cls)
	}
	if string(mustField(t, doc["rule_violations"], "violations")) != "[]" {
		t.Errorf("violations should encode as an empty list: %s", doc["rule_violations"])
	}
}

func mustField(t *testing.T, raw json.RawMessage, key string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	return m[key]
}
