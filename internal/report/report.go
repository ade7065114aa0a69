// Package report assembles the final audit report from the stage outputs.
package report

import (
	"fmt"
	"math"
	"strings"

	"call-audit-go/internal/types"
)

// HighPitchHz is the mean pitch above which a call is flagged as stressed.
const HighPitchHz = 250

const compliantReason = "Call is normal and compliant"

type Inputs struct {
	Features       types.AudioFeatures
	Violations     types.ViolationReport
	ToneLabel      string
	ToneScores     types.ToneScores
	Classification types.ClassificationResult
	Provenance     types.Provenance
}

// Assemble builds the report. Inputs are deep-copied so the report shares
// no memory with the stages that produced them.
func Assemble(in Inputs) types.AuditReport {
	cls := in.Classification
	cls.Confidence = round2(cls.Confidence)
	cls.Reason = Reason(in.Violations.Count(), in.ToneScores, in.Features.Pitch)

	violations := in.Violations.Clone()
	if violations.Violations == nil {
		violations.Violations = []types.Violation{}
	}
	tone := in.ToneScores.Clone()

	return types.AuditReport{
		AudioFeatures:  in.Features.Clone(),
		RuleViolations: violations,
		AgentTone:      in.ToneLabel,
		ToneScores:     tone,
		Classification: cls,
		Provenance:     in.Provenance,
	}
}

// Reason explains a classification from the clauses that apply, in a fixed
// order, joined with " and ".
func Reason(violations int, tone types.ToneScores, pitch float64) string {
	var clauses []string
	if violations > 0 {
		clauses = append(clauses, fmt.Sprintf("%d rule violations", violations))
	}
	if tone[types.ToneNegative] > tone[types.TonePositive] {
		clauses = append(clauses, "Negative tone dominates")
	}
	if pitch > HighPitchHz {
		clauses = append(clauses, "High pitch (indicating stress)")
	}
	if len(clauses) == 0 {
		return compliantReason
	}
	return strings.Join(clauses, " and ")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
