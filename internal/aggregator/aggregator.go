package aggregator

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"call-audit-go/internal/report"
	"call-audit-go/internal/store"
	"call-audit-go/internal/types"
)

type RuleCount struct {
	RuleID string `json:"rule_id"`
	Count  int    `json:"count"`
}

// Summary is the per-agent view over saved reports.
type Summary struct {
	Agent          string         `json:"agent"`
	TotalCalls     int            `json:"total_calls"`
	Compliant      int            `json:"compliant"`
	NonCompliant   int            `json:"non_compliant"`
	ComplianceRate float64        `json:"compliance_rate"`
	AvgConfidence  float64        `json:"avg_confidence"`
	AvgPitch       float64        `json:"avg_pitch"`
	HighPitchCalls int            `json:"high_pitch_calls"`
	ToneCounts     map[string]int `json:"tone_counts"`
	TopViolations  []RuleCount    `json:"top_violations"`
	FirstDate      string         `json:"first_date,omitempty"`
	LastDate       string         `json:"last_date,omitempty"`
}

// Aggregate summarises records of one agent. Records may arrive in any order.
func Aggregate(agent string, records []store.Record) Summary {
	s := Summary{
		Agent:         agent,
		TotalCalls:    len(records),
		ToneCounts:    map[string]int{},
		TopViolations: []RuleCount{},
	}
	if len(records) == 0 {
		return s
	}

	confidences := make([]float64, 0, len(records))
	pitches := make([]float64, 0, len(records))
	byRule := map[string]int{}
	for _, r := range records {
		rep := r.Report
		if rep.Classification.Status == types.StatusCompliant {
			s.Compliant++
		} else {
			s.NonCompliant++
		}
		confidences = append(confidences, rep.Classification.Confidence)
		pitches = append(pitches, rep.AudioFeatures.Pitch)
		if rep.AudioFeatures.Pitch > report.HighPitchHz {
			s.HighPitchCalls++
		}
		if rep.AgentTone != "" {
			s.ToneCounts[rep.AgentTone]++
		}
		for _, v := range rep.RuleViolations.Violations {
			byRule[v.RuleID]++
		}
		if s.FirstDate == "" || r.Date < s.FirstDate {
			s.FirstDate = r.Date
		}
		if r.Date > s.LastDate {
			s.LastDate = r.Date
		}
	}

	s.ComplianceRate = float64(s.Compliant) / float64(s.TotalCalls)
	s.AvgConfidence = stat.Mean(confidences, nil)
	s.AvgPitch = stat.Mean(pitches, nil)

	for id, c := range byRule {
		s.TopViolations = append(s.TopViolations, RuleCount{RuleID: id, Count: c})
	}
	sort.Slice(s.TopViolations, func(i, j int) bool {
		if s.TopViolations[i].Count != s.TopViolations[j].Count {
			return s.TopViolations[i].Count > s.TopViolations[j].Count
		}
		return s.TopViolations[i].RuleID < s.TopViolations[j].RuleID
	})
	return s
}
