package actionable

import (
	"fmt"

	"call-audit-go/internal/aggregator"
	"call-audit-go/internal/types"
)

// ActionCard is the coaching recommendation shown next to an agent's reports.
type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

const (
	minCalls          = 3
	complianceFloor   = 0.7
	negativeToneShare = 0.35
	highPitchShare    = 0.35
)

var ruleCoaching = map[string]string{
	"guaranteed-outcome":     "Review approved wording for outcomes; never promise results",
	"abusive-language":       "Schedule conduct coaching and escalate to the team lead",
	"pressure-tactics":       "Coach on consultative selling; remove urgency scripts",
	"sensitive-data-request": "Retrain on verification procedure; never ask for passwords or PINs",
	"full-card-number":       "Move card capture to the secure IVR flow",
	"dismissive-response":    "Coach on acknowledgement and ownership of customer issues",
}

// Generate picks the single most pressing recommendation. Checks run in
// priority order: compliance, then tone, then vocal stress.
func Generate(s aggregator.Summary) ActionCard {
	if s.TotalCalls < minCalls {
		return ActionCard{
			Insight: fmt.Sprintf("Only %d audited calls for %s", s.TotalCalls, s.Agent),
			Action:  "Audit more calls before coaching",
			Impact:  "Low immediate intervention",
		}
	}

	if s.ComplianceRate < complianceFloor {
		action := "Review the compliance policy with the agent"
		insight := fmt.Sprintf("Compliance at %.0f%% across %d calls", s.ComplianceRate*100, s.TotalCalls)
		if len(s.TopViolations) > 0 {
			top := s.TopViolations[0]
			insight = fmt.Sprintf("%s; most frequent violation %s (%d)", insight, top.RuleID, top.Count)
			if a, ok := ruleCoaching[top.RuleID]; ok {
				action = a
			}
		}
		return ActionCard{
			Insight: insight,
			Action:  action,
			Impact:  "Reduce regulatory exposure and complaint volume",
		}
	}

	if share := float64(s.ToneCounts[types.ToneNegative]) / float64(s.TotalCalls); share >= negativeToneShare {
		return ActionCard{
			Insight: fmt.Sprintf("Negative tone in %.0f%% of calls", share*100),
			Action:  "Pair with a senior agent for empathy and de-escalation coaching",
			Impact:  "Improve customer satisfaction",
		}
	}

	if share := float64(s.HighPitchCalls) / float64(s.TotalCalls); share >= highPitchShare {
		return ActionCard{
			Insight: fmt.Sprintf("Elevated pitch in %.0f%% of calls", share*100),
			Action:  "Check workload and schedule a wellbeing conversation",
			Impact:  "Lower stress-related attrition",
		}
	}

	return ActionCard{
		Insight: "No strong risk pattern detected",
		Action:  "Monitor and collect more data",
		Impact:  "Low immediate intervention",
	}
}
