// internal/types/report.go
package types

// --------------------------------------------
// Acoustic features of one recording
// --------------------------------------------
// Pitch and PitchRange are in Hz over voiced frames, Tempo in BPM.
type AudioFeatures struct {
	Pitch            float64   `json:"pitch" bson:"pitch"`
	PitchRange       float64   `json:"pitch_range" bson:"pitch_range"`
	Tempo            float64   `json:"tempo" bson:"tempo"`
	Jitter           float64   `json:"jitter" bson:"jitter"`
	ZeroCrossingRate float64   `json:"zero_crossing_rate" bson:"zero_crossing_rate"`
	RMSEnergy        float64   `json:"rms_energy" bson:"rms_energy"`
	MFCC             []float64 `json:"mfcc" bson:"mfcc"`
	GFCC             []float64 `json:"gfcc" bson:"gfcc"`
	Chroma           []float64 `json:"chroma" bson:"chroma"`
}

func (f AudioFeatures) Clone() AudioFeatures {
	f.MFCC = append([]float64(nil), f.MFCC...)
	f.GFCC = append([]float64(nil), f.GFCC...)
	f.Chroma = append([]float64(nil), f.Chroma...)
	return f
}

// --------------------------------------------
// Rule violations
// --------------------------------------------
type Location struct {
	Utterance int `json:"utterance" bson:"utterance"`
	Offset    int `json:"offset" bson:"offset"`
}

type Violation struct {
	RuleID      string   `json:"rule_id" bson:"rule_id"`
	Description string   `json:"description,omitempty" bson:"description,omitempty"`
	Severity    string   `json:"severity,omitempty" bson:"severity,omitempty"`
	Matched     string   `json:"matched" bson:"matched"`
	Location    Location `json:"location" bson:"location"`
	Speaker     string   `json:"speaker,omitempty" bson:"speaker,omitempty"`
	StartTime   *float64 `json:"start_time,omitempty" bson:"start_time,omitempty"`
}

// ViolationReport is produced by either the rules engine ("rules") or the LLM checker ("llm").
type ViolationReport struct {
	Checker    string      `json:"checker" bson:"checker"`
	Violations []Violation `json:"violations" bson:"violations"`
	Summary    string      `json:"summary,omitempty" bson:"summary,omitempty"`
}

func (v ViolationReport) Count() int { return len(v.Violations) }

func (v ViolationReport) Clone() ViolationReport {
	out := v
	out.Violations = make([]Violation, len(v.Violations))
	for i, vi := range v.Violations {
		if vi.StartTime != nil {
			st := *vi.StartTime
			vi.StartTime = &st
		}
		out.Violations[i] = vi
	}
	return out
}

// --------------------------------------------
// Tone
// --------------------------------------------
const (
	TonePositive = "positive"
	ToneNegative = "negative"
	ToneNeutral  = "neutral"
)

// ToneScores maps a sentiment label to a score in [0,1]. Scores need not sum to 1.
type ToneScores map[string]float64

func (t ToneScores) Clone() ToneScores {
	out := make(ToneScores, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// --------------------------------------------
// Classification
// --------------------------------------------
const (
	StatusCompliant    = "Compliant"
	StatusNonCompliant = "Non-Compliant"
)

type ClassificationResult struct {
	Status     string  `json:"status" bson:"status"`
	Label      int     `json:"label" bson:"label"`
	Confidence float64 `json:"confidence" bson:"confidence"`
	Reason     string  `json:"reason,omitempty" bson:"reason,omitempty"`
}

// --------------------------------------------
// Final audit report
// --------------------------------------------
type Provenance struct {
	AgentName string `json:"agent_name" bson:"agent_name"`
	CallDate  string `json:"call_date" bson:"call_date"`
	FileName  string `json:"file_name" bson:"file_name"`
	JobName   string `json:"job_name,omitempty" bson:"job_name,omitempty"`
	RunID     string `json:"run_id" bson:"run_id"`
}

type AuditReport struct {
	AudioFeatures  AudioFeatures        `json:"audio_features" bson:"audio_features"`
	RuleViolations ViolationReport      `json:"rule_violations" bson:"rule_violations"`
	AgentTone      string               `json:"agent_tone" bson:"agent_tone"`
	ToneScores     ToneScores           `json:"tone_scores" bson:"tone_scores"`
	Classification ClassificationResult `json:"classification" bson:"classification"`
	Provenance     Provenance           `json:"provenance" bson:"provenance"`
}
