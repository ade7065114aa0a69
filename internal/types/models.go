package types

import (
	"fmt"
	"strings"
	"time"
)

// AudioAsset is a validated call recording. It is not mutated after validation.
type AudioAsset struct {
	Path     string `json:"path" bson:"path"`
	Name     string `json:"name" bson:"name"`
	Encoding string `json:"encoding" bson:"encoding"`
	Size     int64  `json:"size" bson:"size"`
}

type JobState string

const (
	JobSubmitted  JobState = "SUBMITTED"
	JobInProgress JobState = "IN_PROGRESS"
	JobCompleted  JobState = "COMPLETED"
	JobFailed     JobState = "FAILED"
)

func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

func (s JobState) rank() int {
	switch s {
	case JobSubmitted:
		return 0
	case JobInProgress:
		return 1
	case JobCompleted, JobFailed:
		return 2
	}
	return -1
}

type TranscriptionJob struct {
	Name          string    `json:"name"`
	SourceURI     string    `json:"source_uri"`
	State         JobState  `json:"state"`
	ResultURI     string    `json:"result_uri,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Advance moves the job forward. Terminal states are final and a job never
// moves back to an earlier state.
func (j *TranscriptionJob) Advance(next JobState) error {
	if next.rank() < 0 {
		return fmt.Errorf("job %s: unknown state %q", j.Name, next)
	}
	if j.State.Terminal() {
		if next == j.State {
			return nil
		}
		return fmt.Errorf("job %s: already %s, cannot move to %s", j.Name, j.State, next)
	}
	if next.rank() < j.State.rank() {
		return fmt.Errorf("job %s: cannot move from %s back to %s", j.Name, j.State, next)
	}
	j.State = next
	return nil
}

type Utterance struct {
	Speaker   string   `json:"speaker" bson:"speaker"`
	Text      string   `json:"text" bson:"text"`
	StartTime *float64 `json:"start_time,omitempty" bson:"start_time,omitempty"`
}

// Transcript is the ordered, chronological utterance sequence of one call.
type Transcript struct {
	Utterances []Utterance `json:"utterances"`
	JobName    string      `json:"job_name,omitempty"`
}

func (t Transcript) Text() string {
	parts := make([]string, 0, len(t.Utterances))
	for _, u := range t.Utterances {
		parts = append(parts, u.Text)
	}
	return strings.Join(parts, " ")
}
