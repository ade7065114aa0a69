package transcription

import (
	"context"

	"call-audit-go/internal/transcript"
	"call-audit-go/internal/types"
)

// LiveJobSource produces transcripts by running a remote transcription job.
type LiveJobSource struct {
	manager *Manager
	speaker string
}

func NewLiveJobSource(m *Manager, speaker string) *LiveJobSource {
	return &LiveJobSource{manager: m, speaker: speaker}
}

func (s *LiveJobSource) Transcript(ctx context.Context, asset types.AudioAsset) (types.Transcript, error) {
	job, doc, err := s.manager.Run(ctx, asset)
	if err != nil {
		return types.Transcript{JobName: job.Name}, err
	}
	t, err := transcript.Normalize(doc, s.speaker)
	if err != nil {
		return types.Transcript{JobName: job.Name}, err
	}
	t.JobName = job.Name
	return t, nil
}
