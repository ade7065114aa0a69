package transcript

import (
	"context"
	"fmt"
	"os"

	"call-audit-go/internal/types"
)

// StoredSource replays a transcript saved on disk instead of running a
// transcription job. The audio asset is still used for feature extraction.
type StoredSource struct {
	path    string
	speaker string
}

func NewStoredSource(path, speaker string) *StoredSource {
	return &StoredSource{path: path, speaker: speaker}
}

func (s *StoredSource) Transcript(ctx context.Context, _ types.AudioAsset) (types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, fmt.Errorf("%w: %w", types.ErrCancelled, err)
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("read transcript: %w", err)
	}
	return NormalizeStored(b, s.speaker)
}
