package types

import "errors"

var (
	ErrUnsupportedFormat    = errors.New("unsupported audio format")
	ErrSubmissionConflict   = errors.New("transcription job already exists")
	ErrJobTimeout           = errors.New("transcription job timed out")
	ErrCancelled            = errors.New("cancelled")
	ErrTranscriptionFailed  = errors.New("transcription failed")
	ErrTranscriptParse      = errors.New("transcript parse error")
	ErrFeatureExtraction    = errors.New("feature extraction failed")
	ErrModelUnavailable     = errors.New("classifier model unavailable")
	ErrInvalidFeatureVector = errors.New("invalid feature vector")
	ErrInvalidDate          = errors.New("call date must be YYYY-MM-DD")

	// ErrPersistenceWarning marks a save failure that did not fail the run.
	ErrPersistenceWarning = errors.New("report not persisted")
	// ErrPersistence is a save failure under the strict policy.
	ErrPersistence = errors.New("report persistence failed")
)
