// Package features computes the acoustic feature set of a call recording.
package features

import (
	"context"
	"fmt"
	"math"
	"time"

	"call-audit-go/internal/audio"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

const (
	frameSize = 2048
	hopSize   = 512

	numMFCC   = 13
	numMel    = 40
	numGFCC   = 13
	numERB    = 32
	numChroma = 12
)

// Extractor turns a validated recording into AudioFeatures.
type Extractor interface {
	Extract(ctx context.Context, asset types.AudioAsset) (types.AudioFeatures, error)
}

// DSPExtractor decodes the recording and computes every feature in-process.
type DSPExtractor struct {
	ffmpeg *audio.FFmpegDecoder
}

func NewDSPExtractor(ffmpegPath string) *DSPExtractor {
	return &DSPExtractor{ffmpeg: audio.NewFFmpegDecoder(ffmpegPath, 16000)}
}

func (e *DSPExtractor) Extract(ctx context.Context, asset types.AudioAsset) (types.AudioFeatures, error) {
	start := time.Now()
	pcm, err := audio.Load(ctx, asset.Path, asset.Encoding, e.ffmpeg)
	if err != nil {
		if ctx.Err() != nil {
			return types.AudioFeatures{}, fmt.Errorf("%w: %w", types.ErrCancelled, ctx.Err())
		}
		return types.AudioFeatures{}, fmt.Errorf("%w: %s: %w", types.ErrFeatureExtraction, asset.Name, err)
	}
	f, err := Compute(pcm)
	if err != nil {
		return types.AudioFeatures{}, fmt.Errorf("%s: %w", asset.Name, err)
	}
	logger.New().WithField("component", "features").
		WithField("file", asset.Name).
		WithField("seconds", pcm.Duration()).
		WithField("took_ms", time.Since(start).Milliseconds()).
		Debug("features extracted")
	return f, nil
}

// Compute derives AudioFeatures from mono PCM. The signal must hold at least
// one full analysis frame.
func Compute(pcm audio.PCM) (types.AudioFeatures, error) {
	if pcm.SampleRate <= 0 {
		return types.AudioFeatures{}, fmt.Errorf("%w: invalid sample rate %d", types.ErrFeatureExtraction, pcm.SampleRate)
	}
	if len(pcm.Samples) < frameSize {
		return types.AudioFeatures{}, fmt.Errorf("%w: audio too short: %d samples, need %d",
			types.ErrFeatureExtraction, len(pcm.Samples), frameSize)
	}
	for i, s := range pcm.Samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return types.AudioFeatures{}, fmt.Errorf("%w: non-finite sample at %d", types.ErrFeatureExtraction, i)
		}
	}

	a := newAnalyzer(pcm.SampleRate)
	out := a.run(pcm.Samples)
	if err := checkFinite(out); err != nil {
		return types.AudioFeatures{}, err
	}
	return out, nil
}

func checkFinite(f types.AudioFeatures) error {
	scalars := map[string]float64{
		"pitch":              f.Pitch,
		"pitch_range":        f.PitchRange,
		"tempo":              f.Tempo,
		"jitter":             f.Jitter,
		"zero_crossing_rate": f.ZeroCrossingRate,
		"rms_energy":         f.RMSEnergy,
	}
	for name, v := range scalars {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", types.ErrFeatureExtraction, name)
		}
	}
	vectors := map[string][]float64{"mfcc": f.MFCC, "gfcc": f.GFCC, "chroma": f.Chroma}
	for name, vec := range vectors {
		for i, v := range vec {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: %s[%d] is not finite", types.ErrFeatureExtraction, name, i)
			}
		}
	}
	return nil
}
