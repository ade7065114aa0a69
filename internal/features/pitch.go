package features

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	minPitchHz = 50
	maxPitchHz = 500
	// minimum normalised autocorrelation peak for a frame to count as voiced
	voicingThreshold = 0.5

	minTempoBPM = 60
	maxTempoBPM = 200
	priorBPM    = 120
)

// framePitch estimates f0 from the autocorrelation of one frame, computed as
// the inverse transform of the zero-padded power spectrum.
func (a *analyzer) framePitch(seg []float64) (float64, bool) {
	mean := stat.Mean(seg, nil)
	for i := range a.acBuf {
		a.acBuf[i] = 0
	}
	for i, s := range seg {
		a.acBuf[i] = s - mean
	}
	a.acCoeffs = a.acf.Coefficients(a.acCoeffs, a.acBuf)
	for i, c := range a.acCoeffs {
		a.acCoeffs[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	ac := a.acf.Sequence(a.acSeq, a.acCoeffs)
	if ac[0] <= 0 {
		return 0, false
	}

	lagMin := max(a.sampleRate/maxPitchHz, 2)
	lagMax := min(a.sampleRate/minPitchHz, frameSize-2)
	best, bestR := -1, 0.0
	for lag := lagMin; lag <= lagMax; lag++ {
		if ac[lag] < ac[lag-1] || ac[lag] < ac[lag+1] {
			continue
		}
		if r := ac[lag] / ac[0]; r > bestR {
			best, bestR = lag, r
		}
	}
	if best < 0 || bestR < voicingThreshold {
		return 0, false
	}
	lag := float64(best) + parabolicOffset(ac[best-1], ac[best], ac[best+1])
	return float64(a.sampleRate) / lag, true
}

// pitchStats returns mean f0, its range and the mean relative period
// difference between consecutive voiced frames.
func pitchStats(f0 []float64) (mean, spread, jitter float64) {
	if len(f0) == 0 {
		return 0, 0, 0
	}
	mean = stat.Mean(f0, nil)
	spread = floats.Max(f0) - floats.Min(f0)
	if len(f0) < 2 {
		return mean, spread, 0
	}
	periods := make([]float64, len(f0))
	for i, f := range f0 {
		periods[i] = 1 / f
	}
	var diff float64
	for i := 1; i < len(periods); i++ {
		diff += math.Abs(periods[i] - periods[i-1])
	}
	diff /= float64(len(periods) - 1)
	return mean, spread, diff / stat.Mean(periods, nil)
}

// tempo picks the onset-envelope autocorrelation peak between 60 and 200 BPM,
// weighted by a log-normal prior around 120 BPM. Zero means no periodicity.
func (a *analyzer) tempo(env []float64) float64 {
	frameRate := float64(a.sampleRate) / hopSize
	lagMin := max(int(math.Floor(60*frameRate/maxTempoBPM)), 1)
	lagMax := int(math.Ceil(60 * frameRate / minTempoBPM))
	if lagMax+1 >= len(env) {
		return 0
	}

	centred := make([]float64, len(env))
	copy(centred, env)
	floats.AddConst(-stat.Mean(env, nil), centred)

	ac := make([]float64, lagMax+2)
	for lag := range ac {
		ac[lag] = floats.Dot(centred[:len(centred)-lag], centred[lag:])
	}
	if ac[0] <= 0 {
		return 0
	}

	best, bestScore := -1, 0.0
	for lag := lagMin; lag <= lagMax; lag++ {
		bpm := 60 * frameRate / float64(lag)
		prior := math.Exp(-0.5 * math.Pow(math.Log2(bpm/priorBPM), 2))
		if s := ac[lag] / ac[0] * prior; s > bestScore {
			best, bestScore = lag, s
		}
	}
	if best < 0 {
		return 0
	}
	lag := float64(best)
	if best > 0 && best+1 < len(ac) {
		lag += parabolicOffset(ac[best-1], ac[best], ac[best+1])
	}
	bpm := 60 * frameRate / lag
	return math.Min(math.Max(bpm, minTempoBPM), maxTempoBPM)
}

// parabolicOffset refines a discrete peak to sub-sample precision.
func parabolicOffset(y0, y1, y2 float64) float64 {
	d := y0 - 2*y1 + y2
	if d == 0 {
		return 0
	}
	off := 0.5 * (y0 - y2) / d
	if off < -0.5 || off > 0.5 {
		return 0
	}
	return off
}
