package features

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"call-audit-go/internal/types"
)

// analyzer holds the transforms and filterbanks for one sample rate.
// It is not safe for concurrent use.
type analyzer struct {
	sampleRate int
	window     []float64

	fft *fourier.FFT
	acf *fourier.FFT

	mel    *mat.Dense
	erb    *mat.Dense
	dctMel *mat.Dense
	dctERB *mat.Dense
	chroma []int

	acBuf    []float64
	acCoeffs []complex128
	acSeq    []float64
}

func newAnalyzer(sampleRate int) *analyzer {
	w := make([]float64, frameSize)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/frameSize)
	}
	return &analyzer{
		sampleRate: sampleRate,
		window:     w,
		fft:        fourier.NewFFT(frameSize),
		acf:        fourier.NewFFT(2 * frameSize),
		mel:        melFilterbank(sampleRate, numMel),
		erb:        gammatoneFilterbank(sampleRate, numERB),
		dctMel:     dctMatrix(numMFCC, numMel),
		dctERB:     dctMatrix(numGFCC, numERB),
		chroma:     chromaMap(sampleRate),
		acBuf:      make([]float64, 2*frameSize),
		acSeq:      make([]float64, 2*frameSize),
	}
}

func (a *analyzer) run(x []float64) types.AudioFeatures {
	nFrames := 1 + (len(x)-frameSize)/hopSize
	nBins := frameSize/2 + 1

	rms := make([]float64, nFrames)
	zcr := make([]float64, nFrames)
	for t := range rms {
		seg := x[t*hopSize : t*hopSize+frameSize]
		rms[t] = frameRMS(seg)
		zcr[t] = zeroCrossingRate(seg)
	}
	gate := math.Max(0.1*floats.Max(rms), 1e-4)

	var (
		windowed  = make([]float64, frameSize)
		coeffs    []complex128
		power     = make([]float64, nBins)
		powerVec  = mat.NewVecDense(nBins, power)
		prevLog   = make([]float64, nBins)
		flux      = make([]float64, nFrames)
		melVec    = mat.NewVecDense(numMel, nil)
		mfccVec   = mat.NewVecDense(numMFCC, nil)
		erbVec    = mat.NewVecDense(numERB, nil)
		gfccVec   = mat.NewVecDense(numGFCC, nil)
		mfccSum   = make([]float64, numMFCC)
		gfccSum   = make([]float64, numGFCC)
		chromaSum = make([]float64, numChroma)
		frameChr  = make([]float64, numChroma)
		pitches   []float64
	)

	for t := 0; t < nFrames; t++ {
		seg := x[t*hopSize : t*hopSize+frameSize]

		if rms[t] >= gate {
			if f0, ok := a.framePitch(seg); ok {
				pitches = append(pitches, f0)
			}
		}

		for i, s := range seg {
			windowed[i] = s * a.window[i]
		}
		coeffs = a.fft.Coefficients(coeffs, windowed)
		var fl float64
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			power[k] = re*re + im*im
			lm := math.Log1p(math.Sqrt(power[k]))
			if t > 0 && lm > prevLog[k] {
				fl += lm - prevLog[k]
			}
			prevLog[k] = lm
		}
		flux[t] = fl

		melVec.MulVec(a.mel, powerVec)
		for i := 0; i < numMel; i++ {
			melVec.SetVec(i, 10*math.Log10(math.Max(melVec.AtVec(i), 1e-10)))
		}
		mfccVec.MulVec(a.dctMel, melVec)
		floats.Add(mfccSum, mfccVec.RawVector().Data)

		erbVec.MulVec(a.erb, powerVec)
		for i := 0; i < numERB; i++ {
			erbVec.SetVec(i, math.Cbrt(erbVec.AtVec(i)))
		}
		gfccVec.MulVec(a.dctERB, erbVec)
		floats.Add(gfccSum, gfccVec.RawVector().Data)

		for i := range frameChr {
			frameChr[i] = 0
		}
		for k, pc := range a.chroma {
			if pc >= 0 {
				frameChr[pc] += power[k]
			}
		}
		if peak := floats.Max(frameChr); peak > 0 {
			floats.AddScaled(chromaSum, 1/peak, frameChr)
		}
	}

	n := float64(nFrames)
	floats.Scale(1/n, mfccSum)
	floats.Scale(1/n, gfccSum)
	floats.Scale(1/n, chromaSum)

	pitch, pitchRange, jitter := pitchStats(pitches)
	return types.AudioFeatures{
		Pitch:            pitch,
		PitchRange:       pitchRange,
		Tempo:            a.tempo(flux),
		Jitter:           jitter,
		ZeroCrossingRate: stat.Mean(zcr, nil),
		RMSEnergy:        stat.Mean(rms, nil),
		MFCC:             mfccSum,
		GFCC:             gfccSum,
		Chroma:           chromaSum,
	}
}

func frameRMS(seg []float64) float64 {
	return math.Sqrt(floats.Dot(seg, seg) / float64(len(seg)))
}

func zeroCrossingRate(seg []float64) float64 {
	var n int
	for i := 1; i < len(seg); i++ {
		if (seg[i-1] >= 0) != (seg[i] >= 0) {
			n++
		}
	}
	return float64(n) / float64(len(seg))
}
