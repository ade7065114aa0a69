package features

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

func hzToMel(f float64) float64 { return 2595 * math.Log10(1+f/700) }
func melToHz(m float64) float64 { return 700 * (math.Pow(10, m/2595) - 1) }

func hzToERBRate(f float64) float64 { return 21.4 * math.Log10(1+0.00437*f) }
func erbRateToHz(e float64) float64 { return (math.Pow(10, e/21.4) - 1) / 0.00437 }

// binFreqs returns the centre frequency of each rfft bin.
func binFreqs(sampleRate int) []float64 {
	n := frameSize/2 + 1
	out := make([]float64, n)
	for k := range out {
		out[k] = float64(k) * float64(sampleRate) / frameSize
	}
	return out
}

// melFilterbank builds area-normalised triangular filters spaced evenly on
// the mel scale between 0 Hz and Nyquist.
func melFilterbank(sampleRate, bands int) *mat.Dense {
	freqs := binFreqs(sampleRate)
	lo, hi := hzToMel(0), hzToMel(float64(sampleRate)/2)
	edges := make([]float64, bands+2)
	for i := range edges {
		edges[i] = melToHz(lo + (hi-lo)*float64(i)/float64(bands+1))
	}

	fb := mat.NewDense(bands, len(freqs), nil)
	for b := 0; b < bands; b++ {
		left, centre, right := edges[b], edges[b+1], edges[b+2]
		norm := 2 / (right - left)
		for k, f := range freqs {
			var w float64
			switch {
			case f > left && f <= centre:
				w = (f - left) / (centre - left)
			case f > centre && f < right:
				w = (right - f) / (right - centre)
			}
			if w > 0 {
				fb.Set(b, k, w*norm)
			}
		}
	}
	return fb
}

// gammatoneFilterbank approximates the power response of 4th-order
// gammatone filters with centres evenly spaced on the ERB-rate scale.
func gammatoneFilterbank(sampleRate, bands int) *mat.Dense {
	freqs := binFreqs(sampleRate)
	lo := hzToERBRate(50)
	hi := hzToERBRate(float64(sampleRate) / 2)

	fb := mat.NewDense(bands, len(freqs), nil)
	for b := 0; b < bands; b++ {
		fc := erbRateToHz(lo + (hi-lo)*float64(b)/float64(bands-1))
		bw := 1.019 * 24.7 * (4.37*fc/1000 + 1)
		for k, f := range freqs {
			d := (f - fc) / bw
			mag := math.Pow(1+d*d, -2)
			if w := mag * mag; w > 1e-8 {
				fb.Set(b, k, w)
			}
		}
	}
	return fb
}

// chromaMap assigns each bin at or above C1 to a pitch class; -1 means unused.
func chromaMap(sampleRate int) []int {
	freqs := binFreqs(sampleRate)
	out := make([]int, len(freqs))
	for k, f := range freqs {
		if f < 32.70 {
			out[k] = -1
			continue
		}
		midi := int(math.Round(12*math.Log2(f/440) + 69))
		out[k] = ((midi % numChroma) + numChroma) % numChroma
	}
	return out
}

// dctMatrix is the orthonormal DCT-II restricted to the first n coefficients.
func dctMatrix(n, size int) *mat.Dense {
	m := mat.NewDense(n, size, nil)
	for k := 0; k < n; k++ {
		scale := math.Sqrt(2 / float64(size))
		if k == 0 {
			scale = math.Sqrt(1 / float64(size))
		}
		for i := 0; i < size; i++ {
			m.Set(k, i, scale*math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*float64(size))))
		}
	}
	return m
}
