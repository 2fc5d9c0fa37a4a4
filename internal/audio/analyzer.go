package audio

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// FFT size. 2048 at 44100Hz gives around 21 frames per second.
	fftSize = 2048

	// Output frequency bands, log spaced 20Hz..20kHz.
	numBands = 32

	// Temporal smoothing between frames.
	smoothingFactor = 0.7
)

// Analyzer computes spectrum frames from decoded samples. It is owned by
// the decode goroutine and needs no locking: samples go in via Push, and a
// completed frame comes back as a Spectrum snapshot.
type Analyzer struct {
	fft    *fourier.FFT
	window []float64

	sampleBuffer []float64
	bufferIndex  int

	bands         []float64
	smoothedBands []float64
	spread        []float64
	bandCounts    []int

	sampleRate int
}

// NewAnalyzer creates an analyzer for mono samples at the given rate.
func NewAnalyzer(sampleRate int) *Analyzer {
	window := make([]float64, fftSize)
	for i := range window {
		// Hann
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(fftSize-1)))
	}

	return &Analyzer{
		fft:           fourier.NewFFT(fftSize),
		window:        window,
		sampleBuffer:  make([]float64, fftSize),
		bands:         make([]float64, numBands),
		smoothedBands: make([]float64, numBands),
		spread:        make([]float64, numBands),
		bandCounts:    make([]int, numBands),
		sampleRate:    sampleRate,
	}
}

// Push feeds interleaved samples, mixing channels down to mono. It returns
// a Spectrum for each completed FFT window, or an empty slice when the
// window has not filled yet.
func (a *Analyzer) Push(samples []float32, channels int) []Spectrum {
	if channels <= 0 {
		channels = 1
	}

	var frames []Spectrum
	for i := 0; i+channels <= len(samples); i += channels {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(samples[i+ch])
		}
		a.sampleBuffer[a.bufferIndex] = sum / float64(channels)
		a.bufferIndex = (a.bufferIndex + 1) % fftSize

		if a.bufferIndex == 0 {
			frames = append(frames, a.computeFrame())
		}
	}
	return frames
}

// computeFrame windows the buffered samples, runs the FFT, and folds the
// magnitude spectrum into log-spaced bands normalized 0..1 on a -60..0 dB
// scale.
func (a *Analyzer) computeFrame() Spectrum {
	windowed := make([]float64, fftSize)
	var peak, sumSquares float64
	for i := 0; i < fftSize; i++ {
		idx := (a.bufferIndex + i) % fftSize
		s := a.sampleBuffer[idx]
		if v := math.Abs(s); v > peak {
			peak = v
		}
		sumSquares += s * s
		windowed[i] = s * a.window[i]
	}

	coeffs := a.fft.Coefficients(nil, windowed)

	nyquist := fftSize / 2
	freqPerBin := float64(a.sampleRate) / float64(fftSize)

	minFreq := 20.0
	maxFreq := 20000.0
	if half := float64(a.sampleRate) / 2; half < maxFreq {
		maxFreq = half
	}
	logMin := math.Log10(minFreq)
	logRange := math.Log10(maxFreq) - logMin

	for i := range a.bands {
		a.bands[i] = 0
		a.bandCounts[i] = 0
	}

	// Log spacing keeps resolution where music lives, in the bass and mids.
	for bin := 1; bin < nyquist; bin++ {
		freq := float64(bin) * freqPerBin
		if freq < minFreq || freq > maxFreq {
			continue
		}
		band := int((math.Log10(freq) - logMin) / logRange * numBands)
		if band >= numBands {
			band = numBands - 1
		}

		re := real(coeffs[bin])
		im := imag(coeffs[bin])
		magnitude := math.Sqrt(re*re + im*im)

		db := 20 * math.Log10(magnitude/float64(fftSize)+1e-10)
		normalized := (db + 60) / 60
		if normalized < 0 {
			normalized = 0
		} else if normalized > 1 {
			normalized = 1
		}

		a.bands[band] += normalized
		a.bandCounts[band]++
	}

	for i := range a.bands {
		if a.bandCounts[i] > 0 {
			a.bands[i] /= float64(a.bandCounts[i])
		}
	}

	// Bleed a little into neighbors so bands with no direct bin don't gap.
	for i := range a.bands {
		v := a.bands[i]
		if i > 0 {
			v += a.bands[i-1] * 0.3
		}
		if i < numBands-1 {
			v += a.bands[i+1] * 0.3
		}
		if v > 1 {
			v = 1
		}
		a.spread[i] = v
	}

	out := make([]float32, numBands)
	for i := range a.smoothedBands {
		a.smoothedBands[i] = smoothingFactor*a.smoothedBands[i] + (1-smoothingFactor)*a.spread[i]
		out[i] = float32(a.smoothedBands[i])
	}

	return Spectrum{
		Bands: out,
		Peak:  float32(peak),
		RMS:   float32(math.Sqrt(sumSquares / fftSize)),
	}
}

// Reset clears buffered samples and smoothing so a new track starts from
// silence.
func (a *Analyzer) Reset() {
	a.bufferIndex = 0
	for i := range a.sampleBuffer {
		a.sampleBuffer[i] = 0
	}
	for i := range a.smoothedBands {
		a.smoothedBands[i] = 0
	}
}
