package audio

import (
	"math"
	"testing"
)

func TestAnalyzerFramePerWindow(t *testing.T) {
	a := NewAnalyzer(44100)

	// One sample short of a window: no frame yet.
	mono := make([]float32, fftSize-1)
	if frames := a.Push(mono, 1); len(frames) != 0 {
		t.Fatalf("Got %d frames before the window filled", len(frames))
	}
	// The last sample completes it.
	if frames := a.Push([]float32{0}, 1); len(frames) != 1 {
		t.Fatalf("Got %d frames at window boundary, want 1", len(frames))
	}
}

func TestAnalyzerStereoDownmix(t *testing.T) {
	a := NewAnalyzer(44100)

	stereo := make([]float32, fftSize*2)
	frames := a.Push(stereo, 2)
	if len(frames) != 1 {
		t.Fatalf("Got %d frames for fftSize stereo frames, want 1", len(frames))
	}
	if len(frames[0].Bands) != numBands {
		t.Errorf("Frame has %d bands, want %d", len(frames[0].Bands), numBands)
	}
}

func TestAnalyzerSilenceVsTone(t *testing.T) {
	quiet := NewAnalyzer(44100)
	loud := NewAnalyzer(44100)

	silence := make([]float32, fftSize)
	tone := make([]float32, fftSize)
	for i := range tone {
		tone[i] = float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/44100))
	}

	qf := quiet.Push(silence, 1)[0]
	lf := loud.Push(tone, 1)[0]

	if qf.Peak != 0 || qf.RMS != 0 {
		t.Errorf("Silence frame peak/RMS = %v/%v, want 0/0", qf.Peak, qf.RMS)
	}
	if lf.Peak < 0.7 || lf.Peak > 0.81 {
		t.Errorf("Tone peak = %v, want about 0.8", lf.Peak)
	}
	if lf.RMS < 0.4 || lf.RMS > 0.7 {
		t.Errorf("Tone RMS = %v, want about 0.57", lf.RMS)
	}

	var qSum, lSum float32
	for i := range qf.Bands {
		qSum += qf.Bands[i]
		lSum += lf.Bands[i]
	}
	if lSum <= qSum {
		t.Errorf("Tone band energy %v not above silence %v", lSum, qSum)
	}
}

func TestAnalyzerReset(t *testing.T) {
	a := NewAnalyzer(44100)

	tone := make([]float32, fftSize)
	for i := range tone {
		tone[i] = float32(math.Sin(2 * math.Pi * 1000 * float64(i) / 44100))
	}
	a.Push(tone, 1)
	a.Reset()

	frame := a.Push(make([]float32, fftSize), 1)[0]
	for i, b := range frame.Bands {
		// Smoothing was cleared, so silence must not echo the old tone.
		if b > 0.05 {
			t.Fatalf("Band %d = %v after reset, want near 0", i, b)
		}
	}
}
