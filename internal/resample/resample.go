// Package resample converts interleaved audio between sample rates using
// Catmull-Rom cubic interpolation over a four-frame window, with a one-pole
// low-pass applied when downsampling. When source and destination rates
// match the converter is a zero-cost passthrough.
package resample

// Converter resamples interleaved float32 blocks pushed through Process.
//
// The window holds the last four source frames [t-1, t0, t+1, t+2]; output
// frames are interpolated between t0 and t+1 at fractional position pos,
// which advances by srcRate/dstRate per output frame. Not safe for
// concurrent use; the decode goroutine owns it.
type Converter struct {
	srcRate  int
	dstRate  int
	channels int
	ratio    float64 // source frames consumed per output frame

	window [4][]float32
	seen   int
	pos    float64

	filterState []float32
	filterAlpha float32
	useFilter   bool

	out []float32
}

// New creates a converter from srcRate to dstRate for the given channel
// count. If the rates match, Process returns its input untouched.
func New(srcRate, dstRate, channels int) *Converter {
	c := &Converter{
		srcRate:  srcRate,
		dstRate:  dstRate,
		channels: channels,
		ratio:    float64(srcRate) / float64(dstRate),
	}
	if srcRate == dstRate {
		return c
	}

	for i := range c.window {
		c.window[i] = make([]float32, channels)
	}
	// One-pole low-pass keeps aliasing down when reducing the rate.
	if c.ratio > 1.0 {
		c.useFilter = true
		c.filterAlpha = 0.5
		c.filterState = make([]float32, channels)
	}
	return c
}

// Active reports whether any rate conversion happens.
func (c *Converter) Active() bool {
	return c.srcRate != c.dstRate
}

// Ratio returns dstRate/srcRate, the output frames produced per input frame.
func (c *Converter) Ratio() float64 {
	return float64(c.dstRate) / float64(c.srcRate)
}

// Process converts a block of interleaved samples. The returned slice is
// owned by the converter and valid until the next call; callers must copy
// out of it before processing more. Passthrough mode returns in directly.
func (c *Converter) Process(in []float32) []float32 {
	if !c.Active() {
		return in
	}

	frames := len(in) / c.channels
	want := int(float64(frames)/c.ratio) + 8
	if cap(c.out) < want*c.channels {
		c.out = make([]float32, 0, want*c.channels)
	}
	c.out = c.out[:0]

	for f := 0; f < frames; f++ {
		c.push(in[f*c.channels : (f+1)*c.channels])
		c.emit()
	}
	return c.out
}

// Flush produces the output frames for the final inter-frame interval.
// Call once at end of stream; the returned slice follows Process ownership
// rules.
func (c *Converter) Flush() []float32 {
	if !c.Active() || c.seen < 3 {
		return nil
	}
	c.out = c.out[:0]
	// Repeating the last frame lets the window slide over the last real
	// interval.
	c.push(c.window[3])
	c.emit()
	return c.out
}

// Reset clears interpolation and filter state. Called after a seek so
// pre-seek samples cannot bleed into the new position.
func (c *Converter) Reset() {
	if !c.Active() {
		return
	}
	c.seen = 0
	c.pos = 0
	for i := range c.filterState {
		c.filterState[i] = 0
	}
}

// push shifts the window left and appends one source frame, filtering it
// when downsampling.
func (c *Converter) push(frame []float32) {
	w0 := c.window[0]
	c.window[0] = c.window[1]
	c.window[1] = c.window[2]
	c.window[2] = c.window[3]
	c.window[3] = w0
	copy(c.window[3], frame)

	if c.useFilter {
		if c.seen == 0 {
			copy(c.filterState, frame)
		}
		for ch := 0; ch < c.channels; ch++ {
			// y[n] = alpha*x[n] + (1-alpha)*y[n-1]
			c.window[3][ch] = c.filterAlpha*c.window[3][ch] + (1-c.filterAlpha)*c.filterState[ch]
			c.filterState[ch] = c.window[3][ch]
		}
	}

	if c.seen == 0 {
		// Prime the whole window with the first frame so edge
		// interpolation has sane neighbors.
		for i := 0; i < 3; i++ {
			copy(c.window[i], c.window[3])
		}
	}
	c.seen++
	if c.seen >= 4 {
		c.pos -= 1.0
	}
}

// emit appends every output frame due for the current window position.
func (c *Converter) emit() {
	if c.seen < 3 {
		return
	}
	for c.pos < 1.0 {
		x := float32(c.pos)
		for ch := 0; ch < c.channels; ch++ {
			c.out = append(c.out, cubic(
				c.window[0][ch],
				c.window[1][ch],
				c.window[2][ch],
				c.window[3][ch],
				x,
			))
		}
		c.pos += c.ratio
	}
}

// cubic evaluates a Catmull-Rom spline through four consecutive samples at
// fractional position x between y1 and y2.
func cubic(y0, y1, y2, y3, x float32) float32 {
	a0 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
	a1 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
	a2 := -0.5*y0 + 0.5*y2
	a3 := y1

	return a0*x*x*x + a1*x*x + a2*x + a3
}
