// Package ring provides a lock-free single-producer, single-consumer ring
// buffer of float32 audio samples. It bridges the decode goroutine and the
// real-time output callback: the producer side may retry on full, the
// consumer side never blocks.
package ring

import "sync/atomic"

// Buffer is a lock-free SPSC ring of float32 samples.
//
// It uses two monotonically increasing atomic counters (writePos, readPos)
// and a power-of-2 sized buffer with bitwise masking. No mutexes, no CAS
// loops, just atomic loads and stores: the producer stores writePos after
// copying data in, the consumer loads writePos before copying data out, so
// the consumer always observes fully written samples.
//
// Thread assignment:
//   - Write, Free: producer goroutine only
//   - Read, Discard: consumer (output callback) only
//   - Len, Cap, FillPercent: any thread (snapshot values)
type Buffer struct {
	// Cursors sit on separate cache lines to avoid false sharing between
	// the producer and consumer cores.
	writePos atomic.Uint64
	_        [56]byte
	readPos  atomic.Uint64
	_        [56]byte

	buf  []float32
	mask uint64
}

// New creates a ring buffer holding at least minSamples samples. The
// capacity is rounded up to the next power of two.
func New(minSamples int) *Buffer {
	size := 1
	for size < minSamples {
		size <<= 1
	}
	return &Buffer{
		buf:  make([]float32, size),
		mask: uint64(size - 1),
	}
}

// Write copies up to len(src) samples into the buffer and returns the
// number actually written. Never overwrites unread samples; returns 0 when
// full. Producer side only.
func (b *Buffer) Write(src []float32) int {
	w := b.writePos.Load()
	r := b.readPos.Load()

	free := uint64(len(b.buf)) - (w - r)
	if free == 0 {
		return 0
	}

	n := uint64(len(src))
	if n > free {
		n = free
	}

	pos := w & b.mask
	first := uint64(len(b.buf)) - pos
	if first >= n {
		copy(b.buf[pos:pos+n], src[:n])
	} else {
		copy(b.buf[pos:], src[:first])
		copy(b.buf[:n-first], src[first:n])
	}

	b.writePos.Store(w + n)
	return int(n)
}

// Read copies up to len(dst) samples out of the buffer and returns the
// number actually read. Returns 0 when empty. Consumer side only.
func (b *Buffer) Read(dst []float32) int {
	r := b.readPos.Load()
	w := b.writePos.Load()

	available := w - r
	if available == 0 {
		return 0
	}

	n := uint64(len(dst))
	if n > available {
		n = available
	}

	pos := r & b.mask
	first := uint64(len(b.buf)) - pos
	if first >= n {
		copy(dst[:n], b.buf[pos:pos+n])
	} else {
		copy(dst[:first], b.buf[pos:])
		copy(dst[first:n], b.buf[:n-first])
	}

	b.readPos.Store(r + n)
	return int(n)
}

// Discard drops every sample currently available and returns how many were
// dropped. Used by the output callback while a flush is in progress.
// Consumer side only.
func (b *Buffer) Discard() int {
	r := b.readPos.Load()
	w := b.writePos.Load()
	b.readPos.Store(w)
	return int(w - r)
}

// Len returns the number of samples available to read.
func (b *Buffer) Len() int {
	return int(b.writePos.Load() - b.readPos.Load())
}

// Free returns the number of samples that can be written without blocking.
func (b *Buffer) Free() int {
	return len(b.buf) - b.Len()
}

// Cap returns the total capacity in samples.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// FillPercent returns how full the buffer is, 0-100.
func (b *Buffer) FillPercent() int {
	return b.Len() * 100 / len(b.buf)
}
