package stretch

// WSOLA is a waveform-similarity overlap-add time stretcher. Input is
// consumed in overlapping segments; each iteration emits one overlap's
// worth of output, cross-faded against the tail of the previous
// segment at the offset that lines the waveforms up best. Advancing the
// input read position by overlap/ratio per iteration yields the
// requested output/input duration ratio.
type WSOLA struct {
	sampleRate int
	channels   int
	ratio      float64

	overlap int // samples emitted per iteration (~40ms)
	seek    int // max alignment search offset (~10ms)

	in    [][]float32 // accumulated raw input, per channel
	inPos float64     // ideal analysis position into in
	tail  [][]float32 // last overlap of synthesized output, nil until primed
	out   [][]float32 // FIFO of stretched output, per channel
}

// NewWSOLA creates a stretcher for the given stream format.
func NewWSOLA(sampleRate, channels int) *WSOLA {
	if channels < 1 {
		channels = 1
	}
	w := &WSOLA{
		sampleRate: sampleRate,
		channels:   channels,
		ratio:      1.0,
		overlap:    sampleRate / 25,
		seek:       sampleRate / 100,
	}
	if w.overlap < 64 {
		w.overlap = 64
	}
	if w.seek < 16 {
		w.seek = 16
	}
	w.in = make([][]float32, channels)
	w.out = make([][]float32, channels)
	return w
}

// SetRatio changes the stretch ratio. Takes effect on the next
// iteration; no internal buffers are reallocated.
func (w *WSOLA) SetRatio(ratio float64) { w.ratio = ClampRatio(ratio) }

// Ratio returns the current stretch ratio.
func (w *WSOLA) Ratio() float64 { return w.ratio }

// Feed appends a planar block of raw samples and synthesizes as much
// output as the accumulated input allows.
func (w *WSOLA) Feed(block [][]float32) {
	if len(block) == 0 {
		return
	}
	for ch := 0; ch < w.channels; ch++ {
		src := ch
		if src >= len(block) {
			src = len(block) - 1
		}
		w.in[ch] = append(w.in[ch], block[src]...)
	}
	w.synthesize()
}

// Available returns the number of stretched samples ready to drain.
func (w *WSOLA) Available() int { return len(w.out[0]) }

// Drain copies up to max stretched samples into dst (planar, one slice
// per channel) and returns how many were written.
func (w *WSOLA) Drain(dst [][]float32, max int) int {
	n := w.Available()
	if n > max {
		n = max
	}
	if len(dst) > 0 && n > len(dst[0]) {
		n = len(dst[0])
	}
	if n <= 0 {
		return 0
	}
	for ch := 0; ch < w.channels; ch++ {
		if ch < len(dst) {
			copy(dst[ch][:n], w.out[ch][:n])
		}
		w.out[ch] = w.out[ch][:copy(w.out[ch], w.out[ch][n:])]
	}
	return n
}

// Reset drops all buffered input and output, e.g. on a loop wrap, so no
// stale audio bleeds across the seam.
func (w *WSOLA) Reset() {
	for ch := range w.in {
		w.in[ch] = w.in[ch][:0]
		w.out[ch] = w.out[ch][:0]
	}
	w.tail = nil
	w.inPos = 0
}

func (w *WSOLA) synthesize() {
	window := 2 * w.overlap
	for {
		base := int(w.inPos)
		if base+w.seek+window > len(w.in[0]) {
			break
		}

		offset := 0
		if w.tail != nil {
			offset = w.bestOffset(base)
		}

		for ch := 0; ch < w.channels; ch++ {
			seg := w.in[ch][base+offset : base+offset+window]
			if w.tail == nil {
				w.out[ch] = append(w.out[ch], seg[:w.overlap]...)
			} else {
				for i := 0; i < w.overlap; i++ {
					f := float32(i) / float32(w.overlap)
					w.out[ch] = append(w.out[ch], w.tail[ch][i]*(1-f)+seg[i]*f)
				}
			}
		}
		if w.tail == nil {
			w.tail = make([][]float32, w.channels)
			for ch := range w.tail {
				w.tail[ch] = make([]float32, w.overlap)
			}
		}
		for ch := 0; ch < w.channels; ch++ {
			copy(w.tail[ch], w.in[ch][base+offset+w.overlap:base+offset+window])
		}

		w.inPos += float64(w.overlap) / w.ratio
	}
	w.compact()
}

// bestOffset searches [0, seek) for the segment start whose first
// overlap correlates best with the pending tail.
func (w *WSOLA) bestOffset(base int) int {
	best, bestScore := 0, float32(0)
	first := true
	for off := 0; off < w.seek; off++ {
		var score float32
		for ch := 0; ch < w.channels; ch++ {
			seg := w.in[ch][base+off:]
			tail := w.tail[ch]
			// Stride through the overlap; full resolution buys nothing
			// audible here.
			for i := 0; i < w.overlap; i += 4 {
				score += tail[i] * seg[i]
			}
		}
		if first || score > bestScore {
			best, bestScore = off, score
			first = false
		}
	}
	return best
}

// compact drops consumed input so the buffer does not grow without
// bound during long playback.
func (w *WSOLA) compact() {
	const threshold = 1 << 14
	drop := int(w.inPos)
	if drop < threshold {
		return
	}
	for ch := range w.in {
		w.in[ch] = w.in[ch][:copy(w.in[ch], w.in[ch][drop:])]
	}
	w.inPos -= float64(drop)
}
