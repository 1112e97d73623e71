package engine

// The real-time render path for a single track. Called by the mixer
// once per audio block with the mixer lock held; takes the track lock
// for the duration of the block.

// ProcessBlock renders numSamples of this track additively into out
// (planar, any channel count) starting at offset. Unloaded and muted
// tracks render nothing. A mono source is duplicated across all output
// channels.
func (t *Track) ProcessBlock(out [][]float32, offset, numSamples int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.buf == nil || t.muted || numSamples <= 0 || len(out) == 0 {
		return
	}
	if offset < 0 || offset+numSamples > len(out[0]) {
		return
	}

	if d := t.stretchRatio - 1.0; d < directThreshold && d > -directThreshold {
		// Entering the direct band invalidates whatever the stretcher
		// has buffered from the old cursor position.
		if t.stretcher != nil {
			t.stretcher.Reset()
		}
		t.renderDirect(out, offset, numSamples)
	} else {
		t.renderStretched(out, offset, numSamples)
	}
}

// bounds returns the active loop bounds in source samples.
func (t *Track) bounds() (startSample, endSample int) {
	rate := float64(t.buf.SampleRate)
	total := t.buf.NumFrames()
	if t.loop != nil {
		startSample = int(t.loop.Start * rate)
		endSample = int(t.loop.End * rate)
		if endSample > total {
			endSample = total
		}
		return startSample, endSample
	}
	return 0, total
}

// renderDirect copies raw samples; used when the ratio is close enough
// to 1.0 that stretching would only add latency.
func (t *Track) renderDirect(out [][]float32, offset, numSamples int) {
	rate := float64(t.buf.SampleRate)
	startSample, endSample := t.bounds()
	if startSample >= endSample {
		return
	}

	writePos := offset
	remaining := numSamples
	for remaining > 0 {
		srcPos := int(t.cursor * rate)
		if srcPos < startSample {
			srcPos = startSample
		}
		if srcPos >= endSample {
			if !t.looping {
				return
			}
			t.cursor = float64(startSample) / rate
			continue
		}

		n := endSample - srcPos
		if n > remaining {
			n = remaining
		}
		t.addInto(out, writePos, t.buf.Samples, srcPos, n)

		t.cursor += float64(n) / rate
		writePos += n
		remaining -= n
	}
}

// renderStretched pumps raw samples through the stretcher and drains
// stretched output into the block. The cursor advances by the raw
// samples consumed, not by the output length. A loop wrap resets the
// stretcher so nothing stale bleeds across the seam.
func (t *Track) renderStretched(out [][]float32, offset, numSamples int) {
	if t.stretcher == nil {
		return
	}
	rate := float64(t.buf.SampleRate)
	startSample, endSample := t.bounds()
	scratch := t.scratchFor(numSamples)

	produced := 0
	for iter := 0; produced < numSamples && iter < 8; iter++ {
		n := t.stretcher.Drain(scratch, numSamples-produced)
		if n > 0 {
			t.addInto(out, offset+produced, scratch, 0, n)
			produced += n
			continue
		}

		srcPos := int(t.cursor * rate)
		if srcPos < startSample {
			srcPos = startSample
		}
		if srcPos >= endSample {
			if !t.looping {
				return
			}
			t.cursor = float64(startSample) / rate
			t.stretcher.Reset()
			srcPos = startSample
		}

		need := int(float64(numSamples-produced)/t.stretchRatio) + 1
		if srcPos+need > endSample {
			need = endSample - srcPos
		}
		if need <= 0 {
			return
		}

		feed := make([][]float32, len(t.buf.Samples))
		for ch := range feed {
			feed[ch] = t.buf.Samples[ch][srcPos : srcPos+need]
		}
		t.stretcher.Feed(feed)
		t.cursor += float64(need) / rate
	}
}

// addInto mixes n planar samples from src[srcPos:] into out at dstPos,
// volume-scaled, duplicating the last source channel when out has more
// channels than src.
func (t *Track) addInto(out [][]float32, dstPos int, src [][]float32, srcPos, n int) {
	for ch := range out {
		s := ch
		if s >= len(src) {
			s = len(src) - 1
		}
		dst := out[ch][dstPos : dstPos+n]
		from := src[s][srcPos : srcPos+n]
		for i := range dst {
			dst[i] += from[i] * t.volume
		}
	}
}

// scratchFor returns a per-track drain buffer with one slice per source
// channel, at least n samples long. Reused across blocks.
func (t *Track) scratchFor(n int) [][]float32 {
	channels := t.buf.NumChannels()
	if len(t.scratch) != channels || len(t.scratch[0]) < n {
		t.scratch = make([][]float32, channels)
		for ch := range t.scratch {
			t.scratch[ch] = make([]float32, n)
		}
	}
	for ch := range t.scratch {
		s := t.scratch[ch][:n]
		for i := range s {
			s[i] = 0
		}
	}
	return t.scratch
}
