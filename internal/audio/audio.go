package audio

import "time"

const (
	// SampleRate is the engine output rate. 48kHz keeps the Opus monitor
	// encoder happy; the decoder resamples everything to it.
	SampleRate    = 48000
	Channels      = 2
	FrameDuration = 20 * time.Millisecond
	FrameSize     = SampleRate / 50      // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Buffer holds decoded audio as planar (one slice per channel) float32
// samples in [-1, 1], plus the rate it was decoded at.
type Buffer struct {
	Samples    [][]float32
	SampleRate int
}

// NumChannels returns the channel count of the buffer.
func (b *Buffer) NumChannels() int { return len(b.Samples) }

// NumFrames returns the per-channel sample count.
func (b *Buffer) NumFrames() int {
	if len(b.Samples) == 0 {
		return 0
	}
	return len(b.Samples[0])
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.NumFrames()) / float64(b.SampleRate)
}

// Mono returns a mono downmix of the buffer (average across channels).
// A one-channel buffer is returned as-is, not copied.
func (b *Buffer) Mono() []float32 {
	if len(b.Samples) == 0 {
		return nil
	}
	if len(b.Samples) == 1 {
		return b.Samples[0]
	}
	n := b.NumFrames()
	mono := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for _, ch := range b.Samples {
			sum += ch[i]
		}
		mono[i] = sum / float32(len(b.Samples))
	}
	return mono
}

// ClipToInt16 converts one float32 sample in [-1, 1] to int16, clipping
// anything outside the representable range.
func ClipToInt16(s float32) int16 {
	v := s * 32767
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// InterleaveInt16 converts a planar float32 block to interleaved int16,
// duplicating the last source channel when the block has fewer channels
// than requested. out must hold n*channels samples where n is the
// per-channel block length.
func InterleaveInt16(block [][]float32, out []int16, channels int) {
	if len(block) == 0 {
		for i := range out {
			out[i] = 0
		}
		return
	}
	n := len(block[0])
	for i := 0; i < n; i++ {
		for ch := 0; ch < channels; ch++ {
			src := ch
			if src >= len(block) {
				src = len(block) - 1
			}
			out[i*channels+ch] = ClipToInt16(block[src][i])
		}
	}
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(uint16(s) >> 8)
	}
	return buf
}
