package analysis

import "loopdeck/internal/audio"

// PeaksPerSecond is the fixed resolution of the waveform envelope.
const PeaksPerSecond = 100

// Peaks reduces a buffer to a peak envelope for display: one value per
// 10ms quantum, each the max |sample| across all channels in that
// quantum. Empty input yields empty output.
func Peaks(buf *audio.Buffer) []float32 {
	if buf == nil || buf.NumFrames() == 0 || buf.SampleRate <= 0 {
		return nil
	}

	quantum := buf.SampleRate / PeaksPerSecond
	if quantum < 1 {
		quantum = 1
	}

	frames := buf.NumFrames()
	out := make([]float32, 0, (frames+quantum-1)/quantum)

	for start := 0; start < frames; start += quantum {
		end := start + quantum
		if end > frames {
			end = frames
		}
		var peak float32
		for _, ch := range buf.Samples {
			for i := start; i < end; i++ {
				s := ch[i]
				if s < 0 {
					s = -s
				}
				if s > peak {
					peak = s
				}
			}
		}
		out = append(out, peak)
	}
	return out
}
