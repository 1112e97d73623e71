// Package stretch provides ratio-based time stretching (pitch held
// constant) for the playback engine. The engine talks to the Stretcher
// interface; the shipped implementation is a WSOLA overlap-add
// stretcher.
package stretch

// Ratio bounds accepted by any Stretcher. A ratio is output duration
// over input duration: 2.0 plays twice as long, 0.5 twice as fast.
const (
	MinRatio = 0.25
	MaxRatio = 4.0
)

// Stretcher is a streaming time-stretch engine. Feed pushes raw planar
// samples in, Drain pulls stretched samples out. SetRatio may be called
// between blocks without reallocation.
type Stretcher interface {
	SetRatio(ratio float64)
	Ratio() float64
	Feed(block [][]float32)
	Available() int
	Drain(dst [][]float32, max int) int
	Reset()
}

// ClampRatio clamps a requested ratio into the supported range.
func ClampRatio(r float64) float64 {
	if r < MinRatio {
		return MinRatio
	}
	if r > MaxRatio {
		return MaxRatio
	}
	return r
}
