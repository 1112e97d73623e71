package engine

import "math"

// Metronome click synthesis: a 2kHz sine burst with a fast squared
// decay, 10ms long. The mixer drives the phase from its transport
// clock; one click per beat.
const (
	clickDuration = 0.010 // seconds
	clickFreq     = 2000.0
	clickGain     = 0.5
)

// ClickSample returns the click amplitude at the given phase (seconds
// since the beat), before user volume is applied. Zero once the click
// has decayed.
func ClickSample(phase float64) float32 {
	if phase < 0 || phase >= clickDuration {
		return 0
	}
	env := 1 - phase/clickDuration
	return float32(math.Sin(2*math.Pi*clickFreq*phase) * env * env * clickGain)
}
