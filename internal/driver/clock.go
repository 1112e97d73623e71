// Package driver pumps audio blocks out of the mixer. Two drivers are
// provided: Device plays through the system's audio output via
// miniaudio, Clock renders against the wall clock for headless use.
// Exactly one driver runs at a time; both tee 20ms interleaved int16
// frames into a channel for the monitor broadcaster.
package driver

import (
	"context"
	"time"

	"loopdeck/internal/audio"
	"loopdeck/internal/engine"
)

// Clock renders the mix at real-time rate without an audio device.
type Clock struct {
	mixer  *engine.Mixer
	frames chan []int16
}

// NewClock creates a wall-clock driver.
func NewClock(m *engine.Mixer) *Clock {
	return &Clock{
		mixer:  m,
		frames: make(chan []int16, 100),
	}
}

// Frames returns the channel of rendered 20ms PCM frames.
func (c *Clock) Frames() <-chan []int16 {
	return c.frames
}

// Run renders one frame per tick until ctx is cancelled.
func (c *Clock) Run(ctx context.Context) {
	defer close(c.frames)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	block := make([][]float32, audio.Channels)
	for ch := range block {
		block[ch] = make([]float32, audio.FrameSize)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mixer.ProcessBlock(block, 0, audio.FrameSize)

		frame := make([]int16, audio.FrameSamples)
		audio.InterleaveInt16(block, frame, audio.Channels)

		select {
		case c.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}
