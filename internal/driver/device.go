package driver

import (
	"fmt"
	"runtime"

	"github.com/gen2brain/malgo"

	"loopdeck/internal/audio"
	"loopdeck/internal/engine"
)

// Device plays the mix through the default system output via
// miniaudio. The audio backend invokes the data callback with a buffer
// to fill; that callback is the engine's real-time thread.
type Device struct {
	mixer  *engine.Mixer
	frames chan []int16

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	block   [][]float32
	scratch []int16
}

// NewDevice initializes the platform audio backend and opens the
// default playback device at the engine format. The returned device is
// not started yet.
func NewDevice(m *engine.Mixer) (*Device, error) {
	var backend malgo.Backend
	switch runtime.GOOS {
	case "linux":
		backend = malgo.BackendAlsa
	case "windows":
		backend = malgo.BackendWasapi
	case "darwin":
		backend = malgo.BackendCoreaudio
	}

	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio context init: %w", err)
	}

	d := &Device{
		mixer:  m,
		frames: make(chan []int16, 100),
		ctx:    ctx,
		block:  make([][]float32, audio.Channels),
	}
	for ch := range d.block {
		d.block[ch] = make([]float32, audio.FrameSize)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = audio.Channels
	deviceConfig.SampleRate = audio.SampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: d.onData,
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("playback device init: %w", err)
	}
	d.device = device
	return d, nil
}

// Frames returns the channel of rendered PCM frames for the monitor
// broadcaster. Frames are dropped, not blocked on, if nobody reads.
func (d *Device) Frames() <-chan []int16 {
	return d.frames
}

// Start begins playback callbacks.
func (d *Device) Start() error {
	if err := d.device.Start(); err != nil {
		return fmt.Errorf("playback device start: %w", err)
	}
	return nil
}

// Close stops the device and tears down the backend context.
func (d *Device) Close() {
	if d.device != nil {
		_ = d.device.Stop()
		d.device.Uninit()
	}
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
	}
	close(d.frames)
}

// onData fills the backend's output buffer with the next mix block and
// tees a copy to the monitor channel. Must not block: the tee is
// best-effort.
func (d *Device) onData(pOutput, _ []byte, frameCount uint32) {
	n := int(frameCount)
	if n > len(d.block[0]) {
		for ch := range d.block {
			d.block[ch] = make([]float32, n)
		}
	}
	if len(d.scratch) < n*audio.Channels {
		d.scratch = make([]int16, n*audio.Channels)
	}

	view := make([][]float32, len(d.block))
	for ch := range d.block {
		view[ch] = d.block[ch][:n]
	}
	d.mixer.ProcessBlock(view, 0, n)

	out := d.scratch[:n*audio.Channels]
	audio.InterleaveInt16(view, out, audio.Channels)
	for i, s := range out {
		pOutput[i*2] = byte(s)
		pOutput[i*2+1] = byte(uint16(s) >> 8)
	}

	frame := make([]int16, len(out))
	copy(frame, out)
	select {
	case d.frames <- frame:
	default:
		// monitor not keeping up, drop the frame
	}
}
