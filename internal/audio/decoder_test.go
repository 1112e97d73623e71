package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeTestWAV(t *testing.T, path string, samples []int, sampleRate, channels int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	err = enc.Write(&goaudio.IntBuffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: 16,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")

	// 100ms 440Hz sine, mono, at the engine rate so no resampling kicks in.
	n := SampleRate / 10
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(16000 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}
	writeTestWAV(t, path, samples, SampleRate, 1)

	buf, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if buf.SampleRate != SampleRate {
		t.Errorf("SampleRate = %d, want %d", buf.SampleRate, SampleRate)
	}
	if buf.NumChannels() != 1 {
		t.Fatalf("NumChannels = %d, want 1", buf.NumChannels())
	}
	if buf.NumFrames() != n {
		t.Fatalf("NumFrames = %d, want %d", buf.NumFrames(), n)
	}
	for i := 0; i < n; i += 97 {
		want := float32(samples[i]) / 32768
		if got := buf.Samples[0][i]; math.Abs(float64(got-want)) > 1e-4 {
			t.Fatalf("sample[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestDecodeWAVStereoPlanar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")

	// Left channel constant positive, right constant negative, so any
	// deinterleave mistake shows up immediately.
	const frames = 480
	samples := make([]int, frames*2)
	for i := 0; i < frames; i++ {
		samples[i*2] = 8000
		samples[i*2+1] = -8000
	}
	writeTestWAV(t, path, samples, SampleRate, 2)

	buf, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if buf.NumChannels() != 2 || buf.NumFrames() != frames {
		t.Fatalf("got %d channels x %d frames", buf.NumChannels(), buf.NumFrames())
	}
	if buf.Samples[0][100] <= 0 || buf.Samples[1][100] >= 0 {
		t.Errorf("channel split wrong: L=%v R=%v", buf.Samples[0][100], buf.Samples[1][100])
	}
}

func TestDecodeMissingFile(t *testing.T) {
	if _, err := DecodeFile(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}
