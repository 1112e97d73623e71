package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeFile decodes an audio file into a planar float32 buffer at
// the engine sample rate. WAV files are decoded natively and resampled
// if needed; every other format goes through FFmpeg.
func DecodeFile(path string) (*Buffer, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		buf, err := decodeWAV(path)
		if err == nil {
			return buf, nil
		}
		// Mislabeled or exotic WAV: let FFmpeg have a go at it.
	}
	return decodeFFmpeg(path)
}

func decodeWAV(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}
	if dec.NumChans < 1 {
		return nil, fmt.Errorf("unsupported channel count: %d", dec.NumChans)
	}

	var divisor float32
	switch dec.BitDepth {
	case 8:
		divisor = 128
	case 16:
		divisor = 32768
	case 24:
		divisor = 8388608
	case 32:
		divisor = 2147483648
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", dec.BitDepth)
	}

	channels := int(dec.NumChans)
	planar := make([][]float32, channels)

	chunk := &goaudio.IntBuffer{
		Data:   make([]int, 65536),
		Format: &goaudio.Format{SampleRate: int(dec.SampleRate), NumChannels: channels},
	}
	for {
		n, err := dec.PCMBuffer(chunk)
		if err != nil {
			return nil, fmt.Errorf("read PCM from %s: %w", path, err)
		}
		if n == 0 {
			break
		}
		for i := 0; i < n; i++ {
			ch := i % channels
			planar[ch] = append(planar[ch], float32(chunk.Data[i])/divisor)
		}
	}

	if int(dec.SampleRate) != SampleRate {
		for ch := range planar {
			planar[ch] = Resample(planar[ch], int(dec.SampleRate), SampleRate)
		}
	}
	return &Buffer{Samples: planar, SampleRate: SampleRate}, nil
}

// decodeFFmpeg runs FFmpeg to decode any supported format to raw PCM
// float32 samples, stereo, at the engine sample rate.
func decodeFFmpeg(path string) (*Buffer, error) {
	cmd := exec.Command("ffmpeg",
		"-i", path,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	// Trim to whole interleaved float32 frames.
	frameBytes := 4 * Channels
	out = out[:len(out)/frameBytes*frameBytes]

	frames := len(out) / frameBytes
	planar := make([][]float32, Channels)
	for ch := range planar {
		planar[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < Channels; ch++ {
			bits := binary.LittleEndian.Uint32(out[(i*Channels+ch)*4:])
			planar[ch][i] = math.Float32frombits(bits)
		}
	}

	return &Buffer{Samples: planar, SampleRate: SampleRate}, nil
}
