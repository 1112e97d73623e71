package stretch

import (
	"math"
	"testing"
)

func TestClampRatio(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1.0, 1.0},
		{0.5, 0.5},
		{0.1, MinRatio},
		{10, MaxRatio},
		{MinRatio, MinRatio},
		{MaxRatio, MaxRatio},
	}
	for _, tt := range tests {
		if got := ClampRatio(tt.in); got != tt.want {
			t.Errorf("ClampRatio(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetRatioClamps(t *testing.T) {
	w := NewWSOLA(48000, 1)
	w.SetRatio(100)
	if w.Ratio() != MaxRatio {
		t.Errorf("Ratio() = %v, want %v", w.Ratio(), MaxRatio)
	}
	w.SetRatio(0)
	if w.Ratio() != MinRatio {
		t.Errorf("Ratio() = %v, want %v", w.Ratio(), MinRatio)
	}
}

// sine returns n samples of a 100Hz tone at 48kHz. The period (480
// samples) fits the stretcher's seek window, so alignment search locks
// onto the true lag.
func sine(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(math.Sin(2 * math.Pi * 100 * float64(i) / 48000))
	}
	return s
}

func TestIdentityRatioPassesThrough(t *testing.T) {
	in := sine(48000)
	w := NewWSOLA(48000, 1)
	w.Feed([][]float32{in})

	n := 4800
	if w.Available() < n {
		t.Fatalf("Available() = %d, want at least %d", w.Available(), n)
	}
	dst := [][]float32{make([]float32, n)}
	if got := w.Drain(dst, n); got != n {
		t.Fatalf("Drain = %d, want %d", got, n)
	}
	for i := 0; i < n; i++ {
		if d := math.Abs(float64(dst[0][i] - in[i])); d > 1e-3 {
			t.Fatalf("sample %d: got %v, want %v", i, dst[0][i], in[i])
		}
	}
}

func TestOutputLengthTracksRatio(t *testing.T) {
	const n = 48000
	for _, ratio := range []float64{0.5, 2.0} {
		w := NewWSOLA(48000, 1)
		w.SetRatio(ratio)
		w.Feed([][]float32{sine(n)})

		// The stretcher holds back one analysis window plus the seek
		// range; everything before that point is stretched by the ratio.
		expected := ratio * float64(n-2*w.overlap-w.seek)
		got := float64(w.Available())
		if math.Abs(got-expected) > float64(2*w.overlap) {
			t.Errorf("ratio %v: Available() = %v, want about %v", ratio, got, expected)
		}
	}
}

func TestDrainPartial(t *testing.T) {
	w := NewWSOLA(48000, 1)
	w.Feed([][]float32{sine(48000)})

	total := w.Available()
	dst := [][]float32{make([]float32, 1000)}
	drained := 0
	for {
		n := w.Drain(dst, 1000)
		if n == 0 {
			break
		}
		drained += n
	}
	if drained != total {
		t.Errorf("drained %d in pieces, Available() said %d", drained, total)
	}
	if w.Available() != 0 {
		t.Errorf("Available() = %d after full drain, want 0", w.Available())
	}
}

func TestReset(t *testing.T) {
	w := NewWSOLA(48000, 1)
	w.Feed([][]float32{sine(48000)})
	if w.Available() == 0 {
		t.Fatal("no output before reset")
	}
	w.Reset()
	if w.Available() != 0 {
		t.Errorf("Available() = %d after Reset, want 0", w.Available())
	}

	// The stretcher must be reusable after a reset.
	w.Feed([][]float32{sine(48000)})
	if w.Available() == 0 {
		t.Error("no output after reset and refeed")
	}
}

func TestMonoFeedDuplicatedToStereo(t *testing.T) {
	w := NewWSOLA(48000, 2)
	w.Feed([][]float32{sine(48000)})

	n := w.Available()
	if n == 0 {
		t.Fatal("no output")
	}
	dst := [][]float32{make([]float32, n), make([]float32, n)}
	w.Drain(dst, n)
	for i := 0; i < n; i++ {
		if dst[0][i] != dst[1][i] {
			t.Fatalf("channels diverge at %d: %v vs %v", i, dst[0][i], dst[1][i])
		}
	}
}
