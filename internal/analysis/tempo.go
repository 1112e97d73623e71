package analysis

import (
	"math"

	"loopdeck/internal/audio"
)

// BPM estimation bounds. Anything outside this range is treated as a
// failed estimate and the next strategy in the cascade is tried.
const (
	MinBPM = 60.0
	MaxBPM = 200.0

	// DefaultBPM is the ultimate fallback when every strategy fails.
	DefaultBPM = 120.0
)

const (
	hopSize   = 512
	frameSize = 1024

	onsetThreshold = 0.3 // fraction of the curve maximum
	minOnsetGap    = 0.1 // seconds, shortest usable inter-onset interval
	maxOnsetGap    = 2.0 // seconds, longest usable inter-onset interval
	clusterTol     = 0.05

	octaveLow  = 70.0
	octaveHigh = 180.0
)

// Estimate is the result of the tempo cascade.
type Estimate struct {
	BPM    float64
	Method string
	// NeedsReview is set when no strategy produced an in-range value and
	// the default was used; the caller should surface it for manual
	// correction.
	NeedsReview bool
}

// tempoStrategy is one stage of the cascade. ok is false when the stage
// could not produce a usable estimate.
type tempoStrategy struct {
	name string
	fn   func(mono []float32, sampleRate int, duration float64) (bpm float64, ok bool)
}

var strategies = []tempoStrategy{
	{"onsets", estimateFromOnsets},
	{"autocorrelation", estimateFromAutocorrelation},
	{"duration", estimateFromDuration},
}

// EstimateTempo runs the strategy cascade over a decoded buffer and
// always returns a BPM in [MinBPM, MaxBPM]. Runs at load time, never on
// the real-time path.
func EstimateTempo(buf *audio.Buffer) Estimate {
	if buf == nil || buf.NumFrames() == 0 || buf.SampleRate <= 0 {
		return Estimate{BPM: DefaultBPM, Method: "default", NeedsReview: true}
	}

	mono := buf.Mono()
	dur := buf.Duration()

	for _, s := range strategies {
		if bpm, ok := s.fn(mono, buf.SampleRate, dur); ok && inRange(bpm) {
			return Estimate{BPM: bpm, Method: s.name}
		}
	}
	return Estimate{BPM: DefaultBPM, Method: "default", NeedsReview: true}
}

func inRange(bpm float64) bool { return bpm >= MinBPM && bpm <= MaxBPM }

// correctOctave folds an estimate into the plausible tempo octave.
func correctOctave(bpm float64) float64 {
	if bpm <= 0 {
		return bpm
	}
	for bpm < octaveLow {
		bpm *= 2
	}
	for bpm > octaveHigh {
		bpm /= 2
	}
	return bpm
}

// onsetStrength computes the half-wave rectified frame-energy difference
// curve: one value per hop, frames of frameSize samples.
func onsetStrength(mono []float32) []float64 {
	if len(mono) < frameSize {
		return nil
	}
	hops := (len(mono) - frameSize) / hopSize
	if hops < 2 {
		return nil
	}

	energy := make([]float64, hops)
	for k := 0; k < hops; k++ {
		start := k * hopSize
		var sum float64
		for i := start; i < start+frameSize; i++ {
			s := float64(mono[i])
			sum += s * s
		}
		energy[k] = math.Sqrt(sum / frameSize)
	}

	flux := make([]float64, hops)
	for k := 1; k < hops; k++ {
		if d := energy[k] - energy[k-1]; d > 0 {
			flux[k] = d
		}
	}
	return flux
}

// estimateFromOnsets picks onset times off the strength curve, clusters
// the inter-onset intervals and takes the modal cluster's mean interval
// as the beat period.
func estimateFromOnsets(mono []float32, sampleRate int, _ float64) (float64, bool) {
	flux := onsetStrength(mono)
	if len(flux) == 0 {
		return 0, false
	}

	var peak float64
	for _, v := range flux {
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		return 0, false
	}
	threshold := onsetThreshold * peak

	secondsPerHop := float64(hopSize) / float64(sampleRate)
	var onsets []float64
	for k := 1; k < len(flux)-1; k++ {
		if flux[k] >= threshold && flux[k] > flux[k-1] && flux[k] >= flux[k+1] {
			onsets = append(onsets, float64(k)*secondsPerHop)
		}
	}
	if len(onsets) < 4 {
		return 0, false
	}

	var intervals []float64
	for i := 1; i < len(onsets); i++ {
		if gap := onsets[i] - onsets[i-1]; gap >= minOnsetGap && gap <= maxOnsetGap {
			intervals = append(intervals, gap)
		}
	}
	if len(intervals) < 4 {
		return 0, false
	}

	// Cluster intervals within the tolerance and keep the modal cluster.
	type cluster struct {
		sum   float64
		count int
	}
	var clusters []cluster
	for _, gap := range intervals {
		matched := false
		for i := range clusters {
			mean := clusters[i].sum / float64(clusters[i].count)
			if math.Abs(gap-mean) <= clusterTol {
				clusters[i].sum += gap
				clusters[i].count++
				matched = true
				break
			}
		}
		if !matched {
			clusters = append(clusters, cluster{sum: gap, count: 1})
		}
	}

	best := clusters[0]
	for _, c := range clusters[1:] {
		if c.count > best.count {
			best = c
		}
	}

	period := best.sum / float64(best.count)
	if period <= 0 {
		return 0, false
	}
	return correctOctave(60.0 / period), true
}

// estimateFromAutocorrelation autocorrelates the onset-strength curve
// over lags corresponding to the BPM range and takes the strongest lag
// as the beat period.
func estimateFromAutocorrelation(mono []float32, sampleRate int, _ float64) (float64, bool) {
	flux := onsetStrength(mono)
	if len(flux) == 0 {
		return 0, false
	}

	hopsPerSecond := float64(sampleRate) / float64(hopSize)
	minLag := int(hopsPerSecond * 60.0 / MaxBPM)
	maxLag := int(hopsPerSecond * 60.0 / MinBPM)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag > len(flux)/2 {
		maxLag = len(flux) / 2
	}
	if minLag >= maxLag {
		return 0, false
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := 0; i+lag < len(flux); i++ {
			corr += flux[i] * flux[i+lag]
		}
		corr /= float64(len(flux) - lag)
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestLag == 0 || bestCorr <= 0 {
		return 0, false
	}

	period := float64(bestLag) / hopsPerSecond
	return correctOctave(60.0 / period), true
}

// estimateFromDuration assumes the clip is an exact loop of 4, 8, 16 or
// 32 beats and picks the candidate tempo that lands in a musical range.
func estimateFromDuration(_ []float32, _ int, duration float64) (float64, bool) {
	if duration <= 0 {
		return 0, false
	}

	candidates := []float64{4, 8, 16, 32}

	// Prefer the comfortable middle of the range.
	for _, beats := range candidates {
		bpm := beats * 60.0 / duration
		if bpm >= 65 && bpm <= 150 {
			return bpm, true
		}
	}
	for _, beats := range candidates {
		bpm := beats * 60.0 / duration
		if inRange(bpm) {
			return bpm, true
		}
	}
	return 0, false
}
