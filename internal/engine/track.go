package engine

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"loopdeck/internal/analysis"
	"loopdeck/internal/audio"
	"loopdeck/internal/stretch"
)

// directThreshold is how close the stretch ratio must be to 1.0 for the
// engine to skip the stretcher and copy raw samples.
const directThreshold = 0.02

// ratioEpsilon is the minimum ratio change worth reconfiguring the
// stretcher for; continuous sliders spam values below this.
const ratioEpsilon = 0.001

// LoopRegion is an optional sub-range of a track's timeline, in
// seconds. When set, playback loops over [Start, End) instead of the
// full track.
type LoopRegion struct {
	Start, End float64
}

// TrackStatus is a consistent snapshot of a track's state, taken under
// the track lock, for UI polling.
type TrackStatus struct {
	Loaded       bool       `json:"loaded"`
	Name         string     `json:"name"`
	Duration     float64    `json:"duration"`
	Position     float64    `json:"position"`
	BPM          float64    `json:"bpm"`
	BPMMethod    string     `json:"bpm_method"`
	NeedsReview  bool       `json:"bpm_needs_review"`
	StretchRatio float64    `json:"stretch_ratio"`
	Muted        bool       `json:"muted"`
	Solo         bool       `json:"solo"`
	Volume       float64    `json:"volume"`
	Looping      bool       `json:"looping"`
	Loop         *LoopRegion `json:"loop,omitempty"`
}

// Track owns one loaded audio buffer and everything needed to play it
// back in sync with the master tempo. One exclusive lock guards all
// mutable state; the real-time ProcessBlock and the UI-facing setters
// share it, so a UI edit can never race a render.
type Track struct {
	mu sync.Mutex

	buf   *audio.Buffer
	name  string
	peaks []float32

	cursor       float64 // seconds into the source material
	stretchRatio float64
	detectedBPM  float64
	bpmMethod    string
	needsReview  bool
	masterBPM    float64 // last master tempo communicated to this track

	loop    *LoopRegion
	looping bool

	muted  bool
	solo   bool
	volume float32

	stretcher stretch.Stretcher
	scratch   [][]float32
}

// NewTrack returns an empty, unloaded track.
func NewTrack() *Track {
	return &Track{
		stretchRatio: 1.0,
		volume:       1.0,
		looping:      true,
	}
}

// LoadFile decodes a file and loads it into the track. Decode and
// analysis run without the lock; only the final state swap is
// lock-protected, so an in-flight render stalls for microseconds, not
// for the length of a decode. On failure the track keeps its previous
// state.
func (t *Track) LoadFile(path string) error {
	buf, err := audio.DecodeFile(path)
	if err != nil {
		return fmt.Errorf("load track: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	t.LoadBuffer(name, buf)
	return nil
}

// LoadBuffer installs an already-decoded buffer. Peak extraction and
// tempo analysis run before the lock is taken.
func (t *Track) LoadBuffer(name string, buf *audio.Buffer) {
	peaks := analysis.Peaks(buf)
	est := analysis.EstimateTempo(buf)
	st := stretch.NewWSOLA(buf.SampleRate, buf.NumChannels())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = buf
	t.name = name
	t.peaks = peaks
	t.cursor = 0
	t.stretchRatio = 1.0
	t.detectedBPM = est.BPM
	t.bpmMethod = est.Method
	t.needsReview = est.NeedsReview
	t.loop = nil
	t.stretcher = st
	t.scratch = nil
}

// IsLoaded reports whether the track holds audio.
func (t *Track) IsLoaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf != nil
}

// Name returns the display name (file base name).
func (t *Track) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// Duration returns the source duration in seconds, 0 if unloaded.
func (t *Track) Duration() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.durationLocked()
}

func (t *Track) durationLocked() float64 {
	if t.buf == nil {
		return 0
	}
	return t.buf.Duration()
}

// Peaks returns the waveform envelope computed at load time.
func (t *Track) Peaks() []float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peaks
}

// DetectedBPM returns the estimated or manually-set tempo.
func (t *Track) DetectedBPM() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.detectedBPM
}

// SetDetectedBPM applies a manual tempo override. Values outside the
// estimator range are ignored. The override is treated like an
// estimate: the stretch ratio is recomputed against the cached master
// tempo, and future tempo changes scale it rather than overwrite it.
func (t *Track) SetDetectedBPM(bpm float64) {
	if bpm < analysis.MinBPM || bpm > analysis.MaxBPM {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detectedBPM = bpm
	t.bpmMethod = "manual"
	t.needsReview = false
	if t.masterBPM > 0 {
		t.setRatioLocked(bpm / t.masterBPM)
	}
}

// StretchRatio returns the current stretch ratio.
func (t *Track) StretchRatio() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stretchRatio
}

// SetStretchRatio clamps and applies a requested ratio. Changes smaller
// than ratioEpsilon are dropped to avoid pointless stretcher churn.
func (t *Track) SetStretchRatio(ratio float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ratio = stretch.ClampRatio(ratio)
	if diff := ratio - t.stretchRatio; diff < ratioEpsilon && diff > -ratioEpsilon {
		return
	}
	t.setRatioLocked(ratio)
}

// ScaleStretchRatio multiplies the current ratio by k, preserving any
// manual adjustment proportionally when the master tempo moves.
func (t *Track) ScaleStretchRatio(k float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setRatioLocked(t.stretchRatio * k)
}

func (t *Track) setRatioLocked(ratio float64) {
	t.stretchRatio = stretch.ClampRatio(ratio)
	if t.stretcher != nil {
		t.stretcher.SetRatio(t.stretchRatio)
	}
}

// syncToMaster records the master tempo and derives the stretch ratio
// from the detected tempo. Called by the mixer when a track loads into
// an established session.
func (t *Track) syncToMaster(master float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.masterBPM = master
	if t.detectedBPM > 0 && master > 0 {
		t.setRatioLocked(t.detectedBPM / master)
	}
}

// setCachedMaster updates the remembered master tempo without touching
// the ratio (the mixer has already scaled it).
func (t *Track) setCachedMaster(master float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.masterBPM = master
}

// pinRatio forces the ratio to 1.0; used for the track that defines the
// session's initial master tempo.
func (t *Track) pinRatio() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setRatioLocked(1.0)
}

// SetLoopRegion constrains looping to [start, end). Invalid bounds are
// ignored and the previous region kept. The cursor is snapped into the
// new region if it falls outside.
func (t *Track) SetLoopRegion(start, end float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	dur := t.durationLocked()
	if dur <= 0 || start < 0 || start >= end || end > dur {
		return
	}
	// The region must span at least one source sample, or the render
	// loop would wrap in place forever.
	rate := float64(t.buf.SampleRate)
	if int(end*rate) <= int(start*rate) {
		return
	}
	t.loop = &LoopRegion{Start: start, End: end}
	if t.cursor < start || t.cursor > end {
		t.cursor = start
		if t.stretcher != nil {
			t.stretcher.Reset()
		}
	}
}

// ClearLoopRegion removes the constraint; full-track looping resumes.
func (t *Track) ClearLoopRegion() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loop = nil
}

// Loop returns the active loop region, or nil.
func (t *Track) Loop() *LoopRegion {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loop == nil {
		return nil
	}
	r := *t.loop
	return &r
}

// SetPosition seeks to t seconds, clamped into the loop region when one
// is set, else into [0, duration].
func (t *Track) SetPosition(pos float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lo, hi := 0.0, t.durationLocked()
	if t.loop != nil {
		lo, hi = t.loop.Start, t.loop.End
	}
	if pos < lo {
		pos = lo
	}
	if pos > hi {
		pos = hi
	}
	t.cursor = pos
	if t.stretcher != nil {
		t.stretcher.Reset()
	}
}

// Position returns the playback cursor in seconds.
func (t *Track) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// rewind moves the cursor to the loop start (or 0) and clears stretcher
// state; used by the transport's stop.
func (t *Track) rewind() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loop != nil {
		t.cursor = t.loop.Start
	} else {
		t.cursor = 0
	}
	if t.stretcher != nil {
		t.stretcher.Reset()
	}
}

// SetLooping controls end-of-region behavior: when false the track goes
// silent at the end bound instead of wrapping.
func (t *Track) SetLooping(looping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.looping = looping
}

// SetMuted sets the mute flag.
func (t *Track) SetMuted(muted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.muted = muted
}

// IsMuted reports the mute flag.
func (t *Track) IsMuted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

// SetSolo sets the solo flag.
func (t *Track) SetSolo(solo bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.solo = solo
}

// IsSolo reports the solo flag.
func (t *Track) IsSolo() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.solo
}

// SetVolume sets playback gain, clamped to [0, 1].
func (t *Track) SetVolume(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	t.volume = float32(v)
}

// Volume returns the playback gain.
func (t *Track) Volume() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.volume)
}

// Status returns a consistent snapshot for UI polling.
func (t *Track) Status() TrackStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := TrackStatus{
		Loaded:       t.buf != nil,
		Name:         t.name,
		Duration:     t.durationLocked(),
		Position:     t.cursor,
		BPM:          t.detectedBPM,
		BPMMethod:    t.bpmMethod,
		NeedsReview:  t.needsReview,
		StretchRatio: t.stretchRatio,
		Muted:        t.muted,
		Solo:         t.solo,
		Volume:       float64(t.volume),
		Looping:      t.looping,
	}
	if t.loop != nil {
		r := *t.loop
		s.Loop = &r
	}
	return s
}
