package engine

import (
	"log"
	"sync"

	"loopdeck/internal/analysis"
)

// MixerStatus is a consistent snapshot of the transport for UI polling.
type MixerStatus struct {
	Playing         bool    `json:"playing"`
	Position        float64 `json:"position"`
	MasterBPM       float64 `json:"master_bpm"`
	Metronome       bool    `json:"metronome"`
	MetronomeVolume float64 `json:"metronome_volume"`
}

// Mixer owns the track array, the master tempo and the transport, and
// is the real-time callback's sole entry point. Lock order is always
// Mixer then Track, never the reverse, and no track locks another.
type Mixer struct {
	mu sync.Mutex

	tracks     []*Track
	sampleRate int

	masterBPM         float64
	previousMasterBPM float64

	playing      bool
	transportPos float64

	metronomeOn     bool
	metronomeVolume float64
	metronomePhase  float64
	lastBeatTime    float64
}

// NewMixer creates a mixer with a fixed number of empty tracks. Slot
// index is the track's identity for the whole session; tracks are never
// reordered.
func NewMixer(numTracks, sampleRate int) *Mixer {
	m := &Mixer{
		tracks:            make([]*Track, numTracks),
		sampleRate:        sampleRate,
		masterBPM:         analysis.DefaultBPM,
		previousMasterBPM: analysis.DefaultBPM,
		metronomeVolume:   0.8,
	}
	for i := range m.tracks {
		m.tracks[i] = NewTrack()
	}
	return m
}

// NumTracks returns the fixed track count.
func (m *Mixer) NumTracks() int { return len(m.tracks) }

// Track returns the track at slot i, or nil if out of range.
func (m *Mixer) Track(i int) *Track {
	if i < 0 || i >= len(m.tracks) {
		return nil
	}
	return m.tracks[i]
}

// LoadTrack decodes a file into slot i and wires the result into the
// session tempo: the first loaded track anchors the master tempo, later
// ones are stretched to match it. Decode and analysis run outside any
// mixer lock.
func (m *Mixer) LoadTrack(i int, path string) error {
	tr := m.Track(i)
	if tr == nil {
		return nil
	}
	if err := tr.LoadFile(path); err != nil {
		return err
	}
	m.onTrackLoaded(tr)
	log.Printf("Track %d loaded: %s (%.1f BPM via %s, ratio %.3f)",
		i+1, tr.Name(), tr.DetectedBPM(), tr.Status().BPMMethod, tr.StretchRatio())
	return nil
}

// onTrackLoaded applies the session's first-track rule: if this is the
// only loaded track it defines the master tempo and is pinned to ratio
// 1.0; otherwise it is synced against the existing master.
func (m *Mixer) onTrackLoaded(tr *Track) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loaded := 0
	for _, t := range m.tracks {
		if t.IsLoaded() {
			loaded++
		}
	}
	if loaded == 1 {
		m.setInitialMasterLocked(tr.DetectedBPM(), tr)
		return
	}
	tr.syncToMaster(m.masterBPM)
}

// setInitialMasterLocked anchors the session tempo to the defining
// track's detected BPM. No scaling is applied to other tracks; there is
// nothing to preserve yet.
func (m *Mixer) setInitialMasterLocked(bpm float64, defining *Track) {
	if bpm <= 0 {
		bpm = analysis.DefaultBPM
	}
	m.masterBPM = bpm
	m.previousMasterBPM = bpm
	defining.pinRatio()
	for _, t := range m.tracks {
		t.setCachedMaster(bpm)
	}
	log.Printf("Master tempo anchored to %.1f BPM", bpm)
}

// MasterBPM returns the current master tempo.
func (m *Mixer) MasterBPM() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.masterBPM
}

// SetTempo changes the master tempo and propagates the change
// proportionally: every loaded track's stretch ratio is scaled by
// new/old, so manual ratio adjustments survive tempo moves.
func (m *Mixer) SetTempo(bpm float64) {
	if bpm < analysis.MinBPM {
		bpm = analysis.MinBPM
	}
	if bpm > analysis.MaxBPM {
		bpm = analysis.MaxBPM
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.masterBPM <= 0 {
		m.masterBPM = bpm
		m.previousMasterBPM = bpm
		return
	}
	scale := bpm / m.masterBPM
	for _, t := range m.tracks {
		if t.IsLoaded() {
			t.ScaleStretchRatio(scale)
		}
		t.setCachedMaster(bpm)
	}
	m.previousMasterBPM = m.masterBPM
	m.masterBPM = bpm
	log.Printf("Master tempo %.1f -> %.1f BPM (ratio scale %.3f)", m.previousMasterBPM, bpm, scale)
}

// Play toggles the transport. Starting playback re-synchronizes every
// track's cursor to the transport position so tracks started
// mid-session line up; toggling while playing pauses in place.
func (m *Mixer) Play() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playing {
		m.playing = false
		return
	}
	m.playing = true
	m.lastBeatTime = m.transportPos
	m.metronomePhase = 0
	for _, t := range m.tracks {
		if t.IsLoaded() {
			t.SetPosition(m.transportPos)
		}
	}
}

// Stop halts the transport, rewinds it to 0 and resets every track's
// cursor to its loop-region start (or 0).
func (m *Mixer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
	m.transportPos = 0
	m.lastBeatTime = 0
	m.metronomePhase = 0
	for _, t := range m.tracks {
		t.rewind()
	}
}

// IsPlaying reports transport state.
func (m *Mixer) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// Position returns the transport playhead in seconds.
func (m *Mixer) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transportPos
}

// SetMetronome toggles the click track; toggling resets the beat
// anchor so the next click lands on the current position.
func (m *Mixer) SetMetronome(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metronomeOn = on
	m.lastBeatTime = m.transportPos
	m.metronomePhase = 0
}

// SetMetronomeVolume sets the click gain, clamped to [0, 1].
func (m *Mixer) SetMetronomeVolume(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	m.metronomeVolume = v
}

// Status returns a snapshot of the transport for UI polling.
func (m *Mixer) Status() MixerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MixerStatus{
		Playing:         m.playing,
		Position:        m.transportPos,
		MasterBPM:       m.masterBPM,
		Metronome:       m.metronomeOn,
		MetronomeVolume: m.metronomeVolume,
	}
}

// ProcessBlock is the real-time callback entry point: clears the output
// region, mixes every audible track, adds metronome clicks and advances
// the transport. out is planar; all channels must be numSamples long
// past offset.
func (m *Mixer) ProcessBlock(out [][]float32, offset, numSamples int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(out) == 0 || numSamples <= 0 || offset < 0 || offset+numSamples > len(out[0]) {
		return
	}
	for ch := range out {
		region := out[ch][offset : offset+numSamples]
		for i := range region {
			region[i] = 0
		}
	}
	if !m.playing {
		return
	}

	// Solo is exclusive-or-nothing: if any track is soloed, only soloed
	// tracks are eligible (mute still silences even a soloed track,
	// inside Track.ProcessBlock).
	hasSolo := false
	for _, t := range m.tracks {
		if t.IsLoaded() && t.IsSolo() {
			hasSolo = true
			break
		}
	}

	for _, t := range m.tracks {
		if !t.IsLoaded() {
			continue
		}
		if hasSolo && !t.IsSolo() {
			continue
		}
		t.ProcessBlock(out, offset, numSamples)
	}

	if m.metronomeOn {
		m.renderMetronome(out, offset, numSamples)
	}

	m.transportPos += float64(numSamples) / float64(m.sampleRate)
}

// renderMetronome adds one click per beat of the master tempo. The BPM
// is read per block, so tempo changes are reflected immediately.
func (m *Mixer) renderMetronome(out [][]float32, offset, numSamples int) {
	period := 60.0 / m.masterBPM
	dt := 1.0 / float64(m.sampleRate)

	for i := 0; i < numSamples; i++ {
		now := m.transportPos + float64(i)*dt
		for now-m.lastBeatTime >= period {
			m.lastBeatTime += period
			m.metronomePhase = 0
		}
		s := ClickSample(m.metronomePhase) * float32(m.metronomeVolume)
		m.metronomePhase += dt
		if s != 0 {
			for ch := range out {
				out[ch][offset+i] += s
			}
		}
	}
}
