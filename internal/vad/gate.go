package vad

import (
	"fmt"
	"sync"
	"time"
)

// FrameState tracks the speech/silence progression of one recording.
// Callers keep a FrameState per recording and hand it to Gate.ProcessFrame
// for every audio frame.
type FrameState struct {
	SpeechDetected bool      // speech confirmed at least once
	SpeechStart    time.Time // when the current loud run began (zero if quiet)
	SilenceStart   time.Time // when the current quiet run began (zero if loud)
}

// Gate implements an energy-based voice activity state machine.
// A frame is loud when its RMS exceeds the speech threshold. Speech is
// confirmed once a loud run lasts at least the minimum speech duration,
// which keeps short clicks and pops from counting as speech.
type Gate struct {
	speechThreshold float32
	minSpeech       time.Duration
}

// NewGate creates a new VAD gate
func NewGate(speechThreshold float32, minSpeech time.Duration) (*Gate, error) {
	if speechThreshold <= 0 || speechThreshold > 1 {
		return nil, fmt.Errorf("speech threshold must be between 0 and 1, got %f", speechThreshold)
	}

	if minSpeech <= 0 {
		return nil, fmt.Errorf("minimum speech duration must be positive, got %v", minSpeech)
	}

	return &Gate{
		speechThreshold: speechThreshold,
		minSpeech:       minSpeech,
	}, nil
}

// Threshold returns the speech RMS threshold
func (g *Gate) Threshold() float32 {
	return g.speechThreshold
}

// ProcessFrame advances the state machine by one frame and reports whether
// the recording should stop: speech was confirmed earlier and silence has
// now lasted at least silenceAfter.
func (g *Gate) ProcessFrame(st *FrameState, rms float32, now time.Time, silenceAfter time.Duration) bool {
	if rms > g.speechThreshold {
		st.SilenceStart = time.Time{}

		if !st.SpeechDetected {
			if st.SpeechStart.IsZero() {
				st.SpeechStart = now
			}
			if now.Sub(st.SpeechStart) >= g.minSpeech {
				st.SpeechDetected = true
			}
		}
		return false
	}

	// Quiet frame. An unconfirmed loud run is abandoned.
	if !st.SpeechDetected {
		st.SpeechStart = time.Time{}
		return false
	}

	if st.SilenceStart.IsZero() {
		st.SilenceStart = now
		return false
	}

	return now.Sub(st.SilenceStart) >= silenceAfter
}

// Tracker classifies coarse audio levels sampled on a fixed poll tick.
// Unlike Gate, which runs per audio frame inside a recording, Tracker is
// fed one level per orchestrator tick and answers "has speech happened"
// and "how long has it been quiet" for segmentation decisions.
type Tracker struct {
	speechThreshold float64
	minDwell        time.Duration

	started         time.Time
	loudRunStart    time.Time
	speechConfirmed bool
	lastSpeech      time.Time

	observations uint64
	loudTicks    uint64

	mu sync.Mutex
}

// TrackerStats represents tracker statistics
type TrackerStats struct {
	Observations    uint64  `json:"observations"`
	LoudTicks       uint64  `json:"loud_ticks"`
	LoudPercentage  float64 `json:"loud_percentage"`
	SpeechConfirmed bool    `json:"speech_confirmed"`
}

// NewTracker creates a new level tracker. start anchors the silence clock
// for sessions where no speech ever arrives.
func NewTracker(speechThreshold float64, minDwell time.Duration, start time.Time) (*Tracker, error) {
	if speechThreshold <= 0 || speechThreshold > 1 {
		return nil, fmt.Errorf("speech threshold must be between 0 and 1, got %f", speechThreshold)
	}

	if minDwell < 0 {
		return nil, fmt.Errorf("minimum dwell cannot be negative, got %v", minDwell)
	}

	return &Tracker{
		speechThreshold: speechThreshold,
		minDwell:        minDwell,
		started:         start,
	}, nil
}

// Observe records one level sample taken at now
func (t *Tracker) Observe(level float64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.observations++

	if level > t.speechThreshold {
		t.loudTicks++

		if t.loudRunStart.IsZero() {
			t.loudRunStart = now
		}
		if now.Sub(t.loudRunStart) >= t.minDwell {
			t.speechConfirmed = true
		}
		t.lastSpeech = now
		return
	}

	t.loudRunStart = time.Time{}
}

// SpeechConfirmed reports whether a loud run has lasted the minimum dwell
func (t *Tracker) SpeechConfirmed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speechConfirmed
}

// LastSpeech returns the time of the most recent loud observation.
// Zero if nothing loud has been observed yet.
func (t *Tracker) LastSpeech() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSpeech
}

// SilenceFor returns how long the input has been quiet as of now. Before
// any loud observation the silence clock runs from the tracker start.
func (t *Tracker) SilenceFor(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastSpeech.IsZero() {
		return now.Sub(t.started)
	}
	return now.Sub(t.lastSpeech)
}

// Reset re-arms speech confirmation for the next segment. The last speech
// timestamp is preserved so the silence clock keeps running across segment
// boundaries; observation counters are preserved too.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.loudRunStart = time.Time{}
	t.speechConfirmed = false
}

// GetStats returns current tracker statistics
func (t *Tracker) GetStats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	loudPercentage := float64(0)
	if t.observations > 0 {
		loudPercentage = float64(t.loudTicks) / float64(t.observations) * 100
	}

	return TrackerStats{
		Observations:    t.observations,
		LoudTicks:       t.loudTicks,
		LoudPercentage:  loudPercentage,
		SpeechConfirmed: t.speechConfirmed,
	}
}
