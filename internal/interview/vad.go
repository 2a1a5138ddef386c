package interview

import (
	"sync"
	"time"
)

// SpeechEvent is the outcome of feeding one amplitude sample to the detector.
type SpeechEvent int

const (
	SpeechNone SpeechEvent = iota
	SpeechStarted
	SpeechEnded
)

// Activity is a read-only snapshot of the detector state.
type Activity struct {
	IsSpeaking        bool
	SpeechEndDetected bool
	SpeakingStartedAt time.Time
	SilenceStartedAt  time.Time
	ManualEndEligible bool
}

// SpeechDetector infers speech presence from amplitude over time. Two
// conditions gate the end-of-speech transition: the speaker must have been
// flagged speaking for a minimum sustained duration before silence tracking
// starts at all, and silence must then persist for the full cooldown. Brief
// pauses inside the cooldown reset the silence clock, never the speech flag.
type SpeechDetector struct {
	mu  sync.Mutex
	cfg Tuning

	speaking       bool
	speechEnded    bool
	speakingStart  time.Time
	silenceStart   time.Time
	silenceTracked bool
}

// NewSpeechDetector creates a detector with the given tuning.
func NewSpeechDetector(cfg Tuning) *SpeechDetector {
	return &SpeechDetector{cfg: cfg}
}

// Sample feeds one average-amplitude observation taken at the given instant.
// It returns SpeechStarted on the silence-to-speech transition, SpeechEnded
// when the cooldown completes, and SpeechNone otherwise. After SpeechEnded the
// detector stays latched until Reset.
func (d *SpeechDetector) Sample(avgAmplitude float64, now time.Time) SpeechEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.speechEnded {
		return SpeechNone
	}

	if avgAmplitude > d.cfg.SpeechStartThreshold {
		if !d.speaking {
			d.speaking = true
			d.speakingStart = now
			d.silenceTracked = false
			d.silenceStart = time.Time{}
			return SpeechStarted
		}
		// Speech resumed inside the cooldown window; drop the silence clock.
		d.silenceTracked = false
		d.silenceStart = time.Time{}
		return SpeechNone
	}

	if !d.speaking {
		return SpeechNone
	}

	// Silence tracking is only permitted once speech has been sustained.
	if now.Sub(d.speakingStart) < d.cfg.MinSpeaking {
		return SpeechNone
	}

	if !d.silenceTracked {
		d.silenceTracked = true
		d.silenceStart = now
		return SpeechNone
	}

	if now.Sub(d.silenceStart) >= d.cfg.SilenceCooldown {
		d.speaking = false
		d.speechEnded = true
		return SpeechEnded
	}
	return SpeechNone
}

// ForceEnd applies the manual "done speaking" override. It only succeeds once
// speaking has lasted at least the manual-end delay; it returns whether the
// end-of-speech transition was taken.
func (d *SpeechDetector) ForceEnd(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.speaking || d.speechEnded {
		return false
	}
	if now.Sub(d.speakingStart) < d.cfg.ManualEndDelay {
		return false
	}
	d.speaking = false
	d.speechEnded = true
	d.silenceTracked = false
	return true
}

// Reset fully clears detector state. Called after playback completion or an
// explicit end-of-turn.
func (d *SpeechDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaking = false
	d.speechEnded = false
	d.speakingStart = time.Time{}
	d.silenceStart = time.Time{}
	d.silenceTracked = false
}

// Snapshot returns the current activity state.
func (d *SpeechDetector) Snapshot(now time.Time) Activity {
	d.mu.Lock()
	defer d.mu.Unlock()
	eligible := d.speaking && !d.speechEnded && now.Sub(d.speakingStart) >= d.cfg.ManualEndDelay
	return Activity{
		IsSpeaking:        d.speaking,
		SpeechEndDetected: d.speechEnded,
		SpeakingStartedAt: d.speakingStart,
		SilenceStartedAt:  d.silenceStart,
		ManualEndEligible: eligible,
	}
}
