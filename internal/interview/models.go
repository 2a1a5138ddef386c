package interview

import "time"

// State is the controller's state machine value.
type State string

const (
	StateReady       State = "ready"
	StateConnecting  State = "connecting"
	StateConnected   State = "connected"
	StateActive      State = "active"
	StateTimeWarning State = "time_warning"
	StateEnding      State = "ending"
	StateCompleted   State = "completed"
	StateError       State = "error"
)

// Speaker identifies which side of the conversation produced a transcript entry.
type Speaker string

const (
	SpeakerInterviewer Speaker = "interviewer"
	SpeakerCandidate   Speaker = "candidate"
)

// TranscriptEntry is one contribution to the append-only conversation log.
type TranscriptEntry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionConfig is the immutable per-session context, created once at session
// start and owned by the controller for the session's lifetime.
type SessionConfig struct {
	JobTitle            string        `json:"job_title"`
	Company             string        `json:"company"`
	JobDescription      string        `json:"job_description"`
	ResumeText          string        `json:"resume_text,omitempty"`
	TechnicalQuestions  []string      `json:"technical_questions"`
	BehavioralQuestions []string      `json:"behavioral_questions"`
	Model               string        `json:"model,omitempty"`
	Voice               string        `json:"voice"`
	MaxDuration         time.Duration `json:"max_duration"`
	WarningAfter        time.Duration `json:"warning_after"`
}

// Tuning groups the empirically tuned detection and timing constants. The
// defaults match production behavior but none of them is a hard invariant.
type Tuning struct {
	// Speech detection
	SpeechStartThreshold float64       // average amplitude (0-255 scale) that flags speech
	MinSpeaking          time.Duration // sustained speaking required before silence tracking starts
	SilenceCooldown      time.Duration // continuous silence required to flag end of speech
	ManualEndDelay       time.Duration // speaking time before the manual "done" override unlocks

	// Chunk accumulation
	ChunkQuiescence time.Duration // flush when no chunk arrived for this long
	ForceFlushCount int           // flush when this many chunks are pending
	FlushInterval   time.Duration // how often flush conditions are evaluated

	// Turn-taking
	AutoAdvanceGrace time.Duration // silence grace before the next response is requested

	// Session clock
	TickInterval       time.Duration // countdown recomputation cadence
	WarningDisplayTime time.Duration // how long the time warning stays up
}

// DefaultTuning returns the production defaults.
func DefaultTuning() Tuning {
	return Tuning{
		SpeechStartThreshold: 3.0,
		MinSpeaking:          2 * time.Second,
		SilenceCooldown:      3 * time.Second,
		ManualEndDelay:       2 * time.Second,
		ChunkQuiescence:      1000 * time.Millisecond,
		ForceFlushCount:      5,
		FlushInterval:        100 * time.Millisecond,
		AutoAdvanceGrace:     6 * time.Second,
		TickInterval:         time.Second,
		WarningDisplayTime:   3 * time.Second,
	}
}
