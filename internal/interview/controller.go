package interview

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hireloop/interview-engine/internal/audio"
	"github.com/hireloop/interview-engine/internal/observability"
	"github.com/hireloop/interview-engine/internal/transport"
	"github.com/hireloop/interview-engine/pkg/logger"
)

// Transport is the live socket the controller drives. Satisfied by
// transport.Client; faked in tests.
type Transport interface {
	Connect(ctx context.Context, setup transport.SessionSetup) error
	Events() <-chan transport.Event
	SendAudio(pcm []byte) error
	SendAudioStreamEnd() error
	TriggerNextResponse() error
	Disconnect() error
	StartedAt() time.Time
}

// TranscriptStore persists transcript entries as they are appended.
type TranscriptStore interface {
	AppendEntry(sessionID string, entry TranscriptEntry) error
}

// UpdateType identifies an update pushed to the session's client.
type UpdateType string

const (
	UpdateState      UpdateType = "state"
	UpdateTranscript UpdateType = "transcript"
	UpdatePlayAudio  UpdateType = "play_audio"
	UpdateClock      UpdateType = "clock"
	UpdateWarning    UpdateType = "time_warning"
	UpdateSpeech     UpdateType = "speech"
	UpdateError      UpdateType = "error"
)

// Update is one message to the session's client. The Updates channel closes
// after the final (completed or error) state update.
type Update struct {
	Type      UpdateType       `json:"type"`
	State     State            `json:"state,omitempty"`
	Entry     *TranscriptEntry `json:"entry,omitempty"`
	WAV       []byte           `json:"-"`
	Elapsed   time.Duration    `json:"elapsed,omitempty"`
	Remaining time.Duration    `json:"remaining,omitempty"`
	Speaking  bool             `json:"speaking,omitempty"`
	Message   string           `json:"message,omitempty"`
}

type cmdKind int

const (
	cmdFrame cmdKind = iota
	cmdMute
	cmdUnmute
	cmdDoneSpeaking
	cmdNextQuestion
	cmdPlaybackComplete
	cmdPlaybackFailed
	cmdMicError
	cmdEnd
	cmdGraceFired
	cmdWarningDone
	cmdTick
	cmdFlushCheck
)

type command struct {
	kind    cmdKind
	samples []int16
	err     string
}

// timerHandle is a named, independently cancelable timer. Arming replaces any
// previous arm; canceling is safe when nothing is armed.
type timerHandle struct {
	mu sync.Mutex
	t  *time.Timer
}

func (h *timerHandle) arm(d time.Duration, f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.t != nil {
		h.t.Stop()
	}
	h.t = time.AfterFunc(d, f)
}

func (h *timerHandle) cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.t != nil {
		h.t.Stop()
		h.t = nil
	}
}

// Controller orchestrates transport, speech detection and playback against
// the interview state machine. Every inbound transport event and every client
// action is routed through a single dispatch loop, so loop-owned state needs
// no locking. The microphone path and the session clock run on their own
// goroutines and never block each other.
type Controller struct {
	sessionID string
	cfg       SessionConfig
	tuning    Tuning
	tr        Transport
	vad       *SpeechDetector
	acc       *Accumulator
	store     TranscriptStore
	metrics   *observability.Metrics
	logger    *logger.Logger

	cmds    chan command
	updates chan Update
	done    chan struct{}

	stateMu sync.RWMutex
	state   State

	transcriptMu sync.RWMutex
	transcript   []TranscriptEntry

	// Named timers, each independently cancelable
	graceTimer   timerHandle
	warningTimer timerHandle

	loopStop chan struct{}

	// Loop-owned conversational state
	muted              bool
	endOfTurn          bool
	firstAudioSeen     bool
	waitingForResponse bool
	warned             bool
	torndown           bool
	turnText           strings.Builder
	turnTranscription  strings.Builder
	candidateText      strings.Builder
}

// NewController creates a controller for one interview session. The transport
// and store are owned by the controller until teardown; store may be nil.
func NewController(sessionID string, cfg SessionConfig, tuning Tuning, tr Transport, store TranscriptStore, log *logger.Logger) *Controller {
	ctl := &Controller{
		sessionID: sessionID,
		cfg:       cfg,
		tuning:    tuning,
		tr:        tr,
		store:     store,
		logger:    log.Named("interview-controller").With(logger.String("session_id", sessionID)),
		cmds:      make(chan command, 256),
		updates:   make(chan Update, 256),
		done:      make(chan struct{}),
		loopStop:  make(chan struct{}),
		state:     StateReady,
	}
	ctl.vad = NewSpeechDetector(tuning)
	ctl.acc = NewAccumulator(tuning, log)
	return ctl
}

// SetMetrics attaches Prometheus instruments. Must be called before Start.
func (c *Controller) SetMetrics(m *observability.Metrics) {
	c.metrics = m
}

// State returns the current state machine value.
func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Updates returns the stream of client updates. The consumer must drain it
// until it closes; the channel closes after the terminal state update.
func (c *Controller) Updates() <-chan Update {
	return c.updates
}

// Done is closed once teardown has fully completed. A new session must not be
// started while this is still open.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Transcript returns a copy of the append-only transcript.
func (c *Controller) Transcript() []TranscriptEntry {
	c.transcriptMu.RLock()
	defer c.transcriptMu.RUnlock()
	out := make([]TranscriptEntry, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Start opens the transport and begins the session. It blocks until the setup
// handshake is acknowledged or fails; the dispatch loop runs afterwards.
func (c *Controller) Start(ctx context.Context) error {
	if !c.transition(StateReady, StateConnecting) {
		return fmt.Errorf("session already started (state %s)", c.State())
	}
	c.emit(Update{Type: UpdateState, State: StateConnecting})

	setup := transport.SessionSetup{
		Model:        c.cfg.Model,
		Voice:        c.cfg.Voice,
		SystemPrompt: BuildSystemPrompt(c.cfg),
	}
	if err := c.tr.Connect(ctx, setup); err != nil {
		c.setState(StateError)
		c.emit(Update{Type: UpdateError, State: StateError, Message: fmt.Sprintf("connection failed: %v", err)})
		c.finish()
		return err
	}

	c.setState(StateConnected)
	c.emit(Update{Type: UpdateState, State: StateConnected})

	go c.run()
	go c.clockLoop()
	go c.flushLoop()
	return nil
}

// PushFrame feeds one microphone PCM frame from the client. Non-blocking;
// frames are dropped (with a log) if the dispatcher is saturated, since the
// stream is continuous and occasional loss is tolerable.
func (c *Controller) PushFrame(samples []int16) {
	select {
	case c.cmds <- command{kind: cmdFrame, samples: samples}:
	case <-c.loopStop:
	default:
		c.logger.Debug("Dropping microphone frame, dispatcher saturated")
	}
}

// SetMuted toggles microphone transmission without tearing down the stream.
func (c *Controller) SetMuted(muted bool) {
	if muted {
		c.post(command{kind: cmdMute})
	} else {
		c.post(command{kind: cmdUnmute})
	}
}

// DoneSpeaking applies the manual end-of-speech override.
func (c *Controller) DoneSpeaking() { c.post(command{kind: cmdDoneSpeaking}) }

// NextQuestion manually asks the interviewer to move on.
func (c *Controller) NextQuestion() { c.post(command{kind: cmdNextQuestion}) }

// PlaybackComplete reports that the client finished playing a turn's audio.
func (c *Controller) PlaybackComplete() { c.post(command{kind: cmdPlaybackComplete}) }

// PlaybackFailed reports a client playback error. The session keeps going as
// if playback had completed.
func (c *Controller) PlaybackFailed(reason string) {
	c.post(command{kind: cmdPlaybackFailed, err: reason})
}

// MicrophoneError reports a capture failure (permission denied, no device).
// Fatal to the session; recovery is a manual restart.
func (c *Controller) MicrophoneError(reason string) {
	c.post(command{kind: cmdMicError, err: reason})
}

// End requests manual termination. Available from any state once started.
func (c *Controller) End() { c.post(command{kind: cmdEnd}) }

func (c *Controller) post(cmd command) {
	select {
	case c.cmds <- cmd:
	case <-c.loopStop:
	}
}

// run is the single dispatcher: every transport event and client command is
// processed here, in arrival order.
func (c *Controller) run() {
	events := c.tr.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvent(ev)
		case cmd := <-c.cmds:
			c.handleCommand(cmd)
		case <-c.loopStop:
			return
		}
		if c.torndown {
			return
		}
	}
}

func (c *Controller) clockLoop() {
	ticker := time.NewTicker(c.tuning.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.post(command{kind: cmdTick})
		case <-c.loopStop:
			return
		}
	}
}

func (c *Controller) flushLoop() {
	ticker := time.NewTicker(c.tuning.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.post(command{kind: cmdFlushCheck})
		case <-c.loopStop:
			return
		}
	}
}

func (c *Controller) handleEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventAudioChunk:
		c.enterActive()
		// New remote audio invalidates any pending auto-advance.
		c.graceTimer.cancel()
		c.waitingForResponse = false
		if !c.firstAudioSeen {
			c.firstAudioSeen = true
			if c.metrics != nil && !c.tr.StartedAt().IsZero() {
				c.metrics.ObserveFirstAudioLatency(time.Since(c.tr.StartedAt()))
			}
		}
		if c.metrics != nil {
			c.metrics.AudioChunks.Inc()
		}
		if !c.acc.Ingest(ev.Audio, ev.Timestamp) {
			c.logger.Debug("Discarded empty audio chunk")
		}

	case transport.EventText:
		c.enterActive()
		c.waitingForResponse = false
		c.turnText.WriteString(ev.Text)

	case transport.EventTranscription:
		c.turnTranscription.WriteString(ev.Text)

	case transport.EventInputTranscription:
		c.candidateText.WriteString(ev.Text)

	case transport.EventTurnComplete:
		c.enterActive()
		c.waitingForResponse = false
		c.finalizeInterviewerTurn()
		// Flush regardless of how many chunks arrived, including zero.
		if !c.acc.Playing() {
			c.flushAndPlay()
		}

	case transport.EventError:
		if c.metrics != nil {
			c.metrics.TransportErrors.Inc()
		}
		c.logger.Error("Transport error, terminating session", logger.Error(ev.Err))
		c.failSession(fmt.Sprintf("connection lost: %v", ev.Err))

	case transport.EventSetupComplete, transport.EventClosed:
		// Setup completion was already consumed by Connect; closes are
		// surfaced as errors by the transport when unexpected.
	}
}

func (c *Controller) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdFrame:
		c.handleFrame(cmd.samples)

	case cmdMute:
		if !c.muted {
			c.muted = true
			// An artificial mute is treated like the user pausing.
			c.tr.SendAudioStreamEnd()
		}

	case cmdUnmute:
		c.muted = false

	case cmdDoneSpeaking:
		if c.vad.ForceEnd(time.Now().UTC()) {
			c.endCandidateTurn("manual")
		}

	case cmdNextQuestion:
		if c.inConversation() {
			c.graceTimer.cancel()
			if err := c.tr.TriggerNextResponse(); err != nil {
				c.logger.Warn("Failed to trigger next response", logger.Error(err))
			} else {
				c.waitingForResponse = true
			}
		}

	case cmdPlaybackComplete:
		if c.metrics != nil {
			c.metrics.PlaybackTurns.WithLabelValues("completed").Inc()
		}
		c.finishPlayback()

	case cmdPlaybackFailed:
		// Playback errors release resources and keep the conversation moving.
		c.logger.Warn("Client playback failed", logger.String("reason", cmd.err))
		if c.metrics != nil {
			c.metrics.PlaybackTurns.WithLabelValues("failed").Inc()
		}
		c.finishPlayback()

	case cmdMicError:
		c.failSession(fmt.Sprintf("microphone unavailable: %s", cmd.err))

	case cmdEnd:
		c.teardown(StateCompleted, "")

	case cmdGraceFired:
		c.handleGraceFired()

	case cmdWarningDone:
		if c.State() == StateTimeWarning {
			c.setState(StateActive)
			c.emit(Update{Type: UpdateState, State: StateActive})
		}

	case cmdTick:
		c.handleTick()

	case cmdFlushCheck:
		if c.acc.FlushDue(time.Now().UTC()) {
			c.flushAndPlay()
		}
	}
}

func (c *Controller) handleFrame(samples []int16) {
	if c.muted || c.torndown {
		return
	}
	now := time.Now().UTC()
	switch c.vad.Sample(audio.AvgAmplitude(samples), now) {
	case SpeechStarted:
		c.graceTimer.cancel()
		c.emit(Update{Type: UpdateSpeech, Speaking: true})
	case SpeechEnded:
		c.endCandidateTurn("detected")
	}

	if !c.endOfTurn && c.inConversation() {
		c.tr.SendAudio(audio.PCM16ToBytes(samples))
	}
}

// endCandidateTurn signals end-of-stream, records the candidate's transcript
// entry and arms the auto-advance grace timer.
func (c *Controller) endCandidateTurn(endedBy string) {
	c.endOfTurn = true
	if c.metrics != nil {
		c.metrics.SpeechTurns.WithLabelValues(endedBy).Inc()
	}
	if err := c.tr.SendAudioStreamEnd(); err != nil {
		c.logger.Warn("Failed to send audio stream end", logger.Error(err))
	}
	c.emit(Update{Type: UpdateSpeech, Speaking: false})
	c.finalizeCandidateTurn()
	c.maybeArmGrace()
}

// maybeArmGrace starts the auto-advance grace timer when the exact
// auto-advance condition holds.
func (c *Controller) maybeArmGrace() {
	if !c.autoAdvanceConditionHolds() {
		return
	}
	c.graceTimer.arm(c.tuning.AutoAdvanceGrace, func() {
		c.post(command{kind: cmdGraceFired})
	})
}

func (c *Controller) autoAdvanceConditionHolds() bool {
	activity := c.vad.Snapshot(time.Now().UTC())
	return activity.SpeechEndDetected &&
		!c.acc.Playing() &&
		!activity.IsSpeaking &&
		!c.waitingForResponse &&
		c.inConversation()
}

func (c *Controller) handleGraceFired() {
	// Re-check the exact condition; any state change since arming wins.
	if !c.autoAdvanceConditionHolds() {
		return
	}
	c.logger.Debug("Auto-advancing after silence grace period")
	if err := c.tr.TriggerNextResponse(); err != nil {
		c.logger.Warn("Failed to auto-advance", logger.Error(err))
		return
	}
	c.waitingForResponse = true
}

func (c *Controller) handleTick() {
	if c.torndown {
		return
	}
	started := c.tr.StartedAt()
	if started.IsZero() {
		return
	}
	// Elapsed time comes from the session-start timestamp, so delayed ticks
	// cannot desynchronize the countdown.
	elapsed := time.Since(started)
	remaining := c.cfg.MaxDuration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	c.emitNonBlocking(Update{Type: UpdateClock, Elapsed: elapsed, Remaining: remaining})

	if elapsed >= c.cfg.MaxDuration {
		c.teardown(StateCompleted, "")
		return
	}

	if !c.warned && c.cfg.WarningAfter > 0 && elapsed >= c.cfg.WarningAfter && c.State() == StateActive {
		c.warned = true
		c.setState(StateTimeWarning)
		c.emit(Update{Type: UpdateWarning, State: StateTimeWarning, Remaining: remaining})
		c.warningTimer.arm(c.tuning.WarningDisplayTime, func() {
			c.post(command{kind: cmdWarningDone})
		})
	}
}

// flushAndPlay assembles whatever is pending and hands it to playback. An
// empty assembly means the turn completed with silence: conversational state
// resets so the session never stalls waiting for audio that will not come.
func (c *Controller) flushAndPlay() {
	samples := c.acc.Flush()
	if samples == nil {
		c.resetConversationState()
		return
	}
	c.acc.BeginPlayback()
	c.graceTimer.cancel()
	wav := audio.EncodeWAV(samples, audio.DefaultSampleRate)
	c.logger.Debug("Playing assembled turn audio",
		logger.Int("samples", len(samples)),
		logger.Int("wav_bytes", len(wav)))
	c.emit(Update{Type: UpdatePlayAudio, WAV: wav})
}

// finishPlayback runs after the client reports playback completion (or
// failure): pending state clears and the session listens for the candidate.
func (c *Controller) finishPlayback() {
	c.acc.PlaybackDone()
	c.resetConversationState()
}

// resetConversationState returns to "listening for the candidate" after a
// completed, failed or silent interviewer turn.
func (c *Controller) resetConversationState() {
	c.vad.Reset()
	c.endOfTurn = false
	c.waitingForResponse = false
	c.emit(Update{Type: UpdateSpeech, Speaking: false})
}

func (c *Controller) finalizeInterviewerTurn() {
	text := strings.TrimSpace(c.turnText.String())
	if text == "" {
		// Transcription fallback is used only when the turn carried no text part.
		text = strings.TrimSpace(c.turnTranscription.String())
	}
	c.turnText.Reset()
	c.turnTranscription.Reset()
	if text == "" {
		return
	}
	c.appendTranscript(TranscriptEntry{
		Speaker:   SpeakerInterviewer,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
}

func (c *Controller) finalizeCandidateTurn() {
	text := strings.TrimSpace(c.candidateText.String())
	c.candidateText.Reset()
	if text == "" {
		return
	}
	c.appendTranscript(TranscriptEntry{
		Speaker:   SpeakerCandidate,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
}

func (c *Controller) appendTranscript(entry TranscriptEntry) {
	c.transcriptMu.Lock()
	c.transcript = append(c.transcript, entry)
	c.transcriptMu.Unlock()

	if c.store != nil {
		if err := c.store.AppendEntry(c.sessionID, entry); err != nil {
			c.logger.Error("Failed to persist transcript entry", logger.Error(err))
		}
	}
	e := entry
	c.emit(Update{Type: UpdateTranscript, Entry: &e})
}

// enterActive moves connected -> active when the first interviewer turn begins.
func (c *Controller) enterActive() {
	if c.State() == StateConnected {
		c.setState(StateActive)
		c.emit(Update{Type: UpdateState, State: StateActive})
	}
}

func (c *Controller) inConversation() bool {
	switch c.State() {
	case StateConnected, StateActive, StateTimeWarning:
		return true
	}
	return false
}

func (c *Controller) failSession(msg string) {
	c.teardown(StateError, msg)
}

// teardown cancels every outstanding timer, closes the transport and releases
// resources. Idempotent and safe from any state, including before the session
// ever fully started.
func (c *Controller) teardown(final State, errMsg string) {
	if c.torndown {
		return
	}
	c.torndown = true

	c.setState(StateEnding)
	c.emit(Update{Type: UpdateState, State: StateEnding})

	c.graceTimer.cancel()
	c.warningTimer.cancel()
	close(c.loopStop)

	c.tr.SendAudioStreamEnd()
	if err := c.tr.Disconnect(); err != nil {
		c.logger.Debug("Transport close", logger.Error(err))
	}
	c.acc.Reset()
	c.vad.Reset()

	c.setState(final)
	if final == StateError {
		c.emit(Update{Type: UpdateError, State: final, Message: errMsg})
	} else {
		c.emit(Update{Type: UpdateState, State: final})
	}
	c.finish()

	c.logger.Info("Session torn down", logger.String("final_state", string(final)))
}

func (c *Controller) finish() {
	close(c.updates)
	close(c.done)
}

func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	if c.metrics != nil {
		c.metrics.StateTransitions.WithLabelValues(string(s)).Inc()
	}
}

func (c *Controller) transition(from, to State) bool {
	c.stateMu.Lock()
	if c.state != from {
		c.stateMu.Unlock()
		return false
	}
	c.state = to
	c.stateMu.Unlock()
	if c.metrics != nil {
		c.metrics.StateTransitions.WithLabelValues(string(to)).Inc()
	}
	return true
}

func (c *Controller) emit(u Update) {
	select {
	case c.updates <- u:
	default:
		// The updates channel is generously buffered; a full buffer means the
		// consumer is gone or wedged, and blocking the dispatcher would wedge
		// the whole session with it.
		c.logger.Warn("Dropping client update, consumer not keeping up",
			logger.String("update_type", string(u.Type)))
	}
}

func (c *Controller) emitNonBlocking(u Update) {
	select {
	case c.updates <- u:
	default:
	}
}
