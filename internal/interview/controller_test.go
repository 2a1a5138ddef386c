package interview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hireloop/interview-engine/internal/audio"
	"github.com/hireloop/interview-engine/internal/transport"
	"github.com/hireloop/interview-engine/pkg/logger"
)

// fakeTransport satisfies Transport without a network.
type fakeTransport struct {
	mu          sync.Mutex
	events      chan transport.Event
	startedAt   time.Time
	connectErr  error
	sentFrames  int
	streamEnds  int
	triggers    int
	disconnects int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 64)}
}

func (f *fakeTransport) Connect(ctx context.Context, setup transport.SessionSetup) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.startedAt = time.Now().UTC()
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

func (f *fakeTransport) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentFrames++
	return nil
}

func (f *fakeTransport) SendAudioStreamEnd() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamEnds++
	return nil
}

func (f *fakeTransport) TriggerNextResponse() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) StartedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startedAt
}

func (f *fakeTransport) backdateStart(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startedAt = f.startedAt.Add(-d)
}

func (f *fakeTransport) counts() (frames, streamEnds, triggers, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sentFrames, f.streamEnds, f.triggers, f.disconnects
}

func fastTuning() Tuning {
	return Tuning{
		SpeechStartThreshold: 3.0,
		MinSpeaking:          10 * time.Millisecond,
		SilenceCooldown:      20 * time.Millisecond,
		ManualEndDelay:       10 * time.Millisecond,
		ChunkQuiescence:      30 * time.Millisecond,
		ForceFlushCount:      5,
		FlushInterval:        5 * time.Millisecond,
		AutoAdvanceGrace:     60 * time.Millisecond,
		TickInterval:         20 * time.Millisecond,
		WarningDisplayTime:   40 * time.Millisecond,
	}
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		JobTitle:     "Backend Engineer",
		Model:        "test-model",
		Voice:        "Puck",
		MaxDuration:  time.Hour,
		WarningAfter: 30 * time.Minute,
	}
}

func startController(t *testing.T, cfg SessionConfig, tuning Tuning) (*Controller, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	ctl := NewController("sess-1", cfg, tuning, tr, nil, logger.NewNop())
	if err := ctl.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	return ctl, tr
}

func awaitUpdate(t *testing.T, ch <-chan Update, want UpdateType, timeout time.Duration) Update {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				t.Fatalf("updates channel closed while waiting for %s", want)
			}
			if u.Type == want {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s update", want)
		}
	}
}

func awaitState(t *testing.T, ch <-chan Update, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				t.Fatalf("updates channel closed while waiting for state %s", want)
			}
			if (u.Type == UpdateState || u.Type == UpdateError || u.Type == UpdateWarning) && u.State == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func loudFrame() []int16 {
	frame := make([]int16, 160)
	for i := range frame {
		frame[i] = 2000
	}
	return frame
}

func silentFrame() []int16 {
	return make([]int16, 160)
}

func TestControllerStartFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = errors.New("dial refused")
	ctl := NewController("sess-1", testSessionConfig(), fastTuning(), tr, nil, logger.NewNop())

	if err := ctl.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded despite connect failure")
	}
	if got := ctl.State(); got != StateError {
		t.Fatalf("State = %s, want %s", got, StateError)
	}

	select {
	case <-ctl.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after failed start")
	}

	// A second Start must be refused; restart means a new controller.
	if err := ctl.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded twice")
	}
}

func TestControllerFirstTurnActivatesAndPlays(t *testing.T) {
	ctl, tr := startController(t, testSessionConfig(), fastTuning())
	updates := ctl.Updates()

	awaitState(t, updates, StateConnecting, time.Second)
	awaitState(t, updates, StateConnected, time.Second)

	tr.events <- transport.Event{Type: transport.EventText, Text: "Tell me about yourself.", Timestamp: time.Now()}
	awaitState(t, updates, StateActive, time.Second)

	now := time.Now()
	tr.events <- transport.Event{Type: transport.EventAudioChunk, Audio: audio.EncodeBase64PCM16([]int16{1, 2}), Timestamp: now}
	tr.events <- transport.Event{Type: transport.EventAudioChunk, Audio: audio.EncodeBase64PCM16([]int16{3, 4}), Timestamp: now.Add(time.Millisecond)}
	tr.events <- transport.Event{Type: transport.EventTurnComplete, Timestamp: now.Add(2 * time.Millisecond)}

	entry := awaitUpdate(t, updates, UpdateTranscript, time.Second)
	if entry.Entry.Speaker != SpeakerInterviewer || entry.Entry.Text != "Tell me about yourself." {
		t.Fatalf("transcript entry = %+v, want interviewer question", entry.Entry)
	}

	play := awaitUpdate(t, updates, UpdatePlayAudio, time.Second)
	if len(play.WAV) != 44+4*2 {
		t.Fatalf("WAV payload = %d bytes, want %d", len(play.WAV), 44+4*2)
	}

	ctl.End()
	awaitState(t, updates, StateCompleted, time.Second)
	<-ctl.Done()

	if _, _, _, disconnects := tr.counts(); disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", disconnects)
	}
}

func TestControllerTurnCompleteWithSilenceDoesNotStall(t *testing.T) {
	ctl, tr := startController(t, testSessionConfig(), fastTuning())
	updates := ctl.Updates()

	tr.events <- transport.Event{Type: transport.EventTranscription, Text: "Let's begin.", Timestamp: time.Now()}
	tr.events <- transport.Event{Type: transport.EventTurnComplete, Timestamp: time.Now()}

	// The transcription fallback still yields an entry even with no audio.
	entry := awaitUpdate(t, updates, UpdateTranscript, time.Second)
	if entry.Entry.Text != "Let's begin." {
		t.Fatalf("transcript fallback text = %q, want %q", entry.Entry.Text, "Let's begin.")
	}

	// No playback pending; microphone frames must flow upstream again.
	time.Sleep(20 * time.Millisecond)
	ctl.PushFrame(loudFrame())
	deadline := time.Now().Add(time.Second)
	for {
		frames, _, _, _ := tr.counts()
		if frames > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no microphone frames forwarded after silent turn")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctl.End()
	<-ctl.Done()
}

func TestControllerAutoAdvanceAfterGrace(t *testing.T) {
	ctl, tr := startController(t, testSessionConfig(), fastTuning())
	updates := ctl.Updates()

	tr.events <- transport.Event{Type: transport.EventText, Text: "Question?", Timestamp: time.Now()}
	tr.events <- transport.Event{Type: transport.EventInputTranscription, Text: "My answer.", Timestamp: time.Now()}
	awaitState(t, updates, StateActive, time.Second)

	// Candidate speaks, sustains, then goes quiet past the cooldown.
	ctl.PushFrame(loudFrame())
	time.Sleep(15 * time.Millisecond)
	ctl.PushFrame(loudFrame())
	ctl.PushFrame(silentFrame())
	time.Sleep(25 * time.Millisecond)
	ctl.PushFrame(silentFrame())

	// Speech end sends the stream terminator and logs the candidate turn.
	entry := awaitUpdate(t, updates, UpdateTranscript, time.Second)
	if entry.Entry.Speaker != SpeakerCandidate || entry.Entry.Text != "My answer." {
		t.Fatalf("candidate entry = %+v", entry.Entry)
	}

	deadline := time.Now().Add(time.Second)
	for {
		_, streamEnds, triggers, _ := tr.counts()
		if streamEnds >= 1 && triggers == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("auto-advance not taken: streamEnds=%d triggers=%d", streamEnds, triggers)
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctl.End()
	<-ctl.Done()
}

func TestControllerGraceCanceledByNewAudio(t *testing.T) {
	ctl, tr := startController(t, testSessionConfig(), fastTuning())
	updates := ctl.Updates()

	tr.events <- transport.Event{Type: transport.EventText, Text: "Question?", Timestamp: time.Now()}
	awaitState(t, updates, StateActive, time.Second)

	ctl.PushFrame(loudFrame())
	time.Sleep(15 * time.Millisecond)
	ctl.PushFrame(loudFrame())
	ctl.PushFrame(silentFrame())
	time.Sleep(25 * time.Millisecond)
	ctl.PushFrame(silentFrame())

	// Wait for the stream end, then deliver interviewer audio inside the
	// grace window.
	deadline := time.Now().Add(time.Second)
	for {
		_, streamEnds, _, _ := tr.counts()
		if streamEnds >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stream end never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}
	tr.events <- transport.Event{Type: transport.EventAudioChunk, Audio: audio.EncodeBase64PCM16([]int16{1}), Timestamp: time.Now()}

	// Give the grace window plenty of time to (not) fire.
	time.Sleep(150 * time.Millisecond)
	if _, _, triggers, _ := tr.counts(); triggers != 0 {
		t.Fatalf("triggers = %d, want 0 after cancellation", triggers)
	}

	ctl.End()
	<-ctl.Done()
}

func TestControllerClockMeasuresFromSessionStart(t *testing.T) {
	ctl, tr := startController(t, testSessionConfig(), fastTuning())
	updates := ctl.Updates()

	// Shift the start 10 seconds into the past. Ticks are only a sampling
	// signal; elapsed time must come from the start timestamp, so the very
	// next tick reports the full 10 seconds no matter how few ticks fired.
	tr.backdateStart(10 * time.Second)

	deadline := time.After(time.Second)
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				t.Fatal("updates channel closed before a clock update")
			}
			if u.Type != UpdateClock {
				continue
			}
			if u.Elapsed < 10*time.Second {
				// A tick from before the backdate; keep waiting.
				continue
			}
			if u.Elapsed > 12*time.Second {
				t.Fatalf("elapsed = %v, want about 10s", u.Elapsed)
			}
			if u.Elapsed+u.Remaining != testSessionConfig().MaxDuration {
				t.Fatalf("elapsed %v + remaining %v != max duration %v",
					u.Elapsed, u.Remaining, testSessionConfig().MaxDuration)
			}
			ctl.End()
			<-ctl.Done()
			return
		case <-deadline:
			t.Fatal("no clock update reflecting the backdated start")
		}
	}
}

func TestControllerTimeWarningAndExpiry(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxDuration = 250 * time.Millisecond
	cfg.WarningAfter = 100 * time.Millisecond

	ctl, tr := startController(t, cfg, fastTuning())
	updates := ctl.Updates()

	tr.events <- transport.Event{Type: transport.EventText, Text: "Hello", Timestamp: time.Now()}
	awaitState(t, updates, StateActive, time.Second)

	warning := awaitUpdate(t, updates, UpdateWarning, time.Second)
	if warning.State != StateTimeWarning {
		t.Fatalf("warning state = %s, want %s", warning.State, StateTimeWarning)
	}

	// The warning clears back to active, then the clock runs out.
	awaitState(t, updates, StateActive, time.Second)
	awaitState(t, updates, StateCompleted, 2*time.Second)

	select {
	case <-ctl.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after expiry")
	}
}

func TestControllerTransportErrorFailsSession(t *testing.T) {
	ctl, tr := startController(t, testSessionConfig(), fastTuning())
	updates := ctl.Updates()

	tr.events <- transport.Event{Type: transport.EventError, Err: errors.New("connection reset"), Timestamp: time.Now()}

	errUpdate := awaitUpdate(t, updates, UpdateError, time.Second)
	if errUpdate.State != StateError {
		t.Fatalf("error update state = %s, want %s", errUpdate.State, StateError)
	}
	if got := ctl.State(); got != StateError {
		t.Fatalf("State = %s, want %s", got, StateError)
	}
	<-ctl.Done()
}

func TestControllerMutedFramesNotForwarded(t *testing.T) {
	ctl, tr := startController(t, testSessionConfig(), fastTuning())
	updates := ctl.Updates()

	tr.events <- transport.Event{Type: transport.EventText, Text: "Hello", Timestamp: time.Now()}
	awaitState(t, updates, StateActive, time.Second)

	ctl.SetMuted(true)
	ctl.PushFrame(loudFrame())
	ctl.PushFrame(loudFrame())
	time.Sleep(50 * time.Millisecond)

	frames, streamEnds, _, _ := tr.counts()
	if frames != 0 {
		t.Fatalf("frames forwarded while muted = %d, want 0", frames)
	}
	// Muting pauses the upstream turn.
	if streamEnds != 1 {
		t.Fatalf("streamEnds = %d, want 1 on mute", streamEnds)
	}

	ctl.SetMuted(false)
	ctl.PushFrame(loudFrame())
	deadline := time.Now().Add(time.Second)
	for {
		frames, _, _, _ := tr.counts()
		if frames == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("frame not forwarded after unmute")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctl.End()
	<-ctl.Done()
}

func TestControllerEndIsIdempotent(t *testing.T) {
	ctl, _ := startController(t, testSessionConfig(), fastTuning())

	ctl.End()
	<-ctl.Done()

	// Further commands after teardown must be harmless.
	ctl.End()
	ctl.PlaybackComplete()
	ctl.PushFrame(loudFrame())

	if got := ctl.State(); got != StateCompleted {
		t.Fatalf("State = %s, want %s", got, StateCompleted)
	}
}
