package interview

import (
	"sort"
	"sync"
	"time"

	"github.com/hireloop/interview-engine/internal/audio"
	"github.com/hireloop/interview-engine/pkg/logger"
)

// pendingChunk is one base64 audio fragment awaiting assembly.
type pendingChunk struct {
	payload string
	arrived time.Time
}

// Accumulator buffers inbound interviewer audio fragments and reassembles
// them into a single PCM buffer once a quiescence or size threshold is hit.
// Chunks may keep arriving while the previous buffer is still playing; those
// are buffered for the next flush, never dropped.
type Accumulator struct {
	mu  sync.Mutex
	cfg Tuning
	log *logger.Logger

	pending     []pendingChunk
	lastArrival time.Time
	playing     bool
}

// NewAccumulator creates an accumulator with the given tuning.
func NewAccumulator(cfg Tuning, log *logger.Logger) *Accumulator {
	return &Accumulator{
		cfg: cfg,
		log: log.Named("audio-accumulator"),
	}
}

// Ingest appends a chunk with its arrival timestamp. Empty payloads are
// malformed and discarded; the return value reports acceptance.
func (a *Accumulator) Ingest(payload string, now time.Time) bool {
	if payload == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, pendingChunk{payload: payload, arrived: now})
	a.lastArrival = now
	return true
}

// PendingCount returns the number of buffered chunks.
func (a *Accumulator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// FlushDue reports whether the flush conditions hold at the given instant:
// not already playing, at least one chunk pending, and either the pending
// count reached the force-flush threshold or no chunk arrived within the
// quiescence window.
func (a *Accumulator) FlushDue(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.playing || len(a.pending) == 0 {
		return false
	}
	if len(a.pending) >= a.cfg.ForceFlushCount {
		return true
	}
	return now.Sub(a.lastArrival) >= a.cfg.ChunkQuiescence
}

// Flush drains the pending set and assembles it: chunks sorted by arrival
// timestamp, base64-decoded, reinterpreted as little-endian 16-bit PCM and
// concatenated in order. Assembly is idempotent under delivery reordering
// because ordering comes from timestamps, not arrival sequence.
//
// A nil result means nothing playable was pending (all chunks empty or
// malformed); the caller must treat that as a turn completed with silence and
// reset conversational state rather than stalling.
func (a *Accumulator) Flush() []int16 {
	a.mu.Lock()
	chunks := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(chunks) == 0 {
		return nil
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].arrived.Before(chunks[j].arrived)
	})

	var assembled []int16
	dropped := 0
	for _, ch := range chunks {
		samples, err := audio.DecodeBase64PCM16(ch.payload)
		if err != nil {
			dropped++
			continue
		}
		assembled = append(assembled, samples...)
	}
	if dropped > 0 {
		a.log.Warn("Dropped malformed audio chunks", logger.Int("count", dropped))
	}
	if len(assembled) == 0 {
		return nil
	}
	return assembled
}

// BeginPlayback marks the accumulator as playing, deferring further flushes.
func (a *Accumulator) BeginPlayback() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playing = true
}

// PlaybackDone clears the playing flag so buffered next-turn chunks become
// eligible for flushing again.
func (a *Accumulator) PlaybackDone() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playing = false
}

// Playing reports whether assembled audio is currently being played back.
func (a *Accumulator) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing
}

// Reset drops all pending chunks and playback state. Used on teardown.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = nil
	a.playing = false
	a.lastArrival = time.Time{}
}
