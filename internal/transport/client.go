package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hireloop/interview-engine/pkg/logger"
)

const (
	// DefaultHost is the default host for the live conversational endpoint
	DefaultHost = "generativelanguage.googleapis.com"
	// DefaultPath is the WebSocket path for BidiGenerateContent
	DefaultPath = "/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"

	// DefaultSetupTimeout bounds how long we wait for the setup acknowledgment
	// before the session is failed. Prevents an indefinite "connecting" hang.
	DefaultSetupTimeout = 15 * time.Second

	defaultEventBuffer = 256
)

// Config holds connection settings for the live transport.
type Config struct {
	// Endpoint overrides the full WebSocket URL when set. Used by tests and
	// proxies; when empty the URL is built from Host/Path plus the credential.
	Endpoint string
	Host     string
	Path     string

	// Credential is the short-lived key used once to open this connection.
	Credential string

	// InputSampleRate is the rate of microphone PCM sent upstream.
	InputSampleRate int

	// SetupTimeout bounds the wait for the setup acknowledgment.
	SetupTimeout time.Duration

	HandshakeTimeout time.Duration
}

// Client owns the persistent socket to the remote conversational endpoint:
// connection lifecycle, message framing, and explicit turn-boundary signaling.
// All inbound frames are classified and delivered on the Events channel in
// strict arrival order.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *logger.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	connected   bool
	loopStarted bool
	streamEnded bool
	startedAt   time.Time

	events    chan Event
	closeOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}
}

// NewClient creates a live transport client. Connect must be called before
// any send operation.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = DefaultSetupTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = 16000
	}

	return &Client{
		cfg:    cfg,
		logger: log.Named("live-transport"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		events: make(chan Event, defaultEventBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the inbound event stream. The channel is closed after the
// socket closes; an EventError or EventClosed event precedes the close.
func (c *Client) Events() <-chan Event {
	return c.events
}

// StartedAt returns the instant the remote acknowledged setup. The session
// countdown is computed from this timestamp, not from ticker cadence.
func (c *Client) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// Connected reports whether the socket is open and setup has been acknowledged.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect dials the remote endpoint, sends the setup handshake and blocks
// until the remote acknowledges setup completion. It fails if no
// acknowledgment arrives within the configured setup timeout.
func (c *Client) Connect(ctx context.Context, setup SessionSetup) error {
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		u := url.URL{Scheme: "wss", Host: c.cfg.Host, Path: c.cfg.Path}
		q := u.Query()
		q.Set("key", c.cfg.Credential)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	c.logger.Info("Connecting to live endpoint", logger.String("host", c.cfg.Host))

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			c.logger.Error("WebSocket handshake failed",
				logger.Int("status_code", resp.StatusCode),
				logger.String("status", resp.Status))
		}
		return fmt.Errorf("failed to dial live endpoint: %w", err)
	}

	model := setup.Model
	if !containsSlash(model) {
		model = "models/" + model
	}
	msg := setupMessage{
		Setup: setupPayload{
			Model: model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: setup.Voice},
					},
				},
			},
			SystemInstruction:        systemInstruction{Parts: []textPart{{Text: setup.SystemPrompt}}},
			OutputAudioTranscription: &struct{}{},
			InputAudioTranscription:  &struct{}{},
		},
	}
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send setup handshake: %w", err)
	}

	// Wait for the setup acknowledgment before reporting the connection open.
	ackDeadline := time.Now().Add(c.cfg.SetupTimeout)
	if err := conn.SetReadDeadline(ackDeadline); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set ack deadline: %w", err)
	}

	var pending []Event
	acked := false
	for !acked {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return fmt.Errorf("no setup acknowledgment within %s: %w", c.cfg.SetupTimeout, err)
		}
		events, err := classify(raw, time.Now().UTC())
		if err != nil {
			c.logger.Warn("Discarding unparseable frame during setup", logger.Error(err))
			continue
		}
		for _, ev := range events {
			if ev.Type == EventSetupComplete {
				acked = true
			}
			pending = append(pending, ev)
		}
		if time.Now().After(ackDeadline) && !acked {
			conn.Close()
			return fmt.Errorf("no setup acknowledgment within %s", c.cfg.SetupTimeout)
		}
	}
	conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.loopStarted = true
	c.startedAt = time.Now().UTC()
	c.mu.Unlock()

	c.logger.Info("Live session established", logger.Time("started_at", c.StartedAt()))

	for _, ev := range pending {
		c.deliver(ev)
	}

	go c.readLoop()
	return nil
}

// readLoop pumps inbound frames to the event channel in arrival order.
func (c *Client) readLoop() {
	defer c.closeEvents()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Disconnect was requested; not an error.
				return
			default:
			}
			c.logger.Warn("Live socket closed", logger.Error(err))
			c.deliver(Event{Type: EventError, Err: err, Timestamp: time.Now().UTC()})
			return
		}

		events, err := classify(raw, time.Now().UTC())
		if err != nil {
			// Malformed inbound data is discarded at ingestion.
			c.logger.Debug("Discarding unparseable frame", logger.Error(err))
			continue
		}
		for _, ev := range events {
			c.deliver(ev)
		}
	}
}

func (c *Client) deliver(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) closeEvents() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		close(c.events)
	})
}

// SendAudio forwards one raw PCM frame while the session is open. A send on a
// closed socket is logged and dropped, never fatal: frames are continuous and
// occasional loss is tolerable.
func (c *Client) SendAudio(pcm []byte) error {
	c.mu.Lock()
	conn := c.conn
	open := c.connected
	c.streamEnded = false
	c.mu.Unlock()

	if !open || conn == nil {
		c.logger.Debug("Dropping audio frame, socket not open")
		return nil
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{{
				MimeType: fmt.Sprintf("audio/pcm;rate=%d", c.cfg.InputSampleRate),
				Data:     base64.StdEncoding.EncodeToString(pcm),
			}},
		},
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Warn("Failed to send audio frame", logger.Error(err))
		return nil
	}
	return nil
}

// SendAudioStreamEnd signals the end of this turn's audio. Safe to call when
// the stream has already ended.
func (c *Client) SendAudioStreamEnd() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streamEnded {
		return nil
	}
	if c.conn == nil || !c.connected {
		return nil
	}

	msg := realtimeInputMessage{RealtimeInput: realtimeInput{AudioStreamEnd: true}}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send audio stream end: %w", err)
	}
	c.streamEnded = true
	return nil
}

// TriggerNextResponse asks the remote peer to proceed even absent further
// audio. Used for auto-advance after the silence grace period and for the
// manual skip-question override.
func (c *Client) TriggerNextResponse() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.connected {
		return fmt.Errorf("transport not connected")
	}

	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns: []contentTurn{{
				Role:  "user",
				Parts: []textPart{{Text: "Please continue with the interview."}},
			}},
			TurnComplete: true,
		},
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to trigger next response: %w", err)
	}
	return nil
}

// Disconnect closes the socket and releases references. Safe to call multiple
// times and from any state. The events channel is closed by the read loop; if
// the connection never completed setup there is no loop, and it is closed here.
func (c *Client) Disconnect() error {
	c.doneOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	conn := c.conn
	loopStarted := c.loopStarted
	if conn != nil {
		// The close frame is a write; it must not interleave with SendAudio.
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if !loopStarted {
		c.closeEvents()
	}

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func containsSlash(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}
