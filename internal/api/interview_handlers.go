package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	gorillaws "github.com/gorilla/websocket"

	"github.com/hireloop/interview-engine/internal/audio"
	"github.com/hireloop/interview-engine/internal/interview"
	"github.com/hireloop/interview-engine/internal/observability"
	"github.com/hireloop/interview-engine/internal/session"
	"github.com/hireloop/interview-engine/internal/websocket"
	"github.com/hireloop/interview-engine/pkg/logger"
)

// Client message types on the interview socket.
const (
	clientMsgAudioFrame       = "audio_frame"
	clientMsgMute             = "mute"
	clientMsgUnmute           = "unmute"
	clientMsgDoneSpeaking     = "done_speaking"
	clientMsgNextQuestion     = "next_question"
	clientMsgPlaybackComplete = "playback_complete"
	clientMsgPlaybackFailed   = "playback_failed"
	clientMsgMicError         = "mic_error"
	clientMsgEnd              = "end"
)

// SafeClientConn wraps a WebSocket connection with a mutex for thread-safe writes
type SafeClientConn struct {
	conn *gorillaws.Conn
	mu   sync.Mutex
}

// NewSafeClientConn creates a new safe WebSocket connection wrapper
func NewSafeClientConn(conn *gorillaws.Conn) *SafeClientConn {
	return &SafeClientConn{conn: conn}
}

// WriteJSON safely writes a JSON message to the WebSocket connection
func (s *SafeClientConn) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close closes the WebSocket connection
func (s *SafeClientConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// bridgeMessage is the frame format on the interview socket, both directions.
type bridgeMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// InterviewHandlers contains handlers for the live interview socket
type InterviewHandlers struct {
	sessions  *session.Service
	observers *websocket.Server
	metrics   *observability.Metrics
	logger    *logger.Logger
	upgrader  gorillaws.Upgrader
}

// NewInterviewHandlers creates new interview socket handlers. observers and
// metrics may be nil.
func NewInterviewHandlers(sessions *session.Service, observers *websocket.Server, metrics *observability.Metrics, log *logger.Logger) *InterviewHandlers {
	return &InterviewHandlers{
		sessions:  sessions,
		observers: observers,
		metrics:   metrics,
		logger:    log.Named("interview-handlers"),
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow all origins for now - in production, restrict this
				return true
			},
		},
	}
}

// ConnectHandler upgrades the candidate's connection and runs the interview
// bridge. The single-use connect token rides in the token query parameter.
func (h *InterviewHandlers) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	token := r.URL.Query().Get("token")
	if sessionID == "" || token == "" {
		http.Error(w, "Session ID and token are required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade to WebSocket",
			logger.String("session_id", sessionID),
			logger.Error(err))
		return
	}
	defer conn.Close()

	safeConn := NewSafeClientConn(conn)

	ctl, err := h.sessions.Connect(r.Context(), sessionID, token)
	if err != nil {
		h.logger.Warn("Interview connect rejected",
			logger.String("session_id", sessionID),
			logger.Error(err))
		safeConn.WriteJSON(map[string]any{
			"type": "error",
			"data": map[string]any{"message": err.Error()},
		})
		return
	}

	h.logger.Info("Interview socket established", logger.String("session_id", sessionID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errChan := make(chan error, 2)

	go func() {
		errChan <- h.forwardClientToController(ctx, conn, ctl)
	}()
	go func() {
		errChan <- h.forwardUpdatesToClient(safeConn, sessionID, ctl)
	}()

	select {
	case err := <-errChan:
		if gorillaws.IsUnexpectedCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseGoingAway, gorillaws.CloseAbnormalClosure) {
			h.logger.Error("Interview bridge failed",
				logger.String("session_id", sessionID),
				logger.Error(err))
		}
	case <-ctx.Done():
	}

	// Whatever ended the bridge, the interview ends with it.
	ctl.End()
	<-ctl.Done()

	h.logger.Info("Interview socket closed", logger.String("session_id", sessionID))
}

// forwardClientToController is the read pump: candidate microphone frames and
// control messages flow into the controller.
func (h *InterviewHandlers) forwardClientToController(ctx context.Context, conn *gorillaws.Conn, ctl *interview.Controller) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg bridgeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Debug("Ignoring malformed client message", logger.Error(err))
			continue
		}
		if h.metrics != nil {
			h.metrics.WSMessages.WithLabelValues("in", msg.Type).Inc()
		}

		switch msg.Type {
		case clientMsgAudioFrame:
			var payload struct {
				Data string `json:"data"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				continue
			}
			samples, err := audio.DecodeBase64PCM16(payload.Data)
			if err != nil {
				h.logger.Debug("Dropping undecodable audio frame", logger.Error(err))
				continue
			}
			ctl.PushFrame(samples)

		case clientMsgMute:
			ctl.SetMuted(true)
		case clientMsgUnmute:
			ctl.SetMuted(false)
		case clientMsgDoneSpeaking:
			ctl.DoneSpeaking()
		case clientMsgNextQuestion:
			ctl.NextQuestion()
		case clientMsgPlaybackComplete:
			ctl.PlaybackComplete()
		case clientMsgPlaybackFailed:
			ctl.PlaybackFailed(reasonField(msg.Data))
		case clientMsgMicError:
			ctl.MicrophoneError(reasonField(msg.Data))
		case clientMsgEnd:
			ctl.End()
		default:
			h.logger.Debug("Unknown client message type", logger.String("type", msg.Type))
		}
	}
}

// forwardUpdatesToClient is the write pump: it drains controller updates
// until the channel closes, mirroring them to the candidate socket and the
// observer hub.
func (h *InterviewHandlers) forwardUpdatesToClient(conn *SafeClientConn, sessionID string, ctl *interview.Controller) error {
	for update := range ctl.Updates() {
		out := h.clientMessage(sessionID, update)
		if out == nil {
			continue
		}
		if h.metrics != nil {
			h.metrics.WSMessages.WithLabelValues("out", string(update.Type)).Inc()
		}
		if err := conn.WriteJSON(out); err != nil {
			// Keep draining so the controller never blocks; the observers
			// still get the rest of the session.
			h.drainToObservers(sessionID, ctl)
			return err
		}
		h.mirrorToObservers(sessionID, update)
	}
	return nil
}

func (h *InterviewHandlers) drainToObservers(sessionID string, ctl *interview.Controller) {
	for update := range ctl.Updates() {
		h.mirrorToObservers(sessionID, update)
	}
}

// clientMessage maps a controller update to the candidate socket format.
func (h *InterviewHandlers) clientMessage(sessionID string, update interview.Update) map[string]any {
	switch update.Type {
	case interview.UpdateState:
		return map[string]any{
			"type": "state",
			"data": map[string]any{"state": string(update.State)},
		}
	case interview.UpdateTranscript:
		return map[string]any{
			"type": "transcript",
			"data": map[string]any{
				"speaker":   string(update.Entry.Speaker),
				"text":      update.Entry.Text,
				"timestamp": update.Entry.Timestamp,
			},
		}
	case interview.UpdatePlayAudio:
		return map[string]any{
			"type": "play_audio",
			"data": map[string]any{
				"format": "wav",
				"data":   base64.StdEncoding.EncodeToString(update.WAV),
			},
		}
	case interview.UpdateClock:
		return map[string]any{
			"type": "clock",
			"data": map[string]any{
				"elapsed_seconds":   int(update.Elapsed.Seconds()),
				"remaining_seconds": int(update.Remaining.Seconds()),
			},
		}
	case interview.UpdateWarning:
		return map[string]any{
			"type": "time_warning",
			"data": map[string]any{"remaining_seconds": int(update.Remaining.Seconds())},
		}
	case interview.UpdateSpeech:
		return map[string]any{
			"type": "speech",
			"data": map[string]any{"speaking": update.Speaking},
		}
	case interview.UpdateError:
		return map[string]any{
			"type": "error",
			"data": map[string]any{"message": update.Message},
		}
	}
	return nil
}

// mirrorToObservers forwards session progress to the observer hub. Audio is
// not mirrored; observers follow the transcript.
func (h *InterviewHandlers) mirrorToObservers(sessionID string, update interview.Update) {
	if h.observers == nil {
		return
	}

	switch update.Type {
	case interview.UpdateState:
		h.observers.Broadcast(&websocket.Message{
			Type: websocket.MessageTypeSessionState,
			Data: map[string]any{"session_id": sessionID, "state": string(update.State)},
		})
	case interview.UpdateTranscript:
		h.observers.Broadcast(&websocket.Message{
			Type: websocket.MessageTypeTranscriptEntry,
			Data: map[string]any{
				"session_id": sessionID,
				"speaker":    string(update.Entry.Speaker),
				"text":       update.Entry.Text,
				"timestamp":  update.Entry.Timestamp,
			},
		})
	case interview.UpdateClock:
		h.observers.Broadcast(&websocket.Message{
			Type: websocket.MessageTypeSessionClock,
			Data: map[string]any{
				"session_id":        sessionID,
				"elapsed_seconds":   int(update.Elapsed.Seconds()),
				"remaining_seconds": int(update.Remaining.Seconds()),
			},
		})
	case interview.UpdateWarning:
		h.observers.Broadcast(&websocket.Message{
			Type: websocket.MessageTypeTimeWarning,
			Data: map[string]any{
				"session_id":        sessionID,
				"remaining_seconds": int(update.Remaining.Seconds()),
			},
		})
	case interview.UpdateError:
		h.observers.Broadcast(&websocket.Message{
			Type: websocket.MessageTypeSessionError,
			Data: map[string]any{"session_id": sessionID, "message": update.Message},
		})
	}
}

func reasonField(data json.RawMessage) string {
	var payload struct {
		Reason string `json:"reason"`
	}
	if len(data) > 0 {
		json.Unmarshal(data, &payload)
	}
	if payload.Reason == "" {
		return "unspecified"
	}
	return payload.Reason
}
