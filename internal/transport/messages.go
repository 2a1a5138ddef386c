package transport

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a classified inbound transport event.
type EventType string

const (
	// EventSetupComplete is the remote acknowledgment of the setup handshake.
	EventSetupComplete EventType = "setup_complete"
	// EventText is a plain text fragment of the interviewer's turn.
	EventText EventType = "text"
	// EventAudioChunk carries one base64-encoded fragment of interviewer audio.
	EventAudioChunk EventType = "audio_chunk"
	// EventTranscription is fallback transcription text for interviewer audio.
	EventTranscription EventType = "transcription"
	// EventInputTranscription is transcription of the candidate's own speech.
	EventInputTranscription EventType = "input_transcription"
	// EventTurnComplete marks the end of the interviewer's turn.
	EventTurnComplete EventType = "turn_complete"
	// EventError reports a transport-level failure. Terminal for the session.
	EventError EventType = "error"
	// EventClosed signals the socket closed and no further events will arrive.
	EventClosed EventType = "closed"
)

// Event is one classified inbound message, routed through a single dispatcher
// so the controller never touches raw wire frames.
type Event struct {
	Type      EventType
	Text      string    // EventText, EventTranscription, EventInputTranscription
	Audio     string    // EventAudioChunk: base64 PCM payload
	MimeType  string    // EventAudioChunk
	Err       error     // EventError
	Timestamp time.Time // arrival time
}

// SessionSetup carries everything the setup handshake needs: the synthetic
// voice, the interview context and the candidate question list.
type SessionSetup struct {
	Model        string
	Voice        string
	SystemPrompt string
}

// Outbound wire messages. The remote protocol accepts snake_case keys for
// client messages and answers with camelCase keys.

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model             string            `json:"model"`
	GenerationConfig  generationConfig  `json:"generation_config"`
	SystemInstruction systemInstruction `json:"system_instruction"`
	OutputAudioTranscription *struct{}  `json:"output_audio_transcription,omitempty"`
	InputAudioTranscription  *struct{}  `json:"input_audio_transcription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"response_modalities"`
	SpeechConfig       speechConfig `json:"speech_config"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voice_config"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuilt_voice_config"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voice_name"`
}

type systemInstruction struct {
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtime_input"`
}

type realtimeInput struct {
	MediaChunks   []mediaChunk `json:"media_chunks,omitempty"`
	AudioStreamEnd bool        `json:"audio_stream_end,omitempty"`
}

type mediaChunk struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"client_content"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turn_complete"`
}

type contentTurn struct {
	Role  string     `json:"role"`
	Parts []textPart `json:"parts"`
}

// Inbound wire message. Every field is optional; classification inspects
// which ones are present.
type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete"`
	ServerContent *serverContent   `json:"serverContent"`
	Error         *serverError     `json:"error"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn"`
	OutputTranscription *transcription `json:"outputTranscription"`
	InputTranscription  *transcription `json:"inputTranscription"`
	TurnComplete        bool           `json:"turnComplete"`
}

type modelTurn struct {
	Parts []serverPart `json:"parts"`
}

type serverPart struct {
	Text       string      `json:"text"`
	InlineData *inlineData `json:"inlineData"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type transcription struct {
	Text string `json:"text"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// classify converts one raw wire frame into zero or more dispatch events,
// preserving part order within a model turn.
func classify(raw []byte, now time.Time) ([]Event, error) {
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}

	var events []Event

	if msg.Error != nil {
		events = append(events, Event{
			Type:      EventError,
			Err:       fmt.Errorf("remote error %d: %s", msg.Error.Code, msg.Error.Message),
			Timestamp: now,
		})
	}

	if msg.SetupComplete != nil {
		events = append(events, Event{Type: EventSetupComplete, Timestamp: now})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && part.InlineData.Data != "" {
					events = append(events, Event{
						Type:      EventAudioChunk,
						Audio:     part.InlineData.Data,
						MimeType:  part.InlineData.MimeType,
						Timestamp: now,
					})
				}
				if part.Text != "" {
					events = append(events, Event{Type: EventText, Text: part.Text, Timestamp: now})
				}
			}
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, Event{Type: EventTranscription, Text: sc.OutputTranscription.Text, Timestamp: now})
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events = append(events, Event{Type: EventInputTranscription, Text: sc.InputTranscription.Text, Timestamp: now})
		}
		if sc.TurnComplete {
			events = append(events, Event{Type: EventTurnComplete, Timestamp: now})
		}
	}

	return events, nil
}
