package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hireloop/interview-engine/internal/feedback"
	"github.com/hireloop/interview-engine/internal/interview"
	"github.com/hireloop/interview-engine/internal/session"
	"github.com/hireloop/interview-engine/internal/storage/sqlite"
	"github.com/hireloop/interview-engine/pkg/logger"
)

// Handler contains the REST API handlers
type Handler struct {
	sessions  *session.Service
	storage   *sqlite.SessionStorage
	generator *feedback.Generator
	defaults  interview.SessionConfig
	logger    *logger.Logger
}

// NewHandler creates a new API handler. storage and generator may be nil;
// the corresponding endpoints then return 503.
func NewHandler(sessions *session.Service, storage *sqlite.SessionStorage, generator *feedback.Generator, defaults interview.SessionConfig, log *logger.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		storage:   storage,
		generator: generator,
		defaults:  defaults,
		logger:    log.Named("api-handler"),
	}
}

// CreateSessionRequest is the body for POST /api/sessions.
type CreateSessionRequest struct {
	JobTitle            string   `json:"job_title"`
	Company             string   `json:"company,omitempty"`
	JobDescription      string   `json:"job_description,omitempty"`
	ResumeText          string   `json:"resume_text,omitempty"`
	TechnicalQuestions  []string `json:"technical_questions,omitempty"`
	BehavioralQuestions []string `json:"behavioral_questions,omitempty"`
	Voice               string   `json:"voice,omitempty"`
	MaxDurationMinutes  int      `json:"max_duration_minutes,omitempty"`
}

// CreateSessionResponse returns the new session's ID and its single-use
// connect token.
type CreateSessionResponse struct {
	SessionID    string    `json:"session_id"`
	ConnectToken string    `json:"connect_token"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateSession creates a new interview session
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.JobTitle == "" {
		http.Error(w, "job_title is required", http.StatusBadRequest)
		return
	}

	cfg := h.defaults
	cfg.JobTitle = req.JobTitle
	cfg.Company = req.Company
	cfg.JobDescription = req.JobDescription
	cfg.ResumeText = req.ResumeText
	cfg.TechnicalQuestions = req.TechnicalQuestions
	cfg.BehavioralQuestions = req.BehavioralQuestions
	if req.Voice != "" {
		cfg.Voice = req.Voice
	}
	if req.MaxDurationMinutes > 0 {
		cfg.MaxDuration = time.Duration(req.MaxDurationMinutes) * time.Minute
		// Keep the warning in front of the new deadline.
		if cfg.WarningAfter <= 0 || cfg.WarningAfter >= cfg.MaxDuration {
			cfg.WarningAfter = cfg.MaxDuration - 2*time.Minute
		}
	}

	sess, token, err := h.sessions.Create(cfg)
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			http.Error(w, "Too many concurrent sessions", http.StatusTooManyRequests)
			return
		}
		h.logger.Error("Failed to create session", logger.Error(err))
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, CreateSessionResponse{
		SessionID:    sess.ID,
		ConnectToken: token,
		CreatedAt:    sess.CreatedAt,
	})
}

// SessionResponse describes a session's current state.
type SessionResponse struct {
	SessionID  string     `json:"session_id"`
	JobTitle   string     `json:"job_title"`
	Company    string     `json:"company,omitempty"`
	Status     string     `json:"status"`
	FinalState string     `json:"final_state,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// GetSession returns one session's status
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if sess, err := h.sessions.Get(sessionID); err == nil {
		resp := SessionResponse{
			SessionID: sess.ID,
			JobTitle:  sess.Config.JobTitle,
			Company:   sess.Config.Company,
			Status:    string(sess.Status()),
			CreatedAt: sess.CreatedAt,
		}
		if final := sess.FinalState(); final != "" {
			resp.FinalState = string(final)
		}
		if ended := sess.EndedAt(); !ended.IsZero() {
			resp.EndedAt = &ended
		}
		writeJSON(w, h.logger, resp)
		return
	}

	// Fall back to storage for sessions swept from memory.
	if h.storage != nil {
		rec, err := h.storage.GetSession(sessionID)
		if err != nil {
			h.logger.Error("Failed to load session", logger.String("session_id", sessionID), logger.Error(err))
			http.Error(w, "Failed to load session", http.StatusInternalServerError)
			return
		}
		if rec != nil {
			writeJSON(w, h.logger, SessionResponse{
				SessionID:  rec.ID,
				JobTitle:   rec.JobTitle,
				Company:    rec.Company,
				Status:     rec.Status,
				FinalState: rec.FinalState,
				CreatedAt:  rec.CreatedAt,
				EndedAt:    rec.EndedAt,
			})
			return
		}
	}

	http.Error(w, "Session not found", http.StatusNotFound)
}

// ListSessions returns recent sessions from storage
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		http.Error(w, "Persistence disabled", http.StatusServiceUnavailable)
		return
	}
	records, err := h.storage.ListSessions(50)
	if err != nil {
		h.logger.Error("Failed to list sessions", logger.Error(err))
		http.Error(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []sqlite.SessionRecord{}
	}
	writeJSON(w, h.logger, records)
}

// EndSession terminates a live session
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.sessions.End(sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.logger.Info("Session end requested", logger.String("session_id", sessionID))
}

// GetTranscript returns a session's transcript
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	entries, err := h.sessions.Transcript(sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to load transcript", logger.String("session_id", sessionID), logger.Error(err))
		http.Error(w, "Failed to load transcript", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []interview.TranscriptEntry{}
	}
	writeJSON(w, h.logger, entries)
}

// FeedbackResponse carries generated interview feedback.
type FeedbackResponse struct {
	SessionID string `json:"session_id"`
	Feedback  string `json:"feedback"`
}

// GenerateFeedback produces written feedback for a finished session. The
// result is cached in storage, so repeat calls are cheap.
func (h *Handler) GenerateFeedback(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if h.generator == nil {
		http.Error(w, "Feedback generation not configured", http.StatusServiceUnavailable)
		return
	}

	sess, sessErr := h.sessions.Get(sessionID)
	if sessErr == nil {
		if st := sess.Status(); st == session.StatusPending || st == session.StatusLive {
			http.Error(w, session.ErrSessionActive.Error(), http.StatusConflict)
			return
		}
	}

	// Feedback already on record is served as-is, whether or not the
	// session is still held in memory.
	var rec *sqlite.SessionRecord
	if h.storage != nil {
		var err error
		rec, err = h.storage.GetSession(sessionID)
		if err != nil {
			if sessErr != nil {
				h.logger.Error("Failed to load session", logger.String("session_id", sessionID), logger.Error(err))
				http.Error(w, "Failed to load session", http.StatusInternalServerError)
				return
			}
			h.logger.Error("Failed to check cached feedback", logger.String("session_id", sessionID), logger.Error(err))
		}
		if rec != nil && rec.Feedback != "" {
			writeJSON(w, h.logger, FeedbackResponse{SessionID: sessionID, Feedback: rec.Feedback})
			return
		}
	}

	var cfg interview.SessionConfig
	switch {
	case sessErr == nil:
		cfg = sess.Config
	case rec != nil:
		cfg.JobTitle = rec.JobTitle
		cfg.Company = rec.Company
	default:
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	entries, err := h.sessions.Transcript(sessionID)
	if err != nil || len(entries) == 0 {
		http.Error(w, "No transcript available for this session", http.StatusUnprocessableEntity)
		return
	}

	text, err := h.generator.Generate(r.Context(), cfg, entries)
	if err != nil {
		h.logger.Error("Feedback generation failed",
			logger.String("session_id", sessionID),
			logger.Error(err))
		http.Error(w, "Failed to generate feedback", http.StatusBadGateway)
		return
	}

	if h.storage != nil {
		if err := h.storage.SetFeedback(sessionID, text); err != nil {
			h.logger.Error("Failed to cache feedback", logger.Error(err))
		}
	}

	writeJSON(w, h.logger, FeedbackResponse{SessionID: sessionID, Feedback: text})
}

// Health reports service liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, log *logger.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response", logger.Error(err))
	}
}
