package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/interview-engine/internal/interview"
	"github.com/hireloop/interview-engine/internal/observability"
	"github.com/hireloop/interview-engine/internal/storage/sqlite"
	"github.com/hireloop/interview-engine/internal/transport"
	"github.com/hireloop/interview-engine/pkg/logger"
)

// Config holds session lifecycle settings.
type Config struct {
	// TokenTTL is how long a connect token stays valid before the session
	// is expired unconnected.
	TokenTTL time.Duration
	// Retention is how long finished sessions stay in memory for quick
	// transcript access before falling back to the database.
	Retention time.Duration
	// CleanupInterval is how often expired and stale sessions are swept.
	CleanupInterval time.Duration
	// MaxConcurrent caps sessions that are pending or live at once.
	MaxConcurrent int
}

// DefaultConfig returns session lifecycle defaults.
func DefaultConfig() Config {
	return Config{
		TokenTTL:        5 * time.Minute,
		Retention:       time.Hour,
		CleanupInterval: time.Minute,
		MaxConcurrent:   20,
	}
}

// Service manages interview sessions: creation, the single-use connect
// handshake, the running controller and terminal bookkeeping.
type Service struct {
	config       Config
	transportCfg transport.Config
	tuning       interview.Tuning
	sessions     *sqlite.SessionStorage
	transcripts  *sqlite.TranscriptStorage
	metrics      *observability.Metrics
	logger       *logger.Logger

	mu   sync.RWMutex
	byID map[string]*Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a session service and starts its cleanup loop.
// sessions, transcripts and metrics may be nil (persistence and metrics are
// then skipped).
func NewService(
	config Config,
	transportCfg transport.Config,
	tuning interview.Tuning,
	sessions *sqlite.SessionStorage,
	transcripts *sqlite.TranscriptStorage,
	metrics *observability.Metrics,
	log *logger.Logger,
) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		config:       config,
		transportCfg: transportCfg,
		tuning:       tuning,
		sessions:     sessions,
		transcripts:  transcripts,
		metrics:      metrics,
		logger:       log.Named("session-service"),
		byID:         make(map[string]*Session),
		ctx:          ctx,
		cancel:       cancel,
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

// Create registers a new session and returns it along with its single-use
// connect token.
func (s *Service) Create(cfg interview.SessionConfig) (*Session, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	for _, sess := range s.byID {
		switch sess.Status() {
		case StatusPending, StatusLive:
			active++
		}
	}
	if s.config.MaxConcurrent > 0 && active >= s.config.MaxConcurrent {
		return nil, "", ErrTooManySessions
	}

	now := time.Now().UTC()
	token := uuid.NewString()
	sess := &Session{
		ID:        uuid.NewString(),
		Config:    cfg,
		CreatedAt: now,
	}
	sess.status = StatusPending
	sess.connectToken = token
	sess.tokenExpiry = now.Add(s.config.TokenTTL)

	if s.sessions != nil {
		rec := sqlite.SessionRecord{
			ID:        sess.ID,
			JobTitle:  cfg.JobTitle,
			Company:   cfg.Company,
			Status:    string(StatusPending),
			CreatedAt: now,
		}
		if err := s.sessions.CreateSession(rec); err != nil {
			return nil, "", fmt.Errorf("failed to persist session: %w", err)
		}
	}

	s.byID[sess.ID] = sess
	s.logger.Info("Created interview session",
		logger.String("session_id", sess.ID),
		logger.String("job_title", cfg.JobTitle))

	return sess, token, nil
}

// Get returns the in-memory session with the given ID.
func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Connect consumes a connect token and starts the interview: it opens the
// upstream transport, runs the controller and returns it for the client
// bridge to drive. Each token works exactly once.
func (s *Service) Connect(ctx context.Context, id, token string) (*interview.Controller, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.status != StatusPending || sess.connectToken == "" ||
		sess.connectToken != token || time.Now().After(sess.tokenExpiry) {
		sess.mu.Unlock()
		return nil, ErrInvalidToken
	}
	sess.connectToken = ""
	sess.mu.Unlock()

	client := transport.NewClient(s.transportCfg, s.logger)
	var store interview.TranscriptStore
	if s.transcripts != nil {
		store = s.transcripts
	}
	ctl := interview.NewController(sess.ID, sess.Config, s.tuning, client, store, s.logger)
	if s.metrics != nil {
		ctl.SetMetrics(s.metrics)
	}

	if err := ctl.Start(ctx); err != nil {
		s.finalize(sess, interview.StateError)
		return nil, fmt.Errorf("failed to start interview: %w", err)
	}

	sess.mu.Lock()
	sess.status = StatusLive
	sess.controller = ctl
	sess.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}
	s.persistStatus(sess.ID, StatusLive, "", nil)

	s.wg.Add(1)
	go s.watch(sess, ctl)

	s.logger.Info("Interview session started", logger.String("session_id", sess.ID))
	return ctl, nil
}

// End requests termination of a live session. Safe to call repeatedly.
func (s *Service) End(id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	ctl := sess.Controller()
	if ctl == nil {
		return fmt.Errorf("session %s is not live", id)
	}
	ctl.End()
	return nil
}

// Transcript returns the session transcript, from the live controller when
// running, otherwise from storage.
func (s *Service) Transcript(id string) ([]interview.TranscriptEntry, error) {
	sess, err := s.Get(id)
	if err != nil {
		if s.transcripts != nil {
			// The session may have been swept from memory.
			return s.transcripts.GetEntries(id)
		}
		return nil, err
	}
	if ctl := sess.Controller(); ctl != nil {
		return ctl.Transcript(), nil
	}
	if s.transcripts != nil {
		return s.transcripts.GetEntries(id)
	}
	return nil, nil
}

// watch waits for a controller to finish and records the outcome.
func (s *Service) watch(sess *Session, ctl *interview.Controller) {
	defer s.wg.Done()

	select {
	case <-ctl.Done():
	case <-s.ctx.Done():
		ctl.End()
		<-ctl.Done()
	}

	s.finalize(sess, ctl.State())
}

func (s *Service) finalize(sess *Session, final interview.State) {
	now := time.Now().UTC()

	sess.mu.Lock()
	if sess.status == StatusCompleted || sess.status == StatusFailed {
		sess.mu.Unlock()
		return
	}
	wasLive := sess.status == StatusLive
	status := StatusCompleted
	if final == interview.StateError {
		status = StatusFailed
	}
	sess.status = status
	sess.controller = nil
	sess.endedAt = now
	sess.finalState = final
	sess.mu.Unlock()

	if s.metrics != nil && wasLive {
		s.metrics.ActiveSessions.Dec()
		s.metrics.ObserveSessionDuration(now.Sub(sess.CreatedAt))
	}
	s.persistStatus(sess.ID, status, string(final), &now)

	s.logger.Info("Interview session finished",
		logger.String("session_id", sess.ID),
		logger.String("status", string(status)),
		logger.String("final_state", string(final)))
}

func (s *Service) persistStatus(id string, status Status, finalState string, endedAt *time.Time) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.UpdateStatus(id, string(status), finalState, endedAt); err != nil {
		s.logger.Error("Failed to persist session status",
			logger.String("session_id", id),
			logger.Error(err))
	}
}

// cleanupLoop sweeps sessions whose connect token expired unconsumed and
// finished sessions past the retention window.
func (s *Service) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) cleanup() {
	now := time.Now()

	s.mu.Lock()
	var expired, swept []*Session
	for id, sess := range s.byID {
		sess.mu.Lock()
		switch sess.status {
		case StatusPending:
			if now.After(sess.tokenExpiry) {
				sess.status = StatusFailed
				sess.endedAt = now.UTC()
				expired = append(expired, sess)
				delete(s.byID, id)
			}
		case StatusCompleted, StatusFailed:
			if !sess.endedAt.IsZero() && now.Sub(sess.endedAt) > s.config.Retention {
				swept = append(swept, sess)
				delete(s.byID, id)
			}
		}
		sess.mu.Unlock()
	}
	s.mu.Unlock()

	for _, sess := range expired {
		ended := sess.EndedAt()
		s.persistStatus(sess.ID, StatusFailed, "", &ended)
		s.logger.Info("Expired unconnected session", logger.String("session_id", sess.ID))
	}
	if len(swept) > 0 {
		s.logger.Debug("Swept finished sessions from memory", logger.Int("count", len(swept)))
	}
}

// Shutdown ends all live sessions and stops the service.
func (s *Service) Shutdown() {
	s.logger.Info("Shutting down session service")

	s.mu.RLock()
	for _, sess := range s.byID {
		if ctl := sess.Controller(); ctl != nil {
			ctl.End()
		}
	}
	s.mu.RUnlock()

	s.cancel()
	s.wg.Wait()
}
