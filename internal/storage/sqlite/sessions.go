package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hireloop/interview-engine/pkg/logger"
)

// SessionRecord represents an interview session row in the database
type SessionRecord struct {
	ID         string     `json:"id"`
	JobTitle   string     `json:"job_title"`
	Company    string     `json:"company,omitempty"`
	Status     string     `json:"status"`
	FinalState string     `json:"final_state,omitempty"`
	Feedback   string     `json:"feedback,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// SessionStorage handles storage of interview session records
type SessionStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSessionStorage creates a new SQLite session storage
func NewSessionStorage(db *sql.DB, log *logger.Logger) (*SessionStorage, error) {
	storage := &SessionStorage{
		db:     db,
		logger: log.Named("sqlite-sessions"),
	}

	if err := storage.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize session storage: %w", err)
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *SessionStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS interview_sessions (
			id TEXT PRIMARY KEY,
			job_title TEXT NOT NULL,
			company TEXT,
			status TEXT NOT NULL,
			final_state TEXT,
			feedback TEXT,
			created_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create interview_sessions table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON interview_sessions(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_status ON interview_sessions(status)`)
	if err != nil {
		return fmt.Errorf("failed to create status index: %w", err)
	}

	return nil
}

// CreateSession inserts a new session record
func (s *SessionStorage) CreateSession(rec SessionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO interview_sessions (id, job_title, company, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.JobTitle, rec.Company, rec.Status, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateStatus records a status change, optionally with the terminal state
// and end time.
func (s *SessionStorage) UpdateStatus(id, status, finalState string, endedAt *time.Time) error {
	var ended interface{}
	if endedAt != nil {
		ended = endedAt.UTC()
	}
	res, err := s.db.Exec(`
		UPDATE interview_sessions
		SET status = ?, final_state = ?, ended_at = ?
		WHERE id = ?
	`, status, finalState, ended, id)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// SetFeedback stores generated post-interview feedback
func (s *SessionStorage) SetFeedback(id, feedback string) error {
	_, err := s.db.Exec(`UPDATE interview_sessions SET feedback = ? WHERE id = ?`, feedback, id)
	if err != nil {
		return fmt.Errorf("failed to store feedback for session %s: %w", id, err)
	}
	return nil
}

// GetSession fetches one session record by ID
func (s *SessionStorage) GetSession(id string) (*SessionRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, job_title, company, status, COALESCE(final_state, ''), COALESCE(feedback, ''), created_at, ended_at
		FROM interview_sessions WHERE id = ?
	`, id)

	var rec SessionRecord
	var company sql.NullString
	var endedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.JobTitle, &company, &rec.Status, &rec.FinalState, &rec.Feedback, &rec.CreatedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", id, err)
	}
	rec.Company = company.String
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	return &rec, nil
}

// ListSessions returns the most recent sessions, newest first
func (s *SessionStorage) ListSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, job_title, company, status, COALESCE(final_state, ''), COALESCE(feedback, ''), created_at, ended_at
		FROM interview_sessions ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var company sql.NullString
		var endedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.JobTitle, &company, &rec.Status, &rec.FinalState, &rec.Feedback, &rec.CreatedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		rec.Company = company.String
		if endedAt.Valid {
			t := endedAt.Time
			rec.EndedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
