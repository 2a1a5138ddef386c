package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/hireloop/interview-engine/internal/interview"
	"github.com/hireloop/interview-engine/pkg/logger"
)

// TranscriptStorage handles storage of interview transcript entries
type TranscriptStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewTranscriptStorage creates a new SQLite transcript storage
func NewTranscriptStorage(db *sql.DB, log *logger.Logger) (*TranscriptStorage, error) {
	storage := &TranscriptStorage{
		db:     db,
		logger: log.Named("sqlite-transcripts"),
	}

	if err := storage.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize transcript storage: %w", err)
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *TranscriptStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcript_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create transcript_entries table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_transcript_session_id ON transcript_entries(session_id)`)
	if err != nil {
		return fmt.Errorf("failed to create session_id index: %w", err)
	}

	return nil
}

// AppendEntry stores one transcript entry for a session
func (s *TranscriptStorage) AppendEntry(sessionID string, entry interview.TranscriptEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO transcript_entries (session_id, speaker, content, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, string(entry.Speaker), entry.Text, entry.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert transcript entry: %w", err)
	}
	return nil
}

// GetEntries returns the full transcript for a session in chronological order
func (s *TranscriptStorage) GetEntries(sessionID string) ([]interview.TranscriptEntry, error) {
	rows, err := s.db.Query(`
		SELECT speaker, content, created_at
		FROM transcript_entries
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var entries []interview.TranscriptEntry
	for rows.Next() {
		var entry interview.TranscriptEntry
		var speaker string
		if err := rows.Scan(&speaker, &entry.Text, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		entry.Speaker = interview.Speaker(speaker)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
