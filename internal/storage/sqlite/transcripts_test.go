package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hireloop/interview-engine/internal/interview"
	"github.com/hireloop/interview-engine/pkg/logger"
)

func testTranscriptStorage(t *testing.T) *TranscriptStorage {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("NewDatabase returned error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	storage, err := NewTranscriptStorage(db, logger.NewNop())
	if err != nil {
		t.Fatalf("NewTranscriptStorage returned error: %v", err)
	}
	return storage
}

func TestTranscriptStorageAppendAndGet(t *testing.T) {
	storage := testTranscriptStorage(t)

	base := time.Now().UTC().Truncate(time.Second)
	entries := []interview.TranscriptEntry{
		{Speaker: interview.SpeakerInterviewer, Text: "Tell me about yourself.", Timestamp: base},
		{Speaker: interview.SpeakerCandidate, Text: "I build backend services.", Timestamp: base.Add(10 * time.Second)},
		{Speaker: interview.SpeakerInterviewer, Text: "What is a deadlock?", Timestamp: base.Add(20 * time.Second)},
	}
	for _, entry := range entries {
		if err := storage.AppendEntry("sess-1", entry); err != nil {
			t.Fatalf("AppendEntry returned error: %v", err)
		}
	}
	// An entry for another session must not leak in.
	other := interview.TranscriptEntry{Speaker: interview.SpeakerInterviewer, Text: "Hello?", Timestamp: base}
	if err := storage.AppendEntry("sess-2", other); err != nil {
		t.Fatalf("AppendEntry returned error: %v", err)
	}

	got, err := storage.GetEntries("sess-1")
	if err != nil {
		t.Fatalf("GetEntries returned error: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, entry := range got {
		if entry.Speaker != entries[i].Speaker || entry.Text != entries[i].Text {
			t.Fatalf("entries[%d] = %+v, want %+v", i, entry, entries[i])
		}
	}
}

func TestTranscriptStorageEmptySession(t *testing.T) {
	storage := testTranscriptStorage(t)
	got, err := storage.GetEntries("absent")
	if err != nil {
		t.Fatalf("GetEntries returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("entries = %+v, want none", got)
	}
}
