package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hireloop/interview-engine/pkg/logger"
)

func testSessionStorage(t *testing.T) *SessionStorage {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("NewDatabase returned error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	storage, err := NewSessionStorage(db, logger.NewNop())
	if err != nil {
		t.Fatalf("NewSessionStorage returned error: %v", err)
	}
	return storage
}

func TestSessionStorageCreateAndGet(t *testing.T) {
	storage := testSessionStorage(t)

	created := time.Now().UTC().Truncate(time.Second)
	rec := SessionRecord{
		ID:        "sess-1",
		JobTitle:  "Backend Engineer",
		Company:   "Acme Corp",
		Status:    "pending",
		CreatedAt: created,
	}
	if err := storage.CreateSession(rec); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	got, err := storage.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession returned error: %v", err)
	}
	if got == nil {
		t.Fatal("GetSession returned nil for an existing session")
	}
	if got.JobTitle != "Backend Engineer" || got.Company != "Acme Corp" || got.Status != "pending" {
		t.Fatalf("record = %+v", got)
	}
	if got.EndedAt != nil {
		t.Fatalf("EndedAt = %v, want nil", got.EndedAt)
	}

	// Duplicate IDs violate the primary key.
	if err := storage.CreateSession(rec); err == nil {
		t.Fatal("CreateSession accepted a duplicate ID")
	}
}

func TestSessionStorageGetMissing(t *testing.T) {
	storage := testSessionStorage(t)
	got, err := storage.GetSession("absent")
	if err != nil {
		t.Fatalf("GetSession returned error: %v", err)
	}
	if got != nil {
		t.Fatalf("GetSession = %+v, want nil", got)
	}
}

func TestSessionStorageUpdateStatus(t *testing.T) {
	storage := testSessionStorage(t)

	rec := SessionRecord{ID: "sess-1", JobTitle: "Analyst", Status: "pending", CreatedAt: time.Now().UTC()}
	if err := storage.CreateSession(rec); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	ended := time.Now().UTC().Truncate(time.Second)
	if err := storage.UpdateStatus("sess-1", "completed", "completed", &ended); err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}

	got, err := storage.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession returned error: %v", err)
	}
	if got.Status != "completed" || got.FinalState != "completed" {
		t.Fatalf("record = %+v", got)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Fatalf("EndedAt = %v, want %v", got.EndedAt, ended)
	}

	if err := storage.UpdateStatus("absent", "completed", "", nil); err == nil {
		t.Fatal("UpdateStatus accepted an unknown session")
	}
}

func TestSessionStorageFeedback(t *testing.T) {
	storage := testSessionStorage(t)

	rec := SessionRecord{ID: "sess-1", JobTitle: "Analyst", Status: "completed", CreatedAt: time.Now().UTC()}
	if err := storage.CreateSession(rec); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	if err := storage.SetFeedback("sess-1", "Strong answers overall."); err != nil {
		t.Fatalf("SetFeedback returned error: %v", err)
	}

	got, err := storage.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession returned error: %v", err)
	}
	if got.Feedback != "Strong answers overall." {
		t.Fatalf("feedback = %q", got.Feedback)
	}
}

func TestSessionStorageListNewestFirst(t *testing.T) {
	storage := testSessionStorage(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"old", "mid", "new"} {
		rec := SessionRecord{
			ID:        id,
			JobTitle:  "Analyst",
			Status:    "completed",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := storage.CreateSession(rec); err != nil {
			t.Fatalf("CreateSession(%s) returned error: %v", id, err)
		}
	}

	records, err := storage.ListSessions(2)
	if err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != "new" || records[1].ID != "mid" {
		t.Fatalf("order = %s, %s, want new, mid", records[0].ID, records[1].ID)
	}
}
