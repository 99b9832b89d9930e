package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewJSONStore opens a JSONFileStore in a fresh temporary directory.
func NewJSONStore(t *testing.T) *store.JSONFileStore {
	t.Helper()

	s, err := store.OpenJSONFileStore(filepath.Join(t.TempDir(), "mail_inbox.json"))
	if err != nil {
		t.Fatalf("creating json store: %v", err)
	}
	return s
}

// NewEmail returns a New email with fixed UTC timestamps.
func NewEmail(sender, subject, body string) model.Email {
	return model.Email{
		ID:           uuid.NewString(),
		Sender:       sender,
		Subject:      subject,
		Body:         body,
		ReceivedAt:   time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC),
		Status:       model.StatusNew,
		Conversation: []model.ChatTurn{},
	}
}

// Seed adds emails to s and fails the test on any error.
func Seed(t *testing.T, s store.Store, emails ...model.Email) {
	t.Helper()

	for _, e := range emails {
		created, err := s.Add(t.Context(), e)
		if err != nil {
			t.Fatalf("seeding email %s: %v", e.ID, err)
		}
		if !created {
			t.Fatalf("seeding email %s: already present", e.ID)
		}
	}
}
