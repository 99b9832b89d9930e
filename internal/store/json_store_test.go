package store_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
	"github.com/nhle/mail-triage/internal/testutil"
)

func TestOpenJSONFileStore_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mail_inbox.json")

	s, err := store.OpenJSONFileStore(path)
	require.NoError(t, err)

	all, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"emails":{}}`, string(data))
}

func TestOpenJSONFileStore_RefusesCorruptFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{this is not json"},
		{"empty", "   \n"},
		{"wrong version", `{"version":9,"emails":{}}`},
		{"key mismatch", `{"version":1,"emails":{"a":{"id":"b","status":"new"}}}`},
		{"unknown status", `{"version":1,"emails":{"a":{"id":"a","status":"lost"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "mail_inbox.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := store.OpenJSONFileStore(path)
			require.Error(t, err)
			assert.True(t, store.IsStorageError(err))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(data), "file must not be rewritten")
		})
	}
}

func TestJSONFileStore_FileLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mail_inbox.json")
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s, err := store.OpenJSONFileStore(path, store.WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	e := testutil.NewEmail("ann@example.com", "Lunch?", "Tuesday")
	testutil.Seed(t, s, e)

	_, err = s.Update(context.Background(), e.ID, func(m *model.Email) error {
		m.Category = "Meeting"
		return m.Advance(model.StatusCategorized)
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw struct {
		Version int                        `json:"version"`
		Emails  map[string]json.RawMessage `json:"emails"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 1, raw.Version)
	require.Contains(t, raw.Emails, e.ID)

	var stored map[string]any
	require.NoError(t, json.Unmarshal(raw.Emails[e.ID], &stored))
	assert.Equal(t, "Meeting", stored["category"])
	assert.Equal(t, "categorized", stored["status"])
	assert.Equal(t, "2025-06-01T12:00:00Z", stored["updated_at"])

	// Indented output keeps the file reviewable by hand.
	assert.Contains(t, string(data), "\n  \"emails\"")
}

func TestJSONFileStore_ReopenSeesCommittedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mail_inbox.json")

	s, err := store.OpenJSONFileStore(path)
	require.NoError(t, err)
	e := testutil.NewEmail("ann@example.com", "Lunch?", "Tuesday")
	testutil.Seed(t, s, e)
	_, err = s.Update(context.Background(), e.ID, func(m *model.Email) error {
		m.Draft = "Sure."
		return nil
	})
	require.NoError(t, err)

	reopened, err := store.OpenJSONFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sure.", got.Draft)
}

func TestJSONFileStore_FailedWriteLeavesCacheUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mail_inbox.json")

	s, err := store.OpenJSONFileStore(path)
	require.NoError(t, err)
	e := testutil.NewEmail("ann@example.com", "Lunch?", "Tuesday")
	testutil.Seed(t, s, e)

	// A read-only directory makes the temp file creation fail.
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })
	if f, err := os.CreateTemp(dir, "writable"); err == nil {
		f.Close()
		t.Skip("directory permissions are not enforced for this user")
	}

	_, err = s.Update(context.Background(), e.ID, func(m *model.Email) error {
		m.Draft = "lost"
		return nil
	})
	require.Error(t, err)
	assert.True(t, store.IsStorageError(err))

	got, err := s.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Draft)
}

func TestJSONFileStore_GetReturnsCopy(t *testing.T) {
	s := testutil.NewJSONStore(t)
	e := testutil.NewEmail("ann@example.com", "Lunch?", "Tuesday")
	e.ActionItems = []model.ActionItem{{Task: "reply"}}
	testutil.Seed(t, s, e)

	got, err := s.Get(context.Background(), e.ID)
	require.NoError(t, err)
	got.ActionItems[0].Task = "mutated"

	again, err := s.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, "reply", again.ActionItems[0].Task)
}

func TestJSONFileStore_TombstoneSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mail_inbox.json")

	s, err := store.OpenJSONFileStore(path)
	require.NoError(t, err)
	e := testutil.NewEmail("ann@example.com", "Lunch?", "Tuesday")
	testutil.Seed(t, s, e)
	require.NoError(t, s.Delete(context.Background(), e.ID))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw struct {
		Emails  map[string]json.RawMessage `json:"emails"`
		Deleted map[string]time.Time       `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw.Emails, e.ID)
	assert.Contains(t, raw.Deleted, e.ID)

	reopened, err := store.OpenJSONFileStore(path)
	require.NoError(t, err)
	created, err := reopened.Add(context.Background(), e)
	require.NoError(t, err)
	assert.False(t, created)
}
