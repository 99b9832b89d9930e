package templates

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
)

type failingStore struct {
	saved map[model.Stage]string
	err   error
}

func (f *failingStore) LoadTemplates(context.Context) (map[model.Stage]string, error) {
	return f.saved, nil
}

func (f *failingStore) SaveTemplate(_ context.Context, name model.Stage, body string) error {
	if f.err != nil {
		return f.err
	}
	f.saved[name] = body
	return nil
}

func newManager(t *testing.T) (*Manager, *store.JSONTemplateFile) {
	t.Helper()
	ts := store.NewJSONTemplateFile(filepath.Join(t.TempDir(), "prompt_library.json"))
	m, err := New(context.Background(), ts, nil)
	require.NoError(t, err)
	return m, ts
}

func TestNew_UsesDefaults(t *testing.T) {
	m, _ := newManager(t)

	for _, name := range model.Stages {
		body, err := m.Get(name)
		require.NoError(t, err)
		assert.Equal(t, Default(name), body)
		assert.NoError(t, ValidateEdit(name, body), "default for %s must validate", name)
	}
	assert.Equal(t, []string{"Meeting", "Task", "Follow-up", "Newsletter", "Spam", "Personal"}, m.Categories())
}

func TestNew_InvalidStoredBodyFallsBack(t *testing.T) {
	ts := &failingStore{saved: map[model.Stage]string{
		model.StageCategorize:     "no list here",
		model.StageExtractActions: "Extract.\n<example>\n[{\"task\":\"Call\"}]\n</example>",
	}}

	m, err := New(context.Background(), ts, nil)
	require.NoError(t, err)

	body, err := m.Get(model.StageCategorize)
	require.NoError(t, err)
	assert.Equal(t, Default(model.StageCategorize), body)

	body, err = m.Get(model.StageExtractActions)
	require.NoError(t, err)
	assert.Contains(t, body, `"task":"Call"`)
}

func TestValidateEdit(t *testing.T) {
	tests := []struct {
		name   string
		stage  model.Stage
		body   string
		reason string
	}{
		{"categorize ok", model.StageCategorize, "Pick one: [Meeting, Spam]", ""},
		{"categorize no list", model.StageCategorize, "Pick one of Meeting or Spam", "bracketed"},
		{"categorize empty list", model.StageCategorize, "Pick one: [ , ]", "empty"},
		{"categorize duplicate", model.StageCategorize, "[Spam, spam]", "twice"},
		{"extract ok", model.StageExtractActions, "x\n<example>\n[{\"task\":\"a\"}]\n</example>\n", ""},
		{"extract no block", model.StageExtractActions, "Return JSON.", "missing"},
		{"extract unterminated", model.StageExtractActions, "<example>\n[{\"task\":\"a\"}]", "unterminated"},
		{"extract bad json", model.StageExtractActions, "<example>\n[{\"task\":\n</example>", "does not parse"},
		{"extract empty array", model.StageExtractActions, "<example>\n[]\n</example>", "at least one"},
		{"extract no task", model.StageExtractActions, "<example>\n[{\"deadline\":\"Mon\"}]\n</example>", "does not parse"},
		{"draft ok", model.StageDraft, "Be nice.", ""},
		{"draft empty", model.StageDraft, "  \n ", "empty"},
		{"unknown", model.Stage("summarize"), "anything", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEdit(tt.stage, tt.body)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
			assert.Equal(t, tt.stage, ve.Name)
			assert.Contains(t, ve.Reason, tt.reason)
		})
	}
}

func TestEdit_RejectedExtractKeepsOldTemplate(t *testing.T) {
	m, ts := newManager(t)
	ctx := context.Background()
	rc := RenderContext{Sender: "ann@example.com", Subject: "Q3", Body: "Send the deck."}

	before, err := m.Render(model.StageExtractActions, rc)
	require.NoError(t, err)

	err = m.Edit(ctx, model.StageExtractActions, "Extract tasks.\n<example>\n[{\"task\": oops}]\n</example>")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	after, err := m.Render(model.StageExtractActions, rc)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	stored, err := ts.LoadTemplates(ctx)
	require.NoError(t, err)
	assert.NotContains(t, stored, model.StageExtractActions)
}

func TestEdit_PersistsAndUpdatesCategories(t *testing.T) {
	m, ts := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.Edit(ctx, model.StageCategorize, "Choose: [Work, Home]"))
	assert.Equal(t, []string{"Work", "Home"}, m.Categories())

	stored, err := ts.LoadTemplates(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Choose: [Work, Home]", stored[model.StageCategorize])

	reloaded, err := New(ctx, ts, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Work", "Home"}, reloaded.Categories())

	require.NoError(t, reloaded.Reset(ctx, model.StageCategorize))
	body, err := reloaded.Get(model.StageCategorize)
	require.NoError(t, err)
	assert.Equal(t, Default(model.StageCategorize), body)
}

func TestEdit_StoreFailureLeavesTemplate(t *testing.T) {
	ts := &failingStore{saved: map[model.Stage]string{}}
	m, err := New(context.Background(), ts, nil)
	require.NoError(t, err)

	ts.err = errors.New("disk full")
	err = m.Edit(context.Background(), model.StageDraft, "Be terse.")
	require.Error(t, err)

	body, err := m.Get(model.StageDraft)
	require.NoError(t, err)
	assert.Equal(t, Default(model.StageDraft), body)
}

func TestRender(t *testing.T) {
	m, _ := newManager(t)
	rc := RenderContext{
		Sender:     "ann@example.com",
		Subject:    "Lunch?",
		ReceivedAt: time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC),
		Body:       "Can we meet Tuesday?",
		Category:   "Meeting",
		ActionItems: []model.ActionItem{
			{Task: "Confirm Tuesday", Deadline: "Monday"},
			{Task: "Book a table"},
		},
	}

	t.Run("categorize", func(t *testing.T) {
		out, err := m.Render(model.StageCategorize, rc)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, Default(model.StageCategorize)))
		assert.Contains(t, out, "Allowed categories: Meeting, Task, Follow-up, Newsletter, Spam, Personal")
		assert.Contains(t, out, "From: ann@example.com\nSubject: Lunch?\n")
		assert.Contains(t, out, "Can we meet Tuesday?")
	})

	t.Run("draft", func(t *testing.T) {
		out, err := m.Render(model.StageDraft, rc)
		require.NoError(t, err)
		assert.Contains(t, out, "Category: Meeting")
		assert.Contains(t, out, "- Confirm Tuesday (deadline: Monday)\n- Book a table\n")
		assert.True(t, strings.HasSuffix(out, "\nINVALID"))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := m.Render(model.Stage("nope"), rc)
		assert.Error(t, err)
	})
}

func TestEdit_ConcurrentEditsAgreeWithStore(t *testing.T) {
	m, ts := newManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Edit(ctx, model.StageDraft, fmt.Sprintf("Reply in style %d.", i)))
		}()
	}
	wg.Wait()

	stored, err := ts.LoadTemplates(ctx)
	require.NoError(t, err)
	body, err := m.Get(model.StageDraft)
	require.NoError(t, err)
	assert.Equal(t, stored[model.StageDraft], body)
}
