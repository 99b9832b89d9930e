package pipeline

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/gateway"
)

func TestMatchCategory(t *testing.T) {
	cats := []string{"Meeting", "Task", "Follow-up", "Spam"}

	tests := []struct {
		reply string
		want  string
		ok    bool
	}{
		{"Meeting", "Meeting", true},
		{"  meeting  ", "Meeting", true},
		{`"Task".`, "Task", true},
		{"**Spam**", "Spam", true},
		{"Category: follow-up", "Follow-up", true},
		{"Task\nBecause the sender asks for a report.", "Task", true},
		{"Meeting request", "", false},
		{"", "", false},
		{"Newsletter", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			got, ok := matchCategory(tt.reply, cats)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDraft(t *testing.T) {
	draft, notDraftable, err := parseDraft("  Thanks, Ann!\n", false)
	require.NoError(t, err)
	assert.False(t, notDraftable)
	assert.Equal(t, "  Thanks, Ann!\n", draft)

	draft, notDraftable, err = parseDraft("\nINVALID \n", false)
	require.NoError(t, err)
	assert.True(t, notDraftable)
	assert.Empty(t, draft)

	_, _, err = parseDraft(" \n\t", true)
	assert.ErrorIs(t, err, errEmptyDraft)

	_, _, err = parseDraft("```\nonly a fence\n```", true)
	assert.ErrorIs(t, err, errEmptyDraft)
}

func TestCleanDraft(t *testing.T) {
	in := "Subject: Re: Lunch\n\n**Hi Ann,**\n\n\n\nTuesday works.\n---\n```\ndebug\n```\nBest"
	assert.Equal(t, "Hi Ann,\n\nTuesday works.\n\nBest", cleanDraft(in))
}

func TestSelectFirstOption(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "option headings",
			in:   "Here are two replies.\nOption 1: Sounds good.\nOption 2: No thanks.",
			want: "Sounds good.",
		},
		{
			name: "separators",
			in:   "Hi Ann, Tuesday at noon works well for me.\n---\nHi Ann, I am busy on Tuesday, sorry.",
			want: "Hi Ann, Tuesday at noon works well for me.",
		},
		{
			name: "short first block skipped",
			in:   "Draft:\n---\nHi Ann, Tuesday at noon works well for me.\n---\nAlternative",
			want: "Hi Ann, Tuesday at noon works well for me.",
		},
		{
			name: "numbered list",
			in:   "1. Yes, Tuesday works.\n2. No, Tuesday is full.",
			want: "Yes, Tuesday works.",
		},
		{
			name: "single reply",
			in:   "  Tuesday works.  ",
			want: "Tuesday works.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, selectFirstOption(tt.in))
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	t.Run("rate limited backs off until attempts run out", func(t *testing.T) {
		p := newRetryPolicy(3, 100*time.Millisecond, time.Second)
		p.Reset()

		p.record(gateway.RateLimited)
		d := p.NextBackOff()
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)

		p.record(gateway.RateLimited)
		assert.NotEqual(t, backoff.Stop, p.NextBackOff())

		p.record(gateway.RateLimited)
		assert.Equal(t, backoff.Stop, p.NextBackOff())
	})

	t.Run("network failure retried once without delay", func(t *testing.T) {
		p := newRetryPolicy(5, time.Second, time.Second)
		p.Reset()

		p.record(gateway.NetworkFailure)
		assert.Equal(t, time.Duration(0), p.NextBackOff())

		p.record(gateway.NetworkFailure)
		assert.Equal(t, backoff.Stop, p.NextBackOff())
	})

	t.Run("malformed stops", func(t *testing.T) {
		p := newRetryPolicy(5, time.Second, time.Second)
		p.record(gateway.MalformedResponse)
		assert.Equal(t, backoff.Stop, p.NextBackOff())
	})
}
