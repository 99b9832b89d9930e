package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionItems(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []ActionItem
	}{
		{
			name: "plain array",
			text: `[{"task":"Send slides","deadline":"Friday"},{"task":"Book room"}]`,
			want: []ActionItem{{Task: "Send slides", Deadline: "Friday"}, {Task: "Book room"}},
		},
		{
			name: "wrapped in prose and fences",
			text: "Here you go:\n```json\n[{\"task\": \" Reply to Ann \", \"deadline\": null}]\n```\nHope that helps.",
			want: []ActionItem{{Task: "Reply to Ann"}},
		},
		{
			name: "single object",
			text: `{"task":"Pay invoice","deadline":"2025-03-31"}`,
			want: []ActionItem{{Task: "Pay invoice", Deadline: "2025-03-31"}},
		},
		{
			name: "non-string deadline",
			text: `[{"task":"Call back","deadline":3}]`,
			want: []ActionItem{{Task: "Call back", Deadline: "3"}},
		},
		{
			name: "empty array",
			text: `[]`,
			want: []ActionItem{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseActionItems(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseActionItems_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no json", "Nothing to do here."},
		{"broken json", `[{"task": "x",]`},
		{"missing task", `[{"deadline":"Friday"}]`},
		{"blank task", `[{"task":"   "}]`},
		{"scalar", `"just a string"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseActionItems(tt.text)
			assert.Error(t, err)
		})
	}

	_, err := ParseActionItems("plain words")
	assert.ErrorIs(t, err, ErrNoJSON)
}
