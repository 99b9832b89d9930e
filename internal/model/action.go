package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned by ParseActionItems when the text holds nothing that
// looks like JSON.
var ErrNoJSON = errors.New("no JSON found in text")

type rawActionItem struct {
	Task     string          `json:"task"`
	Deadline json.RawMessage `json:"deadline"`
}

// ParseActionItems extracts action items from free model output. The text is
// parsed directly when possible, otherwise the span from the first '[' or '{'
// to the last ']' or '}' is tried. A single object yields one item. Every
// item must carry a non-empty task.
func ParseActionItems(text string) ([]ActionItem, error) {
	text = strings.TrimSpace(text)

	candidate := []byte(text)
	if !json.Valid(candidate) {
		start := strings.IndexAny(text, "[{")
		end := strings.LastIndexAny(text, "]}")
		if start < 0 || end <= start {
			return nil, ErrNoJSON
		}
		candidate = []byte(text[start : end+1])
	}

	var raws []rawActionItem
	trimmed := bytes.TrimSpace(candidate)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '{':
		var one rawActionItem
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("decoding action item: %w", err)
		}
		raws = []rawActionItem{one}
	case len(trimmed) > 0 && trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("decoding action items: %w", err)
		}
	default:
		return nil, fmt.Errorf("action items must be a JSON array or object")
	}

	items := make([]ActionItem, 0, len(raws))
	for i, r := range raws {
		task := strings.TrimSpace(r.Task)
		if task == "" {
			return nil, fmt.Errorf("action item %d has no task", i)
		}
		items = append(items, ActionItem{Task: task, Deadline: deadlineText(r.Deadline)})
	}
	return items, nil
}

// deadlineText flattens whatever the model put in the deadline field.
func deadlineText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}
