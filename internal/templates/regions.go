package templates

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nhle/mail-triage/internal/model"
)

const (
	exampleOpen  = "<example>"
	exampleClose = "</example>"
)

// ValidationError reports a template body whose editable region is missing
// or malformed. The previous template stays in effect.
type ValidationError struct {
	Name   model.Stage
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("template %s: %s", e.Name, e.Reason)
}

var categoryListRe = regexp.MustCompile(`\[([^\[\]]*)\]`)

// parseCategories returns the entries of the first bracketed list in body.
func parseCategories(body string) ([]string, error) {
	m := categoryListRe.FindStringSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("no bracketed category list such as [Meeting, Task]")
	}

	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(m[1], ",") {
		c := strings.TrimSpace(part)
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if seen[key] {
			return nil, fmt.Errorf("category %q is listed twice", c)
		}
		seen[key] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("category list is empty")
	}
	return out, nil
}

// exampleBlock returns the text between the <example> and </example> lines.
func exampleBlock(body string) (string, error) {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	open := -1
	for i, l := range lines {
		switch strings.TrimSpace(l) {
		case exampleOpen:
			if open >= 0 {
				return "", fmt.Errorf("nested %s marker", exampleOpen)
			}
			open = i
		case exampleClose:
			if open < 0 {
				return "", fmt.Errorf("%s without %s", exampleClose, exampleOpen)
			}
			return strings.Join(lines[open+1:i], "\n"), nil
		}
	}
	if open < 0 {
		return "", fmt.Errorf("missing %s block", exampleOpen)
	}
	return "", fmt.Errorf("unterminated %s block", exampleOpen)
}

func parseExample(body string) ([]model.ActionItem, error) {
	block, err := exampleBlock(body)
	if err != nil {
		return nil, err
	}
	items, err := model.ParseActionItems(block)
	if err != nil {
		return nil, fmt.Errorf("example does not parse: %v", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("example must contain at least one action item")
	}
	return items, nil
}

// ValidateEdit checks that body keeps the editable region of template name
// intact.
func ValidateEdit(name model.Stage, body string) error {
	var err error
	switch name {
	case model.StageCategorize:
		_, err = parseCategories(body)
	case model.StageExtractActions:
		_, err = parseExample(body)
	case model.StageDraft:
		if strings.TrimSpace(body) == "" {
			err = fmt.Errorf("body is empty")
		}
	default:
		err = fmt.Errorf("unknown template")
	}
	if err != nil {
		return &ValidationError{Name: name, Reason: err.Error()}
	}
	return nil
}
