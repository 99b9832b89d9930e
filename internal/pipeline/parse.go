package pipeline

import (
	"errors"
	"regexp"
	"strings"
)

// notDraftableAnswer is what the drafting prompt asks the model to reply
// when an email needs no answer.
const notDraftableAnswer = "INVALID"

var errEmptyDraft = errors.New("empty draft from model")

// matchCategory maps a categorization reply onto one of cats. Only the first
// line counts; surrounding quotes, markdown emphasis and trailing
// punctuation are ignored and the comparison is case-insensitive.
func matchCategory(reply string, cats []string) (string, bool) {
	line := strings.TrimSpace(reply)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.Trim(line, "*_`\"' ")
	if i := strings.IndexByte(line, ':'); i >= 0 && strings.EqualFold(strings.TrimSpace(line[:i]), "category") {
		line = strings.TrimSpace(line[i+1:])
	}
	line = strings.TrimRight(line, ".!,;:")
	line = strings.Trim(line, "*_`\"' ")

	for _, c := range cats {
		if strings.EqualFold(line, c) {
			return c, true
		}
	}
	return "", false
}

// parseDraft interprets a drafting reply.
func parseDraft(reply string, clean bool) (draft string, notDraftable bool, err error) {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return "", false, errEmptyDraft
	}
	if trimmed == notDraftableAnswer {
		return "", true, nil
	}
	if !clean {
		return reply, false, nil
	}

	out := cleanDraft(selectFirstOption(trimmed))
	if out == "" {
		return "", false, errEmptyDraft
	}
	return out, false, nil
}

var (
	codeFenceRe   = regexp.MustCompile("(?s)```.*?```")
	separatorRe   = regexp.MustCompile(`(?m)^\s*[-*_]{3,}\s*$`)
	subjectLineRe = regexp.MustCompile(`(?m)^Subject:.*$`)
	blankRunRe    = regexp.MustCompile(`\n\s*\n\s*\n+`)

	optionRe      = regexp.MustCompile(`(?i)\bOption\s*#?\s*\d+\b`)
	optionLabelRe = regexp.MustCompile(`(?i)^\s*Option\s*#?\s*\d+[:\-)]?\s*`)
	blockSplitRe  = regexp.MustCompile(`\n\s*[-*_]{3,}\s*\n`)
	firstItemRe   = regexp.MustCompile(`(?m)^\s*1[.)]\s+`)
	secondItemRe  = regexp.MustCompile(`(?m)^\s*2[.)]\s+`)
	itemLabelRe   = regexp.MustCompile(`^\s*1[.)]\s*`)
)

// cleanDraft removes formatting noise models like to add around a reply.
func cleanDraft(text string) string {
	text = codeFenceRe.ReplaceAllString(text, "")
	text = separatorRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "**", "")
	text = subjectLineRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// minBlockLen is the shortest separator-delimited block taken as a reply.
const minBlockLen = 30

// selectFirstOption picks the first reply when the model offered several:
// "Option N" headings first, then separator lines, then a numbered list.
func selectFirstOption(text string) string {
	t := strings.ReplaceAll(text, "\r\n", "\n")

	if locs := optionRe.FindAllStringIndex(t, 2); len(locs) > 0 {
		end := len(t)
		if len(locs) > 1 {
			end = locs[1][0]
		}
		candidate := strings.TrimSpace(t[locs[0][0]:end])
		return strings.TrimSpace(optionLabelRe.ReplaceAllString(candidate, ""))
	}

	if parts := blockSplitRe.Split(t, -1); len(parts) > 1 {
		for _, part := range parts {
			if p := strings.TrimSpace(part); len(p) >= minBlockLen {
				return p
			}
		}
		return strings.TrimSpace(parts[0])
	}

	if loc := firstItemRe.FindStringIndex(t); loc != nil {
		end := len(t)
		if l2 := secondItemRe.FindStringIndex(t); l2 != nil && l2[0] > loc[0] {
			end = l2[0]
		}
		candidate := strings.TrimSpace(t[loc[0]:end])
		return strings.TrimSpace(itemLabelRe.ReplaceAllString(candidate, ""))
	}

	return strings.TrimSpace(t)
}
