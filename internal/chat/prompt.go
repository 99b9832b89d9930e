package chat

import (
	"strings"
	"time"

	"github.com/nhle/mail-triage/internal/model"
)

// maxBodyChars bounds the email body quoted in a chat prompt.
const maxBodyChars = 1000

const preamble = "You are an assistant that helps draft or edit email replies. " +
	"The original mail and extracted metadata follow. When the user asks for a change, " +
	"answer with the complete edited draft only."

// BuildPrompt renders the refinement prompt for e. The last turn of the
// conversation is the request being answered; at most window turns before
// it are included as history.
func BuildPrompt(e model.Email, window int) string {
	var sb strings.Builder

	sb.WriteString(preamble)
	sb.WriteString("\n\n")
	writeSummary(&sb, e)

	sb.WriteString("\nCURRENT DRAFT:\n")
	if strings.TrimSpace(e.Draft) == "" {
		sb.WriteString("(empty)\n")
	} else {
		sb.WriteString(strings.TrimRight(e.Draft, "\n"))
		sb.WriteString("\n")
	}

	history, query := splitQuery(e.Conversation)
	history = Window(history, window)
	if len(history) > 0 {
		sb.WriteString("\nCONVERSATION HISTORY:\n")
		for _, t := range history {
			sb.WriteString(strings.ToUpper(string(t.Role)))
			sb.WriteString(": ")
			sb.WriteString(t.Text)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nUSER QUERY:\n")
	sb.WriteString(query)
	sb.WriteString("\n\nRespond succinctly and in a professional tone.\n")
	return sb.String()
}

// Window returns the most recent n turns of turns.
func Window(turns []model.ChatTurn, n int) []model.ChatTurn {
	if n < 0 {
		n = 0
	}
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

func splitQuery(turns []model.ChatTurn) ([]model.ChatTurn, string) {
	if len(turns) == 0 {
		return nil, ""
	}
	last := turns[len(turns)-1]
	if last.Role != model.RoleUser {
		return turns, ""
	}
	return turns[:len(turns)-1], last.Text
}

func writeSummary(sb *strings.Builder, e model.Email) {
	sb.WriteString("=== MAIL SUMMARY BEGIN ===\n")
	sb.WriteString("Mail ID: " + e.ID + "\n")
	sb.WriteString("From: " + e.Sender + "\n")
	sb.WriteString("Subject: " + e.Subject + "\n")
	if !e.ReceivedAt.IsZero() {
		sb.WriteString("Timestamp: " + e.ReceivedAt.Format(time.RFC3339) + "\n")
	}
	category := e.Category
	if category == "" {
		category = "(none)"
	}
	sb.WriteString("Category: " + category + "\n")

	body := strings.TrimSpace(e.Body)
	if r := []rune(body); len(r) > maxBodyChars {
		body = strings.TrimRight(string(r[:maxBodyChars]), " \t\n") + "\n\n[truncated]"
	}
	sb.WriteString("\nBody:\n")
	sb.WriteString(indent(body, "  "))

	sb.WriteString("\nAction items (extracted):\n")
	if len(e.ActionItems) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, it := range e.ActionItems {
		sb.WriteString("  - " + it.Task)
		if it.Deadline != "" {
			sb.WriteString(" (deadline: " + it.Deadline + ")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("=== MAIL SUMMARY END ===\n")
}

func indent(text, prefix string) string {
	if text == "" {
		return ""
	}
	var sb strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			sb.WriteString(prefix)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}
