package templates

import "github.com/nhle/mail-triage/internal/model"

const defaultCategorize = `You sort incoming email for a busy professional.
Pick the single category that best fits the message from this list:
[Meeting, Task, Follow-up, Newsletter, Spam, Personal]
Prefer Task when the sender asks for something concrete.`

const defaultExtractActions = `List every action the recipient has to take because of this email.
Keep each task short and imperative. Copy the deadline exactly as written in
the email, or leave it out when none is given.
Answer with a JSON array shaped like this example:
<example>
[{"task": "Send the revised budget to Maria", "deadline": "Friday"}, {"task": "Book a room for the review"}]
</example>`

const defaultDraft = `Write a reply on behalf of the recipient.
Be polite and brief, answer every question the sender asked, and do not
promise anything the email does not already imply. Sign off without a name.
Newsletters, automated notifications and spam do not need a reply.`

// Default returns the built-in body for name.
func Default(name model.Stage) string {
	switch name {
	case model.StageCategorize:
		return defaultCategorize
	case model.StageExtractActions:
		return defaultExtractActions
	case model.StageDraft:
		return defaultDraft
	}
	return ""
}
