package model

import (
	"fmt"
	"time"
)

// Status is the enrichment state of an email.
type Status string

const (
	StatusNew               Status = "new"
	StatusCategorizing      Status = "categorizing"
	StatusCategorized       Status = "categorized"
	StatusExtractingActions Status = "extracting_actions"
	StatusActionsExtracted  Status = "actions_extracted"
	StatusDrafting          Status = "drafting"
	StatusDraftReady        Status = "draft_ready"
	StatusFailed            Status = "failed"
)

// statusOrder ranks the non-failed statuses along the pipeline.
var statusOrder = map[Status]int{
	StatusNew:               0,
	StatusCategorizing:      1,
	StatusCategorized:       2,
	StatusExtractingActions: 3,
	StatusActionsExtracted:  4,
	StatusDrafting:          5,
	StatusDraftReady:        6,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok || s == StatusFailed
}

// InProgress reports whether a stage is running or was interrupted while
// running.
func (s Status) InProgress() bool {
	return s == StatusCategorizing || s == StatusExtractingActions || s == StatusDrafting
}

// Done reports whether no further automatic processing applies.
func (s Status) Done() bool {
	return s == StatusDraftReady || s == StatusFailed
}

// Stage is one step of the enrichment pipeline. Stage names double as
// prompt template names.
type Stage string

const (
	StageCategorize     Stage = "categorize"
	StageExtractActions Stage = "extract_actions"
	StageDraft          Stage = "draft"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageCategorize, StageExtractActions, StageDraft}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	return s == StageCategorize || s == StageExtractActions || s == StageDraft
}

// Running returns the in-progress status for the stage.
func (s Stage) Running() Status {
	switch s {
	case StageCategorize:
		return StatusCategorizing
	case StageExtractActions:
		return StatusExtractingActions
	case StageDraft:
		return StatusDrafting
	}
	return ""
}

// Completed returns the status reached when the stage succeeds.
func (s Stage) Completed() Status {
	switch s {
	case StageCategorize:
		return StatusCategorized
	case StageExtractActions:
		return StatusActionsExtracted
	case StageDraft:
		return StatusDraftReady
	}
	return ""
}

// Pending returns the status an email holds right before the stage starts.
func (s Stage) Pending() Status {
	switch s {
	case StageCategorize:
		return StatusNew
	case StageExtractActions:
		return StatusCategorized
	case StageDraft:
		return StatusActionsExtracted
	}
	return ""
}

// NextStage returns the stage that should run for an email in status s.
// In-progress statuses resume the stage they belong to. The second result
// is false when nothing is left to run.
func NextStage(s Status) (Stage, bool) {
	switch s {
	case StatusNew, StatusCategorizing:
		return StageCategorize, true
	case StatusCategorized, StatusExtractingActions:
		return StageExtractActions, true
	case StatusActionsExtracted, StatusDrafting:
		return StageDraft, true
	}
	return "", false
}

// Unclassified is the category assigned when model output matches none of
// the configured categories.
const Unclassified = "Unclassified"

// ActionItem is a single task extracted from an email.
type ActionItem struct {
	Task     string `json:"task"`
	Deadline string `json:"deadline,omitempty"`
}

// Role identifies the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is one message of a draft refinement conversation. Turns are
// never modified after they are appended.
type ChatTurn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Email is a stored message together with its enrichment results.
type Email struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`

	Category     string       `json:"category,omitempty"`
	ActionItems  []ActionItem `json:"action_items"`
	Draft        string       `json:"draft"`
	NotDraftable bool         `json:"not_draftable,omitempty"`
	Conversation []ChatTurn   `json:"conversation"`

	Status      Status `json:"status"`
	FailedStage Stage  `json:"failed_stage,omitempty"`
	LastError   string `json:"last_error,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (e Email) Clone() Email {
	c := e
	if e.ActionItems != nil {
		c.ActionItems = make([]ActionItem, len(e.ActionItems))
		copy(c.ActionItems, e.ActionItems)
	}
	if e.Conversation != nil {
		c.Conversation = make([]ChatTurn, len(e.Conversation))
		copy(c.Conversation, e.Conversation)
	}
	return c
}

// Advance moves the email to status to. Moving backwards along the pipeline
// is rejected; Failed is reachable from any non-terminal status.
func (e *Email) Advance(to Status) error {
	if to == StatusFailed {
		if e.Status == StatusDraftReady {
			return fmt.Errorf("email %s: cannot fail a completed email", e.ID)
		}
		e.Status = StatusFailed
		return nil
	}

	from, ok := statusOrder[e.Status]
	if !ok {
		return fmt.Errorf("email %s: cannot advance from %s to %s", e.ID, e.Status, to)
	}
	next, ok := statusOrder[to]
	if !ok || next < from {
		return fmt.Errorf("email %s: cannot advance from %s to %s", e.ID, e.Status, to)
	}

	e.Status = to
	return nil
}

// Fail records a failure of stage with the given error text.
func (e *Email) Fail(stage Stage, errText string) error {
	if err := e.Advance(StatusFailed); err != nil {
		return err
	}
	e.FailedStage = stage
	e.LastError = errText
	return nil
}

// ResetFrom clears the output of stage and of every stage after it, and
// puts the email back into the status preceding stage. Fields produced by
// earlier stages are kept.
func (e *Email) ResetFrom(stage Stage) {
	switch stage {
	case StageCategorize:
		e.Category = ""
		fallthrough
	case StageExtractActions:
		e.ActionItems = nil
		fallthrough
	case StageDraft:
		e.Draft = ""
		e.NotDraftable = false
	}

	e.Status = stage.Pending()
	e.FailedStage = ""
	e.LastError = ""
}

// ResumeFailed puts a failed email back into the in-progress status of the
// stage that failed.
func (e *Email) ResumeFailed() error {
	if e.Status != StatusFailed {
		return fmt.Errorf("email %s is %s, not failed", e.ID, e.Status)
	}
	if !e.FailedStage.Valid() {
		return fmt.Errorf("email %s has no failed stage recorded", e.ID)
	}

	e.Status = e.FailedStage.Running()
	e.FailedStage = ""
	e.LastError = ""
	return nil
}

// HasReached reports whether stage has already run, or is due to run next,
// for this email. Re-running a stage the email has not reached would skip
// the stages before it.
func (e Email) HasReached(stage Stage) bool {
	if !stage.Valid() {
		return false
	}
	if e.Status == StatusFailed {
		return e.FailedStage.Valid() && statusOrder[e.FailedStage.Pending()] >= statusOrder[stage.Pending()]
	}
	cur, ok := statusOrder[e.Status]
	return ok && cur >= statusOrder[stage.Pending()]
}

// LastTurn returns the most recent chat turn, if any.
func (e Email) LastTurn() (ChatTurn, bool) {
	if len(e.Conversation) == 0 {
		return ChatTurn{}, false
	}
	return e.Conversation[len(e.Conversation)-1], true
}
