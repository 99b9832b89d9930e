// Package templates holds the editable prompt templates used by the
// enrichment stages and renders them into complete prompts.
package templates

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
)

// RenderContext carries the email fields substituted into a template frame.
type RenderContext struct {
	Sender      string
	Subject     string
	ReceivedAt  time.Time
	Body        string
	Category    string
	ActionItems []model.ActionItem
}

// ContextFor builds a RenderContext from an email.
func ContextFor(e model.Email) RenderContext {
	return RenderContext{
		Sender:      e.Sender,
		Subject:     e.Subject,
		ReceivedAt:  e.ReceivedAt,
		Body:        e.Body,
		Category:    e.Category,
		ActionItems: e.ActionItems,
	}
}

// Manager owns the current body of every template. It is safe for
// concurrent use.
type Manager struct {
	store store.TemplateStore
	log   *zap.Logger

	// editMu spans the store write and the in-memory swap of an edit, so
	// memory and disk agree on the last edit.
	editMu sync.Mutex

	mu         sync.RWMutex
	bodies     map[model.Stage]string
	categories []string
}

// New loads persisted bodies from ts, falling back to the built-in default
// for any template that is missing or no longer valid. ts may be nil, in
// which case edits live only in memory.
func New(ctx context.Context, ts store.TemplateStore, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		store:  ts,
		log:    log,
		bodies: make(map[model.Stage]string, len(model.Stages)),
	}

	persisted := map[model.Stage]string{}
	if ts != nil {
		var err error
		persisted, err = ts.LoadTemplates(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading templates: %w", err)
		}
	}

	for _, name := range model.Stages {
		body, ok := persisted[name]
		if !ok {
			body = Default(name)
		} else if err := ValidateEdit(name, body); err != nil {
			log.Warn("stored template is invalid, using default",
				zap.String("template", string(name)),
				zap.Error(err),
			)
			body = Default(name)
		}
		m.bodies[name] = body
	}

	cats, err := parseCategories(m.bodies[model.StageCategorize])
	if err != nil {
		return nil, fmt.Errorf("parsing categories: %w", err)
	}
	m.categories = cats
	return m, nil
}

// ValidateEdit reports whether body would be accepted for name.
func (m *Manager) ValidateEdit(name model.Stage, body string) error {
	return ValidateEdit(name, body)
}

// Get returns the current body of name.
func (m *Manager) Get(name model.Stage) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	body, ok := m.bodies[name]
	if !ok {
		return "", &ValidationError{Name: name, Reason: "unknown template"}
	}
	return body, nil
}

// Categories returns the configured category set, in template order.
func (m *Manager) Categories() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.categories...)
}

// Edit validates body, persists it and only then makes it current. A
// rejected or unpersisted edit leaves the previous body in place.
func (m *Manager) Edit(ctx context.Context, name model.Stage, body string) error {
	if err := ValidateEdit(name, body); err != nil {
		return err
	}

	var cats []string
	if name == model.StageCategorize {
		// Already validated above.
		cats, _ = parseCategories(body)
	}

	m.editMu.Lock()
	defer m.editMu.Unlock()

	if m.store != nil {
		if err := m.store.SaveTemplate(ctx, name, body); err != nil {
			return fmt.Errorf("saving template %s: %w", name, err)
		}
	}

	m.mu.Lock()
	m.bodies[name] = body
	if cats != nil {
		m.categories = cats
	}
	m.mu.Unlock()

	m.log.Info("template updated", zap.String("template", string(name)))
	return nil
}

// Reset restores the built-in body of name.
func (m *Manager) Reset(ctx context.Context, name model.Stage) error {
	if !name.Valid() {
		return &ValidationError{Name: name, Reason: "unknown template"}
	}
	return m.Edit(ctx, name, Default(name))
}

// Render returns the full prompt for name: the editable body verbatim, then
// the fixed frame carrying the email.
func (m *Manager) Render(name model.Stage, rc RenderContext) (string, error) {
	m.mu.RLock()
	body, ok := m.bodies[name]
	cats := m.categories
	m.mu.RUnlock()
	if !ok {
		return "", &ValidationError{Name: name, Reason: "unknown template"}
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimRight(body, "\n"))
	sb.WriteString("\n\n")

	switch name {
	case model.StageCategorize:
		fmt.Fprintf(&sb, "Allowed categories: %s\n\n", strings.Join(cats, ", "))
		writeEmail(&sb, rc)
		sb.WriteString("\nReturn a single category name from the allowed list and nothing else.")
	case model.StageExtractActions:
		writeEmail(&sb, rc)
		sb.WriteString("\nRespond with JSON only: an array of objects with a \"task\" field and an optional \"deadline\" field. ")
		sb.WriteString("Respond with [] when nothing needs to be done.")
	case model.StageDraft:
		writeEmail(&sb, rc)
		if rc.Category != "" {
			fmt.Fprintf(&sb, "\nCategory: %s\n", rc.Category)
		}
		if len(rc.ActionItems) > 0 {
			sb.WriteString("\nAction items:\n")
			writeActionItems(&sb, rc.ActionItems, "- ")
		}
		sb.WriteString("\nProduce a polite reply.")
		sb.WriteString("\n\nIMPORTANT: If this email is NOT suitable for drafting based on the instructions above, ")
		sb.WriteString("respond with exactly the single word:\nINVALID")
	}

	return sb.String(), nil
}

func writeEmail(sb *strings.Builder, rc RenderContext) {
	sb.WriteString("EMAIL:\n")
	fmt.Fprintf(sb, "From: %s\n", rc.Sender)
	fmt.Fprintf(sb, "Subject: %s\n", rc.Subject)
	if !rc.ReceivedAt.IsZero() {
		fmt.Fprintf(sb, "Received: %s\n", rc.ReceivedAt.Format(time.RFC1123Z))
	}
	sb.WriteString("\n")
	sb.WriteString(rc.Body)
	sb.WriteString("\n")
}

// writeActionItems lists items one per line with the given prefix.
func writeActionItems(sb *strings.Builder, items []model.ActionItem, prefix string) {
	for _, it := range items {
		sb.WriteString(prefix)
		sb.WriteString(it.Task)
		if it.Deadline != "" {
			fmt.Fprintf(sb, " (deadline: %s)", it.Deadline)
		}
		sb.WriteString("\n")
	}
}
