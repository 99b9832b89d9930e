// Package chat runs the per-email draft refinement conversation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/gateway"
	"github.com/nhle/mail-triage/internal/keyed"
	"github.com/nhle/mail-triage/internal/metrics"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
)

// ErrEmptyMessage is returned when the user text is blank.
var ErrEmptyMessage = errors.New("chat message is empty")

// SendError reports a refinement request the gateway could not answer. The
// user turn stays in the conversation; the draft is unchanged.
type SendError struct {
	EmailID string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("chat send for email %s: %v", e.EmailID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// DefaultHistoryWindow is the number of previous turns included in a prompt
// when Config leaves it unset.
const DefaultHistoryWindow = 20

// Config tunes a Session.
type Config struct {
	// HistoryWindow bounds how many previous turns go into each prompt.
	// Older turns stay in the store.
	HistoryWindow int
	Timeout       time.Duration
}

// ConfigFrom builds a Config from application settings.
func ConfigFrom(cc model.ChatConfig, gc model.GatewayConfig) Config {
	return Config{HistoryWindow: cc.HistoryWindow, Timeout: gc.Timeout()}
}

// Session refines drafts through conversation. Calls for the same email are
// serialized; different emails proceed concurrently.
type Session struct {
	store   store.Store
	gw      gateway.Gateway
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	locks keyed.Mutex
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithMetrics counts send outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithClock overrides the turn timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates a Session over s that talks to gw.
func New(s store.Store, gw gateway.Gateway, cfg Config, opts ...Option) *Session {
	if cfg.HistoryWindow < 1 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	sess := &Session{
		store: s,
		gw:    gw,
		cfg:   cfg,
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(sess)
	}
	return sess
}

// Send asks the model to refine the draft of email id according to text.
// On success the reply becomes the new draft and is returned. A failed
// request returns a *SendError and leaves only the user turn behind;
// sending the same text again reuses that turn.
func (s *Session) Send(ctx context.Context, id, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	log := s.log.With(zap.String("email_id", id))

	e, err := s.store.Update(ctx, id, func(e *model.Email) error {
		if last, ok := e.LastTurn(); ok && last.Role == model.RoleUser && last.Text == text {
			return nil
		}
		e.Conversation = append(e.Conversation, s.turn(model.RoleUser, text))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("recording chat turn: %w", err)
	}

	prompt := BuildPrompt(e, s.cfg.HistoryWindow)

	reply, err := s.gw.Complete(ctx, prompt, s.cfg.Timeout)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = &gateway.Failure{Kind: gateway.MalformedResponse, Detail: "empty reply"}
	}
	if err != nil {
		s.metrics.IncChatSend("failed")
		log.Warn("chat send failed", zap.Error(err))
		return "", &SendError{EmailID: id, Err: err}
	}

	_, err = s.store.Update(context.WithoutCancel(ctx), id, func(e *model.Email) error {
		e.Conversation = append(e.Conversation, s.turn(model.RoleAssistant, reply))
		e.Draft = reply
		e.NotDraftable = false
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("recording chat reply: %w", err)
	}

	s.metrics.IncChatSend("ok")
	log.Debug("chat reply recorded", zap.Int("reply_len", len(reply)))
	return reply, nil
}

// Restart clears the conversation of email id. The draft is kept.
func (s *Session) Restart(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	_, err := s.store.Update(ctx, id, func(e *model.Email) error {
		e.Conversation = []model.ChatTurn{}
		return nil
	})
	if err != nil {
		return fmt.Errorf("restarting conversation: %w", err)
	}
	return nil
}

// History returns the conversation of email id, oldest turn first.
func (s *Session) History(ctx context.Context, id string) ([]model.ChatTurn, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	return e.Conversation, nil
}

// EditDraft replaces the draft of email id with text typed by the user.
func (s *Session) EditDraft(ctx context.Context, id, text string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	_, err := s.store.Update(ctx, id, func(e *model.Email) error {
		e.Draft = text
		e.NotDraftable = false
		return nil
	})
	if err != nil {
		return fmt.Errorf("editing draft: %w", err)
	}
	return nil
}

func (s *Session) turn(role model.Role, text string) model.ChatTurn {
	return model.ChatTurn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: s.now().UTC(),
	}
}
