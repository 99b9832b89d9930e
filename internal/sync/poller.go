// Package sync polls the mailbox in the background, stores new messages and
// hands them to the enrichment pipeline.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/mailbox"
	"github.com/nhle/mail-triage/internal/metrics"
	"github.com/nhle/mail-triage/internal/store"
)

// Source returns messages received since a point in time.
type Source interface {
	FetchRecent(ctx context.Context, since time.Time, limit int) ([]mailbox.Message, error)
}

// Scheduler enriches newly stored emails.
type Scheduler interface {
	ProcessAll(ctx context.Context, ids []string) error
}

// SyncState represents the current state of the poller.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

// SyncStatus is a snapshot of the poller.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
}

// SyncResultMsg is a tea.Msg sent when a poll completes.
type SyncResultMsg struct {
	Fetched int
	NewIDs  []string
	Error   error

	// AuthFailed is set when the server rejected the credentials.
	AuthFailed bool
}

// Config tunes the poller.
type Config struct {
	Interval     time.Duration
	Lookback     time.Duration
	Limit        int
	FetchTimeout time.Duration
}

// fetchTimeout is the default limit for a single fetch.
const fetchTimeout = 30 * time.Second

// Poller orchestrates background mailbox polling.
type Poller struct {
	store   store.Store
	src     Source
	sched   Scheduler
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	resultCh  chan SyncResultMsg
	triggerCh chan struct{}

	mu      gosync.Mutex
	status  SyncStatus
	running bool
	cancel  context.CancelFunc
	wg      gosync.WaitGroup
}

// Option customizes a Poller.
type Option func(*Poller)

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Poller) { p.log = log }
}

// WithMetrics counts ingested mails on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithClock overrides the time source used for the lookback window.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New creates a Poller. sched may be nil, in which case new emails are
// only stored.
func New(s store.Store, src Source, sched Scheduler, cfg Config, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 120 * time.Second
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 7 * 24 * time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = fetchTimeout
	}

	p := &Poller{
		store:     s,
		src:       src,
		sched:     sched,
		cfg:       cfg,
		log:       zap.NewNop(),
		now:       time.Now,
		resultCh:  make(chan SyncResultMsg, 16),
		triggerCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the polling goroutine and returns a command that
// delivers the first result to the Bubble Tea runtime.
func (p *Poller) Start(ctx context.Context) tea.Cmd {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx)
	}()

	return p.waitForResult()
}

// Stop halts polling and waits for the current poll to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
}

// Refresh asks for an immediate poll. A poll already queued absorbs it.
func (p *Poller) Refresh() tea.Cmd {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
	return nil
}

// Status returns the current sync status.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.sendResult(p.Poll(ctx))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.triggerCh:
		}
		p.sendResult(p.Poll(ctx))
	}
}

// Poll performs one fetch, stores the messages that are new and schedules
// them for enrichment. Enrichment runs in the background.
func (p *Poller) Poll(ctx context.Context) SyncResultMsg {
	p.setStatus(SyncRunning, nil)

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	since := p.now().Add(-p.cfg.Lookback)
	msgs, err := p.src.FetchRecent(fetchCtx, since, p.cfg.Limit)
	if err != nil {
		p.setStatus(SyncError, err)
		p.log.Warn("mailbox fetch failed", zap.Error(err))
		return SyncResultMsg{Error: err, AuthFailed: mailbox.IsAuthError(err)}
	}

	var newIDs []string
	for _, m := range msgs {
		e := m.Email()
		created, err := p.store.Add(ctx, e)
		if err != nil {
			err = fmt.Errorf("storing message %s: %w", m.MessageID, err)
			p.setStatus(SyncError, err)
			return SyncResultMsg{Fetched: len(msgs), NewIDs: newIDs, Error: err}
		}
		if created {
			newIDs = append(newIDs, e.ID)
		}
	}

	p.metrics.AddIngested(len(newIDs))
	p.setStatus(SyncIdle, nil)
	p.log.Info("mailbox polled", zap.Int("fetched", len(msgs)), zap.Int("new", len(newIDs)))

	if len(newIDs) > 0 && p.sched != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.sched.ProcessAll(ctx, newIDs); err != nil && ctx.Err() == nil {
				p.log.Error("enriching new emails", zap.Error(err))
			}
		}()
	}

	return SyncResultMsg{Fetched: len(msgs), NewIDs: newIDs}
}

func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle {
		p.status.LastSync = p.now()
	}
}

// sendResult never blocks the poller; results are dropped when the UI
// falls behind.
func (p *Poller) sendResult(msg SyncResultMsg) {
	select {
	case p.resultCh <- msg:
	default:
	}
}

func (p *Poller) waitForResult() tea.Cmd {
	return func() tea.Msg {
		return <-p.resultCh
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next poll result.
// Call it after handling a SyncResultMsg to keep listening.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return p.waitForResult()
}
