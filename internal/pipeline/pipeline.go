// Package pipeline enriches stored emails with a category, action items and
// a reply draft, one stage at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mail-triage/internal/gateway"
	"github.com/nhle/mail-triage/internal/keyed"
	"github.com/nhle/mail-triage/internal/metrics"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/store"
	"github.com/nhle/mail-triage/internal/templates"
)

// ErrStageNotReached is returned when re-triggering a stage the email has
// not got to yet.
var ErrStageNotReached = errors.New("stage not reached yet")

// errStale aborts a write whose email moved on while the stage was running.
var errStale = errors.New("email changed during stage")

// errDeleted stops processing of an email removed while it was in flight.
var errDeleted = errors.New("email deleted during processing")

// Failure describes a stage that could not complete. Its text is stored in
// the email's last_error.
type Failure struct {
	EmailID  string
	Stage    model.Stage
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	if f.Attempts > 1 {
		return fmt.Sprintf("%s failed after %d attempts: %v", f.Stage, f.Attempts, f.Err)
	}
	return fmt.Sprintf("%s failed: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Config tunes the worker pool and retry policy.
type Config struct {
	Workers     int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Timeout     time.Duration
	CleanDrafts bool
}

// ConfigFrom derives a Config from application settings.
func ConfigFrom(pc model.PipelineConfig, gc model.GatewayConfig) Config {
	return Config{
		Workers:     pc.Workers,
		MaxAttempts: pc.MaxAttempts,
		BaseBackoff: time.Duration(pc.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(pc.MaxBackoffMs) * time.Millisecond,
		Timeout:     gc.Timeout(),
		CleanDrafts: pc.CleanDrafts,
	}
}

// Event reports progress of one email.
type Event struct {
	EmailID string
	Stage   model.Stage
	Status  model.Status
	Err     error
}

const eventBuffer = 64

// Pipeline runs enrichment stages against a Store.
type Pipeline struct {
	store   store.Store
	tpl     *templates.Manager
	gw      gateway.Gateway
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics

	// processing serializes Process calls per email.
	processing keyed.Mutex
	events     chan Event
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithMetrics records stage timings and outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a Pipeline.
func New(s store.Store, tpl *templates.Manager, gw gateway.Gateway, cfg Config, opts ...Option) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}

	p := &Pipeline{
		store:  s,
		tpl:    tpl,
		gw:     gw,
		cfg:    cfg,
		log:    zap.NewNop(),
		events: make(chan Event, eventBuffer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Events delivers progress updates. Updates are dropped when nobody keeps
// up with the channel.
func (p *Pipeline) Events() <-chan Event {
	return p.events
}

func (p *Pipeline) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

// RunPending processes every email that is neither DraftReady nor Failed,
// at most Workers at a time. Cancelling ctx stops scheduling; workers
// finish the stage they are in.
func (p *Pipeline) RunPending(ctx context.Context) error {
	emails, err := p.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing emails: %w", err)
	}

	var ids []string
	for _, e := range emails {
		if _, ok := model.NextStage(e.Status); ok {
			ids = append(ids, e.ID)
		}
	}
	return p.ProcessAll(ctx, ids)
}

// ProcessAll runs Process for every id on the worker pool. An error on one
// email does not stop the others: ids that no longer exist are skipped and
// the remaining errors are joined. Only cancelling ctx stops scheduling.
func (p *Pipeline) ProcessAll(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	p.log.Info("processing emails", zap.Int("count", len(ids)), zap.Int("workers", p.cfg.Workers))

	var (
		mu        sync.Mutex
		errs      []error
		cancelled bool
	)
	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := p.Process(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
			case errors.Is(err, store.ErrNotFound):
				p.log.Info("skipping missing email", zap.String("email_id", id))
			case ctx.Err() != nil && errors.Is(err, ctx.Err()):
				cancelled = true
			default:
				p.log.Error("processing email", zap.String("email_id", id), zap.Error(err))
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if cancelled {
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

// Process runs the remaining stages of one email. Stage failures are
// recorded on the email and are not returned; the error reports storage
// problems and cancellation. An email deleted mid-run ends it quietly.
func (p *Pipeline) Process(ctx context.Context, id string) error {
	unlock := p.processing.Lock(id)
	defer unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		e, err := p.store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("processing email %s: %w", id, err)
		}

		stage, ok := model.NextStage(e.Status)
		if !ok {
			return nil
		}
		err = p.runStage(ctx, id, stage)
		if errors.Is(err, errDeleted) {
			p.log.Info("email deleted during processing", zap.String("email_id", id))
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Retrigger clears stage and everything after it for one email, then
// reprocesses the email. Upstream results stay.
func (p *Pipeline) Retrigger(ctx context.Context, id string, stage model.Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("retrigger %s: unknown stage %q", id, stage)
	}
	if err := p.reset(ctx, id, stage); err != nil {
		return err
	}
	return p.Process(ctx, id)
}

// RetriggerAll re-runs stage for every email that has reached it, typically
// after its template was edited.
func (p *Pipeline) RetriggerAll(ctx context.Context, stage model.Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("retrigger all: unknown stage %q", stage)
	}

	emails, err := p.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing emails: %w", err)
	}

	var ids []string
	for _, e := range emails {
		if !e.HasReached(stage) {
			continue
		}
		err := p.reset(ctx, e.ID, stage)
		if errors.Is(err, ErrStageNotReached) {
			continue
		}
		if err != nil {
			return err
		}
		ids = append(ids, e.ID)
	}

	p.log.Info("re-running stage for all emails", zap.String("stage", string(stage)), zap.Int("count", len(ids)))
	return p.ProcessAll(ctx, ids)
}

func (p *Pipeline) reset(ctx context.Context, id string, stage model.Stage) error {
	_, err := p.store.Update(ctx, id, func(e *model.Email) error {
		if !e.HasReached(stage) {
			return fmt.Errorf("retrigger %s on %s (status %s): %w", stage, id, e.Status, ErrStageNotReached)
		}
		e.ResetFrom(stage)
		return nil
	})
	if err != nil {
		return err
	}
	p.emit(Event{EmailID: id, Stage: stage, Status: stage.Pending()})
	return nil
}

// Retry resumes a failed email at the stage that failed.
func (p *Pipeline) Retry(ctx context.Context, id string) error {
	e, err := p.store.Update(ctx, id, func(e *model.Email) error {
		return e.ResumeFailed()
	})
	if err != nil {
		return fmt.Errorf("retrying email %s: %w", id, err)
	}
	p.emit(Event{EmailID: id, Status: e.Status})
	return p.Process(ctx, id)
}

// stageResult is what a stage writes back.
type stageResult struct {
	apply   func(e *model.Email)
	failure *Failure
}

// runStage executes one stage. It returns an error only when processing of
// this email has to stop: storage failures or cancellation.
func (p *Pipeline) runStage(ctx context.Context, id string, stage model.Stage) error {
	log := p.log.With(zap.String("email_id", id), zap.String("stage", string(stage)))
	// Store writes for a started stage are not abandoned on cancel.
	writeCtx := context.WithoutCancel(ctx)

	started, err := p.store.Update(writeCtx, id, func(e *model.Email) error {
		if e.Status != stage.Pending() && e.Status != stage.Running() {
			return errStale
		}
		return e.Advance(stage.Running())
	})
	if errors.Is(err, errStale) {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return errDeleted
	}
	if err != nil {
		return fmt.Errorf("starting %s for %s: %w", stage, id, err)
	}
	p.emit(Event{EmailID: id, Stage: stage, Status: stage.Running()})

	start := time.Now()
	res, err := p.execute(ctx, started, stage, log)
	if err != nil {
		// Cancelled mid-stage: the email keeps its in-progress status and
		// resumes this stage on the next run.
		log.Info("stage interrupted", zap.Error(err))
		p.metrics.ObserveStage(string(stage), "interrupted", time.Since(start))
		return err
	}

	outcome := "ok"
	if res.failure != nil {
		outcome = "failed"
	}
	p.metrics.ObserveStage(string(stage), outcome, time.Since(start))

	final, err := p.store.Update(writeCtx, id, func(e *model.Email) error {
		if e.Status != stage.Running() {
			return errStale
		}
		if res.failure != nil {
			return e.Fail(stage, res.failure.Error())
		}
		res.apply(e)
		return e.Advance(stage.Completed())
	})
	if errors.Is(err, errStale) {
		log.Debug("dropping stale stage result")
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return errDeleted
	}
	if err != nil {
		return fmt.Errorf("saving %s for %s: %w", stage, id, err)
	}

	ev := Event{EmailID: id, Stage: stage, Status: final.Status}
	if res.failure != nil {
		ev.Err = res.failure
		log.Warn("stage failed", zap.Int("attempts", res.failure.Attempts), zap.Error(res.failure.Err))
	} else {
		log.Debug("stage completed", zap.String("status", string(final.Status)))
	}
	p.emit(ev)

	if final.Status.Done() {
		p.metrics.IncEmailProcessed(string(final.Status))
	}
	return nil
}

// execute renders the prompt, calls the gateway and interprets the reply.
// The error is non-nil only when ctx was cancelled before a reply arrived.
func (p *Pipeline) execute(ctx context.Context, e model.Email, stage model.Stage, log *zap.Logger) (stageResult, error) {
	fail := func(attempts int, err error) (stageResult, error) {
		return stageResult{failure: &Failure{EmailID: e.ID, Stage: stage, Attempts: attempts, Err: err}}, nil
	}

	prompt, err := p.tpl.Render(stage, templates.ContextFor(e))
	if err != nil {
		return fail(0, fmt.Errorf("rendering prompt: %w", err))
	}

	reply, attempts, err := p.complete(ctx, prompt)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return stageResult{}, err
	}

	malformed := false
	if err != nil {
		if kind, _ := gateway.KindOf(err); kind != gateway.MalformedResponse {
			return fail(attempts, err)
		}
		malformed = true
	}

	switch stage {
	case model.StageCategorize:
		category := model.Unclassified
		if !malformed {
			if c, ok := matchCategory(reply, p.tpl.Categories()); ok {
				category = c
			}
		}
		if category == model.Unclassified {
			log.Info("no configured category matched", zap.Bool("malformed", malformed))
		}
		return stageResult{apply: func(m *model.Email) { m.Category = category }}, nil

	case model.StageExtractActions:
		items := []model.ActionItem{}
		if !malformed {
			parsed, perr := model.ParseActionItems(reply)
			if perr != nil {
				log.Info("unparseable action items, storing none", zap.Error(perr))
			} else {
				items = parsed
			}
		}
		return stageResult{apply: func(m *model.Email) { m.ActionItems = items }}, nil

	case model.StageDraft:
		if malformed {
			return fail(attempts, err)
		}
		draft, notDraftable, perr := parseDraft(reply, p.cfg.CleanDrafts)
		if perr != nil {
			return fail(attempts, &gateway.Failure{Kind: gateway.MalformedResponse, Detail: perr.Error()})
		}
		return stageResult{apply: func(m *model.Email) {
			if refinedSince(e, *m) {
				// The user already has a newer draft; only the status moves on.
				log.Info("draft refined while drafting, keeping the user's version")
				return
			}
			m.Draft = draft
			m.NotDraftable = notDraftable
		}}, nil
	}

	return fail(attempts, fmt.Errorf("unknown stage %q", stage))
}

// refinedSince reports whether the draft of now was changed by a chat reply
// or a hand edit after before was read.
func refinedSince(before, now model.Email) bool {
	if now.Draft != before.Draft || now.NotDraftable != before.NotDraftable {
		return true
	}
	return assistantTurns(now) > assistantTurns(before)
}

func assistantTurns(e model.Email) int {
	n := 0
	for _, t := range e.Conversation {
		if t.Role == model.RoleAssistant {
			n++
		}
	}
	return n
}
