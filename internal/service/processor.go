package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/samims/keepsake/internal/config"
	appErr "github.com/samims/keepsake/internal/errors"
	"github.com/samims/keepsake/internal/metrics"
	"github.com/samims/keepsake/internal/model"
	"github.com/samims/keepsake/internal/storage"
	"github.com/samims/keepsake/pkg/tracing"
)

const maxRetryBackoff = 24 * time.Hour

type itemOutcome int

const (
	outcomeNotClaimed itemOutcome = iota
	outcomeClaimLost
	outcomeSent
	outcomeRetryPending
	outcomeError
	outcomeCompleteLost
	outcomeUnpersisted
)

func (o itemOutcome) String() string {
	switch o {
	case outcomeClaimLost, outcomeCompleteLost:
		return "lease_lost"
	case outcomeSent:
		return "sent"
	case outcomeRetryPending:
		return "retry_pending"
	case outcomeError:
		return "error"
	case outcomeUnpersisted:
		return "unpersisted"
	default:
		return "not_claimed"
	}
}

// verdict is the status an item settles into after its recipients were attempted.
type verdict struct {
	status  model.Status
	notify  model.NotificationKind
	sentAt  *time.Time
	next    *time.Time
	lastErr *string
	reached int
	total   int
}

// Processor drives due keepsakes through the delivery state machine.
// Each RunOnce call is one processing pass.
type Processor struct {
	keepsakes  storage.KeepsakeStorage
	recipients storage.RecipientStorage
	runs       storage.RunStorage
	router     ChannelRouter
	notifier   NotificationService
	tracer     tracing.TracerInterface
	cfg        config.WorkerConfig
	dbTimeout  time.Duration
	now        func() time.Time
	l          *slog.Logger
}

// NewProcessor creates a new delivery processor
func NewProcessor(
	keepsakes storage.KeepsakeStorage,
	recipients storage.RecipientStorage,
	runs storage.RunStorage,
	router ChannelRouter,
	notifier NotificationService,
	tracer tracing.TracerInterface,
	cfg config.WorkerConfig,
	dbTimeout time.Duration,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		keepsakes:  keepsakes,
		recipients: recipients,
		runs:       runs,
		router:     router,
		notifier:   notifier,
		tracer:     tracer,
		cfg:        cfg,
		dbTimeout:  dbTimeout,
		now:        func() time.Time { return time.Now().UTC() },
		l:          logger.With(slog.String("component", "processor")),
	}
}

// RunOnce selects every due keepsake, delivers it and settles its status.
// Per-item failures are recorded in the summary; only storage failures abort the run.
func (p *Processor) RunOnce(ctx context.Context) (model.Summary, error) {
	started := p.now()
	summary := model.Summary{RunID: uuid.New(), StartedAt: started}
	log := p.l.With(slog.String("run_id", summary.RunID.String()))

	if p.cfg.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RunDeadline)
		defer cancel()
	}

	ctx, span := p.tracer.StartInternalSpan(ctx, "keepsake.run",
		attribute.String(tracing.AttrRunID, summary.RunID.String()))
	defer span.End()

	log.InfoContext(ctx, "Processing run started")

	if err := p.startRun(ctx, summary.RunID, started); err != nil {
		return p.abort(ctx, log, span, summary, fmt.Errorf("record run start: %w", err))
	}
	p.warnOverlap(ctx, log, summary.RunID, started)

	swept, err := p.releaseExpired(ctx, started)
	if err != nil {
		log.WarnContext(ctx, "Lease sweep failed", slog.Any("error", err))
	}
	summary.Swept = swept

	if err := p.processDue(ctx, log, &summary, started); err != nil {
		return p.abort(ctx, log, span, summary, err)
	}

	summary.FinishedAt = p.now()
	p.finishRun(ctx, log, summary, model.RunCompleted, nil)
	metrics.Runs.WithLabelValues(string(model.RunCompleted)).Inc()
	metrics.RunDuration.Observe(summary.FinishedAt.Sub(started).Seconds())

	log.InfoContext(ctx, "Processing run finished", summaryAttrs(summary)...)
	return summary, nil
}

// Sweep returns keepsakes whose lease expired back to scheduled.
func (p *Processor) Sweep(ctx context.Context) (int64, error) {
	return p.releaseExpired(ctx, p.now())
}

// LatestRun returns the most recently started run.
func (p *Processor) LatestRun(ctx context.Context) (model.Run, error) {
	var run model.Run
	err := p.dbCall(ctx, "SELECT", "processing_runs", func(ctx context.Context) error {
		var err error
		run, err = p.runs.LatestRun(ctx)
		return err
	})
	return run, err
}

func (p *Processor) processDue(ctx context.Context, log *slog.Logger, summary *model.Summary, now time.Time) error {
	var cursor model.Cursor
	for {
		if p.stopClaiming(ctx, now) {
			p.truncate(ctx, log, summary)
			return nil
		}

		page, err := p.selectDue(ctx, now, cursor)
		if err != nil {
			return fmt.Errorf("select due keepsakes: %w", err)
		}

		for _, k := range page {
			if p.stopClaiming(ctx, now) {
				p.truncate(ctx, log, summary)
				return nil
			}
			cursor = model.After(k)

			outcome, err := p.processItem(ctx, log, summary.RunID, k)
			tally(summary, outcome)
			if err != nil {
				return err
			}
		}

		if len(page) < p.cfg.BatchSize {
			return nil
		}
	}
}

// stopClaiming reports whether the run deadline is too close to take another item.
func (p *Processor) stopClaiming(ctx context.Context, started time.Time) bool {
	if ctx.Err() != nil {
		return true
	}
	if p.cfg.RunDeadline <= 0 {
		return false
	}
	return !p.now().Before(started.Add(p.cfg.RunDeadline - p.cfg.ClaimCutoff))
}

func (p *Processor) truncate(ctx context.Context, log *slog.Logger, summary *model.Summary) {
	summary.Truncated = true
	log.WarnContext(ctx, "Run deadline near, leaving remaining keepsakes for the next run",
		slog.Int("attempted", summary.Attempted))
}

func (p *Processor) processItem(ctx context.Context, log *slog.Logger, runID uuid.UUID, k model.Keepsake) (itemOutcome, error) {
	ctx, span := p.tracer.StartInternalSpan(ctx, "keepsake.process",
		attribute.String(tracing.AttrKeepsakeID, k.ID.String()))
	defer span.End()
	log = log.With(slog.String("keepsake_id", k.ID.String()))

	claimed, err := p.claim(ctx, k, runID)
	if errors.Is(err, appErr.ErrLeaseLost) {
		log.InfoContext(ctx, "Keepsake already claimed by another run, skipping")
		return outcomeClaimLost, nil
	}
	if err != nil {
		p.tracer.RecordError(span, err)
		return outcomeNotClaimed, fmt.Errorf("claim keepsake %s: %w", k.ID, err)
	}

	// The run deadline only stops claiming. A claimed item is carried through to its
	// status write, each send bounded by SendTimeout and the lease renewed as needed.
	ctx = context.WithoutCancel(ctx)

	recipients, err := p.loadRecipients(ctx, k.ID)
	if err != nil {
		p.tracer.RecordError(span, err)
		log.ErrorContext(ctx, "Failed to load recipients, leaving lease to expire", slog.Any("error", err))
		return outcomeUnpersisted, fmt.Errorf("load recipients of %s: %w", k.ID, err)
	}
	p.tracer.AddAttributes(span, attribute.Int(tracing.AttrRecipients, len(recipients)))

	var results []recipientResult
	if len(recipients) == 0 {
		log.WarnContext(ctx, "Keepsake has no recipients, no delivery attempted")
	} else {
		results = p.fanOut(ctx, claimed, runID, recipients)
	}

	for _, r := range results {
		if r.err == nil {
			continue
		}
		log.WarnContext(ctx, "Recipient send failed",
			slog.String("recipient_id", r.recipient.ID.String()),
			slog.String("channel", r.channel),
			slog.String("kind", appErr.KindOf(r.err).String()),
			slog.Any("error", r.err))
	}

	return p.settle(ctx, log, span, claimed, runID, p.decide(claimed, results))
}

// decide applies the outcome policy: one success makes the keepsake sent, and the
// owner hears about a failure only when no recipient was reached.
func (p *Processor) decide(k model.Keepsake, results []recipientResult) verdict {
	now := p.now()
	v := verdict{total: len(results)}

	var firstErr error
	allTransient := true
	for _, r := range results {
		if r.err == nil {
			v.reached++
			continue
		}
		if firstErr == nil {
			firstErr = r.err
		}
		if !appErr.IsTransient(r.err) {
			allTransient = false
		}
	}
	failed := v.total - v.reached

	switch {
	case v.total == 0:
		v.status = model.StatusError
		v.notify = model.KindFailed
		v.lastErr = strPtr(appErr.Structural("load recipients", appErr.ErrNoRecipients).Error())
	case v.reached > 0:
		v.status = model.StatusSent
		v.notify = model.KindDelivered
		v.sentAt = &now
		if failed > 0 {
			v.lastErr = strPtr(fmt.Sprintf("%d of %d recipient sends failed", failed, v.total))
		}
	case allTransient && k.AttemptCount < p.cfg.MaxAttempts:
		next := now.Add(p.backoff(k.AttemptCount))
		v.status = model.StatusRetryPending
		v.next = &next
		v.lastErr = strPtr(fmt.Sprintf("all %d recipient sends failed: %v", v.total, firstErr))
	default:
		v.status = model.StatusError
		v.notify = model.KindFailed
		v.lastErr = strPtr(fmt.Sprintf("all %d recipient sends failed: %v", v.total, firstErr))
	}
	return v
}

// backoff doubles the retry delay for every attempt already taken.
func (p *Processor) backoff(attempts int) time.Duration {
	d := p.cfg.RetryBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return d
}

// settle writes the final status and then, only once it is committed, notifies the owner.
func (p *Processor) settle(ctx context.Context, log *slog.Logger, span trace.Span, k model.Keepsake, runID uuid.UUID, v verdict) (itemOutcome, error) {
	c := model.Completion{
		KeepsakeID:    k.ID,
		RunID:         runID,
		Status:        v.status,
		SentAt:        v.sentAt,
		NextAttemptAt: v.next,
		LastError:     v.lastErr,
		At:            p.now(),
	}
	err := p.complete(ctx, c)
	switch {
	case errors.Is(err, appErr.ErrLeaseLost):
		log.WarnContext(ctx, "Lease lost before status write, outcome discarded",
			slog.String("status", string(v.status)))
		return outcomeCompleteLost, nil
	case err != nil:
		p.tracer.RecordError(span, err)
		log.ErrorContext(ctx, "Failed to persist keepsake status",
			slog.String("status", string(v.status)), slog.Any("error", err))
		return outcomeUnpersisted, fmt.Errorf("complete keepsake %s: %w", k.ID, err)
	}
	p.tracer.AddAttributes(span, attribute.String(tracing.AttrStatus, string(v.status)))

	if v.notify != "" {
		p.notifier.Emit(ctx, Outcome{
			Keepsake: k,
			RunID:    runID,
			Kind:     v.notify,
			Status:   v.status,
			Reached:  v.reached,
			Total:    v.total,
			At:       c.At,
		})
	}

	log.InfoContext(ctx, "Keepsake settled",
		slog.String("status", string(v.status)),
		slog.Int("reached", v.reached),
		slog.Int("recipients", v.total),
		slog.Int("attempt", k.AttemptCount))

	switch v.status {
	case model.StatusSent:
		return outcomeSent, nil
	case model.StatusRetryPending:
		return outcomeRetryPending, nil
	default:
		return outcomeError, nil
	}
}

func (p *Processor) abort(ctx context.Context, log *slog.Logger, span trace.Span, summary model.Summary, err error) (model.Summary, error) {
	summary.FinishedAt = p.now()
	p.tracer.RecordError(span, err)
	p.finishRun(ctx, log, summary, model.RunAborted, err)
	metrics.Runs.WithLabelValues(string(model.RunAborted)).Inc()
	metrics.RunDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())

	log.ErrorContext(ctx, "Processing run aborted", append(summaryAttrs(summary), slog.Any("error", err))...)
	return summary, err
}

func (p *Processor) warnOverlap(ctx context.Context, log *slog.Logger, self uuid.UUID, now time.Time) {
	var active int
	err := p.dbCall(ctx, "SELECT", "processing_runs", func(ctx context.Context) error {
		var err error
		active, err = p.runs.ActiveRuns(ctx, self, now.Add(-p.cfg.StaleRunWindow))
		return err
	})
	if err != nil {
		log.WarnContext(ctx, "Failed to check for overlapping runs", slog.Any("error", err))
		return
	}
	if active > 0 {
		log.WarnContext(ctx, "Overlapping processing run detected, relying on leases", slog.Int("active_runs", active))
	}
}

func (p *Processor) startRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	return p.dbCall(ctx, "INSERT", "processing_runs", func(ctx context.Context) error {
		return p.runs.StartRun(ctx, id, at)
	})
}

// finishRun records the run even when the run context already expired.
func (p *Processor) finishRun(ctx context.Context, log *slog.Logger, s model.Summary, status model.RunStatus, runErr error) {
	err := p.dbCall(context.WithoutCancel(ctx), "UPDATE", "processing_runs", func(ctx context.Context) error {
		return p.runs.FinishRun(ctx, s, status, runErr)
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to record run result", slog.Any("error", err))
	}
}

func (p *Processor) releaseExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := p.dbCall(ctx, "UPDATE", "keepsakes", func(ctx context.Context) error {
		var err error
		n, err = p.keepsakes.ReleaseExpired(ctx, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.LeasesReleased.Add(float64(n))
		p.l.InfoContext(ctx, "Released expired leases", slog.Int64("count", n))
	}
	return n, nil
}

func (p *Processor) selectDue(ctx context.Context, now time.Time, after model.Cursor) ([]model.Keepsake, error) {
	var page []model.Keepsake
	err := p.dbCall(ctx, "SELECT", "keepsakes", func(ctx context.Context) error {
		var err error
		page, err = p.keepsakes.SelectDue(ctx, now, after, p.cfg.BatchSize)
		return err
	})
	return page, err
}

func (p *Processor) claim(ctx context.Context, k model.Keepsake, runID uuid.UUID) (model.Keepsake, error) {
	var claimed model.Keepsake
	err := p.dbCall(ctx, "UPDATE", "keepsakes", func(ctx context.Context) error {
		now := p.now()
		var err error
		claimed, err = p.keepsakes.Claim(ctx, k, runID, now, now.Add(p.cfg.LeaseDuration))
		return err
	})
	return claimed, err
}

func (p *Processor) extendLease(ctx context.Context, id, runID uuid.UUID, until time.Time) error {
	return p.dbCall(ctx, "UPDATE", "keepsakes", func(ctx context.Context) error {
		return p.keepsakes.ExtendLease(ctx, id, runID, until)
	})
}

func (p *Processor) loadRecipients(ctx context.Context, id uuid.UUID) ([]model.Recipient, error) {
	var recipients []model.Recipient
	err := p.dbCall(ctx, "SELECT", "keepsake_recipients", func(ctx context.Context) error {
		var err error
		recipients, err = p.recipients.Recipients(ctx, id)
		return err
	})
	return recipients, err
}

func (p *Processor) complete(ctx context.Context, c model.Completion) error {
	return p.dbCall(ctx, "UPDATE", "keepsakes", func(ctx context.Context) error {
		return p.keepsakes.Complete(ctx, c)
	})
}

// dbCall runs one storage call in its own client span, bounded by the DB call timeout.
func (p *Processor) dbCall(ctx context.Context, operation, table string, call func(context.Context) error) error {
	ctx, span := p.tracer.StartClientSpan(ctx, "db."+table)
	defer span.End()

	dbCtx, cancel := withTimeout(ctx, p.dbTimeout)
	defer cancel()

	start := time.Now()
	err := call(dbCtx)
	p.tracer.AddDatabaseAttributes(span, operation, table, time.Since(start))
	if err != nil && !errors.Is(err, appErr.ErrLeaseLost) {
		p.tracer.RecordError(span, err)
	}
	return err
}

func tally(s *model.Summary, o itemOutcome) {
	switch o {
	case outcomeNotClaimed:
		return
	case outcomeClaimLost:
		s.LeaseLost++
	case outcomeSent:
		s.Attempted++
		s.Sent++
	case outcomeRetryPending:
		s.Attempted++
		s.RetryPending++
	case outcomeError:
		s.Attempted++
		s.Errored++
	case outcomeCompleteLost:
		s.Attempted++
		s.LeaseLost++
	case outcomeUnpersisted:
		s.Attempted++
		s.Unpersisted++
	}
	metrics.Items.WithLabelValues(o.String()).Inc()
}

func summaryAttrs(s model.Summary) []any {
	return []any{
		slog.Int("attempted", s.Attempted),
		slog.Int("sent", s.Sent),
		slog.Int("errored", s.Errored),
		slog.Int("retry_pending", s.RetryPending),
		slog.Int("lease_lost", s.LeaseLost),
		slog.Int("unpersisted", s.Unpersisted),
		slog.Int64("swept", s.Swept),
		slog.Bool("truncated", s.Truncated),
	}
}

func strPtr(s string) *string { return &s }
