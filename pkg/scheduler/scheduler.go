package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/rewind-dispatch/pkg/aggregator"
	"github.com/Sternrassler/rewind-dispatch/pkg/cache"
	"github.com/Sternrassler/rewind-dispatch/pkg/checkpoint"
	"github.com/Sternrassler/rewind-dispatch/pkg/compose"
	"github.com/Sternrassler/rewind-dispatch/pkg/logging"
	"github.com/Sternrassler/rewind-dispatch/pkg/recipients"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrLeaseLost is reported when another invocation took the workday over
// while a batch was running.
var ErrLeaseLost = errors.New("workday lease lost to another invocation")

// RecipientSource lists active recipients in email order.
type RecipientSource interface {
	CountActive(ctx context.Context) (int, error)
	ListActiveAfter(ctx context.Context, cursor string, limit int) ([]recipients.Recipient, error)
}

// Composer renders a recipient's message.
type Composer interface {
	Compose(workday string, r recipients.Recipient, records []aggregator.Record) (compose.Message, error)
}

// Deliverer sends one message.
type Deliverer interface {
	Send(ctx context.Context, r recipients.Recipient, msg compose.Message) error
}

// Continuation arranges a follow-up invocation.
type Continuation interface {
	ScheduleContinuation(ctx context.Context, delay time.Duration) error
}

// ResolverFactory creates the run's resolver bound to the run cache.
type ResolverFactory func(runCache *cache.Cache) aggregator.Resolver

// Config holds the scheduler tunables.
type Config struct {
	BatchSize         int
	Budget            time.Duration
	SafetyMargin      time.Duration
	ContinuationDelay time.Duration
	// LeaseTTL bounds how long a crashed invocation blocks the workday.
	LeaseTTL time.Duration
	Location *time.Location
	// Defaults fill in recipients without stored preferences.
	Defaults aggregator.Defaults
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:         15,
		Budget:            8 * time.Second,
		SafetyMargin:      time.Second,
		ContinuationDelay: 2 * time.Minute,
		LeaseTTL:          30 * time.Second,
		Location:          time.UTC,
		Defaults:          aggregator.StandardDefaults(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive (got %d)", c.BatchSize)
	}
	if c.Budget <= c.SafetyMargin {
		return fmt.Errorf("budget %v must exceed safety margin %v", c.Budget, c.SafetyMargin)
	}
	if c.LeaseTTL < c.Budget {
		return fmt.Errorf("lease ttl %v must cover the budget %v", c.LeaseTTL, c.Budget)
	}
	return nil
}

// Deps are the scheduler's collaborators.
type Deps struct {
	Checkpoints  checkpoint.Store
	Recipients   RecipientSource
	NewResolver  ResolverFactory
	Composer     Composer
	Deliverer    Deliverer
	Continuation Continuation
}

// Scheduler runs dispatch invocations.
type Scheduler struct {
	cfg    Config
	deps   Deps
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a scheduler.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Checkpoints == nil || deps.Recipients == nil || deps.NewResolver == nil ||
		deps.Composer == nil || deps.Deliverer == nil {
		return nil, errors.New("scheduler dependencies are incomplete")
	}
	if deps.Continuation == nil {
		return nil, errors.New("scheduler needs a continuation (use continuation.Noop for external triggers)")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		logger: logging.NewLogger("scheduler"),
	}, nil
}

// SetClock replaces the clock (for testing).
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// SetLogger replaces the component logger.
func (s *Scheduler) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// Workday returns the current workday key.
func (s *Scheduler) Workday() string {
	return checkpoint.Workday(s.now(), s.cfg.Location)
}

// Status returns the stored checkpoint for workday.
func (s *Scheduler) Status(ctx context.Context, workday string) (*checkpoint.Checkpoint, error) {
	return s.deps.Checkpoints.Get(ctx, workday)
}

// Run performs one invocation. The returned error is non-nil only for
// checkpoint and recipient store failures.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	start := s.now()
	workday := checkpoint.Workday(start, s.cfg.Location)
	logger := logging.ForWorkday(s.logger, workday)
	store := s.deps.Checkpoints

	owner := uuid.NewString()
	acquired, err := store.AcquireLease(ctx, workday, owner, s.cfg.LeaseTTL)
	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		return failureSummary(workday, err), fmt.Errorf("acquire lease: %w", err)
	}
	if !acquired {
		runsTotal.WithLabelValues("skipped").Inc()
		logger.Info().Msg("Another invocation holds the workday lease, skipping")
		return Summary{
			Success: true,
			Skipped: true,
			Workday: workday,
			Message: "another invocation is processing " + workday,
		}, nil
	}
	defer func() {
		if err := store.ReleaseLease(context.WithoutCancel(ctx), workday, owner); err != nil {
			logger.Warn().Err(err).Msg("Failed to release lease")
		}
	}()

	cp, err := s.loadOrCreate(ctx, workday, start)
	if err != nil {
		return s.fail(ctx, workday, cp, err)
	}

	if cp.Status.IsTerminal() {
		runsTotal.WithLabelValues("noop").Inc()
		logger.Info().Str("status", string(cp.Status)).Msg("Workday already finished, nothing to do")
		return terminalSummary(cp), nil
	}

	runCache := cache.NewCache()
	agg := aggregator.New(s.deps.NewResolver(runCache), runCache)
	agg.SetLogger(logger)

	var (
		exec      Execution
		errs      []string
		exhausted bool
	)
	day, err := checkpoint.ParseWorkday(workday)
	if err != nil {
		return s.fail(ctx, workday, cp, err)
	}

	// A started batch always finishes: cancellation and the deadline are only
	// checked between batches so the cursor never passes an unserved recipient.
	work := context.WithoutCancel(ctx)

	for s.remaining(start) > s.cfg.SafetyMargin && ctx.Err() == nil {
		batch, err := s.deps.Recipients.ListActiveAfter(work, cp.Cursor, s.cfg.BatchSize)
		if err != nil {
			return s.fail(work, workday, cp, fmt.Errorf("list recipients: %w", err))
		}
		if len(batch) == 0 {
			exhausted = true
			break
		}

		batchErrs := s.processBatch(work, workday, day, batch, agg, cp, &exec)
		errs = append(errs, batchErrs...)

		cp.BatchesCompleted++
		cp.UpdatedAt = s.now()
		exec.Batches++
		batchesTotal.Inc()

		held, err := store.AcquireLease(work, workday, owner, s.cfg.LeaseTTL)
		if err != nil {
			return s.fail(work, workday, cp, fmt.Errorf("renew lease: %w", err))
		}
		if !held {
			return s.leaseLost(logger, cp, exec, start, append(errs, ErrLeaseLost.Error())), nil
		}

		if err := store.Put(work, cp); err != nil {
			return s.fail(work, workday, cp, fmt.Errorf("persist checkpoint: %w", err))
		}
		progressRatio.Set(cp.Percent() / 100)

		logger.Info().
			Int("batch", cp.BatchesCompleted).
			Int("size", len(batch)).
			Int("processed", cp.Processed).
			Int("total", cp.TotalRecipients).
			Str("cursor", cp.Cursor).
			Msg("Batch completed")

		if len(batch) < s.cfg.BatchSize {
			exhausted = true
			break
		}
	}

	exec.Elapsed = s.now().Sub(start)
	exec.CacheEntries = runCache.Len()
	runDuration.Observe(exec.Elapsed.Seconds())

	if exhausted {
		cp.Status = checkpoint.StatusCompleted
		cp.UpdatedAt = s.now()
		if err := store.Put(work, cp); err != nil {
			return s.fail(work, workday, cp, fmt.Errorf("persist checkpoint: %w", err))
		}
		progressRatio.Set(1)
		runsTotal.WithLabelValues("completed").Inc()
		logger.Info().
			Int("processed", cp.Processed).
			Int("sent", cp.Sent).
			Int("failed", cp.Failed).
			Msg("Workday completed")
		return s.summary(cp, exec, errs, "all recipients processed for "+workday, ""), nil
	}

	// Budget exhausted: progress is already persisted after the last batch.
	next := ""
	if err := s.deps.Continuation.ScheduleContinuation(work, s.cfg.ContinuationDelay); err != nil {
		logger.Error().Err(err).Msg("Failed to schedule continuation")
		errs = append(errs, "continuation: "+err.Error())
	} else {
		next = s.now().Add(s.cfg.ContinuationDelay).Format(time.RFC3339)
	}
	runsTotal.WithLabelValues("partial").Inc()
	logger.Info().
		Int("processed", cp.Processed).
		Int("total", cp.TotalRecipients).
		Dur("elapsed", exec.Elapsed).
		Msg("Budget exhausted, continuing later")

	msg := fmt.Sprintf("processed %d of %d recipients, continuing later", cp.Processed, cp.TotalRecipients)
	return s.summary(cp, exec, errs, msg, next), nil
}

// processBatch aggregates and delivers one batch, advancing cp past every
// recipient. It returns the per-recipient error lines.
func (s *Scheduler) processBatch(
	ctx context.Context,
	workday string,
	day time.Time,
	batch []recipients.Recipient,
	agg *aggregator.Aggregator,
	cp *checkpoint.Checkpoint,
	exec *Execution,
) []string {
	reqs := make([]aggregator.RecipientRequest, len(batch))
	for i, r := range batch {
		reqs[i] = s.cfg.Defaults.Request(r.Email, r.Offsets, r.Categories)
	}
	results, stats := agg.Aggregate(ctx, day, reqs)
	exec.DistinctKeys += stats.DistinctKeys
	exec.Lookups += stats.Upstream

	var errs []string
	for i, r := range batch {
		outcome := s.deliverOne(ctx, workday, r, results[i].Records)
		switch outcome.kind {
		case outcomeSent:
			cp.Sent++
			exec.Sent++
		case outcomeSkipped:
			cp.Skipped++
			exec.Skipped++
		case outcomeFailed:
			cp.Failed++
			exec.Failed++
			line := r.Email + ": " + outcome.err.Error()
			cp.LastError = line
			errs = append(errs, line)
		}
		deliveriesTotal.WithLabelValues(string(outcome.kind)).Inc()

		cp.Cursor = r.Email
		cp.Processed++
	}
	return errs
}

type outcomeKind string

const (
	outcomeSent    outcomeKind = "sent"
	outcomeSkipped outcomeKind = "skipped"
	outcomeFailed  outcomeKind = "failed"
)

type outcome struct {
	kind outcomeKind
	err  error
}

func (s *Scheduler) deliverOne(ctx context.Context, workday string, r recipients.Recipient, records []aggregator.Record) outcome {
	if len(records) == 0 {
		s.logger.Debug().Str("email", r.Email).Msg("No records found, skipping recipient")
		return outcome{kind: outcomeSkipped}
	}

	msg, err := s.deps.Composer.Compose(workday, r, records)
	if err != nil {
		return outcome{kind: outcomeFailed, err: fmt.Errorf("compose: %w", err)}
	}
	if err := s.deps.Deliverer.Send(ctx, r, msg); err != nil {
		s.logger.Warn().Err(err).Str("email", r.Email).Msg("Delivery failed")
		return outcome{kind: outcomeFailed, err: err}
	}
	return outcome{kind: outcomeSent}
}

func (s *Scheduler) loadOrCreate(ctx context.Context, workday string, now time.Time) (*checkpoint.Checkpoint, error) {
	store := s.deps.Checkpoints

	cp, err := store.Get(ctx, workday)
	if err == nil {
		return cp, nil
	}
	if !errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	total, err := s.deps.Recipients.CountActive(ctx)
	if err != nil {
		// No record exists yet, so a failed one can be stored safely.
		return checkpoint.New(workday, 0, now), fmt.Errorf("count recipients: %w", err)
	}
	cp = checkpoint.New(workday, total, now)
	if err := store.Put(ctx, cp); err != nil {
		return cp, fmt.Errorf("create checkpoint: %w", err)
	}
	s.logger.Info().Str("workday", workday).Int("total", total).Msg("Checkpoint created")
	return cp, nil
}

// fail marks the workday failed (best effort) and returns cause. A nil cp
// means the stored record could not be read; it is left alone rather than
// overwritten with guessed counters.
func (s *Scheduler) fail(ctx context.Context, workday string, cp *checkpoint.Checkpoint, cause error) (Summary, error) {
	runsTotal.WithLabelValues("failed").Inc()

	if cp != nil {
		cp.Status = checkpoint.StatusFailed
		cp.LastError = cause.Error()
		cp.UpdatedAt = s.now()
		if err := s.deps.Checkpoints.Put(context.WithoutCancel(ctx), cp); err != nil {
			s.logger.Error().Err(err).Str("workday", workday).Msg("Failed to persist failed status")
		}
	}

	s.logger.Error().Err(cause).Str("workday", workday).Msg("Dispatch run failed")
	return failureSummary(workday, cause), cause
}

// leaseLost ends a run whose lease was taken over while a batch ran. The
// batch is not persisted: the new holder owns the checkpoint and resumes from
// the last cursor it saw, so those recipients may be sent twice.
func (s *Scheduler) leaseLost(logger zerolog.Logger, cp *checkpoint.Checkpoint, exec Execution, start time.Time, errs []string) Summary {
	exec.Elapsed = s.now().Sub(start)
	runsTotal.WithLabelValues("lease_lost").Inc()
	logger.Warn().
		Int("batch", cp.BatchesCompleted).
		Str("cursor", cp.Cursor).
		Msg("Lease taken over by another invocation, stopping without persisting")

	sum := s.summary(cp, exec, errs, "lease lost to another invocation of "+cp.Workday, "")
	sum.Success = false
	return sum
}

func (s *Scheduler) remaining(start time.Time) time.Duration {
	return s.cfg.Budget - s.now().Sub(start)
}
