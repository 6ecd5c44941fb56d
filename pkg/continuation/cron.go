package continuation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultCronSpec fires every two minutes.
const DefaultCronSpec = "*/2 * * * *"

// CronTrigger runs the scheduler on a recurring schedule. Since it fires on
// its own, ScheduleContinuation has nothing to do.
type CronTrigger struct {
	c       *cron.Cron
	run     RunFunc
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewCronTrigger parses spec and prepares the schedule in loc.
func NewCronTrigger(spec string, loc *time.Location, run RunFunc, timeout time.Duration, logger zerolog.Logger) (*CronTrigger, error) {
	if spec == "" {
		spec = DefaultCronSpec
	}
	if loc == nil {
		loc = time.UTC
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}

	t := &CronTrigger{
		c:       cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		run:     run,
		timeout: timeout,
		logger:  logger,
	}
	if _, err := t.c.AddFunc(spec, t.tick); err != nil {
		return nil, fmt.Errorf("add cron job: %w", err)
	}
	return t, nil
}

// Start begins firing.
func (t *CronTrigger) Start() { t.c.Start() }

// Stop halts the schedule and waits for a running invocation.
func (t *CronTrigger) Stop() {
	<-t.c.Stop().Done()
}

// ScheduleContinuation is a no-op: the next tick picks the run up.
func (t *CronTrigger) ScheduleContinuation(context.Context, time.Duration) error {
	scheduledTotal.WithLabelValues("cron", "ok").Inc()
	return nil
}

// tick runs one invocation, skipping if the previous one is still going.
func (t *CronTrigger) tick() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		t.logger.Debug().Msg("Previous invocation still running, skipping tick")
		return
	}
	t.running = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()

	ctx := context.Background()
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	if err := t.run(ctx); err != nil {
		t.logger.Error().Err(err).Msg("Scheduled invocation failed")
	}
}
