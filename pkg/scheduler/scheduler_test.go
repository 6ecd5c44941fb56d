package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/rewind-dispatch/pkg/aggregator"
	"github.com/Sternrassler/rewind-dispatch/pkg/cache"
	"github.com/Sternrassler/rewind-dispatch/pkg/checkpoint"
	"github.com/Sternrassler/rewind-dispatch/pkg/compose"
	"github.com/Sternrassler/rewind-dispatch/pkg/openalex"
	"github.com/Sternrassler/rewind-dispatch/pkg/recipients"
	"github.com/rs/zerolog"
)

// fakeClock only moves when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingResolver answers every key with a paper except dates in none.
type countingResolver struct {
	cache *cache.Cache
	calls *int
	none  map[string]bool
}

func (r countingResolver) Resolve(_ context.Context, key cache.FetchKey) cache.FetchResult {
	if res, ok := r.cache.Get(key); ok {
		return res
	}
	*r.calls++
	res := cache.Found(openalex.Paper{Title: "Paper " + key.Date, PublicationDate: key.Date, URL: "https://example.org/" + key.Date})
	if r.none[key.Date] {
		res = cache.None()
	}
	r.cache.Put(key, res)
	return res
}

// recordingDeliverer advances the clock per send and fails for listed emails.
// Like the paced Deliverer it refuses to send on a cancelled context.
type recordingDeliverer struct {
	clock   *fakeClock
	cost    time.Duration
	failFor map[string]bool
	sent    []string
	onSend  func(email string)
}

func (d *recordingDeliverer) Send(ctx context.Context, r recipients.Recipient, _ compose.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.clock.Advance(d.cost)
	if d.failFor[r.Email] {
		return errors.New("mailbox unavailable")
	}
	d.sent = append(d.sent, r.Email)
	if d.onSend != nil {
		d.onSend(r.Email)
	}
	return nil
}

type recordingContinuation struct {
	delays []time.Duration
	err    error
}

func (c *recordingContinuation) ScheduleContinuation(_ context.Context, delay time.Duration) error {
	c.delays = append(c.delays, delay)
	return c.err
}

type harness struct {
	sched      *Scheduler
	clock      *fakeClock
	store      checkpoint.Store
	recipients *recipients.MemoryStore
	deliverer  *recordingDeliverer
	cont       *recordingContinuation
	upstream   int
	noneDates  map[string]bool
	workday    string
}

func newHarness(t *testing.T, n int, cfg Config) *harness {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 10, 18, 14, 0, 0, 0, time.UTC)}
	store := checkpoint.NewMemoryStore()
	store.SetClock(clock.Now)

	h := &harness{
		clock:      clock,
		store:      store,
		recipients: recipients.NewMemoryStore(),
		cont:       &recordingContinuation{},
		noneDates:  map[string]bool{},
		workday:    "2025-10-18",
	}
	h.deliverer = &recordingDeliverer{clock: h.clock, cost: 250 * time.Millisecond, failFor: map[string]bool{}}

	for i := 1; i <= n; i++ {
		h.recipients.Upsert(context.Background(), recipients.Recipient{
			Email: fmt.Sprintf("user%03d@example.com", i),
			Name:  fmt.Sprintf("User %d", i),
		})
	}

	sched, err := New(cfg, Deps{
		Checkpoints: h.store,
		Recipients:  h.recipients,
		NewResolver: func(c *cache.Cache) aggregator.Resolver {
			return countingResolver{cache: c, calls: &h.upstream, none: h.noneDates}
		},
		Composer:     compose.Composer{BaseURL: "https://rewind.example", UnsubscribeSecret: "s"},
		Deliverer:    h.deliverer,
		Continuation: h.cont,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sched.SetClock(h.clock.Now)
	sched.SetLogger(zerolog.Nop())
	h.sched = sched
	return h
}

func (h *harness) checkpoint(t *testing.T) *checkpoint.Checkpoint {
	t.Helper()
	cp, err := h.store.Get(context.Background(), h.workday)
	if err != nil {
		t.Fatalf("Get checkpoint: %v", err)
	}
	return cp
}

func TestRun_ResumesAcrossInvocations(t *testing.T) {
	h := newHarness(t, 37, DefaultConfig())
	ctx := context.Background()

	sum, err := h.sched.Run(ctx)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	cp := h.checkpoint(t)
	if cp.Processed != 30 || cp.Status != checkpoint.StatusInProgress || cp.BatchesCompleted != 2 {
		t.Fatalf("after first run: %+v", cp)
	}
	if cp.Cursor != "user030@example.com" {
		t.Errorf("cursor = %q, want user030@example.com", cp.Cursor)
	}
	if sum.Progress.IsComplete || sum.ThisExecution.Batches != 2 || sum.ThisExecution.Sent != 30 {
		t.Errorf("first summary = %+v", sum)
	}
	if len(h.cont.delays) != 1 || h.cont.delays[0] != 2*time.Minute {
		t.Errorf("continuations = %v, want one of 2m", h.cont.delays)
	}
	if sum.NextExecution == "" {
		t.Error("NextExecution hint missing")
	}

	h.clock.Advance(2 * time.Minute)
	sum, err = h.sched.Run(ctx)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	cp = h.checkpoint(t)
	if cp.Processed != 37 || cp.Status != checkpoint.StatusCompleted {
		t.Fatalf("after second run: %+v", cp)
	}
	if !sum.Progress.IsComplete || sum.Progress.Percent != 100 || sum.ThisExecution.Sent != 7 {
		t.Errorf("second summary = %+v", sum)
	}
	if h.deliverer.sent[30] != "user031@example.com" {
		t.Errorf("second run started at %q, want user031", h.deliverer.sent[30])
	}
	if len(h.cont.delays) != 1 {
		t.Error("completed run must not schedule a continuation")
	}
	assertEachOnce(t, h.deliverer.sent, 37)
}

func TestRun_AnyPartitionReachesSameOutcome(t *testing.T) {
	tests := []struct {
		name      string
		batchSize int
		cost      time.Duration
	}{
		{"single pass", 15, time.Millisecond},
		{"one per batch", 1, 900 * time.Millisecond},
		{"uneven slices", 4, 600 * time.Millisecond},
		{"batch larger than list", 50, 10 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.BatchSize = tt.batchSize
			h := newHarness(t, 23, cfg)
			h.deliverer.cost = tt.cost

			for i := 0; i < 100; i++ {
				sum, err := h.sched.Run(context.Background())
				if err != nil {
					t.Fatalf("Run() error = %v", err)
				}
				if sum.Progress.IsComplete {
					break
				}
				h.clock.Advance(2 * time.Minute)
			}

			cp := h.checkpoint(t)
			if cp.Processed != 23 || cp.Status != checkpoint.StatusCompleted {
				t.Errorf("final checkpoint = %+v", cp)
			}
			assertEachOnce(t, h.deliverer.sent, 23)
		})
	}
}

func TestRun_IdempotentAfterCompletion(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	if _, err := h.sched.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	calls, sent := h.upstream, len(h.deliverer.sent)

	sum, err := h.sched.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.upstream != calls || len(h.deliverer.sent) != sent {
		t.Error("completed workday must not be reprocessed")
	}
	if !sum.Success || !sum.Progress.IsComplete || sum.ThisExecution.Batches != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if !strings.Contains(sum.Message, "already completed") {
		t.Errorf("Message = %q", sum.Message)
	}
}

func TestRun_DeliveryFailureIsIsolated(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	h.deliverer.failFor["user003@example.com"] = true

	sum, err := h.sched.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.ThisExecution.Sent != 4 || sum.ThisExecution.Failed != 1 {
		t.Errorf("execution = %+v", sum.ThisExecution)
	}
	if len(sum.Errors) != 1 || !strings.HasPrefix(sum.Errors[0], "user003@example.com: ") {
		t.Errorf("Errors = %v", sum.Errors)
	}

	cp := h.checkpoint(t)
	if cp.Processed != 5 || cp.Cursor != "user005@example.com" || cp.Status != checkpoint.StatusCompleted {
		t.Errorf("checkpoint = %+v", cp)
	}
	if cp.Failed != 1 || !strings.Contains(cp.LastError, "mailbox unavailable") {
		t.Errorf("failure not recorded: %+v", cp)
	}
}

func TestRun_RecipientsWithoutRecordsAreSkipped(t *testing.T) {
	h := newHarness(t, 3, DefaultConfig())
	// default offset 1 → the workday one year back
	h.noneDates["2024-10-18"] = true

	sum, err := h.sched.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.ThisExecution.Skipped != 3 || sum.ThisExecution.Sent != 0 {
		t.Errorf("execution = %+v", sum.ThisExecution)
	}
	if h.upstream != 1 {
		t.Errorf("upstream calls = %d, want 1 (shared key)", h.upstream)
	}
	if cp := h.checkpoint(t); cp.Processed != 3 || cp.Status != checkpoint.StatusCompleted {
		t.Errorf("checkpoint = %+v", cp)
	}
}

func TestRun_DedupAcrossBatch(t *testing.T) {
	h := newHarness(t, 0, DefaultConfig())
	ctx := context.Background()
	for i, offs := range [][]int{{1, 5}, {1, 5}, {1, 5}, {1, 10}, {1, 10}} {
		h.recipients.Upsert(ctx, recipients.Recipient{
			Email: fmt.Sprintf("r%d@example.com", i), Offsets: offs, Categories: []string{"17"},
		})
	}

	sum, err := h.sched.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if h.upstream != 3 {
		t.Errorf("upstream calls = %d, want 3", h.upstream)
	}
	if sum.ThisExecution.DistinctKeys != 3 || sum.ThisExecution.Sent != 5 {
		t.Errorf("execution = %+v", sum.ThisExecution)
	}
}

func TestRun_EmptyRecipientList(t *testing.T) {
	h := newHarness(t, 0, DefaultConfig())

	sum, err := h.sched.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Progress.IsComplete || sum.Progress.Percent != 100 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRun_ContinuationFailureIsReported(t *testing.T) {
	h := newHarness(t, 40, DefaultConfig())
	h.cont.err = errors.New("queue down")

	sum, err := h.sched.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !sum.Success {
		t.Error("continuation failure should not fail the run")
	}
	found := false
	for _, e := range sum.Errors {
		if strings.Contains(e, "queue down") {
			found = true
		}
	}
	if !found {
		t.Errorf("Errors = %v, want continuation error", sum.Errors)
	}
	if sum.NextExecution != "" {
		t.Errorf("NextExecution = %q, want empty when scheduling failed", sum.NextExecution)
	}
}

func TestRun_LeaseHeldElsewhere(t *testing.T) {
	h := newHarness(t, 5, DefaultConfig())
	ok, _ := h.store.AcquireLease(context.Background(), h.workday, "other-invocation", time.Hour)
	if !ok {
		t.Fatal("setup lease failed")
	}

	sum, err := h.sched.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !sum.Skipped {
		t.Errorf("summary = %+v, want Skipped", sum)
	}
	if _, err := h.store.Get(context.Background(), h.workday); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Error("skipped run must not create a checkpoint")
	}
	if len(h.deliverer.sent) != 0 {
		t.Error("skipped run must not deliver")
	}
}

func TestRun_CancellationFinishesStartedBatch(t *testing.T) {
	h := newHarness(t, 20, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.deliverer.onSend = func(string) { cancel() }

	sum, err := h.sched.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.ThisExecution.Sent != 15 || sum.ThisExecution.Failed != 0 || sum.ThisExecution.Skipped != 0 {
		t.Errorf("execution = %+v, want the whole first batch sent", sum.ThisExecution)
	}
	cp := h.checkpoint(t)
	if cp.Processed != 15 || cp.Cursor != "user015@example.com" || cp.Status != checkpoint.StatusInProgress {
		t.Errorf("checkpoint = %+v", cp)
	}
	if len(h.cont.delays) != 1 {
		t.Errorf("continuations = %v, want one", h.cont.delays)
	}

	h.deliverer.onSend = nil
	h.clock.Advance(2 * time.Minute)
	if _, err := h.sched.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cp := h.checkpoint(t); cp.Status != checkpoint.StatusCompleted || cp.Sent != 20 {
		t.Errorf("after resume: %+v", cp)
	}
	assertEachOnce(t, h.deliverer.sent, 20)
}

func TestRun_StopsWhenLeaseTakenOver(t *testing.T) {
	h := newHarness(t, 40, DefaultConfig())
	ctx := context.Background()
	h.deliverer.onSend = func(email string) {
		if email != "user010@example.com" {
			return
		}
		// the batch outlives the lease and another invocation claims the workday
		h.clock.Advance(31 * time.Second)
		if ok, _ := h.store.AcquireLease(ctx, h.workday, "rival", time.Minute); !ok {
			t.Error("rival should take over the expired lease")
		}
	}

	sum, err := h.sched.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Success {
		t.Error("summary should report the lost lease")
	}
	if len(sum.Errors) == 0 || sum.Errors[len(sum.Errors)-1] != ErrLeaseLost.Error() {
		t.Errorf("Errors = %v", sum.Errors)
	}
	if len(h.deliverer.sent) != 15 {
		t.Errorf("sent = %d, want only the batch in flight", len(h.deliverer.sent))
	}
	if len(h.cont.delays) != 0 {
		t.Error("a run that lost its lease must not schedule a continuation")
	}
	if cp := h.checkpoint(t); cp.Processed != 0 || cp.Cursor != "" {
		t.Errorf("checkpoint = %+v, want the rival's starting point untouched", cp)
	}
	if ok, _ := h.store.AcquireLease(ctx, h.workday, "third", time.Minute); ok {
		t.Error("lease should still belong to the rival")
	}
}

func TestRun_ConfiguredDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Defaults = aggregator.Defaults{Offsets: []int{1, 5}, Categories: []string{"11"}}
	h := newHarness(t, 3, cfg)

	sum, err := h.sched.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.upstream != 2 {
		t.Errorf("upstream calls = %d, want one per configured default offset", h.upstream)
	}
	if sum.ThisExecution.Sent != 3 {
		t.Errorf("sent = %d, want 3", sum.ThisExecution.Sent)
	}
}

// flakyStore fails Put for in-progress checkpoints after the first batch.
type flakyStore struct {
	*checkpoint.MemoryStore
	failGet bool
}

func (s *flakyStore) Get(ctx context.Context, workday string) (*checkpoint.Checkpoint, error) {
	if s.failGet {
		return nil, errors.New("connection reset")
	}
	return s.MemoryStore.Get(ctx, workday)
}

func (s *flakyStore) Put(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if cp.Status == checkpoint.StatusInProgress && cp.BatchesCompleted >= 1 {
		return errors.New("disk full")
	}
	return s.MemoryStore.Put(ctx, cp)
}

func TestRun_CheckpointWriteFailureMarksFailed(t *testing.T) {
	h := newHarness(t, 20, DefaultConfig())
	store := &flakyStore{MemoryStore: checkpoint.NewMemoryStore()}
	h.sched.deps.Checkpoints = store
	h.store = store

	sum, err := h.sched.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Run() error = %v, want disk full", err)
	}
	if sum.Success {
		t.Error("summary should report failure")
	}

	cp := h.checkpoint(t)
	if cp.Status != checkpoint.StatusFailed || !strings.Contains(cp.LastError, "disk full") {
		t.Errorf("checkpoint = %+v", cp)
	}

	// failed is terminal
	sent := len(h.deliverer.sent)
	sum, err = h.sched.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() on failed workday error = %v", err)
	}
	if sum.Success || len(sum.Errors) != 1 || len(h.deliverer.sent) != sent {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRun_CheckpointReadFailure(t *testing.T) {
	h := newHarness(t, 3, DefaultConfig())
	store := &flakyStore{MemoryStore: checkpoint.NewMemoryStore(), failGet: true}
	h.sched.deps.Checkpoints = store

	_, err := h.sched.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(h.deliverer.sent) != 0 {
		t.Error("no delivery without a checkpoint")
	}
}

type failingSource struct {
	*recipients.MemoryStore
}

func (failingSource) CountActive(context.Context) (int, error) {
	return 0, errors.New("db locked")
}

func TestRun_CountFailureMarksFailed(t *testing.T) {
	h := newHarness(t, 3, DefaultConfig())
	h.sched.deps.Recipients = failingSource{h.recipients}

	if _, err := h.sched.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if cp := h.checkpoint(t); cp.Status != checkpoint.StatusFailed {
		t.Errorf("status = %q, want failed", cp.Status)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, false},
		{"margin eats budget", func(c *Config) { c.SafetyMargin = c.Budget }, false},
		{"short lease", func(c *Config) { c.LeaseTTL = time.Second }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, ok want %v", err, tt.ok)
			}
		})
	}
}

func assertEachOnce(t *testing.T, sent []string, n int) {
	t.Helper()
	seen := make(map[string]int)
	for _, e := range sent {
		seen[e]++
	}
	if len(seen) != n {
		t.Errorf("distinct recipients delivered = %d, want %d", len(seen), n)
	}
	for e, c := range seen {
		if c != 1 {
			t.Errorf("%s delivered %d times", e, c)
		}
	}
}
