// Package broadcast sends a one-off announcement to every active subscriber.
//
// Unlike the daily dispatch there is no checkpoint: a broadcast walks the
// recipient list in email order from Request.After and reports the last
// address it processed, so an operator can resume a run that hit its budget
// by passing that cursor back. Test mode renders the message once and sends
// it to a single test address instead of the list.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/rewind-dispatch/pkg/compose"
	"github.com/Sternrassler/rewind-dispatch/pkg/logging"
	"github.com/Sternrassler/rewind-dispatch/pkg/recipients"
)

const (
	// DefaultBatchSize is the page size used when a request leaves it unset.
	DefaultBatchSize = 25

	// DefaultSubject and DefaultFromName apply when a request omits them.
	DefaultSubject  = "Message from Research Rewind"
	DefaultFromName = "Research Rewind"
)

var (
	// ErrEmptyMessage is returned when the subject or body is blank.
	ErrEmptyMessage = errors.New("subject and html body are required")

	// ErrNoTestAddress is returned for a test-mode request without an address.
	ErrNoTestAddress = errors.New("test mode needs a test address")
)

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatch_broadcast_deliveries_total",
	Help: "Total broadcast recipients processed by mode and outcome",
}, []string{"mode", "outcome"})

// RecipientSource lists active recipients in email order.
type RecipientSource interface {
	CountActive(ctx context.Context) (int, error)
	ListActiveAfter(ctx context.Context, cursor string, limit int) ([]recipients.Recipient, error)
}

// Composer renders the announcement for one recipient.
type Composer interface {
	Announcement(r recipients.Recipient, a compose.Announcement) (compose.Message, error)
}

// Deliverer sends one message.
type Deliverer interface {
	Send(ctx context.Context, r recipients.Recipient, msg compose.Message) error
}

// Request describes one broadcast.
type Request struct {
	Subject  string `json:"subject"`
	HTMLBody string `json:"htmlBody"`

	// Live sends to every active subscriber. Otherwise only TestEmail
	// receives a copy.
	Live      bool   `json:"live"`
	TestEmail string `json:"testEmail,omitempty"`

	IncludeUnsubscribe bool   `json:"includeUnsubscribe"`
	IncludeEditPrefs   bool   `json:"includeEditPrefs"`
	FromName           string `json:"fromName,omitempty"`
	BatchSize          int    `json:"batchSize,omitempty"`

	// After resumes a live broadcast past this email.
	After string `json:"after,omitempty"`
}

// Validate checks the request after defaults are applied.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Subject) == "" || strings.TrimSpace(r.HTMLBody) == "" {
		return ErrEmptyMessage
	}
	if !r.Live && strings.TrimSpace(r.TestEmail) == "" {
		return ErrNoTestAddress
	}
	if r.BatchSize < 0 {
		return fmt.Errorf("batch size must not be negative (got %d)", r.BatchSize)
	}
	return nil
}

func (r Request) withDefaults() Request {
	if r.Subject == "" {
		r.Subject = DefaultSubject
	}
	if r.FromName == "" {
		r.FromName = DefaultFromName
	}
	if r.BatchSize == 0 {
		r.BatchSize = DefaultBatchSize
	}
	return r
}

func (r Request) announcement() compose.Announcement {
	return compose.Announcement{
		Subject:            r.Subject,
		HTMLBody:           r.HTMLBody,
		IncludeEditPrefs:   r.IncludeEditPrefs,
		IncludeUnsubscribe: r.IncludeUnsubscribe,
		FromName:           r.FromName,
	}
}

// Result reports one broadcast.
type Result struct {
	Success         bool          `json:"success"`
	Subject         string        `json:"subject"`
	Live            bool          `json:"live"`
	TotalRecipients int           `json:"totalRecipients"`
	Sent            int           `json:"sent"`
	Failed          int           `json:"failed"`
	Errors          []string      `json:"errors"`
	Batches         int           `json:"batches"`
	Complete        bool          `json:"complete"`
	Cursor          string        `json:"cursor,omitempty"`
	Elapsed         time.Duration `json:"-"`
	Warning         string        `json:"warning,omitempty"`
}

// MarshalJSON renders Elapsed as a duration string.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		Elapsed string `json:"elapsed"`
	}{plain(r), r.Elapsed.Round(time.Millisecond).String()})
}

// Config holds the broadcaster tunables.
type Config struct {
	// Budget stops a live broadcast between batches. Zero means no limit.
	Budget time.Duration
	// BatchPause is slept between batches.
	BatchPause time.Duration
}

// DefaultConfig returns the settings used by the HTTP endpoint.
func DefaultConfig() Config {
	return Config{
		Budget:     8 * time.Second,
		BatchPause: 200 * time.Millisecond,
	}
}

// Broadcaster sends announcements.
type Broadcaster struct {
	cfg        Config
	recipients RecipientSource
	composer   Composer
	deliverer  Deliverer
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a broadcaster.
func New(cfg Config, src RecipientSource, composer Composer, deliverer Deliverer) *Broadcaster {
	return &Broadcaster{
		cfg:        cfg,
		recipients: src,
		composer:   composer,
		deliverer:  deliverer,
		logger:     logging.NewLogger("broadcast"),
		now:        time.Now,
	}
}

// SetLogger replaces the component logger.
func (b *Broadcaster) SetLogger(logger zerolog.Logger) {
	b.logger = logger
}

// SetClock replaces the time source (for testing).
func (b *Broadcaster) SetClock(now func() time.Time) {
	b.now = now
}

// Send runs req. Invalid requests and recipient store failures are returned
// as errors; per-recipient failures are counted in the result.
func (b *Broadcaster) Send(ctx context.Context, req Request) (Result, error) {
	start := b.now()
	req = req.withDefaults()
	if err := req.Validate(); err != nil {
		return Result{Subject: req.Subject, Live: req.Live}, err
	}

	total, err := b.recipients.CountActive(ctx)
	if err != nil {
		return Result{Subject: req.Subject, Live: req.Live}, fmt.Errorf("count recipients: %w", err)
	}
	res := Result{Subject: req.Subject, Live: req.Live, TotalRecipients: total, Errors: []string{}}

	b.logger.Info().
		Str("subject", req.Subject).
		Bool("live", req.Live).
		Int("recipients", total).
		Msg("Starting broadcast")

	if req.Live {
		err = b.sendLive(ctx, req, start, &res)
	} else {
		b.sendTest(ctx, req, &res)
	}

	res.Elapsed = b.now().Sub(start)
	res.Success = err == nil && res.Failed == 0
	b.logger.Info().
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Bool("complete", res.Complete).
		Dur("elapsed", res.Elapsed).
		Msg("Broadcast finished")
	return res, err
}

func (b *Broadcaster) sendTest(ctx context.Context, req Request, res *Result) {
	target := recipients.Recipient{Email: strings.TrimSpace(req.TestEmail)}
	b.deliver(ctx, "test", target, req.announcement(), res)
	res.Batches = 1
	res.Complete = true
}

func (b *Broadcaster) sendLive(ctx context.Context, req Request, start time.Time, res *Result) error {
	ann := req.announcement()
	cursor := req.After
	// Batches run to completion so the reported cursor never skips anyone.
	work := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			res.Warning = "stopped: " + ctx.Err().Error()
			break
		}
		if b.cfg.Budget > 0 && b.now().Sub(start) >= b.cfg.Budget {
			res.Warning = "stopped at the time budget, resume after " + cursor
			break
		}

		batch, err := b.recipients.ListActiveAfter(work, cursor, req.BatchSize)
		if err != nil {
			return fmt.Errorf("list recipients: %w", err)
		}
		if len(batch) == 0 {
			res.Complete = true
			break
		}

		for _, r := range batch {
			b.deliver(work, "live", r, ann, res)
			cursor = r.Email
		}
		res.Batches++
		res.Cursor = cursor
		b.logger.Debug().Int("batch", res.Batches).Int("size", len(batch)).Str("cursor", cursor).Msg("Broadcast batch sent")

		if len(batch) < req.BatchSize {
			res.Complete = true
			break
		}
		if b.cfg.BatchPause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(b.cfg.BatchPause):
			}
		}
	}
	return nil
}

func (b *Broadcaster) deliver(ctx context.Context, mode string, r recipients.Recipient, ann compose.Announcement, res *Result) {
	msg, err := b.composer.Announcement(r, ann)
	if err == nil {
		err = b.deliverer.Send(ctx, r, msg)
	}
	if err != nil {
		res.Failed++
		res.Errors = append(res.Errors, r.Email+": "+err.Error())
		deliveriesTotal.WithLabelValues(mode, "failed").Inc()
		b.logger.Warn().Err(err).Str("email", r.Email).Msg("Broadcast delivery failed")
		return
	}
	res.Sent++
	deliveriesTotal.WithLabelValues(mode, "sent").Inc()
}
