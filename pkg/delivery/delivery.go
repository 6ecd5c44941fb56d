// Package delivery sends composed messages through a transport.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/rewind-dispatch/pkg/compose"
	"github.com/Sternrassler/rewind-dispatch/pkg/recipients"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// DefaultPacing is the gap between two sends of one Deliverer.
const DefaultPacing = 50 * time.Millisecond

// ErrNoRecipient is returned for a message without an address.
var ErrNoRecipient = errors.New("message has no recipient")

var sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatch_transport_sends_total",
	Help: "Total transport send attempts by transport and result",
}, []string{"transport", "result"})

// Sender is a mail transport.
type Sender interface {
	Send(ctx context.Context, msg compose.Message) error
	Name() string
}

// Deliverer adapts a Sender to the scheduler: it addresses the message to
// the recipient and paces consecutive sends.
type Deliverer struct {
	sender  Sender
	limiter *rate.Limiter
}

// NewDeliverer wraps sender. A pacing <= 0 disables pacing.
func NewDeliverer(sender Sender, pacing time.Duration) *Deliverer {
	limit := rate.Inf
	if pacing > 0 {
		limit = rate.Every(pacing)
	}
	return &Deliverer{
		sender:  sender,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Send delivers msg to r.
func (d *Deliverer) Send(ctx context.Context, r recipients.Recipient, msg compose.Message) error {
	msg.To = r.Email
	if msg.To == "" {
		return ErrNoRecipient
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing: %w", err)
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		sendsTotal.WithLabelValues(d.sender.Name(), "error").Inc()
		return fmt.Errorf("%s send: %w", d.sender.Name(), err)
	}
	sendsTotal.WithLabelValues(d.sender.Name(), "ok").Inc()
	return nil
}
