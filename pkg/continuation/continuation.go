// Package continuation implements the ways a budget-limited run gets picked
// up again: a delayed HTTP call to the trigger endpoint, a delayed Kafka
// message, an in-process cron schedule, or nothing at all when an external
// scheduler already fires often enough.
//
// The scheduler only decides that a follow-up is needed and how long to
// wait; every type here decides how that wait is carried out.
package continuation

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultDelay is the pause before a follow-up invocation.
const DefaultDelay = 2 * time.Minute

// RunFunc performs one scheduler invocation.
type RunFunc func(ctx context.Context) error

var scheduledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatch_continuations_total",
	Help: "Total continuation requests by mechanism and result",
}, []string{"mechanism", "result"})

// Noop relies on an external recurring trigger.
type Noop struct{}

// ScheduleContinuation does nothing.
func (Noop) ScheduleContinuation(context.Context, time.Duration) error {
	scheduledTotal.WithLabelValues("noop", "ok").Inc()
	return nil
}
