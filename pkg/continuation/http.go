package continuation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HTTPTrigger calls the dispatch endpoint again after the delay. It only
// works on hosts that outlive the current invocation.
type HTTPTrigger struct {
	url    string
	secret string
	client *http.Client
	logger zerolog.Logger

	mu      sync.Mutex
	pending []*time.Timer
}

// NewHTTPTrigger creates a trigger for url, authenticated with secret.
func NewHTTPTrigger(url, secret string, logger zerolog.Logger) (*HTTPTrigger, error) {
	if url == "" {
		return nil, errors.New("continuation url is required")
	}
	return &HTTPTrigger{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}, nil
}

// ScheduleContinuation arms a timer that performs the call.
func (t *HTTPTrigger) ScheduleContinuation(_ context.Context, delay time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	timer := time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.client.Timeout)
		defer cancel()
		if err := t.Fire(ctx); err != nil {
			scheduledTotal.WithLabelValues("http", "error").Inc()
			t.logger.Error().Err(err).Str("url", t.url).Msg("Continuation call failed")
			return
		}
		scheduledTotal.WithLabelValues("http", "ok").Inc()
	})
	t.pending = append(t.pending, timer)

	t.logger.Info().Dur("delay", delay).Str("url", t.url).Msg("Continuation scheduled")
	return nil
}

// Fire performs the call immediately.
func (t *HTTPTrigger) Fire(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if t.secret != "" {
		req.Header.Set("Authorization", "Bearer "+t.secret)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("call trigger: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("trigger returned %s", resp.Status)
	}
	return nil
}

// Stop cancels timers that have not fired yet.
func (t *HTTPTrigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, timer := range t.pending {
		timer.Stop()
	}
	t.pending = nil
}
