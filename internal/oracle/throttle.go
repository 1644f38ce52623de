package oracle

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	appLog "eventletter/internal/log"
	"eventletter/internal/metrics"
)

// Throttled spaces calls at least delay apart and bounds each call by timeout.
// A timed out call is reported as an error like any other failed call.
type Throttled struct {
	next    Oracle
	name    string
	limiter *rate.Limiter
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewThrottled(next Oracle, name string, delay, timeout time.Duration) *Throttled {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Throttled{
		next:    next,
		name:    name,
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
		metrics: metrics.Default(),
	}
}

func (t *Throttled) Complete(ctx context.Context, req Request) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	callCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := t.next.Complete(callCtx, req)
	elapsed := time.Since(start)
	t.metrics.OracleDuration.WithLabelValues(t.name).Observe(elapsed.Seconds())

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.metrics.OracleCalls.WithLabelValues(t.name, string(req.Purpose), outcome).Inc()
	appLog.Debug("oracle call", "provider", t.name, "purpose", req.Purpose,
		"temperature", req.Temperature, "prompt_chars", len(req.Prompt),
		"duration", elapsed, "outcome", outcome)

	if err != nil {
		return "", err
	}
	return out, nil
}
