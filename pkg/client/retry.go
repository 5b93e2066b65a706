package client

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	sierraRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sierra_retries_total",
		Help: "Total number of transport retry attempts by endpoint",
	}, []string{"endpoint"})

	sierraRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sierra_retry_backoff_seconds",
		Help:    "Backoff duration for transport retries by endpoint",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"endpoint"})
)

// newBackOff returns the exponential policy used for token and query calls.
func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.InitialBackoff
	b.MaxInterval = c.config.MaxBackoff
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	return b
}

// retryTransient runs op, retrying network and 5xx failures with exponential
// backoff. Every other failure is returned after the first attempt.
func retryTransient[T any](ctx context.Context, c *Client, endpoint string, op func() (T, error)) (T, error) {
	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		res, err := op()
		if err == nil {
			if attempt > 1 {
				c.logger.Info().
					Str("endpoint", endpoint).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return res, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && shouldRetry(apiErr.ErrorClass) {
			return res, err
		}
		return res, backoff.Permanent(err)
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.config.MaxRetries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			sierraRetriesTotal.WithLabelValues(endpoint).Inc()
			sierraRetryBackoffSeconds.WithLabelValues(endpoint).Observe(wait.Seconds())
			c.logger.Warn().
				Err(err).
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Dur("backoff", wait).
				Msg("Retrying request after backoff")
		}),
	)
}
