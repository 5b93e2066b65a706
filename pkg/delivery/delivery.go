// Package delivery hands finished export artifacts to the downstream
// providers. Each provider is a named channel; the dispatcher resolves the
// channel for a query type and stores the file at its remote path.
//
// Delivery is a single attempt: there is no retry and no verification of
// the remote copy.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for deliveries.
var (
	sierraDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sierra_deliveries_total",
		Help: "Total artifact deliveries by channel and status",
	}, []string{"channel", "status"})

	sierraDeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sierra_delivery_duration_seconds",
		Help:    "Artifact delivery duration in seconds by channel",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300},
	}, []string{"channel"})
)

// ErrUnknownChannel is returned when no channel is registered under an id.
var ErrUnknownChannel = errors.New("unknown delivery channel")

// Channel stores a local file at a path on a remote destination.
type Channel interface {
	Deliver(ctx context.Context, localPath, remotePath string) error
}

// Dispatcher routes artifacts to registered channels.
type Dispatcher struct {
	channels map[string]Channel
	logger   zerolog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		channels: make(map[string]Channel),
		logger:   logger.With().Str("component", "delivery").Logger(),
	}
}

// Register adds or replaces the channel for id.
func (d *Dispatcher) Register(id string, ch Channel) {
	d.channels[id] = ch
}

// Channels returns the registered channel ids in sorted order.
func (d *Dispatcher) Channels() []string {
	ids := make([]string, 0, len(d.channels))
	for id := range d.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Deliver stores localPath at remotePath on the channel registered as channelID.
func (d *Dispatcher) Deliver(ctx context.Context, channelID, localPath, remotePath string) error {
	ch, ok := d.channels[channelID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channelID)
	}

	start := time.Now()
	err := ch.Deliver(ctx, localPath, remotePath)
	sierraDeliveryDuration.WithLabelValues(channelID).Observe(time.Since(start).Seconds())

	if err != nil {
		sierraDeliveriesTotal.WithLabelValues(channelID, "error").Inc()
		d.logger.Error().
			Err(err).
			Str("channel", channelID).
			Str("remote_path", remotePath).
			Msg("Delivery failed")
		return fmt.Errorf("deliver to %s: %w", channelID, err)
	}

	sierraDeliveriesTotal.WithLabelValues(channelID, "success").Inc()
	d.logger.Info().
		Str("channel", channelID).
		Str("local_path", localPath).
		Str("remote_path", remotePath).
		Dur("duration", time.Since(start)).
		Msg("Delivery complete")
	return nil
}
