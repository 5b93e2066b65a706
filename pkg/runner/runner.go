// Package runner sequences a run: for each selected query type it reads the
// watermark, queries changed ids, exports and delivers them, then advances
// the watermark and sends the aggregated report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/sierra-export/pkg/client"
	"github.com/Sternrassler/sierra-export/pkg/pagination"
	"github.com/Sternrassler/sierra-export/pkg/querytype"
	"github.com/Sternrassler/sierra-export/pkg/watermark"
)

// Prometheus metrics for runs.
var (
	sierraRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sierra_runs_total",
		Help: "Total export runs by status",
	}, []string{"status"})

	sierraRunRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sierra_run_records",
		Help: "Records exported in the last run by query type",
	}, []string{"query_type"})

	sierraLastSuccessTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sierra_last_success_timestamp_seconds",
		Help: "Unix time of the last successful export by query type",
	}, []string{"query_type"})
)

// Authenticator issues bearer credentials.
type Authenticator interface {
	Authenticate(ctx context.Context) (client.Credential, error)
}

// Querier returns the ids of records a query type selects.
type Querier interface {
	QueryIDs(ctx context.Context, qt querytype.QueryType, since string, cred client.Credential) ([]string, error)
}

// Fetcher exports ids into a single artifact.
type Fetcher interface {
	Fetch(ctx context.Context, ids []string, filename, since string, cred client.Credential) (pagination.Artifact, client.Credential, error)
}

// Deliverer hands an artifact to a delivery channel.
type Deliverer interface {
	Deliver(ctx context.Context, channelID, localPath, remotePath string) error
}

// Notifier sends the run report.
type Notifier interface {
	Notify(ctx context.Context, report string) error
}

// Components are the collaborators a Runner sequences.
type Components struct {
	Store     watermark.Store
	Auth      Authenticator
	Querier   Querier
	Fetcher   Fetcher
	Deliverer Deliverer
	Notifier  Notifier
}

// Config holds runner configuration.
type Config struct {
	// Extension of the artifact file names.
	Extension string
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{Extension: "mrc"}
}

// Runner executes export runs.
type Runner struct {
	components Components
	config     Config
	now        func() time.Time
	logger     zerolog.Logger
}

// New creates a Runner. Every component is required.
func New(c Components, cfg Config, logger zerolog.Logger) (*Runner, error) {
	switch {
	case c.Store == nil:
		return nil, errors.New("watermark store is required")
	case c.Auth == nil:
		return nil, errors.New("authenticator is required")
	case c.Querier == nil:
		return nil, errors.New("querier is required")
	case c.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case c.Deliverer == nil:
		return nil, errors.New("deliverer is required")
	case c.Notifier == nil:
		return nil, errors.New("notifier is required")
	}
	if cfg.Extension == "" {
		cfg.Extension = DefaultConfig().Extension
	}

	return &Runner{
		components: c,
		config:     cfg,
		now:        time.Now,
		logger:     logger.With().Str("component", "runner").Logger(),
	}, nil
}

// SetClock replaces the clock that determines "today" (for testing).
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Run processes types in order. Any error is fatal: remaining types are not
// attempted and the watermark store is left untouched. The returned report
// holds the results completed so far. A notification failure is returned
// after the watermark has been saved.
func (r *Runner) Run(ctx context.Context, types []querytype.QueryType) (Report, error) {
	report := Report{
		RunID:   uuid.NewString(),
		Started: r.now(),
	}
	logger := r.logger.With().Str("run_id", report.RunID).Logger()
	today := report.Started.Format(watermark.DateLayout)

	logger.Info().Int("query_types", len(types)).Str("today", today).Msg("Starting run")

	state, err := r.components.Store.Load(ctx)
	if err != nil {
		sierraRunsTotal.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("load watermark: %w", err)
	}

	for _, qt := range types {
		res, err := r.runType(ctx, logger.With().Str("query_type", qt.ShortName).Logger(), state, qt, today)
		if err != nil {
			sierraRunsTotal.WithLabelValues("failed").Inc()
			return report, fmt.Errorf("%s: %w", qt.ShortName, err)
		}
		report.Results = append(report.Results, res)
		state.Set(qt.ShortName, today)
	}

	if err := r.components.Store.Save(ctx, state); err != nil {
		sierraRunsTotal.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("save watermark: %w", err)
	}
	report.Finished = r.now()

	for _, res := range report.Results {
		sierraRunRecords.WithLabelValues(res.QueryType.ShortName).Set(float64(res.Records))
		sierraLastSuccessTimestamp.WithLabelValues(res.QueryType.ShortName).Set(float64(report.Finished.Unix()))
	}
	sierraRunsTotal.WithLabelValues("success").Inc()

	logger.Info().Msg("==== RESULTS ====\n" + report.String())

	if err := r.components.Notifier.Notify(ctx, report.String()); err != nil {
		return report, fmt.Errorf("notify: %w", err)
	}
	return report, nil
}

func (r *Runner) runType(ctx context.Context, logger zerolog.Logger, state *watermark.State, qt querytype.QueryType, today string) (Result, error) {
	since, err := state.Get(qt.ShortName)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid or missing watermark, correct the watermark store and try again")
		return Result{}, err
	}

	cred, err := r.components.Auth.Authenticate(ctx)
	if err != nil {
		return Result{}, err
	}

	ids, err := r.components.Querier.QueryIDs(ctx, qt, since, cred)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		QueryType: qt,
		Records:   len(ids),
		Since:     since,
		Until:     today,
	}
	if len(ids) == 0 {
		logger.Info().Str("since", since).Msg("No records changed, nothing to export")
		return res, nil
	}

	logger.Info().Int("records", len(ids)).Str("since", since).Msg("Generating export file")

	name := qt.ArtifactName(since, r.config.Extension)
	artifact, _, err := r.components.Fetcher.Fetch(ctx, ids, name, since, cred)
	if err != nil {
		return Result{}, fmt.Errorf("export: %w", err)
	}
	res.Artifact = &artifact

	logger.Info().Str("file", artifact.Path).Msg("Finished generating export file")

	if err := r.components.Deliverer.Deliver(ctx, qt.DeliveryChannel, artifact.Path, qt.RemotePath(name)); err != nil {
		return Result{}, err
	}
	return res, nil
}
