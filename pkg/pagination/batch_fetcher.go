package pagination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/sierra-export/pkg/client"
)

// Prometheus metrics for batch exports.
var (
	sierraBatchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sierra_batch_attempts_total",
		Help: "Total export attempts per batch by outcome",
	}, []string{"outcome"})

	sierraBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sierra_batch_duration_seconds",
		Help:    "Time to export one batch including retries",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
	})

	sierraArtifactBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sierra_artifact_bytes",
		Help:    "Size of finished export artifacts in bytes",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})
)

// Attempt outcomes used as metric labels.
const (
	outcomeSuccess     = "success"
	outcomeRateLimited = "rate_limited"
	outcomeReauth      = "reauthenticated"
)

// ErrNoIdentifiers is returned when Fetch is called with an empty id list.
var ErrNoIdentifiers = errors.New("no identifiers to export")

// Exporter requests an export file for a set of ids and downloads it.
type Exporter interface {
	Export(ctx context.Context, ids []string, cred client.Credential) (string, error)
	Download(ctx context.Context, fileURL string, cred client.Credential, dst io.Writer) (int64, error)
}

// Authenticator issues a fresh credential.
type Authenticator interface {
	Authenticate(ctx context.Context) (client.Credential, error)
}

// Cooldown blocks until the rate limit has passed.
type Cooldown interface {
	Wait(ctx context.Context) error
}

// Config holds batch fetcher configuration.
type Config struct {
	// BatchLimit is the maximum number of ids per export request. The catalog
	// rejects longer URLs.
	BatchLimit int

	// OutputDir receives the final artifact and the temporary batch files.
	OutputDir string
}

// DefaultConfig returns the catalog's default batch configuration.
func DefaultConfig() Config {
	return Config{
		BatchLimit: 30,
		OutputDir:  ".",
	}
}

// Artifact describes a finished export file.
type Artifact struct {
	Path    string
	Bytes   int64
	Batches int
	Records int
}

// BatchFetcher exports identifier sets in bounded batches and concatenates
// the results into one file.
type BatchFetcher struct {
	exporter Exporter
	auth     Authenticator
	cooldown Cooldown
	config   Config
	logger   zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher.
func NewBatchFetcher(exporter Exporter, auth Authenticator, cooldown Cooldown, config Config, logger zerolog.Logger) *BatchFetcher {
	if config.BatchLimit <= 0 {
		config.BatchLimit = 30
	}
	if config.OutputDir == "" {
		config.OutputDir = "."
	}

	return &BatchFetcher{
		exporter: exporter,
		auth:     auth,
		cooldown: cooldown,
		config:   config,
		logger:   logger.With().Str("component", "batch-fetcher").Logger(),
	}
}

// Fetch exports ids into OutputDir/filename and returns the artifact together
// with the credential that was valid when it finished. since names the
// temporary batch files.
//
// Remote failures are retried without limit. Only local filesystem errors,
// rejected re-authentication and context cancellation end a fetch early; in
// that case temporary files may be left behind.
func (bf *BatchFetcher) Fetch(ctx context.Context, ids []string, filename, since string, cred client.Credential) (Artifact, client.Credential, error) {
	if len(ids) == 0 {
		return Artifact{}, cred, ErrNoIdentifiers
	}

	start := time.Now()
	finalPath := filepath.Join(bf.config.OutputDir, filename)
	batches := Partition(ids, bf.config.BatchLimit)

	bf.logger.Info().
		Str("file", finalPath).
		Int("ids", len(ids)).
		Int("batches", batches.Len()).
		Msg("Starting export")

	var (
		written int64
		err     error
	)
	if batches.Len() == 1 {
		cred, err = bf.exportUntilSuccess(ctx, batches.Next(), finalPath, cred)
		if err != nil {
			return Artifact{}, cred, err
		}
		written, err = fileSize(finalPath)
	} else {
		written, cred, err = bf.fetchBatches(ctx, batches, finalPath, since, filepath.Ext(filename), cred)
	}
	if err != nil {
		return Artifact{}, cred, err
	}

	sierraArtifactBytes.Observe(float64(written))
	bf.logger.Info().
		Str("file", finalPath).
		Int64("bytes", written).
		Int("batches", batches.Len()).
		Dur("duration", time.Since(start)).
		Msg("Export complete")

	return Artifact{
		Path:    finalPath,
		Bytes:   written,
		Batches: batches.Len(),
		Records: len(ids),
	}, cred, nil
}

// fetchBatches exports each batch to a temporary file and appends it to
// finalPath in order.
func (bf *BatchFetcher) fetchBatches(ctx context.Context, batches *Batches, finalPath, since, ext string, cred client.Credential) (int64, client.Credential, error) {
	out, err := os.Create(finalPath)
	if err != nil {
		return 0, cred, fmt.Errorf("create artifact: %w", err)
	}
	defer out.Close()

	var written int64
	for batches.HasNext() {
		batch := batches.Next()
		tempPath := filepath.Join(bf.config.OutputDir, fmt.Sprintf("temp-%s-pt%d%s", since, batch.Index, ext))

		bf.logger.Debug().
			Int("batch", batch.Index+1).
			Int("of", batches.Len()).
			Int("ids", len(batch.IDs)).
			Msg("Exporting batch")

		cred, err = bf.exportUntilSuccess(ctx, batch, tempPath, cred)
		if err != nil {
			return written, cred, err
		}

		n, err := appendFile(out, tempPath)
		written += n
		if err != nil {
			return written, cred, fmt.Errorf("append batch %d: %w", batch.Index, err)
		}
		if err := os.Remove(tempPath); err != nil {
			return written, cred, fmt.Errorf("remove batch file: %w", err)
		}
	}

	if err := out.Close(); err != nil {
		return written, cred, fmt.Errorf("close artifact: %w", err)
	}
	return written, cred, nil
}

// exportUntilSuccess repeats exportBatch until it succeeds or fails fatally.
func (bf *BatchFetcher) exportUntilSuccess(ctx context.Context, batch Batch, dst string, cred client.Credential) (client.Credential, error) {
	start := time.Now()
	defer func() {
		sierraBatchDuration.Observe(time.Since(start).Seconds())
	}()

	for attempt := 1; ; attempt++ {
		ok, next, err := bf.exportBatch(ctx, batch.IDs, dst, cred)
		cred = next
		if err != nil {
			bf.logger.Error().
				Err(err).
				Int("batch", batch.Index).
				Int("attempt", attempt).
				Msg("Batch export failed")
			return cred, err
		}
		if ok {
			if attempt > 1 {
				bf.logger.Info().
					Int("batch", batch.Index).
					Int("attempt", attempt).
					Msg("Batch exported after retry")
			}
			return cred, nil
		}
	}
}

// exportBatch makes one attempt at exporting ids into dst. It reports
// success, the credential for the next attempt, and an error only when the
// failure must not be retried.
func (bf *BatchFetcher) exportBatch(ctx context.Context, ids []string, dst string, cred client.Credential) (bool, client.Credential, error) {
	err := bf.exportTo(ctx, ids, dst, cred)
	if err == nil {
		sierraBatchAttemptsTotal.WithLabelValues(outcomeSuccess).Inc()
		return true, cred, nil
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return false, cred, fmt.Errorf("write batch file: %w", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, cred, ctxErr
	}

	if client.IsRateLimited(err) {
		sierraBatchAttemptsTotal.WithLabelValues(outcomeRateLimited).Inc()
		if err := bf.cooldown.Wait(ctx); err != nil {
			return false, cred, err
		}
		return false, cred, nil
	}

	sierraBatchAttemptsTotal.WithLabelValues(outcomeReauth).Inc()
	bf.logger.Warn().Err(err).Msg("Export failed, reauthenticating")

	fresh, err := bf.auth.Authenticate(ctx)
	if err != nil {
		return false, cred, err
	}
	return false, fresh, nil
}

// exportTo requests the export file for ids and downloads it into dst,
// truncating whatever an earlier attempt left there.
func (bf *BatchFetcher) exportTo(ctx context.Context, ids []string, dst string, cred client.Credential) error {
	fileURL, err := bf.exporter.Export(ctx, ids, cred)
	if err != nil {
		return err
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := bf.exporter.Download(ctx, fileURL, cred, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// appendFile copies the contents of path to the end of out.
func appendFile(out *os.File, path string) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	return io.Copy(out, in)
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
