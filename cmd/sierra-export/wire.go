package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/sierra-export/pkg/client"
	"github.com/Sternrassler/sierra-export/pkg/config"
	"github.com/Sternrassler/sierra-export/pkg/delivery"
	"github.com/Sternrassler/sierra-export/pkg/notify"
	"github.com/Sternrassler/sierra-export/pkg/pagination"
	"github.com/Sternrassler/sierra-export/pkg/ratelimit"
	"github.com/Sternrassler/sierra-export/pkg/runner"
	"github.com/Sternrassler/sierra-export/pkg/watermark"
)

// app holds the wired runner and everything that must be released after it.
type app struct {
	runner   *runner.Runner
	cooldown *ratelimit.Cooldown
	closers  []func() error
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// build wires every component from cfg.
func build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}

	store, closeStore, err := newStore(ctx, cfg.Watermark)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	c, err := newClient(cfg.Catalog, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, c.Close)

	cooldown := ratelimit.NewCooldown(cfg.Catalog.RetryTime, logger)
	fetcher := pagination.NewBatchFetcher(c, c, cooldown, pagination.Config{
		BatchLimit: cfg.Catalog.BatchLimit,
		OutputDir:  cfg.Paths.OutputDir,
	}, logger)

	dispatcher, err := newDispatcher(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	notifier := notify.NewSMTPNotifier(notify.Config{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		Sender:     cfg.SMTP.Sender,
		Recipients: notify.ParseRecipients(cfg.SMTP.Recipients),
	}, logger)

	r, err := runner.New(runner.Components{
		Store:     store,
		Auth:      c,
		Querier:   c,
		Fetcher:   fetcher,
		Deliverer: dispatcher,
		Notifier:  notifier,
	}, runner.Config{Extension: cfg.Paths.Extension}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.runner = r
	a.cooldown = cooldown
	return a, nil
}

// newStore opens the configured watermark backend. The returned func, if
// not nil, releases the backend.
func newStore(ctx context.Context, cfg config.WatermarkConfig) (watermark.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return watermark.NewFileStore(cfg.File), nil, nil
	case config.BackendRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return watermark.NewRedisStore(redisClient, cfg.RedisKey), redisClient.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown watermark backend %q", cfg.Backend)
	}
}

func newClient(cfg config.CatalogConfig, logger zerolog.Logger) (*client.Client, error) {
	clientCfg := client.DefaultConfig(cfg.AuthURL, cfg.QueryURL, cfg.ExportURL, cfg.EncodedCredentials)
	clientCfg.UserAgent = cfg.UserAgent
	clientCfg.Timeout = cfg.Timeout
	clientCfg.ExportLimit = cfg.ExportLimit
	clientCfg.DownloadBufferSize = cfg.DownloadBuffer
	clientCfg.MaxRetries = cfg.MaxRetries

	c, err := client.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create catalog client: %w", err)
	}
	c.SetLogger(logger)
	return c, nil
}

// newDispatcher registers one channel per configured channel id.
func newDispatcher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*delivery.Dispatcher, error) {
	d := delivery.NewDispatcher(logger)
	for _, id := range cfg.ChannelIDs() {
		ch := cfg.Channels[id]
		switch ch.Kind {
		case config.ChannelKindFTP:
			ftpCh, err := delivery.NewFTPChannel(delivery.FTPConfig{
				Host:     ch.Host,
				User:     ch.User,
				Password: ch.Password,
				Timeout:  cfg.Catalog.Timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("channel %s: %w", id, err)
			}
			d.Register(id, ftpCh)
		case config.ChannelKindS3:
			s3Ch, err := delivery.NewS3Channel(ctx, delivery.S3Config{
				Bucket:          ch.Bucket,
				Prefix:          ch.Prefix,
				Region:          ch.Region,
				Endpoint:        ch.Endpoint,
				UsePathStyle:    ch.UsePathStyle,
				AccessKeyID:     ch.AccessKeyID,
				SecretAccessKey: ch.SecretAccessKey,
			})
			if err != nil {
				return nil, fmt.Errorf("channel %s: %w", id, err)
			}
			d.Register(id, s3Ch)
		default:
			return nil, fmt.Errorf("channel %s: unknown kind %q", id, ch.Kind)
		}
	}
	return d, nil
}
