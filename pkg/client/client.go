// Package client provides the Sierra catalog HTTP client: token exchange,
// bib id queries, MARC export requests and streamed file downloads.
package client

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for catalog client operations.
var (
	sierraRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sierra_requests_total",
		Help: "Total catalog requests by endpoint and status",
	}, []string{"endpoint", "status"})

	sierraRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sierra_request_duration_seconds",
		Help:    "Catalog request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"endpoint"})

	sierraErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sierra_errors_total",
		Help: "Total catalog errors by class",
	}, []string{"class"})

	sierraDownloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sierra_download_bytes_total",
		Help: "Total bytes of MARC data downloaded",
	})
)

// Logical endpoint names used as metric labels.
const (
	endpointToken    = "token"
	endpointQuery    = "query"
	endpointExport   = "export"
	endpointDownload = "download"
)

// Client is the catalog API client.
type Client struct {
	httpClient     *http.Client
	downloadClient *http.Client
	config         Config
	logger         zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Endpoints
	AuthURL   string
	QueryURL  string
	ExportURL string

	// EncodedCredentials is the base64 "key:secret" sent as Basic auth to AuthURL.
	EncodedCredentials string

	// User-Agent header
	UserAgent string

	// Timeout bounds API calls; downloads only bound the wait for headers.
	Timeout time.Duration

	// ExportLimit is sent as the "limit" parameter on export requests.
	ExportLimit int

	// DownloadBufferSize is the fixed read size used when streaming files.
	DownloadBufferSize int

	// DownloadIdleTimeout aborts a download that delivers no data for this
	// long. Defaults to Timeout.
	DownloadIdleTimeout time.Duration

	// Retry of token and query calls on network or 5xx errors
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(authURL, queryURL, exportURL, encodedCredentials string) Config {
	return Config{
		AuthURL:            authURL,
		QueryURL:           queryURL,
		ExportURL:          exportURL,
		EncodedCredentials: encodedCredentials,
		UserAgent:          "sierra-export/1.0",
		Timeout:            60 * time.Second,
		ExportLimit:        99999999,
		DownloadBufferSize: 1024,
		MaxRetries:         3,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         30 * time.Second,
	}
}

// New creates a new catalog client.
func New(cfg Config) (*Client, error) {
	if cfg.AuthURL == "" {
		return nil, fmt.Errorf("auth url is required")
	}
	if cfg.QueryURL == "" {
		return nil, fmt.Errorf("query url is required")
	}
	if cfg.ExportURL == "" {
		return nil, fmt.Errorf("export url is required")
	}
	if cfg.EncodedCredentials == "" {
		return nil, fmt.Errorf("encoded credentials are required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.ExportLimit <= 0 {
		return nil, fmt.Errorf("export_limit must be > 0 (got %d)", cfg.ExportLimit)
	}
	if cfg.DownloadBufferSize <= 0 {
		return nil, fmt.Errorf("download_buffer_size must be > 0 (got %d)", cfg.DownloadBufferSize)
	}
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("max_retries must be >= 1 (got %d)", cfg.MaxRetries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.DownloadIdleTimeout <= 0 {
		cfg.DownloadIdleTimeout = cfg.Timeout
	}

	logger := log.With().Str("component", "sierra-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		downloadClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		},
		config: cfg,
		logger: logger,
	}, nil
}

// do executes a request, recording metrics. Transport failures come back as
// an *APIError of class network.
func (c *Client) do(hc *http.Client, req *http.Request, endpoint string) (*http.Response, error) {
	startTime := time.Now()
	defer func() {
		sierraRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("User-Agent", c.config.UserAgent)

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing catalog request")

	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		sierraErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		sierraRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}

	sierraRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// readBody drains and closes resp.Body.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}
	return body, nil
}

// failure builds the classified error for a non-success response and counts it.
func (c *Client) failure(endpoint string, statusCode int, body []byte) *APIError {
	apiErr := errorFromResponse(statusCode, body)
	sierraErrorsTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()

	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", statusCode).
		Int("code", apiErr.Code).
		Str("error_class", string(apiErr.ErrorClass)).
		Msg("Catalog request error")

	return apiErr
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	c.downloadClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client for API calls and downloads (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
	c.downloadClient = client
}

// SetLogger replaces the component logger.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger.With().Str("component", "sierra-client").Logger()
}
