package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Export asks the catalog to build a MARC file for ids and returns the URL
// the file can be downloaded from. On failure the returned *APIError carries
// the service's numeric code (138 means rate limited).
func (c *Client) Export(ctx context.Context, ids []string, cred Credential) (string, error) {
	u, err := url.Parse(c.config.ExportURL)
	if err != nil {
		return "", fmt.Errorf("parse export url: %w", err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(c.config.ExportLimit))
	q.Set("id", strings.Join(ids, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", cred.Header())
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(c.httpClient, req, endpointExport)
	if err != nil {
		return "", err
	}
	body, err := readBody(resp)
	if err != nil {
		return "", err
	}

	if resp.StatusCode == http.StatusOK {
		if file := gjson.GetBytes(body, "file"); file.Type == gjson.String && file.String() != "" {
			c.logger.Debug().Int("ids", len(ids)).Str("file", file.String()).Msg("Export file ready")
			return file.String(), nil
		}
	}
	return "", c.failure(endpointExport, resp.StatusCode, body)
}

// Download streams the file at fileURL into dst using fixed-size reads and
// returns the number of bytes written. Errors writing to dst are returned
// unwrapped so callers can tell local failures from remote ones.
func (c *Client) Download(ctx context.Context, fileURL string, cred Credential, dst io.Writer) (int64, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// The watchdog is pushed back on every read; firing cancels the request.
	idle := c.config.DownloadIdleTimeout
	watchdog := time.AfterFunc(idle, func() { cancel(ErrDownloadStalled) })
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", cred.Header())

	resp, err := c.do(c.downloadClient, req, endpointDownload)
	if err != nil {
		return 0, stalled(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, err := readBody(resp)
		if err != nil {
			return 0, stalled(ctx, err)
		}
		return 0, c.failure(endpointDownload, resp.StatusCode, body)
	}
	defer resp.Body.Close()

	body := &idleReader{r: resp.Body, watchdog: watchdog, idle: idle}
	n, err := streamCopy(dst, body, c.config.DownloadBufferSize)
	sierraDownloadBytesTotal.Add(float64(n))
	if err != nil {
		return n, stalled(ctx, err)
	}

	c.logger.Debug().Int64("bytes", n).Msg("Download complete")
	return n, nil
}

// idleReader resets the download watchdog after every read.
type idleReader struct {
	r        io.Reader
	watchdog *time.Timer
	idle     time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	ir.watchdog.Reset(ir.idle)
	return n, err
}

// stalled swaps the cancellation error of a network failure for
// ErrDownloadStalled when the watchdog fired.
func stalled(ctx context.Context, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.ErrorClass == ErrorClassNetwork &&
		errors.Is(context.Cause(ctx), ErrDownloadStalled) {
		apiErr.Message = "download stalled"
		apiErr.Err = ErrDownloadStalled
	}
	return err
}

// streamCopy copies src to dst one buffer at a time. io.Copy is avoided so
// ReadFrom on *os.File cannot bypass the fixed read size.
func streamCopy(dst io.Writer, src io.Reader, size int) (int64, error) {
	buf := make([]byte, size)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			sierraErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return written, &APIError{
				StatusCode: http.StatusOK,
				ErrorClass: ErrorClassNetwork,
				Message:    "download interrupted",
				Err:        rerr,
			}
		}
	}
}
