package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Sternrassler/sierra-export/pkg/querytype"
)

// QueryIDs submits the query type's filter for records modified after since
// and returns the matching bib ids in response order. Zero matches is an
// empty slice, not an error.
func (c *Client) QueryIDs(ctx context.Context, qt querytype.QueryType, since string, cred Credential) ([]string, error) {
	filter, err := qt.Filter(since)
	if err != nil {
		return nil, err
	}

	op := func() ([]string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.QueryURL, bytes.NewReader(filter))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", cred.Header())
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.do(c.httpClient, req, endpointQuery)
		if err != nil {
			return nil, err
		}
		body, err := readBody(resp)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			return nil, c.failure(endpointQuery, resp.StatusCode, body)
		}
		if !gjson.ValidBytes(body) {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassClient,
				Message:    "query response is not JSON",
				Err:        ErrMalformedResponse,
			}
		}

		return c.parseIDs(qt, body), nil
	}

	ids, err := retryTransient(ctx, c, endpointQuery, op)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", qt.ShortName, err)
	}
	return ids, nil
}

func (c *Client) parseIDs(qt querytype.QueryType, body []byte) []string {
	total := gjson.GetBytes(body, "total").Int()
	links := gjson.GetBytes(body, "entries.#.link").Array()

	ids := make([]string, 0, len(links))
	for _, link := range links {
		id := lastSegment(link.String())
		if id == "" {
			c.logger.Warn().Str("link", link.String()).Msg("Skipping entry without a record id")
			continue
		}
		ids = append(ids, id)
	}

	c.logger.Info().
		Str("query_type", qt.ShortName).
		Int64("total", total).
		Int("ids", len(ids)).
		Msg("Query successful")

	if int(total) != len(links) {
		c.logger.Warn().
			Int64("total", total).
			Int("entries", len(links)).
			Msg("Query total does not match returned entries")
	}
	return ids
}

// lastSegment returns the text after the final '/' of a resource link.
func lastSegment(link string) string {
	if i := strings.LastIndex(link, "/"); i >= 0 {
		return link[i+1:]
	}
	return link
}
