package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Credential is a short-lived bearer token issued by the catalog.
type Credential struct {
	Token     string
	ExpiresIn time.Duration
	IssuedAt  time.Time
}

// Header returns the Authorization header value.
func (c Credential) Header() string {
	return "Bearer " + c.Token
}

// IsZero reports whether no token has been issued.
func (c Credential) IsZero() bool {
	return c.Token == ""
}

// String redacts the token so credentials can be logged safely.
func (c Credential) String() string {
	if c.IsZero() {
		return "Credential(none)"
	}
	return fmt.Sprintf("Credential(issued=%s, expires_in=%s)", c.IssuedAt.Format(time.RFC3339), c.ExpiresIn)
}

// Authenticate exchanges the configured client credentials for a bearer
// token. A non-success status wraps ErrAuthRejected and is never retried;
// only network failures are.
func (c *Client) Authenticate(ctx context.Context) (Credential, error) {
	op := func() (Credential, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.AuthURL,
			strings.NewReader("grant_type=client_credentials"))
		if err != nil {
			return Credential{}, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Basic "+c.config.EncodedCredentials)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := c.do(c.httpClient, req, endpointToken)
		if err != nil {
			return Credential{}, err
		}
		body, err := readBody(resp)
		if err != nil {
			return Credential{}, err
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := c.failure(endpointToken, resp.StatusCode, body)
			apiErr.ErrorClass = ErrorClassAuth
			apiErr.Err = ErrAuthRejected
			return Credential{}, apiErr
		}

		token := gjson.GetBytes(body, "access_token").String()
		if token == "" {
			return Credential{}, &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassAuth,
				Message:    "token response has no access_token",
				Err:        ErrMalformedResponse,
			}
		}

		return Credential{
			Token:     token,
			ExpiresIn: time.Duration(gjson.GetBytes(body, "expires_in").Int()) * time.Second,
			IssuedAt:  time.Now(),
		}, nil
	}

	cred, err := retryTransient(ctx, c, endpointToken, op)
	if err != nil {
		c.logger.Error().Err(err).Msg("Bearer authorization failed, check the configured encoded credentials")
		return Credential{}, fmt.Errorf("authenticate: %w", err)
	}

	c.logger.Info().Dur("expires_in", cred.ExpiresIn).Msg("Authorization successful")
	return cred, nil
}
