package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// retryIntervals are the backoff steps between delivery attempts.
var retryIntervals = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// codePayload is the JSON body posted to the delivery provider.
type codePayload struct {
	To      string `json:"to"`
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
}

// HTTPChannel implements ports.NotificationChannel by posting codes to
// an external SMS/push provider with retries.
type HTTPChannel struct {
	providerURL string
	httpClient  HTTPClient
	log         zerolog.Logger
}

// NewHTTPChannel creates a provider-backed notification channel.
func NewHTTPChannel(providerURL string, httpClient HTTPClient, log zerolog.Logger) *HTTPChannel {
	return &HTTPChannel{
		providerURL: providerURL,
		httpClient:  httpClient,
		log:         log,
	}
}

// Send delivers a code to the destination, retrying transient failures.
func (c *HTTPChannel) Send(ctx context.Context, destination, code, purpose string) error {
	body, err := json.Marshal(codePayload{To: destination, Code: code, Purpose: purpose})
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(retryIntervals); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryIntervals[attempt-1]):
			}
		}

		lastErr = c.post(ctx, body)
		if lastErr == nil {
			if attempt > 0 {
				c.log.Info().Int("attempt", attempt+1).Str("purpose", purpose).Msg("notification delivered after retry")
			}
			return nil
		}

		c.log.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Str("purpose", purpose).
			Msg("notification delivery failed")
	}

	return fmt.Errorf("notification delivery exhausted retries: %w", lastErr)
}

func (c *HTTPChannel) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.providerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	return nil
}
