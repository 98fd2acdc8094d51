package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Notifier posts accepted bookings to the handle-booking edge function.
type Notifier struct {
	url     string
	token   string
	client  *http.Client
	retries uint64
	backoff time.Duration
}

type NotifierOption func(*Notifier)

func WithHTTPClient(c *http.Client) NotifierOption {
	return func(n *Notifier) { n.client = c }
}

// WithRetries sets how many times a failed post is retried, starting at
// backoff and doubling.
func WithRetries(retries uint64, backoff time.Duration) NotifierOption {
	return func(n *Notifier) { n.retries, n.backoff = retries, backoff }
}

func NewNotifier(url, token string, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		url:     url,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: 2,
		backoff: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify sends req as the JSON body. Server errors and transport failures
// are retried; 4xx responses are not.
func (n *Notifier) Notify(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("booking: marshal notification: %w", err)
	}

	b := retry.WithMaxRetries(n.retries, retry.NewExponential(n.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("booking: build notification: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if n.token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+n.token)
		}

		resp, err := n.client.Do(httpReq)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("booking: notify: %w", err))
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		switch {
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("booking: notify: status %d", resp.StatusCode))
		case resp.StatusCode >= 300:
			return fmt.Errorf("booking: notify: status %d", resp.StatusCode)
		}
		return nil
	})
}
