// Package admin provides the client for the external credential service.
//
// The service owns upstream platform accounts. Workers lease accounts for
// the duration of one fetch task (lock), hand them back with an optional
// cool-off delay (unlock), and report accounts that can no longer be used
// (status write-back: suspended, disabled).
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/social-fetcher/internal/domain"
)

// Client is a minimal HTTP client implementing domain.AccountService.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a client against the admin service base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type lockRequest struct {
	Count       int    `json:"count"`
	AccountType string `json:"account_type,omitempty"`
}

type lockResponse struct {
	Accounts []domain.Credential `json:"accounts"`
}

type unlockRequest struct {
	IDs   []string `json:"ids"`
	Delay int      `json:"delay,omitempty"`
}

type unlockResponse struct {
	Success bool `json:"success"`
}

type statusRequest struct {
	Status domain.AccountStatus `json:"status"`
}

// Lock leases count credentials of accountType (empty means any class).
// An empty list is a valid response; callers decide whether to borrow from
// another class.
func (c *Client) Lock(ctx context.Context, platform domain.Platform, accountType string, count int) ([]domain.Credential, error) {
	if count <= 0 {
		return nil, fmt.Errorf("op=admin.lock: count must be positive: %w", domain.ErrInvalidArgument)
	}
	var out lockResponse
	url := fmt.Sprintf("%s/v1/%s/accounts/lock", c.baseURL, platform)
	if err := c.post(ctx, url, lockRequest{Count: count, AccountType: accountType}, &out); err != nil {
		return nil, fmt.Errorf("op=admin.lock: %w", err)
	}
	return out.Accounts, nil
}

// Unlock releases the leased credential ids. delaySeconds > 0 asks the
// service to keep them out of circulation for that long.
func (c *Client) Unlock(ctx context.Context, platform domain.Platform, ids []string, delaySeconds int) error {
	if len(ids) == 0 {
		return nil
	}
	var out unlockResponse
	url := fmt.Sprintf("%s/v1/%s/accounts/unlock", c.baseURL, platform)
	if err := c.post(ctx, url, unlockRequest{IDs: ids, Delay: delaySeconds}, &out); err != nil {
		return fmt.Errorf("op=admin.unlock: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("op=admin.unlock: service refused release")
	}
	return nil
}

// UpdateStatus reports a credential as suspended or disabled. The write-back
// must land even through transient service hiccups, so it retries with
// exponential backoff; 4xx responses are permanent.
func (c *Client) UpdateStatus(ctx context.Context, platform domain.Platform, id string, status domain.AccountStatus) error {
	url := fmt.Sprintf("%s/v1/%s/accounts/%s/status", c.baseURL, platform, id)
	op := func() error {
		err := c.post(ctx, url, statusRequest{Status: status}, nil)
		if err == nil {
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && se.code >= 400 && se.code < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxElapsedTime = 15 * time.Second
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, 3), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf("op=admin.update_status: %w", err)
	}
	slog.Info("account status reported",
		slog.String("platform", string(platform)),
		slog.String("account_id", id),
		slog.String("status", string(status)))
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string { return fmt.Sprintf("admin status %d: %s", e.code, e.body) }

func (c *Client) post(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return &statusError{code: resp.StatusCode, body: snippet}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSchemaInvalid, err)
	}
	return nil
}
