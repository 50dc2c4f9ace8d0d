// Package wire is the shared outbound HTTP layer for platform strategies.
//
// A Client is bound to one platform: it rotates browser user agents, routes
// through the optional proxy, paces every call through the distributed
// rate limiter (bucket <platform>:<channel>), and classifies upstream
// failures onto the domain error taxonomy. A redirect onto the platform's
// account-suspension page aborts the call with ErrAccountSuspended before
// the redirect is followed.
package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/social-fetcher/internal/adapter/observability"
	"github.com/fairyhunter13/social-fetcher/internal/domain"
	"github.com/fairyhunter13/social-fetcher/internal/service/ratelimiter"
)

// maxBodyBytes caps upstream response reads. Scrape endpoints return full
// HTML documents, so the cap is generous.
const maxBodyBytes = 8 << 20

// Options configure a platform-bound client.
type Options struct {
	Platform           domain.Platform
	UserAgents         []string
	ProxyURL           string
	Timeout            time.Duration
	SuspendedURLPrefix string
	Limiter            ratelimiter.Limiter
}

// Client issues upstream calls for one platform.
type Client struct {
	platform string
	hc       *http.Client
	agents   []string
	limiter  ratelimiter.Limiter
}

var errSuspendedRedirect = errors.New("redirect to suspension page")

// New builds a client from opts. Timeout defaults to 30s.
func New(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var rt http.RoundTripper = http.DefaultTransport
	if opts.ProxyURL != "" {
		pu, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("op=wire.New: proxy url: %w: %v", domain.ErrConfig, err)
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.Proxy = http.ProxyURL(pu)
		rt = tr
	}
	suspended := opts.SuspendedURLPrefix
	hc := &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(rt),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if suspended != "" && strings.HasPrefix(req.URL.String(), suspended) {
				return errSuspendedRedirect
			}
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		},
	}
	return &Client{
		platform: string(opts.Platform),
		hc:       hc,
		agents:   opts.UserAgents,
		limiter:  opts.Limiter,
	}, nil
}

// Request is one upstream call. Channel selects the rate-limit bucket
// (<platform>:<channel>) and the metrics label; headers are attached
// verbatim, with a rotated User-Agent filled in when absent.
type Request struct {
	Method  string
	URL     string
	Channel string
	Header  map[string]string
	Form    url.Values
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// Unwrap maps well-known statuses onto domain sentinels for errors.Is.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return domain.ErrUpstreamTimeout
	}
	return nil
}

// DoJSON issues the request and decodes a JSON response into out. Responses
// that are not JSON (by header, then by content sniff) surface
// ErrSchemaInvalid so callers treat them as schema drift rather than data.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) error {
	resp, raw, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if !isJSON(resp.Header.Get("Content-Type"), raw) {
		return fmt.Errorf("op=wire.DoJSON: content-type %q: %w", resp.Header.Get("Content-Type"), domain.ErrSchemaInvalid)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("op=wire.DoJSON: decode: %w: %v", domain.ErrSchemaInvalid, err)
	}
	return nil
}

// DoText fetches a page body for scrape-based endpoints.
func (c *Client) DoText(ctx context.Context, req Request) (string, error) {
	_, raw, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (c *Client) do(ctx context.Context, req Request) (*http.Response, []byte, error) {
	if req.Channel != "" && c.limiter != nil {
		bucket := c.platform + ":" + req.Channel
		waitStart := time.Now()
		if err := c.limiter.Acquire(ctx, bucket); err != nil {
			return nil, nil, fmt.Errorf("op=wire.do: limiter: %w", err)
		}
		observability.ObserveLimiterWait(bucket, time.Since(waitStart))
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	}
	r, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, nil, fmt.Errorf("op=wire.do: %w", err)
	}
	for k, v := range req.Header {
		r.Header.Set(k, v)
	}
	if req.Form != nil && r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", c.pickAgent())
	}

	start := time.Now()
	resp, err := c.hc.Do(r)
	if err != nil {
		observability.ObserveUpstream(c.platform, req.Channel, 0, time.Since(start))
		if errors.Is(err, errSuspendedRedirect) {
			return nil, nil, fmt.Errorf("op=wire.do: %s: %w", domain.SuspendedMessage, domain.ErrAccountSuspended)
		}
		var ne net.Error
		if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("op=wire.do: %w: %v", domain.ErrUpstreamTimeout, err)
		}
		return nil, nil, fmt.Errorf("op=wire.do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	observability.ObserveUpstream(c.platform, req.Channel, resp.StatusCode, time.Since(start))
	if readErr != nil {
		return nil, nil, fmt.Errorf("op=wire.do: read body: %w", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("op=wire.do: %w", &StatusError{Code: resp.StatusCode, Body: snippet(raw)})
	}
	return resp, raw, nil
}

func (c *Client) pickAgent() string {
	if len(c.agents) == 0 {
		return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}
	return c.agents[rand.Intn(len(c.agents))] //nolint:gosec // Agent rotation needs variety, not unpredictability.
}

func isJSON(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "application/json") || strings.Contains(ct, "+json") {
		return true
	}
	// Some fronts mislabel JSON; trust the bytes over the header.
	return mimetype.Detect(body).Is("application/json")
}

func snippet(raw []byte) string {
	s := string(raw)
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
