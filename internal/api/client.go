package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultUsageURL   = "https://api.anthropic.com/api/oauth/usage"
	DefaultBetaHeader = "oauth-2025-04-20"
	// The usage endpoint only answers clients that look like Claude Code.
	DefaultUserAgent = "claude-code/2.0.61"
	DefaultTimeout   = 10 * time.Second

	maxBodySize = 1 << 20
)

type Options struct {
	UsageURL   string
	BetaHeader string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client talks to the usage endpoint.
type Client struct {
	usageURL   string
	betaHeader string
	userAgent  string
	http       *http.Client
	log        zerolog.Logger
	now        func() time.Time
}

func NewClient(opts Options) *Client {
	c := &Client{
		usageURL:   opts.UsageURL,
		betaHeader: opts.BetaHeader,
		userAgent:  opts.UserAgent,
		http:       opts.HTTPClient,
		log:        opts.Logger.With().Str("component", "usage").Logger(),
		now:        time.Now,
	}
	if c.usageURL == "" {
		c.usageURL = DefaultUsageURL
	}
	if c.betaHeader == "" {
		c.betaHeader = DefaultBetaHeader
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	return c
}

// FetchUsage requests the current utilization for the account behind
// accessToken.
func (c *Client) FetchUsage(ctx context.Context, accessToken string) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.usageURL, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("anthropic-beta", c.betaHeader)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	status, body, err := Do(c.http, req, "fetch usage")
	if err != nil {
		return Snapshot{}, err
	}

	result := ParseUsage(body)
	c.log.Debug().
		Int("status", status).
		Str("outcome", result.Outcome.String()).
		Int("bytes", len(body)).
		Msg("usage response")

	return result.Snapshot(status, c.now())
}

// Do sends req and reads the whole body. Any failure before a complete body
// is in hand is a *TransportError.
func Do(client *http.Client, req *http.Request, op string) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, &TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	return resp.StatusCode, body, nil
}
