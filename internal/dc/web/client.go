package web

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/italolelis/fetchfile/internal/logctx"
	"github.com/italolelis/fetchfile/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 512

// Options configures the HTTP client.
type Options struct {
	// Token, when set, is sent as a bearer token.
	Token string
	// UserAgent overrides the Go default.
	UserAgent string
	// Timeout bounds a whole fetch, body included. Zero means no limit.
	Timeout time.Duration
	// Insecure skips TLS verification.
	Insecure bool
}

// Client fetches http and https URLs.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

var _ transfer.Client = (*Client)(nil)

func NewClient(opts Options) *Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Insecure {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	var rt http.RoundTripper = otelhttp.NewTransport(base)

	if opts.Token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}),
			Base:   rt,
		}
	}

	return &Client{
		httpClient: &http.Client{Transport: rt, Timeout: opts.Timeout},
		userAgent:  opts.UserAgent,
	}
}

// Fetch GETs url and returns the whole body.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	logger := logctx.LoggerFromContext(ctx).With("url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &transfer.NetworkError{URL: url, Message: "invalid request", Err: err}
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.DebugContext(ctx, "request failed", "err", err)

		return nil, &transfer.NetworkError{URL: url, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if err := checkResponse(url, resp); err != nil {
		logger.DebugContext(ctx, "non-2xx response", "status", resp.StatusCode)

		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transfer.NetworkError{URL: url, Message: fmt.Sprintf("failed to read body: %v", err), Err: err}
	}

	return data, nil
}

// FetchAsync runs Fetch on its own goroutine and reports through the callbacks.
func (c *Client) FetchAsync(ctx context.Context, url string, req *transfer.Request, onLoad func(*transfer.Request, []byte), onError func(*transfer.Request, error)) {
	go func() {
		data, err := c.Fetch(ctx, url)
		if err != nil {
			onError(req, err)

			return
		}

		onLoad(req, data)
	}()
}

func checkResponse(url string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &transfer.AuthenticationError{URL: url, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &transfer.NetworkError{URL: url, StatusCode: resp.StatusCode, Message: msg}
}
