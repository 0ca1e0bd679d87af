// Package putio fetches files stored on Put.io, addressed as putio://<file id>.
package putio

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/italolelis/fetchfile/internal/logctx"
	"github.com/italolelis/fetchfile/internal/transfer"
	"github.com/putdotio/go-putio"
	"golang.org/x/oauth2"
)

type Client struct {
	putioClient *putio.Client
	// fetches the resolved download URL, which is pre-signed and must not
	// see the API token
	fetcher transfer.Fetcher
}

var _ transfer.Client = (*Client)(nil)

func NewClient(token string, fetcher transfer.Fetcher) *Client {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(context.Background(), tokenSource)

	return &Client{
		putioClient: putio.NewClient(oauthClient),
		fetcher:     fetcher,
	}
}

// Fetch resolves the file's download URL and fetches it.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	logger := logctx.LoggerFromContext(ctx)

	id, err := fileID(rawURL)
	if err != nil {
		return nil, &transfer.NetworkError{URL: rawURL, Message: "invalid putio url", Err: err}
	}

	downloadURL, err := c.putioClient.Files.URL(ctx, id, false)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get file download url", "file_id", id, "err", err)

		return nil, &transfer.NetworkError{URL: rawURL, Message: "failed to get file download url", Err: err}
	}

	logger.DebugContext(ctx, "resolved putio file", "file_id", id)

	return c.fetcher.Fetch(ctx, downloadURL)
}

func (c *Client) FetchAsync(ctx context.Context, rawURL string, req *transfer.Request, onLoad func(*transfer.Request, []byte), onError func(*transfer.Request, error)) {
	go func() {
		data, err := c.Fetch(ctx, rawURL)
		if err != nil {
			onError(req, err)

			return
		}

		onLoad(req, data)
	}()
}

// Authenticate checks the token against the account endpoint.
func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "authenticating with Put.io")

	user, err := c.putioClient.Account.Info(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get account info", "err", err)

		return &transfer.AuthenticationError{URL: "putio://account", Err: fmt.Errorf("failed to get account info: %w", err)}
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	return nil
}

func fileID(rawURL string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, err
	}

	if u.Scheme != "putio" {
		return 0, fmt.Errorf("unexpected scheme %q", u.Scheme)
	}

	id, err := strconv.ParseInt(u.Host, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid file id %q", u.Host)
	}

	return id, nil
}
