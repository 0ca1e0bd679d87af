// Package local fetches file:// URLs from the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/italolelis/fetchfile/internal/transfer"
)

// Client reads file:// URLs. It honours context cancellation only before
// the read starts.
type Client struct{}

var _ transfer.Client = (*Client)(nil)

func NewClient() *Client {
	return &Client{}
}

func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &transfer.NetworkError{URL: rawURL, Message: err.Error(), Err: err}
	}

	path, err := pathFromURL(rawURL)
	if err != nil {
		return nil, &transfer.NetworkError{URL: rawURL, Message: "invalid file url", Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, fs.ErrNotExist) {
			msg = "file not found"
		}

		return nil, &transfer.NetworkError{URL: rawURL, Message: msg, Err: err}
	}

	return data, nil
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

func pathFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	if u.Scheme != "file" {
		return "", fmt.Errorf("not a file url: %q", rawURL)
	}

	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("remote host %q in file url", u.Host)
	}

	return filepath.FromSlash(u.Path), nil
}
