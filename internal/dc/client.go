// Package dc routes fetches to the client registered for the URL scheme.
package dc

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/italolelis/fetchfile/internal/transfer"
)

// Mux is a transfer.Client that dispatches on the URL scheme.
type Mux struct {
	clients map[string]transfer.Client
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{clients: make(map[string]transfer.Client)}
}

// Handle registers client for each of the given schemes.
func (m *Mux) Handle(client transfer.Client, schemes ...string) {
	for _, s := range schemes {
		m.clients[strings.ToLower(s)] = client
	}
}

func (m *Mux) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	client, err := m.route(rawURL)
	if err != nil {
		return nil, err
	}

	return client.Fetch(ctx, rawURL)
}

func (m *Mux) FetchAsync(ctx context.Context, rawURL string, req *transfer.Request, onLoad func(*transfer.Request, []byte), onError func(*transfer.Request, error)) {
	client, err := m.route(rawURL)
	if err != nil {
		onError(req, err)

		return
	}

	client.FetchAsync(ctx, rawURL, req, onLoad, onError)
}

func (m *Mux) route(rawURL string) (transfer.Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &transfer.NetworkError{URL: rawURL, Message: "invalid url", Err: err}
	}

	client, ok := m.clients[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", transfer.ErrUnsupportedScheme, u.Scheme)
	}

	return client, nil
}
