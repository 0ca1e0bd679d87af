package transfer

import (
	"context"

	"github.com/italolelis/fetchfile/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// InstrumentedClient wraps Client with telemetry.
type InstrumentedClient struct {
	client     Client
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedClient creates a new instrumented fetch client.
func NewInstrumentedClient(client Client, tel *telemetry.Telemetry, clientType string) *InstrumentedClient {
	return &InstrumentedClient{
		client:     client,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Fetch fetches url with telemetry.
func (c *InstrumentedClient) Fetch(ctx context.Context, url string) ([]byte, error) {
	var result []byte

	var err error

	instrumentedErr := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "fetch", func(ctx context.Context) error {
		result, err = c.client.Fetch(ctx, url)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// FetchAsync starts a background fetch. The span is ended from whichever
// callback the wrapped client calls.
func (c *InstrumentedClient) FetchAsync(ctx context.Context, url string, req *Request, onLoad func(*Request, []byte), onError func(*Request, error)) {
	ctx, span := c.telemetry.Tracer().Start(ctx, "client_fetch_async")
	span.SetAttributes(
		attribute.String("client.type", c.clientType),
		attribute.String("client.operation", "fetch_async"),
	)

	c.client.FetchAsync(ctx, url, req,
		func(req *Request, data []byte) {
			span.SetAttributes(attribute.String("status", "success"))
			span.End()
			c.telemetry.RecordClientOperation(c.clientType, "fetch_async", "success")

			onLoad(req, data)
		},
		func(req *Request, err error) {
			span.SetAttributes(attribute.String("status", "error"))
			span.SetStatus(codes.Error, err.Error())
			span.End()
			c.telemetry.RecordClientOperation(c.clientType, "fetch_async", "error")

			onError(req, err)
		},
	)
}
