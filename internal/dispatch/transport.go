package dispatch

import (
	"context"

	"github.com/modelrelay/modelrelay/internal/transport"
	"github.com/modelrelay/modelrelay/pkg/types"
)

// StreamHandle is an in-flight streaming response: ordered raw-text chunks,
// then a terminal error once the channel closes.
type StreamHandle interface {
	Chunks() <-chan string
	Err() error
}

// Transport performs the network calls for the dispatcher.
type Transport interface {
	Execute(ctx context.Context, req *types.HTTPRequest) (*types.HTTPResponse, error)
	ExecuteStream(ctx context.Context, req *types.HTTPRequest) (StreamHandle, error)
}

// httpTransport adapts transport.Client to the Transport interface.
type httpTransport struct {
	client *transport.Client
}

// NewHTTPTransport wraps the HTTP transport client for the dispatcher.
func NewHTTPTransport(client *transport.Client) Transport {
	return &httpTransport{client: client}
}

func (t *httpTransport) Execute(ctx context.Context, req *types.HTTPRequest) (*types.HTTPResponse, error) {
	return t.client.Execute(ctx, req)
}

func (t *httpTransport) ExecuteStream(ctx context.Context, req *types.HTTPRequest) (StreamHandle, error) {
	stream, err := t.client.ExecuteStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
