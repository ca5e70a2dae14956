// Package transport performs the actual network calls for the dispatcher.
// It owns timeout and abort wiring: blocking requests run under a flat
// deadline, streaming requests under a resettable inactivity timer that is
// rearmed by every received chunk, so slow-but-alive generation is never
// misclassified as a stall. An outbound proxy, when configured, applies to
// both paths.
package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/modelrelay/modelrelay/pkg/types"
)

// readBufferSize is the granularity of streaming body reads.
const readBufferSize = 4096

// errorBodyLimit caps how much of a failed stream response is drained into
// the error details.
const errorBodyLimit = 64 << 10

// Client executes provider-built HTTP requests.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a transport client. proxyURL, when non-empty, routes all
// traffic through the given outbound proxy.
func NewClient(proxyURL string, logger zerolog.Logger) (*Client, error) {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, types.WrapError(types.ErrConfig, err, "invalid proxy url %q", proxyURL)
		}
		tr.Proxy = http.ProxyURL(parsed)
	}

	return &Client{
		httpClient: &http.Client{Transport: tr},
		logger:     logger,
	}, nil
}

// Execute performs a blocking request under a flat timeout. An abort is
// classified as cancelled if the caller's context fired, else as a timeout.
func (c *Client) Execute(ctx context.Context, req *types.HTTPRequest) (*types.HTTPResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logger.Debug().Str("method", req.Method).Str("url", req.URL).Dur("timeout", timeout).Msg("executing request")

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, types.WrapError(types.ErrValidation, err, "building http request")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.classifyAbort(ctx, reqCtx, err, timeout)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classifyAbort(ctx, reqCtx, err, timeout)
	}

	return &types.HTTPResponse{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    body,
	}, nil
}

// classifyAbort maps a transport failure to the domain error kinds: the
// caller's cancellation wins over the local deadline, everything else is a
// connectivity fault.
func (c *Client) classifyAbort(ctx, reqCtx context.Context, err error, timeout time.Duration) error {
	if ctx.Err() != nil {
		return types.WrapError(types.ErrCancelled, ctx.Err(), "request cancelled")
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return types.NewRequestError(types.ErrTimeout, "no response within %s", timeout)
	}
	return types.WrapError(types.ErrNetwork, err, "request failed")
}

// Stream delivers raw body text incrementally. Chunks must be drained; the
// channel closes when the stream ends, after which Err reports how.
type Stream struct {
	chunks chan string
	err    atomic.Pointer[streamErr]
}

type streamErr struct{ err error }

// Chunks returns the ordered raw-text chunk channel.
func (s *Stream) Chunks() <-chan string { return s.chunks }

// Err returns the terminal error, valid once Chunks is closed. A nil error
// means the stream drained normally.
func (s *Stream) Err() error {
	if e := s.err.Load(); e != nil {
		return e.err
	}
	return nil
}

func (s *Stream) fail(err error) { s.err.Store(&streamErr{err: err}) }

// ExecuteStream opens a streaming request. The inactivity window restarts on
// every received chunk (keep-alive pings included); only true silence for
// the full window aborts the stream. If the timeout fired, a timeout error
// is reported even when chunks were already delivered.
func (c *Client) ExecuteStream(ctx context.Context, req *types.HTTPRequest) (*Stream, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	reqCtx, cancel := context.WithCancel(ctx)

	c.logger.Debug().Str("method", req.Method).Str("url", req.URL).Dur("idleTimeout", timeout).Msg("opening stream")

	var timedOut atomic.Bool
	idle := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		idle.Stop()
		cancel()
		return nil, types.WrapError(types.ErrValidation, err, "building http request")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		idle.Stop()
		cancel()
		if ctx.Err() != nil {
			return nil, types.WrapError(types.ErrCancelled, ctx.Err(), "request cancelled")
		}
		if timedOut.Load() {
			return nil, types.NewRequestError(types.ErrTimeout, "no response within %s", timeout)
		}
		return nil, types.WrapError(types.ErrNetwork, err, "request failed")
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		resp.Body.Close()
		idle.Stop()
		cancel()
		return nil, types.NewAPIError(resp.StatusCode, string(body))
	}

	stream := &Stream{chunks: make(chan string)}

	go func() {
		defer close(stream.chunks)
		defer cancel()
		defer idle.Stop()
		defer resp.Body.Close()

		buf := make([]byte, readBufferSize)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				idle.Reset(timeout)
				select {
				case stream.chunks <- string(buf[:n]):
				case <-reqCtx.Done():
					stream.fail(c.streamAbortError(ctx, &timedOut, timeout))
					return
				}
			}
			if readErr != nil {
				switch {
				case errors.Is(readErr, io.EOF):
					// Drained. A timeout that raced the final read still
					// surfaces as a timeout.
					if timedOut.Load() {
						stream.fail(types.NewRequestError(types.ErrTimeout, "stream stalled for %s", timeout))
					}
				case reqCtx.Err() != nil:
					stream.fail(c.streamAbortError(ctx, &timedOut, timeout))
				default:
					stream.fail(types.WrapError(types.ErrNetwork, readErr, "reading stream"))
				}
				return
			}
		}
	}()

	return stream, nil
}

func (c *Client) streamAbortError(ctx context.Context, timedOut *atomic.Bool, timeout time.Duration) error {
	if ctx.Err() != nil {
		return types.WrapError(types.ErrCancelled, ctx.Err(), "stream cancelled")
	}
	if timedOut.Load() {
		return types.NewRequestError(types.ErrTimeout, "stream stalled for %s", timeout)
	}
	return types.NewRequestError(types.ErrNetwork, "stream aborted")
}
