package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/pkg/types"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient("", zerolog.Nop())
	require.NoError(t, err)
	return c
}

func drain(t *testing.T, s *Stream) string {
	t.Helper()
	var sb strings.Builder
	deadline := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-s.Chunks():
			if !ok {
				return sb.String()
			}
			sb.WriteString(chunk)
		case <-deadline:
			t.Fatal("stream did not close")
		}
	}
}

func TestExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Execute(context.Background(), &types.HTTPRequest{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Headers: map[string]string{"X-Api-Key": "secret"},
		Body:    []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
}

func TestExecute_NonOKPassedThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Execute(context.Background(), &types.HTTPRequest{Method: http.MethodGet, URL: srv.URL})
	// Non-200 statuses are the dispatcher's concern, not a transport error.
	require.NoError(t, err)
	assert.Equal(t, 429, resp.Status)
	assert.Equal(t, "slow down", string(resp.Body))
}

func TestExecute_FlatTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, err := c.Execute(context.Background(), &types.HTTPRequest{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.KindOf(err))
}

func TestExecute_CallerCancellationWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	c := newTestClient(t)
	_, err := c.Execute(ctx, &types.HTTPRequest{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, types.ErrCancelled, types.KindOf(err))
}

func TestExecute_ConnectionFailure(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Execute(context.Background(), &types.HTTPRequest{
		Method: http.MethodGet,
		URL:    "http://127.0.0.1:1", // nothing listens here
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrNetwork, types.KindOf(err))
}

func TestExecuteStream_DeliversChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"data: one\n\n", "data: two\n\n"} {
			w.Write([]byte(chunk))
			flusher.Flush()
			time.Sleep(10 * time.Millisecond)
		}
	}))
	defer srv.Close()

	c := newTestClient(t)
	stream, err := c.ExecuteStream(context.Background(), &types.HTTPRequest{Method: http.MethodPost, URL: srv.URL})
	require.NoError(t, err)

	body := drain(t, stream)
	require.NoError(t, stream.Err())
	assert.Equal(t, "data: one\n\ndata: two\n\n", body)
}

func TestExecuteStream_NonOKIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, err := c.ExecuteStream(context.Background(), &types.HTTPRequest{Method: http.MethodPost, URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, types.ErrAPI, types.KindOf(err))

	var re *types.RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "overloaded", re.Details)
}

func TestExecuteStream_ErrorBodyDrainIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write(bytes.Repeat([]byte("x"), errorBodyLimit*3))
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, err := c.ExecuteStream(context.Background(), &types.HTTPRequest{Method: http.MethodPost, URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, types.ErrAPI, types.KindOf(err))

	var re *types.RequestError
	require.ErrorAs(t, err, &re)
	assert.Len(t, re.Details, errorBodyLimit)
}

func TestExecuteStream_IdleTimeoutResetsOnActivity(t *testing.T) {
	// Total duration exceeds the idle window, but no single gap does.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 5; i++ {
			w.Write([]byte("tick\n"))
			flusher.Flush()
			time.Sleep(60 * time.Millisecond)
		}
	}))
	defer srv.Close()

	c := newTestClient(t)
	stream, err := c.ExecuteStream(context.Background(), &types.HTTPRequest{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Timeout: 150 * time.Millisecond,
	})
	require.NoError(t, err)

	body := drain(t, stream)
	require.NoError(t, stream.Err())
	assert.Equal(t, 5, strings.Count(body, "tick"))
}

func TestExecuteStream_StallAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte("first\n"))
		flusher.Flush()
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	c := newTestClient(t)
	stream, err := c.ExecuteStream(context.Background(), &types.HTTPRequest{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Timeout: 80 * time.Millisecond,
	})
	require.NoError(t, err)

	body := drain(t, stream)
	assert.Contains(t, body, "first")
	require.Error(t, stream.Err())
	assert.Equal(t, types.ErrTimeout, types.KindOf(stream.Err()))
}

func TestExecuteStream_CancelMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte("first\n"))
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(t)
	stream, err := c.ExecuteStream(ctx, &types.HTTPRequest{Method: http.MethodPost, URL: srv.URL})
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	drain(t, stream)
	require.Error(t, stream.Err())
	assert.Equal(t, types.ErrCancelled, types.KindOf(stream.Err()))
}

func TestNewClient_InvalidProxy(t *testing.T) {
	_, err := NewClient("://bad", zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, types.ErrConfig, types.KindOf(err))
}

func TestNewClient_ProxyRouting(t *testing.T) {
	var proxied bool
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	c, err := NewClient(proxy.URL, zerolog.Nop())
	require.NoError(t, err)

	// Plain HTTP proxying forwards the absolute URL to the proxy itself.
	resp, err := c.Execute(context.Background(), &types.HTTPRequest{
		Method: http.MethodGet,
		URL:    "http://example.invalid/upstream",
	})
	require.NoError(t, err)
	assert.True(t, proxied)
	assert.Equal(t, "via proxy", string(resp.Body))
}
