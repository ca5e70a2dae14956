package types

import (
	"net/http"
	"time"
)

// HTTPRequest is a provider-built request, ready for the transport. The
// dispatcher builds it once per call and reuses it verbatim across retry
// attempts.
type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
	// Timeout is the inactivity window: flat for blocking requests,
	// reset-on-chunk for streaming ones.
	Timeout time.Duration `json:"-"`
}

// HTTPResponse is the outcome of a blocking transport call.
type HTTPResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}
