// Package mcp connects to external Model Context Protocol servers and
// exposes their tools as declarations for the dispatcher. It uses the
// official MCP SDK; stdio and HTTP (streamable with SSE fallback) transports
// are supported.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/modelrelay/modelrelay/pkg/types"
)

// ServerConfig defines one MCP server connection.
type ServerConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Enabled bool              `json:"enabled" yaml:"enabled"`
	// URL selects the HTTP transport; Command the stdio transport.
	URL       string            `json:"url,omitempty" yaml:"url"`
	Command   []string          `json:"command,omitempty" yaml:"command"`
	Env       map[string]string `json:"env,omitempty" yaml:"env"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers"`
	TimeoutMs int               `json:"timeoutMs,omitempty" yaml:"timeoutMs"`
}

func (c ServerConfig) timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type server struct {
	config  ServerConfig
	session *sdkmcp.ClientSession
	decls   []types.Declaration
}

// Client manages MCP server sessions and aggregates their tools.
type Client struct {
	mu      sync.RWMutex
	sdk     *sdkmcp.Client
	servers map[string]*server
	logger  zerolog.Logger
}

// NewClient creates an MCP client with no servers connected.
func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		sdk: sdkmcp.NewClient(&sdkmcp.Implementation{
			Name:    "modelrelay",
			Version: "1.0.0",
		}, nil),
		servers: make(map[string]*server),
		logger:  logger,
	}
}

// AddServer connects to one server and lists its tools. Disabled servers
// are ignored.
func (c *Client) AddServer(ctx context.Context, cfg ServerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.servers[cfg.Name]; ok {
		return fmt.Errorf("mcp server already added: %s", cfg.Name)
	}

	srv, err := c.connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mcp server %s: %w", cfg.Name, err)
	}
	c.servers[cfg.Name] = srv

	c.logger.Info().Str("server", cfg.Name).Int("tools", len(srv.decls)).Msg("mcp server connected")
	return nil
}

func (c *Client) connect(ctx context.Context, cfg ServerConfig) (*server, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	var candidates []sdkmcp.Transport
	switch {
	case len(cfg.Command) > 0:
		cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		candidates = []sdkmcp.Transport{&sdkmcp.CommandTransport{Command: cmd}}
	case cfg.URL != "":
		httpClient := headerClient(cfg.Headers)
		candidates = []sdkmcp.Transport{
			&sdkmcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient},
			&sdkmcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient},
		}
	default:
		return nil, fmt.Errorf("neither url nor command configured")
	}

	var lastErr error
	for _, tr := range candidates {
		session, err := c.sdk.Connect(connectCtx, tr, nil)
		if err != nil {
			lastErr = err
			continue
		}

		decls, err := listDeclarations(connectCtx, session)
		if err != nil {
			session.Close()
			lastErr = err
			continue
		}
		return &server{config: cfg, session: session, decls: decls}, nil
	}
	return nil, lastErr
}

// listDeclarations converts the server's tool list to declarations.
func listDeclarations(ctx context.Context, session *sdkmcp.ClientSession) ([]types.Declaration, error) {
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}

	decls := make([]types.Declaration, 0, len(result.Tools))
	for _, t := range result.Tools {
		var params json.RawMessage
		if t.InputSchema != nil {
			params, _ = json.Marshal(t.InputSchema)
		}
		decls = append(decls, types.Declaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return decls, nil
}

// DeclarationsFor implements the dispatcher's ToolSource. MCP tools are
// offered on every channel.
func (c *Client) DeclarationsFor(string) []types.Declaration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []types.Declaration
	for _, srv := range c.servers {
		out = append(out, srv.decls...)
	}
	return out
}

// Close shuts every session down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for name, srv := range c.servers {
		if err := srv.session.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.servers, name)
	}
	return firstErr
}

// headerClient returns an HTTP client injecting static headers, for servers
// behind bearer-token auth.
func headerClient(headers map[string]string) *http.Client {
	client := &http.Client{}
	if len(headers) == 0 {
		return client
	}
	client.Transport = &headerRoundTripper{headers: headers, next: http.DefaultTransport}
	return client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}
