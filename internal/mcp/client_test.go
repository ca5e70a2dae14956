package mcp

import (
	"context"
	"net"
	"testing"
	"time"

	mcpgoserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/pkg/mcpserver/clock"
)

// startClockSSE serves the clock fixture over SSE on a loopback port and
// returns the SSE endpoint URL.
func startClockSSE(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	sse := mcpgoserver.NewSSEServer(clock.NewServer(), mcpgoserver.WithBaseURL("http://"+addr))
	go func() {
		if err := sse.Start(addr); err != nil {
			t.Logf("sse server stopped: %v", err)
		}
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sse.Shutdown(ctx)
	})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return "http://" + addr + "/sse"
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("clock server did not come up on %s", addr)
	return ""
}

func TestClient_ClockServerTools(t *testing.T) {
	url := startClockSSE(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	c := NewClient(zerolog.Nop())
	defer c.Close()

	cfg := ServerConfig{Name: "clock", Enabled: true, URL: url, TimeoutMs: 10000}
	require.NoError(t, c.AddServer(ctx, cfg))

	decls := c.DeclarationsFor("any-channel")
	require.Len(t, decls, 1)
	assert.Equal(t, "now", decls[0].Name)
	assert.Contains(t, decls[0].Description, "current time")
	assert.NotEmpty(t, decls[0].Parameters, "input schema travels as the declaration parameters")

	// The same server name cannot be added twice.
	require.Error(t, c.AddServer(ctx, cfg))
}

func TestClient_DisabledServerIgnored(t *testing.T) {
	c := NewClient(zerolog.Nop())
	defer c.Close()

	cfg := ServerConfig{Name: "off", Enabled: false, URL: "http://127.0.0.1:1/sse"}
	require.NoError(t, c.AddServer(context.Background(), cfg))
	assert.Empty(t, c.DeclarationsFor("any-channel"))
}

func TestClient_MissingTransportConfig(t *testing.T) {
	c := NewClient(zerolog.Nop())
	defer c.Close()

	err := c.AddServer(context.Background(), ServerConfig{Name: "broken", Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither url nor command")
}
