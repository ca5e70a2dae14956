// Package clock provides an MCP server with a clock tool, used to
// exercise the MCP client integration.
package clock

import (
	"context"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server exposing the now tool.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"clock",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	nowTool := mcp.NewTool("now",
		mcp.WithDescription("Returns the current time"),
		mcp.WithString("format",
			mcp.Description("Go time layout or one of rfc3339|unix; defaults to rfc3339"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone name; defaults to UTC"),
		),
	)
	s.AddTool(nowTool, nowHandler)

	return s
}

// nowHandler handles the now tool call.
func nowHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	loc := time.UTC
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return mcp.NewToolResultError("invalid timezone: " + tz), nil
		}
		loc = parsed
	}

	now := time.Now().In(loc)
	format, _ := args["format"].(string)
	return mcp.NewToolResultText(formatTime(now, format)), nil
}

func formatTime(t time.Time, format string) string {
	switch format {
	case "", "rfc3339":
		return t.Format(time.RFC3339)
	case "unix":
		return strconv.FormatInt(t.Unix(), 10)
	default:
		return t.Format(format)
	}
}
