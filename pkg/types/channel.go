package types

import (
	"encoding/json"
	"time"
)

// ChannelType identifies the wire protocol a channel speaks.
type ChannelType string

const (
	ChannelGemini          ChannelType = "gemini"
	ChannelOpenAI          ChannelType = "openai"
	ChannelOpenAIResponses ChannelType = "openai-responses"
	ChannelAnthropic       ChannelType = "anthropic"
)

// ToolMode is the convention a channel uses to express tool invocations.
type ToolMode string

const (
	// ToolModeFunctionCall uses the provider's native function-calling API.
	ToolModeFunctionCall ToolMode = "function_call"
	// ToolModeXML embeds tool calls as <tool_use>...</tool_use> markup.
	ToolModeXML ToolMode = "xml"
	// ToolModeJSON embeds tool calls between <<<TOOL_CALL>>> delimiters.
	ToolModeJSON ToolMode = "json"
)

// RetryPolicy controls the dispatcher's retry loop for a channel.
type RetryPolicy struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	MaxAttempts int  `json:"maxAttempts,omitempty" yaml:"maxAttempts"`
	IntervalMs  int  `json:"intervalMs,omitempty" yaml:"intervalMs"`
}

// Interval returns the configured base delay between attempts.
func (r RetryPolicy) Interval() time.Duration {
	if r.IntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(r.IntervalMs) * time.Millisecond
}

// ChannelConfig describes one configured upstream LLM endpoint. A config is
// resolved fresh at the start of every generate call and is immutable for
// the call's lifetime; a model override operates on a Clone.
type ChannelConfig struct {
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name,omitempty" yaml:"name"`
	Type         ChannelType `json:"type" yaml:"type"`
	Enabled      bool        `json:"enabled" yaml:"enabled"`
	BaseURL      string      `json:"baseURL,omitempty" yaml:"baseURL"`
	APIKey       string      `json:"apiKey,omitempty" yaml:"apiKey"`
	Model        string      `json:"model" yaml:"model"`
	PreferStream bool        `json:"preferStream,omitempty" yaml:"preferStream"`
	ToolMode     ToolMode    `json:"toolMode,omitempty" yaml:"toolMode"`
	TimeoutMs    int         `json:"timeoutMs,omitempty" yaml:"timeoutMs"`
	Retry        RetryPolicy `json:"retry,omitempty" yaml:"retry"`
}

// Timeout returns the per-request inactivity window.
func (c *ChannelConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// EffectiveToolMode defaults to native function calling.
func (c *ChannelConfig) EffectiveToolMode() ToolMode {
	if c.ToolMode == "" {
		return ToolModeFunctionCall
	}
	return c.ToolMode
}

// Clone returns a shallow copy. Used for copy-on-write model overrides so
// the stored config is never mutated.
func (c *ChannelConfig) Clone() *ChannelConfig {
	cp := *c
	return &cp
}

// MaxAttempts returns how many attempts the retry loop may make.
func (c *ChannelConfig) MaxAttempts(skipRetry bool) int {
	if skipRetry || !c.Retry.Enabled || c.Retry.MaxAttempts < 1 {
		return 1
	}
	return c.Retry.MaxAttempts
}

// GenerateRequest is the caller-facing input of one generation.
type GenerateRequest struct {
	ChannelID     string    `json:"channelID"`
	History       []Message `json:"history"`
	ModelOverride string    `json:"modelOverride,omitempty"`
	// Stream forces streaming on or off; nil defers to the channel's
	// PreferStream setting.
	Stream    *bool `json:"stream,omitempty"`
	SkipTools bool  `json:"skipTools,omitempty"`
	SkipRetry bool  `json:"skipRetry,omitempty"`
}

// Declaration is a tool declaration offered to the model.
type Declaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON Schema
	// Channels restricts the declaration to specific channel IDs. Empty
	// means available everywhere.
	Channels []string `json:"channels,omitempty"`
}

// AvailableOn reports whether the declaration may be offered on channelID.
func (d Declaration) AvailableOn(channelID string) bool {
	if len(d.Channels) == 0 {
		return true
	}
	for _, id := range d.Channels {
		if id == channelID {
			return true
		}
	}
	return false
}
