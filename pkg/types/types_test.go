package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestError_KindAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(ErrNetwork, cause, "request to %s failed", "gemini")

	assert.Equal(t, ErrNetwork, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "gemini")
}

func TestKindOf_NonDomainError(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"api", NewAPIError(500, "boom"), true},
		{"network", NewRequestError(ErrNetwork, "refused"), true},
		{"timeout", NewRequestError(ErrTimeout, "idle"), true},
		{"config", NewRequestError(ErrConfig, "missing key"), false},
		{"validation", NewRequestError(ErrValidation, "empty history"), false},
		{"parse", NewRequestError(ErrParse, "bad json"), false},
		{"cancelled", NewRequestError(ErrCancelled, "caller gone"), false},
		{"wrapped api", WrapError(ErrAPI, errors.New("x"), "status 503"), true},
		{"non-domain", errors.New("mystery"), true},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestNewAPIError_CarriesBody(t *testing.T) {
	err := NewAPIError(429, `{"error":"rate limited"}`)
	assert.Equal(t, ErrAPI, err.Kind)
	assert.Contains(t, err.Message, "429")
	assert.Equal(t, `{"error":"rate limited"}`, err.Details)
}

func TestUsage_Merge(t *testing.T) {
	u := &Usage{PromptTokens: 10, OutputTokens: 3}
	u.Merge(&Usage{OutputTokens: 7, TotalTokens: 17})

	assert.Equal(t, 10, u.PromptTokens)
	assert.Equal(t, 7, u.OutputTokens)
	assert.Equal(t, 17, u.TotalTokens)

	u.Merge(nil)
	assert.Equal(t, 17, u.TotalTokens)
}

func TestChannelConfig_Defaults(t *testing.T) {
	cfg := &ChannelConfig{}
	assert.Equal(t, 2*time.Minute, cfg.Timeout())
	assert.Equal(t, ToolModeFunctionCall, cfg.EffectiveToolMode())
	assert.Equal(t, 1, cfg.MaxAttempts(false))

	cfg.TimeoutMs = 5000
	cfg.ToolMode = ToolModeXML
	cfg.Retry = RetryPolicy{Enabled: true, MaxAttempts: 3}
	assert.Equal(t, 5*time.Second, cfg.Timeout())
	assert.Equal(t, ToolModeXML, cfg.EffectiveToolMode())
	assert.Equal(t, 3, cfg.MaxAttempts(false))
	assert.Equal(t, 1, cfg.MaxAttempts(true), "skipRetry caps attempts at one")
}

func TestChannelConfig_CloneIsolation(t *testing.T) {
	cfg := &ChannelConfig{ID: "c1", Model: "base"}
	cp := cfg.Clone()
	cp.Model = "override"
	assert.Equal(t, "base", cfg.Model)
}

func TestRetryPolicy_Interval(t *testing.T) {
	assert.Equal(t, time.Second, RetryPolicy{}.Interval())
	assert.Equal(t, 250*time.Millisecond, RetryPolicy{IntervalMs: 250}.Interval())
}

func TestDeclaration_AvailableOn(t *testing.T) {
	open := Declaration{Name: "everywhere"}
	assert.True(t, open.AvailableOn("any"))

	scoped := Declaration{Name: "scoped", Channels: []string{"a", "b"}}
	assert.True(t, scoped.AvailableOn("a"))
	assert.False(t, scoped.AvailableOn("c"))
}

func TestContentPart_Clone(t *testing.T) {
	part := &ContentPart{
		Kind:              PartFunctionCall,
		Name:              "run",
		Args:              map[string]any{"cmd": "ls"},
		Index:             IntPtr(2),
		ThoughtSignatures: map[string]string{"gemini": "sig"},
	}
	cp := part.Clone()

	cp.Args["cmd"] = "rm"
	cp.ThoughtSignatures["gemini"] = "other"
	*cp.Index = 9

	assert.Equal(t, "ls", part.Args["cmd"])
	assert.Equal(t, "sig", part.ThoughtSignatures["gemini"])
	assert.Equal(t, 2, *part.Index)
}
