package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/pkg/types"
)

func openaiConfig() *types.ChannelConfig {
	return &types.ChannelConfig{
		ID:      "o1",
		Type:    types.ChannelOpenAI,
		Enabled: true,
		APIKey:  "sk-test",
		Model:   "gpt-4o",
	}
}

func TestOpenAIBuildRequest(t *testing.T) {
	f := NewOpenAIFormatter()
	req, err := f.BuildRequest(&BuildInput{
		Config: openaiConfig(),
		History: []types.Message{
			{Role: "user", Parts: []*types.ContentPart{types.NewTextPart("hi", false)}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://api.openai.com/v1/chat/completions", req.URL)
	assert.Equal(t, "Bearer sk-test", req.Headers["Authorization"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "gpt-4o", body["model"])
	assert.NotContains(t, body, "stream")
}

func TestOpenAIBuildRequest_StreamIncludesUsage(t *testing.T) {
	f := NewOpenAIFormatter()
	req, err := f.BuildRequest(&BuildInput{
		Config:  openaiConfig(),
		History: []types.Message{{Role: "user", Parts: []*types.ContentPart{types.NewTextPart("hi", false)}}},
		Stream:  true,
	})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, true, body["stream"])
	opts := body["stream_options"].(map[string]any)
	assert.Equal(t, true, opts["include_usage"])
}

func TestOpenAIBuildRequest_ToolHistory(t *testing.T) {
	f := NewOpenAIFormatter()
	req, err := f.BuildRequest(&BuildInput{
		Config: openaiConfig(),
		History: []types.Message{
			{Role: "assistant", Parts: []*types.ContentPart{
				types.NewFunctionCallPart("run", map[string]any{"cmd": "ls"}, "call_7"),
			}},
			{Role: "tool", Parts: []*types.ContentPart{
				{Kind: types.PartText, Text: "file.txt"},
				{Kind: types.PartFunctionCall, CallID: "call_7"},
			}},
		},
	})
	require.NoError(t, err)

	var body struct {
		Messages []oaMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(req.Body, &body))
	require.Len(t, body.Messages, 2)
	require.Len(t, body.Messages[0].ToolCalls, 1)
	assert.Equal(t, "call_7", body.Messages[0].ToolCalls[0].ID)
	assert.JSONEq(t, `{"cmd":"ls"}`, body.Messages[0].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_7", body.Messages[1].ToolCallID)
	assert.Equal(t, "file.txt", body.Messages[1].Content)
}

func TestOpenAIParseResponse(t *testing.T) {
	raw := `{
		"model": "gpt-4o-2024-08-06",
		"choices": [{
			"message": {
				"role": "assistant",
				"content": "hello",
				"reasoning_content": "let me think",
				"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "search", "arguments": "{\"q\":\"cats\"}"}}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 8, "completion_tokens": 4, "total_tokens": 12}
	}`

	f := NewOpenAIFormatter()
	content, err := f.ParseResponse([]byte(raw))
	require.NoError(t, err)

	require.Len(t, content.Parts, 3)
	assert.True(t, content.Parts[0].Thought)
	assert.Equal(t, "let me think", content.Parts[0].Text)
	assert.Equal(t, "hello", content.Parts[1].Text)
	assert.Equal(t, "search", content.Parts[2].Name)
	assert.Equal(t, map[string]any{"q": "cats"}, content.Parts[2].Args)
	assert.Equal(t, "tool_calls", content.FinishReason)
	assert.Equal(t, 12, content.Usage.TotalTokens)
}

func TestOpenAIParseStreamChunk_ToolCallFragments(t *testing.T) {
	f := NewOpenAIFormatter()

	chunk, err := f.ParseStreamChunk(json.RawMessage(
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"search"}}]}}]}`))
	require.NoError(t, err)
	require.Len(t, chunk.Delta, 1)
	part := chunk.Delta[0]
	assert.Equal(t, types.PartFunctionCall, part.Kind)
	assert.Equal(t, "search", part.Name)
	assert.Equal(t, "call_1", part.CallID)
	require.NotNil(t, part.Index)
	assert.Equal(t, 0, *part.Index)

	chunk, err = f.ParseStreamChunk(json.RawMessage(
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":"}}]}}]}`))
	require.NoError(t, err)
	require.Len(t, chunk.Delta, 1)
	assert.Equal(t, `{"q":`, chunk.Delta[0].PartialArgs)
}

func TestOpenAIParseStreamChunk_UsageOnlyFinalChunk(t *testing.T) {
	f := NewOpenAIFormatter()
	chunk, err := f.ParseStreamChunk(json.RawMessage(
		`{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`))
	require.NoError(t, err)
	assert.Empty(t, chunk.Delta)
	require.NotNil(t, chunk.Usage)
	assert.Equal(t, 8, chunk.Usage.TotalTokens)
}

func TestOpenAIParseStreamChunk_FinishReason(t *testing.T) {
	f := NewOpenAIFormatter()
	chunk, err := f.ParseStreamChunk(json.RawMessage(
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`))
	require.NoError(t, err)
	assert.True(t, chunk.Done)
	assert.Equal(t, "stop", chunk.FinishReason)
}
