package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/pkg/types"
)

func responsesConfig() *types.ChannelConfig {
	return &types.ChannelConfig{
		ID:      "r1",
		Type:    types.ChannelOpenAIResponses,
		Enabled: true,
		APIKey:  "sk-test",
		Model:   "gpt-4o",
	}
}

func TestResponsesBuildRequest(t *testing.T) {
	f := NewOpenAIResponsesFormatter()
	req, err := f.BuildRequest(&BuildInput{
		Config: responsesConfig(),
		History: []types.Message{
			{Role: "user", Parts: []*types.ContentPart{types.NewTextPart("hi", false)}},
			{Role: "assistant", Parts: []*types.ContentPart{types.NewTextPart("hello", false)}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1/responses", req.URL)

	var body struct {
		Input []map[string]any `json:"input"`
	}
	require.NoError(t, json.Unmarshal(req.Body, &body))
	require.Len(t, body.Input, 2)

	userContent := body.Input[0]["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "input_text", userContent["type"])
	asstContent := body.Input[1]["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "output_text", asstContent["type"])
}

func TestResponsesBuildRequest_FunctionCallHistory(t *testing.T) {
	f := NewOpenAIResponsesFormatter()
	req, err := f.BuildRequest(&BuildInput{
		Config: responsesConfig(),
		History: []types.Message{
			{Role: "assistant", Parts: []*types.ContentPart{
				types.NewFunctionCallPart("run", map[string]any{"cmd": "ls"}, "call_3"),
			}},
			{Role: "tool", Parts: []*types.ContentPart{
				{Kind: types.PartFunctionCall, CallID: "call_3", Args: map[string]any{"out": "ok"}},
			}},
		},
	})
	require.NoError(t, err)

	var body struct {
		Input []map[string]any `json:"input"`
	}
	require.NoError(t, json.Unmarshal(req.Body, &body))
	require.Len(t, body.Input, 2)
	assert.Equal(t, "function_call", body.Input[0]["type"])
	assert.Equal(t, "call_3", body.Input[0]["call_id"])
	assert.Equal(t, "function_call_output", body.Input[1]["type"])
	assert.JSONEq(t, `{"out":"ok"}`, body.Input[1]["output"].(string))
}

func TestResponsesParseResponse(t *testing.T) {
	raw := `{
		"model": "gpt-4o",
		"status": "completed",
		"output": [
			{"type": "reasoning", "summary": [{"text": "thinking"}]},
			{"type": "message", "content": [{"type": "output_text", "text": "hello"}]},
			{"type": "function_call", "name": "search", "call_id": "call_9", "arguments": "{\"q\":\"dogs\"}"}
		],
		"usage": {"input_tokens": 7, "output_tokens": 2, "total_tokens": 9}
	}`

	f := NewOpenAIResponsesFormatter()
	content, err := f.ParseResponse([]byte(raw))
	require.NoError(t, err)

	require.Len(t, content.Parts, 3)
	assert.True(t, content.Parts[0].Thought)
	assert.Equal(t, "hello", content.Parts[1].Text)
	assert.Equal(t, "search", content.Parts[2].Name)
	assert.Equal(t, map[string]any{"q": "dogs"}, content.Parts[2].Args)
	assert.Equal(t, "completed", content.FinishReason)
	assert.Equal(t, 9, content.Usage.TotalTokens)
}

func TestResponsesParseStreamChunk(t *testing.T) {
	f := NewOpenAIResponsesFormatter()

	chunk, err := f.ParseStreamChunk(json.RawMessage(
		`{"type":"response.output_text.delta","delta":"hel"}`))
	require.NoError(t, err)
	require.Len(t, chunk.Delta, 1)
	assert.Equal(t, "hel", chunk.Delta[0].Text)

	chunk, err = f.ParseStreamChunk(json.RawMessage(
		`{"type":"response.reasoning_summary_text.delta","delta":"hm"}`))
	require.NoError(t, err)
	require.Len(t, chunk.Delta, 1)
	assert.True(t, chunk.Delta[0].Thought)

	chunk, err = f.ParseStreamChunk(json.RawMessage(
		`{"type":"response.output_item.added","output_index":2,"item":{"type":"function_call","name":"run","call_id":"call_5"}}`))
	require.NoError(t, err)
	require.Len(t, chunk.Delta, 1)
	assert.Equal(t, "run", chunk.Delta[0].Name)
	require.NotNil(t, chunk.Delta[0].Index)
	assert.Equal(t, 2, *chunk.Delta[0].Index)

	chunk, err = f.ParseStreamChunk(json.RawMessage(
		`{"type":"response.function_call_arguments.delta","output_index":2,"delta":"{\"cmd\":"}`))
	require.NoError(t, err)
	require.Len(t, chunk.Delta, 1)
	assert.Equal(t, `{"cmd":`, chunk.Delta[0].PartialArgs)

	chunk, err = f.ParseStreamChunk(json.RawMessage(
		`{"type":"response.completed","response":{"model":"gpt-4o","status":"completed","usage":{"total_tokens":30}}}`))
	require.NoError(t, err)
	assert.True(t, chunk.Done)
	assert.Equal(t, "completed", chunk.FinishReason)
	assert.Equal(t, 30, chunk.Usage.TotalTokens)

	// Lifecycle noise normalizes to an empty chunk.
	chunk, err = f.ParseStreamChunk(json.RawMessage(
		`{"type":"response.output_text.done"}`))
	require.NoError(t, err)
	assert.Empty(t, chunk.Delta)
	assert.False(t, chunk.Done)
}
