package provider

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/modelrelay/modelrelay/pkg/types"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIFormatter speaks the Chat Completions API, which is also the de
// facto dialect of most OpenAI-compatible gateways.
type OpenAIFormatter struct{}

// NewOpenAIFormatter creates the Chat Completions formatter.
func NewOpenAIFormatter() *OpenAIFormatter { return &OpenAIFormatter{} }

func (f *OpenAIFormatter) Type() types.ChannelType { return types.ChannelOpenAI }

func (f *OpenAIFormatter) ValidateConfig(cfg *types.ChannelConfig) error {
	return validateCommon(cfg)
}

type oaToolCall struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type oaMessage struct {
	Role             string       `json:"role"`
	Content          string       `json:"content"`
	ReasoningContent string       `json:"reasoning_content,omitempty"`
	ToolCalls        []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string       `json:"tool_call_id,omitempty"`
}

type oaUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      oaMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaUsage `json:"usage"`
}

type oaStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta        oaMessage `json:"delta"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaUsage `json:"usage"`
}

func (f *OpenAIFormatter) BuildRequest(in *BuildInput) (*types.HTTPRequest, error) {
	cfg := in.Config

	messages := make([]oaMessage, 0, len(in.History))
	for _, msg := range in.History {
		om := oaMessage{Role: msg.Role}
		for _, p := range msg.Parts {
			switch p.Kind {
			case types.PartText:
				if !p.Thought {
					om.Content += p.Text
				}
			case types.PartFunctionCall:
				if msg.Role == "tool" {
					om.ToolCallID = p.CallID
					continue
				}
				tc := oaToolCall{ID: p.CallID, Type: "function"}
				tc.Function.Name = p.Name
				if p.Args != nil {
					raw, err := json.Marshal(p.Args)
					if err == nil {
						tc.Function.Arguments = string(raw)
					}
				}
				om.ToolCalls = append(om.ToolCalls, tc)
			}
		}
		messages = append(messages, om)
	}

	body := map[string]any{
		"model":    cfg.Model,
		"messages": messages,
	}
	if in.Stream {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	if len(in.Tools) > 0 && nativeTools(cfg) {
		tools := make([]map[string]any, 0, len(in.Tools))
		for _, t := range in.Tools {
			fn := map[string]any{"name": t.Name, "description": t.Description}
			if len(t.Parameters) > 0 {
				fn["parameters"] = json.RawMessage(t.Parameters)
			}
			tools = append(tools, map[string]any{"type": "function", "function": fn})
		}
		body["tools"] = tools
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, types.WrapError(types.ErrValidation, err, "encoding openai request")
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultOpenAIBaseURL
	}

	return &types.HTTPRequest{
		Method: http.MethodPost,
		URL:    base + "/chat/completions",
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + cfg.APIKey,
		},
		Body:    raw,
		Timeout: cfg.Timeout(),
	}, nil
}

func (f *OpenAIFormatter) ParseResponse(body []byte) (*types.Content, error) {
	var resp oaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, parseErr(err, "openai response")
	}
	if len(resp.Choices) == 0 {
		return nil, types.NewRequestError(types.ErrParse, "openai response has no choices")
	}

	choice := resp.Choices[0]
	content := &types.Content{
		Role:         "assistant",
		Parts:        convertOAMessage(choice.Message),
		FinishReason: choice.FinishReason,
		ModelVersion: resp.Model,
		Usage:        convertOAUsage(resp.Usage),
	}
	return content, nil
}

func (f *OpenAIFormatter) ParseStreamChunk(raw json.RawMessage) (*types.StreamChunk, error) {
	var sc oaStreamChunk
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, parseErr(err, "openai stream chunk")
	}

	chunk := &types.StreamChunk{
		ModelVersion: sc.Model,
		// Usage arrives in a final chunk with no choices when
		// stream_options.include_usage is on.
		Usage: convertOAUsage(sc.Usage),
	}
	if len(sc.Choices) > 0 {
		choice := sc.Choices[0]
		chunk.Delta = convertOADelta(choice.Delta)
		chunk.FinishReason = choice.FinishReason
		chunk.Done = choice.FinishReason != ""
	}
	return chunk, nil
}

// convertOAMessage maps a complete (non-streaming) message.
func convertOAMessage(m oaMessage) []*types.ContentPart {
	var parts []*types.ContentPart
	if m.ReasoningContent != "" {
		parts = append(parts, types.NewTextPart(m.ReasoningContent, true))
	}
	if m.Content != "" {
		parts = append(parts, types.NewTextPart(m.Content, false))
	}
	for _, tc := range m.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		parts = append(parts, types.NewFunctionCallPart(tc.Function.Name, args, tc.ID))
	}
	return parts
}

// convertOADelta maps a streaming delta. Tool-call arguments stay in
// PartialArgs so the accumulator can reassemble fragments by index/id.
func convertOADelta(m oaMessage) []*types.ContentPart {
	var parts []*types.ContentPart
	if m.ReasoningContent != "" {
		parts = append(parts, types.NewTextPart(m.ReasoningContent, true))
	}
	if m.Content != "" {
		parts = append(parts, types.NewTextPart(m.Content, false))
	}
	for _, tc := range m.ToolCalls {
		part := &types.ContentPart{
			Kind:        types.PartFunctionCall,
			Name:        tc.Function.Name,
			CallID:      tc.ID,
			Index:       tc.Index,
			PartialArgs: tc.Function.Arguments,
		}
		parts = append(parts, part)
	}
	return parts
}

func convertOAUsage(u *oaUsage) *types.Usage {
	if u == nil {
		return nil
	}
	return &types.Usage{
		PromptTokens: u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
}
