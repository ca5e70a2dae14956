package provider

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/modelrelay/modelrelay/pkg/types"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 8192
)

// AnthropicFormatter speaks the Messages API, including extended thinking
// blocks, their signatures, and redacted thinking.
type AnthropicFormatter struct{}

// NewAnthropicFormatter creates the Messages API formatter.
func NewAnthropicFormatter() *AnthropicFormatter { return &AnthropicFormatter{} }

func (f *AnthropicFormatter) Type() types.ChannelType { return types.ChannelAnthropic }

func (f *AnthropicFormatter) ValidateConfig(cfg *types.ChannelConfig) error {
	return validateCommon(cfg)
}

type antBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`
	Signature string         `json:"signature,omitempty"`
	Data      string         `json:"data,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   any            `json:"content,omitempty"`
}

type antUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type antResponse struct {
	Model      string     `json:"model"`
	Content    []antBlock `json:"content"`
	StopReason string     `json:"stop_reason"`
	Usage      *antUsage  `json:"usage"`
}

// antStreamEvent covers every Messages stream event shape.
type antStreamEvent struct {
	Type    string `json:"type"`
	Index   *int   `json:"index,omitempty"`
	Message *struct {
		Model string    `json:"model"`
		Usage *antUsage `json:"usage"`
	} `json:"message,omitempty"`
	ContentBlock *antBlock `json:"content_block,omitempty"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		Thinking    string `json:"thinking,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		Signature   string `json:"signature,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *antUsage `json:"usage,omitempty"`
}

func (f *AnthropicFormatter) BuildRequest(in *BuildInput) (*types.HTTPRequest, error) {
	cfg := in.Config

	var system string
	var messages []map[string]any

	for _, msg := range in.History {
		if msg.Role == "system" {
			for _, p := range msg.Parts {
				if p.Kind == types.PartText {
					system += p.Text
				}
			}
			continue
		}

		var blocks []antBlock
		for _, p := range msg.Parts {
			switch p.Kind {
			case types.PartText:
				if p.Thought {
					b := antBlock{Type: "thinking", Thinking: p.Text}
					if sig, ok := p.ThoughtSignatures[string(types.ChannelAnthropic)]; ok {
						b.Signature = sig
					}
					blocks = append(blocks, b)
				} else {
					blocks = append(blocks, antBlock{Type: "text", Text: p.Text})
				}
			case types.PartRedactedThinking:
				blocks = append(blocks, antBlock{Type: "redacted_thinking", Data: p.RedactedData})
			case types.PartFunctionCall:
				if msg.Role == "tool" {
					var result any
					if p.Args != nil {
						result = p.Args
					}
					blocks = append(blocks, antBlock{Type: "tool_result", ToolUseID: p.CallID, Content: result})
					continue
				}
				input := p.Args
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, antBlock{Type: "tool_use", ID: p.CallID, Name: p.Name, Input: input})
			}
		}
		if len(blocks) == 0 {
			continue
		}

		role := msg.Role
		if role == "tool" {
			role = "user"
		}
		messages = append(messages, map[string]any{"role": role, "content": blocks})
	}

	body := map[string]any{
		"model":      cfg.Model,
		"max_tokens": anthropicMaxTokens,
		"messages":   messages,
	}
	if system != "" {
		body["system"] = system
	}
	if in.Stream {
		body["stream"] = true
	}
	if len(in.Tools) > 0 && nativeTools(cfg) {
		tools := make([]map[string]any, 0, len(in.Tools))
		for _, t := range in.Tools {
			tool := map[string]any{"name": t.Name, "description": t.Description}
			if len(t.Parameters) > 0 {
				tool["input_schema"] = json.RawMessage(t.Parameters)
			}
			tools = append(tools, tool)
		}
		body["tools"] = tools
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, types.WrapError(types.ErrValidation, err, "encoding anthropic request")
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultAnthropicBaseURL
	}

	return &types.HTTPRequest{
		Method: http.MethodPost,
		URL:    base + "/v1/messages",
		Headers: map[string]string{
			"Content-Type":      "application/json",
			"x-api-key":         cfg.APIKey,
			"anthropic-version": anthropicVersion,
		},
		Body:    raw,
		Timeout: cfg.Timeout(),
	}, nil
}

func (f *AnthropicFormatter) ParseResponse(body []byte) (*types.Content, error) {
	var resp antResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, parseErr(err, "anthropic response")
	}

	content := &types.Content{
		Role:         "assistant",
		ModelVersion: resp.Model,
		FinishReason: resp.StopReason,
		Usage:        convertAntUsage(resp.Usage),
	}
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			content.Parts = append(content.Parts, types.NewTextPart(b.Text, false))
		case "thinking":
			p := types.NewTextPart(b.Thinking, true)
			if b.Signature != "" {
				p.ThoughtSignatures = map[string]string{string(types.ChannelAnthropic): b.Signature}
			}
			content.Parts = append(content.Parts, p)
		case "redacted_thinking":
			content.Parts = append(content.Parts, &types.ContentPart{
				Kind:         types.PartRedactedThinking,
				RedactedData: b.Data,
			})
		case "tool_use":
			content.Parts = append(content.Parts, types.NewFunctionCallPart(b.Name, b.Input, b.ID))
		}
	}
	return content, nil
}

func (f *AnthropicFormatter) ParseStreamChunk(raw json.RawMessage) (*types.StreamChunk, error) {
	var ev antStreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, parseErr(err, "anthropic stream event")
	}

	chunk := &types.StreamChunk{}
	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			chunk.ModelVersion = ev.Message.Model
			chunk.Usage = convertAntUsage(ev.Message.Usage)
		}

	case "content_block_start":
		if ev.ContentBlock == nil {
			break
		}
		switch ev.ContentBlock.Type {
		case "tool_use":
			chunk.Delta = []*types.ContentPart{{
				Kind:   types.PartFunctionCall,
				Name:   ev.ContentBlock.Name,
				CallID: ev.ContentBlock.ID,
				Index:  ev.Index,
			}}
		case "redacted_thinking":
			chunk.Delta = []*types.ContentPart{{
				Kind:         types.PartRedactedThinking,
				RedactedData: ev.ContentBlock.Data,
			}}
		case "text":
			if ev.ContentBlock.Text != "" {
				chunk.Delta = []*types.ContentPart{types.NewTextPart(ev.ContentBlock.Text, false)}
			}
		case "thinking":
			if ev.ContentBlock.Thinking != "" {
				chunk.Delta = []*types.ContentPart{types.NewTextPart(ev.ContentBlock.Thinking, true)}
			}
		}

	case "content_block_delta":
		if ev.Delta == nil {
			break
		}
		switch ev.Delta.Type {
		case "text_delta":
			chunk.Delta = []*types.ContentPart{types.NewTextPart(ev.Delta.Text, false)}
		case "thinking_delta":
			chunk.Delta = []*types.ContentPart{types.NewTextPart(ev.Delta.Thinking, true)}
		case "input_json_delta":
			chunk.Delta = []*types.ContentPart{{
				Kind:        types.PartFunctionCall,
				Index:       ev.Index,
				PartialArgs: ev.Delta.PartialJSON,
			}}
		case "signature_delta":
			chunk.Delta = []*types.ContentPart{{
				Kind:              types.PartThoughtSignature,
				ThoughtSignatures: map[string]string{string(types.ChannelAnthropic): ev.Delta.Signature},
			}}
		}

	case "message_delta":
		if ev.Delta != nil {
			chunk.FinishReason = ev.Delta.StopReason
		}
		chunk.Usage = convertAntUsage(ev.Usage)

	case "message_stop":
		chunk.Done = true
	}
	// ping and content_block_stop normalize to an empty chunk.
	return chunk, nil
}

func convertAntUsage(u *antUsage) *types.Usage {
	if u == nil {
		return nil
	}
	return &types.Usage{
		PromptTokens: u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.InputTokens + u.OutputTokens,
	}
}
