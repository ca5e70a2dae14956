package provider

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/modelrelay/modelrelay/pkg/types"
)

// OpenAIResponsesFormatter speaks the Responses API, which frames its stream
// as typed semantic events rather than message deltas.
type OpenAIResponsesFormatter struct{}

// NewOpenAIResponsesFormatter creates the Responses API formatter.
func NewOpenAIResponsesFormatter() *OpenAIResponsesFormatter {
	return &OpenAIResponsesFormatter{}
}

func (f *OpenAIResponsesFormatter) Type() types.ChannelType {
	return types.ChannelOpenAIResponses
}

func (f *OpenAIResponsesFormatter) ValidateConfig(cfg *types.ChannelConfig) error {
	return validateCommon(cfg)
}

type respOutputItem struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Content   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content,omitempty"`
	Summary []struct {
		Text string `json:"text"`
	} `json:"summary,omitempty"`
}

type respUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type respResponse struct {
	Model  string           `json:"model"`
	Status string           `json:"status"`
	Output []respOutputItem `json:"output"`
	Usage  *respUsage       `json:"usage"`
}

// respStreamEvent is the envelope of one Responses API stream event.
type respStreamEvent struct {
	Type        string          `json:"type"`
	Delta       string          `json:"delta,omitempty"`
	OutputIndex *int            `json:"output_index,omitempty"`
	Item        *respOutputItem `json:"item,omitempty"`
	Response    *respResponse   `json:"response,omitempty"`
}

func (f *OpenAIResponsesFormatter) BuildRequest(in *BuildInput) (*types.HTTPRequest, error) {
	cfg := in.Config

	var input []map[string]any
	for _, msg := range in.History {
		for _, p := range msg.Parts {
			switch p.Kind {
			case types.PartText:
				if p.Thought {
					continue
				}
				kind := "input_text"
				if msg.Role == "assistant" {
					kind = "output_text"
				}
				input = append(input, map[string]any{
					"role":    msg.Role,
					"content": []map[string]any{{"type": kind, "text": p.Text}},
				})
			case types.PartFunctionCall:
				if msg.Role == "tool" {
					output := ""
					if p.Args != nil {
						raw, err := json.Marshal(p.Args)
						if err == nil {
							output = string(raw)
						}
					}
					input = append(input, map[string]any{
						"type":    "function_call_output",
						"call_id": p.CallID,
						"output":  output,
					})
					continue
				}
				args := "{}"
				if p.Args != nil {
					raw, err := json.Marshal(p.Args)
					if err == nil {
						args = string(raw)
					}
				}
				input = append(input, map[string]any{
					"type":      "function_call",
					"call_id":   p.CallID,
					"name":      p.Name,
					"arguments": args,
				})
			}
		}
	}

	body := map[string]any{
		"model": cfg.Model,
		"input": input,
	}
	if in.Stream {
		body["stream"] = true
	}
	if len(in.Tools) > 0 && nativeTools(cfg) {
		tools := make([]map[string]any, 0, len(in.Tools))
		for _, t := range in.Tools {
			tool := map[string]any{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
			}
			if len(t.Parameters) > 0 {
				tool["parameters"] = json.RawMessage(t.Parameters)
			}
			tools = append(tools, tool)
		}
		body["tools"] = tools
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, types.WrapError(types.ErrValidation, err, "encoding responses request")
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultOpenAIBaseURL
	}

	return &types.HTTPRequest{
		Method: http.MethodPost,
		URL:    base + "/responses",
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + cfg.APIKey,
		},
		Body:    raw,
		Timeout: cfg.Timeout(),
	}, nil
}

func (f *OpenAIResponsesFormatter) ParseResponse(body []byte) (*types.Content, error) {
	var resp respResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, parseErr(err, "responses response")
	}

	content := &types.Content{
		Role:         "assistant",
		ModelVersion: resp.Model,
		FinishReason: resp.Status,
		Usage:        convertRespUsage(resp.Usage),
	}
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					content.Parts = append(content.Parts, types.NewTextPart(c.Text, false))
				}
			}
		case "function_call":
			args := map[string]any{}
			if item.Arguments != "" {
				_ = json.Unmarshal([]byte(item.Arguments), &args)
			}
			content.Parts = append(content.Parts, types.NewFunctionCallPart(item.Name, args, item.CallID))
		case "reasoning":
			for _, s := range item.Summary {
				if s.Text != "" {
					content.Parts = append(content.Parts, types.NewTextPart(s.Text, true))
				}
			}
		}
	}
	return content, nil
}

func (f *OpenAIResponsesFormatter) ParseStreamChunk(raw json.RawMessage) (*types.StreamChunk, error) {
	var ev respStreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, parseErr(err, "responses stream event")
	}

	chunk := &types.StreamChunk{}
	switch ev.Type {
	case "response.output_text.delta":
		chunk.Delta = []*types.ContentPart{types.NewTextPart(ev.Delta, false)}

	case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
		chunk.Delta = []*types.ContentPart{types.NewTextPart(ev.Delta, true)}

	case "response.output_item.added":
		if ev.Item != nil && ev.Item.Type == "function_call" {
			chunk.Delta = []*types.ContentPart{{
				Kind:        types.PartFunctionCall,
				Name:        ev.Item.Name,
				CallID:      ev.Item.CallID,
				Index:       ev.OutputIndex,
				PartialArgs: ev.Item.Arguments,
			}}
		}

	case "response.function_call_arguments.delta":
		chunk.Delta = []*types.ContentPart{{
			Kind:        types.PartFunctionCall,
			Index:       ev.OutputIndex,
			PartialArgs: ev.Delta,
		}}

	case "response.completed", "response.incomplete", "response.failed":
		chunk.Done = true
		if ev.Response != nil {
			chunk.ModelVersion = ev.Response.Model
			chunk.FinishReason = ev.Response.Status
			chunk.Usage = convertRespUsage(ev.Response.Usage)
		}
	}
	// Unknown event types are structural noise (deltas-done markers, item
	// lifecycle) and normalize to an empty chunk.
	return chunk, nil
}

func convertRespUsage(u *respUsage) *types.Usage {
	if u == nil {
		return nil
	}
	return &types.Usage{
		PromptTokens: u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.TotalTokens,
	}
}
