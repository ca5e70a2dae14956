package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelrelay/modelrelay/pkg/types"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiFormatter speaks the Gemini generateContent API. Streaming uses
// ?alt=sse framing; without it Gemini delivers a bare incrementally-written
// JSON array, which the stream buffer parser also understands.
type GeminiFormatter struct{}

// NewGeminiFormatter creates the Gemini formatter.
func NewGeminiFormatter() *GeminiFormatter { return &GeminiFormatter{} }

func (f *GeminiFormatter) Type() types.ChannelType { return types.ChannelGemini }

func (f *GeminiFormatter) ValidateConfig(cfg *types.ChannelConfig) error {
	return validateCommon(cfg)
}

type geminiPart struct {
	Text             string          `json:"text,omitempty"`
	Thought          bool            `json:"thought,omitempty"`
	ThoughtSignature string          `json:"thoughtSignature,omitempty"`
	FunctionCall     *geminiFuncCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResp `json:"functionResponse,omitempty"`
	InlineData       *geminiBlob     `json:"inlineData,omitempty"`
}

type geminiFuncCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFuncResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *geminiUsage `json:"usageMetadata"`
	ModelVersion  string       `json:"modelVersion"`
}

func (f *GeminiFormatter) BuildRequest(in *BuildInput) (*types.HTTPRequest, error) {
	cfg := in.Config

	var contents []geminiContent
	var system *geminiContent

	for _, msg := range in.History {
		parts := make([]geminiPart, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			switch p.Kind {
			case types.PartText:
				gp := geminiPart{Text: p.Text, Thought: p.Thought}
				if sig, ok := p.ThoughtSignatures[string(types.ChannelGemini)]; ok {
					gp.ThoughtSignature = sig
				}
				parts = append(parts, gp)
			case types.PartFunctionCall:
				parts = append(parts, geminiPart{FunctionCall: &geminiFuncCall{Name: p.Name, Args: p.Args}})
			case types.PartInlineData:
				parts = append(parts, geminiPart{InlineData: &geminiBlob{MimeType: p.MimeType, Data: p.Data}})
			case types.PartThoughtSignature:
				if sig, ok := p.ThoughtSignatures[string(types.ChannelGemini)]; ok && len(parts) > 0 {
					parts[len(parts)-1].ThoughtSignature = sig
				}
			}
		}
		if len(parts) == 0 {
			continue
		}

		switch msg.Role {
		case "system":
			system = &geminiContent{Parts: parts}
		case "assistant":
			contents = append(contents, geminiContent{Role: "model", Parts: parts})
		case "tool":
			// Tool results travel as functionResponse parts under the user role.
			respParts := make([]geminiPart, 0, len(msg.Parts))
			for _, p := range msg.Parts {
				switch p.Kind {
				case types.PartFunctionCall:
					respParts = append(respParts, geminiPart{FunctionResponse: &geminiFuncResp{Name: p.Name, Response: p.Args}})
				case types.PartText:
					respParts = append(respParts, geminiPart{Text: p.Text})
				}
			}
			contents = append(contents, geminiContent{Role: "user", Parts: respParts})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: parts})
		}
	}

	body := map[string]any{"contents": contents}
	if system != nil {
		body["systemInstruction"] = system
	}
	if len(in.Tools) > 0 && nativeTools(cfg) {
		decls := make([]map[string]any, 0, len(in.Tools))
		for _, t := range in.Tools {
			decl := map[string]any{"name": t.Name, "description": t.Description}
			if len(t.Parameters) > 0 {
				decl["parameters"] = json.RawMessage(t.Parameters)
			}
			decls = append(decls, decl)
		}
		body["tools"] = []map[string]any{{"functionDeclarations": decls}}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, types.WrapError(types.ErrValidation, err, "encoding gemini request")
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultGeminiBaseURL
	}
	verb := "generateContent"
	query := ""
	if in.Stream {
		verb = "streamGenerateContent"
		query = "?alt=sse"
	}

	return &types.HTTPRequest{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/v1beta/models/%s:%s%s", base, cfg.Model, verb, query),
		Headers: map[string]string{
			"Content-Type":   "application/json",
			"x-goog-api-key": cfg.APIKey,
		},
		Body:    raw,
		Timeout: cfg.Timeout(),
	}, nil
}

func (f *GeminiFormatter) ParseResponse(body []byte) (*types.Content, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, parseErr(err, "gemini response")
	}
	if len(resp.Candidates) == 0 {
		return nil, types.NewRequestError(types.ErrParse, "gemini response has no candidates")
	}

	cand := resp.Candidates[0]
	content := &types.Content{
		Role:         "assistant",
		Parts:        convertGeminiParts(cand.Content.Parts),
		FinishReason: cand.FinishReason,
		ModelVersion: resp.ModelVersion,
		Usage:        convertGeminiUsage(resp.UsageMetadata),
	}
	return content, nil
}

func (f *GeminiFormatter) ParseStreamChunk(raw json.RawMessage) (*types.StreamChunk, error) {
	var resp geminiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, parseErr(err, "gemini stream chunk")
	}

	chunk := &types.StreamChunk{
		Usage:        convertGeminiUsage(resp.UsageMetadata),
		ModelVersion: resp.ModelVersion,
	}
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		chunk.Delta = convertGeminiParts(cand.Content.Parts)
		chunk.FinishReason = cand.FinishReason
		chunk.Done = cand.FinishReason != ""
	}
	return chunk, nil
}

func convertGeminiParts(parts []geminiPart) []*types.ContentPart {
	out := make([]*types.ContentPart, 0, len(parts))
	for _, gp := range parts {
		var p *types.ContentPart
		switch {
		case gp.FunctionCall != nil:
			p = &types.ContentPart{
				Kind: types.PartFunctionCall,
				Name: gp.FunctionCall.Name,
				Args: gp.FunctionCall.Args,
			}
		case gp.InlineData != nil:
			p = &types.ContentPart{
				Kind:     types.PartInlineData,
				MimeType: gp.InlineData.MimeType,
				Data:     gp.InlineData.Data,
			}
		default:
			p = types.NewTextPart(gp.Text, gp.Thought)
		}
		if gp.ThoughtSignature != "" {
			p.ThoughtSignatures = map[string]string{string(types.ChannelGemini): gp.ThoughtSignature}
		}
		out = append(out, p)
	}
	return out
}

func convertGeminiUsage(u *geminiUsage) *types.Usage {
	if u == nil {
		return nil
	}
	return &types.Usage{
		PromptTokens:   u.PromptTokenCount,
		OutputTokens:   u.CandidatesTokenCount,
		ThoughtsTokens: u.ThoughtsTokenCount,
		TotalTokens:    u.TotalTokenCount,
	}
}
