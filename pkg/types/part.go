package types

import "encoding/json"

// PartKind discriminates the variants of a ContentPart.
type PartKind string

const (
	PartText             PartKind = "text"
	PartFunctionCall     PartKind = "functionCall"
	PartInlineData       PartKind = "inlineData"
	PartRedactedThinking PartKind = "redactedThinking"
	PartThoughtSignature PartKind = "thoughtSignature"
)

// ContentPart is one element of a message or streaming delta. It is a tagged
// union: exactly one variant's fields are populated, all others are absent.
type ContentPart struct {
	Kind PartKind `json:"kind"`

	// Text variant. Thought marks provider-tagged reasoning content as
	// opposed to the user-facing answer.
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`

	// Function-call variant. Index and CallID are fragment-reassembly
	// identifiers assigned by the provider; PartialArgs is the streaming-only
	// accumulation buffer for the not-yet-complete JSON argument string.
	Name        string         `json:"name,omitempty"`
	Args        map[string]any `json:"args,omitempty"`
	CallID      string         `json:"callID,omitempty"`
	Index       *int           `json:"index,omitempty"`
	PartialArgs string         `json:"partialArgs,omitempty"`

	// Inline-data variant (base64 payload, e.g. generated images).
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`

	// Redacted-thinking variant: opaque provider blob replayed verbatim.
	RedactedData string `json:"redactedData,omitempty"`

	// Thought signatures keyed by provider format. May ride on a text or
	// function-call part, or on a dedicated carrier part.
	ThoughtSignatures map[string]string `json:"thoughtSignatures,omitempty"`
}

// IsText reports whether the part carries text content.
func (p *ContentPart) IsText() bool {
	return p.Kind == PartText
}

// IsFunctionCall reports whether the part is a function-call fragment.
func (p *ContentPart) IsFunctionCall() bool {
	return p.Kind == PartFunctionCall
}

// NewTextPart creates a text part.
func NewTextPart(text string, thought bool) *ContentPart {
	return &ContentPart{Kind: PartText, Text: text, Thought: thought}
}

// NewFunctionCallPart creates a function-call part with parsed arguments.
func NewFunctionCallPart(name string, args map[string]any, callID string) *ContentPart {
	return &ContentPart{Kind: PartFunctionCall, Name: name, Args: args, CallID: callID}
}

// Clone returns a deep copy of the part.
func (p *ContentPart) Clone() *ContentPart {
	cp := *p
	if p.Index != nil {
		idx := *p.Index
		cp.Index = &idx
	}
	if p.Args != nil {
		raw, err := json.Marshal(p.Args)
		if err == nil {
			var args map[string]any
			if json.Unmarshal(raw, &args) == nil {
				cp.Args = args
			}
		}
	}
	if p.ThoughtSignatures != nil {
		sigs := make(map[string]string, len(p.ThoughtSignatures))
		for k, v := range p.ThoughtSignatures {
			sigs[k] = v
		}
		cp.ThoughtSignatures = sigs
	}
	return &cp
}

// IntPtr returns a pointer to v. Convenience for ContentPart.Index.
func IntPtr(v int) *int { return &v }
