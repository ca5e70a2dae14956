package accumulator

import (
	"encoding/json"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/modelrelay/modelrelay/pkg/types"
)

// Inline tool-call delimiters for channels that emit tool invocations as
// markup inside ordinary text instead of structured deltas.
const (
	jsonCallStart = "<<<TOOL_CALL>>>"
	jsonCallEnd   = "<<<END_TOOL_CALL>>>"
	xmlCallStart  = "<tool_use>"
	xmlCallEnd    = "</tool_use>"
)

// jsonToolPayload is the body between JSON-mode delimiters.
type jsonToolPayload struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

// extractInlineToolCalls rewrites complete delimited tool invocations inside
// text parts into function-call parts, so an in-progress invocation can
// surface before the stream finishes. An unmatched start delimiter stays in
// the text buffer untouched until its end arrives.
func (a *Accumulator) extractInlineToolCalls() {
	start, end := jsonCallStart, jsonCallEnd
	if a.toolMode == types.ToolModeXML {
		start, end = xmlCallStart, xmlCallEnd
	}

	var out []*types.ContentPart
	changed := false
	for _, p := range a.parts {
		if p.Kind != types.PartText || !strings.Contains(p.Text, start) {
			out = append(out, p)
			continue
		}
		segments, ok := a.splitTextPart(p, start, end)
		if !ok {
			out = append(out, p)
			continue
		}
		changed = true
		out = append(out, segments...)
	}
	if changed {
		a.parts = out
	}
}

// splitTextPart cuts every complete delimiter pair out of one text part.
// Returns ok=false when no complete invocation was found.
func (a *Accumulator) splitTextPart(p *types.ContentPart, start, end string) ([]*types.ContentPart, bool) {
	var out []*types.ContentPart
	rest := p.Text
	extracted := false

	appendText := func(text string) {
		if s := strings.TrimSpace(text); s != "" {
			out = append(out, types.NewTextPart(s, p.Thought))
		}
	}

	for {
		i := strings.Index(rest, start)
		if i < 0 {
			break
		}
		j := strings.Index(rest[i+len(start):], end)
		if j < 0 {
			// Invocation still streaming in; leave the tail alone.
			break
		}

		payload := rest[i+len(start) : i+len(start)+j]
		literal := rest[i : i+len(start)+j+len(end)]
		appendText(rest[:i])
		rest = rest[i+len(start)+j+len(end):]

		if call, ok := a.parseInlinePayload(payload); ok {
			out = append(out, call)
			extracted = true
		} else {
			// Malformed payload stays visible as literal text.
			out = append(out, types.NewTextPart(literal, p.Thought))
		}
	}

	if !extracted {
		return nil, false
	}
	appendText(rest)
	return out, true
}

// parseInlinePayload decodes one delimited payload into a function-call
// part with a freshly generated id.
func (a *Accumulator) parseInlinePayload(payload string) (*types.ContentPart, bool) {
	var name string
	var args map[string]any

	switch a.toolMode {
	case types.ToolModeJSON:
		var body jsonToolPayload
		if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &body); err != nil || body.Tool == "" {
			return nil, false
		}
		name = body.Tool
		args = body.Parameters

	case types.ToolModeXML:
		name = xmlInner(payload, "name")
		if name == "" {
			return nil, false
		}
		if rawArgs := xmlInner(payload, "arguments"); rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return nil, false
			}
		}

	default:
		return nil, false
	}

	if args == nil {
		args = map[string]any{}
	}
	return types.NewFunctionCallPart(name, args, ulid.Make().String()), true
}

// xmlInner returns the trimmed text between <tag> and </tag>, or "".
func xmlInner(s, tag string) string {
	open, close := "<"+tag+">", "</"+tag+">"
	i := strings.Index(s, open)
	if i < 0 {
		return ""
	}
	j := strings.Index(s[i+len(open):], close)
	if j < 0 {
		return ""
	}
	return strings.TrimSpace(s[i+len(open) : i+len(open)+j])
}
