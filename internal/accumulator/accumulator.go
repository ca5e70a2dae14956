// Package accumulator reduces an ordered stream of decoded chunks into one
// coherent answer: it merges split text and thinking deltas, reassembles
// interleaved tool-call fragments by identifier, and extracts inline tool
// markup for channels that do not speak native function calling.
package accumulator

import (
	"encoding/json"
	"time"

	"github.com/modelrelay/modelrelay/pkg/types"
)

// Accumulator folds StreamChunks into a terminal Content. One accumulator is
// scoped to exactly one in-flight generation; it is not safe for concurrent
// use and never reorders its input.
type Accumulator struct {
	toolMode types.ToolMode

	parts             []*types.ContentPart
	done              bool
	usage             *types.Usage
	finishReason      string
	modelVersion      string
	thoughtSignatures map[string]string

	thinkingStart         time.Time
	thinkingDuration      time.Duration
	hasReceivedNormalText bool

	chunkCount     int
	firstChunkTime time.Time
	lastChunkTime  time.Time
	requestStart   time.Time

	now func() time.Time
}

// New creates an accumulator for one generation. toolMode decides whether
// inline tool-call markup in text deltas is rewritten into function-call
// parts; native function_call mode never rewrites text.
func New(toolMode types.ToolMode) *Accumulator {
	a := &Accumulator{toolMode: toolMode, now: time.Now}
	a.requestStart = a.now()
	return a
}

// Reset discards all accumulated state for reuse on a fresh attempt.
func (a *Accumulator) Reset() {
	mode, clock := a.toolMode, a.now
	*a = Accumulator{toolMode: mode, now: clock}
	a.requestStart = a.now()
}

// Done reports whether a terminal chunk was observed.
func (a *Accumulator) Done() bool { return a.done }

// HasNormalText reports whether any non-thought text delta has arrived;
// once true the thinking duration is frozen.
func (a *Accumulator) HasNormalText() bool { return a.hasReceivedNormalText }

// Add applies one chunk. Usage may legitimately arrive in a later,
// otherwise-empty chunk after done was already set; it is still captured.
func (a *Accumulator) Add(chunk *types.StreamChunk) {
	now := a.now()
	a.chunkCount++
	if a.firstChunkTime.IsZero() {
		a.firstChunkTime = now
	}
	a.lastChunkTime = now

	for _, part := range chunk.Delta {
		a.addPart(part)
	}

	if chunk.Usage != nil {
		if a.usage == nil {
			a.usage = &types.Usage{}
		}
		a.usage.Merge(chunk.Usage)
	}
	if chunk.FinishReason != "" {
		a.finishReason = chunk.FinishReason
	}
	if chunk.ModelVersion != "" {
		a.modelVersion = chunk.ModelVersion
	}
	if chunk.Done {
		a.done = true
	}

	if a.toolMode == types.ToolModeXML || a.toolMode == types.ToolModeJSON {
		a.extractInlineToolCalls()
	}
}

// addPart routes one delta part: text parts merge into an adjacent text part
// of the same thought flavor, function-call fragments reassemble by
// identifier, everything else passes through in order.
func (a *Accumulator) addPart(part *types.ContentPart) {
	if len(part.ThoughtSignatures) > 0 {
		if a.thoughtSignatures == nil {
			a.thoughtSignatures = make(map[string]string)
		}
		for format, sig := range part.ThoughtSignatures {
			a.thoughtSignatures[format] = sig
		}
	}
	if part.Kind == types.PartThoughtSignature {
		// Signature carriers are folded into accumulator state; the final
		// Content re-emits them on a single synthetic part.
		return
	}

	if part.Kind == types.PartFunctionCall {
		a.addFunctionCall(part)
		return
	}

	if part.Kind != types.PartText {
		a.parts = append(a.parts, part.Clone())
		return
	}

	a.trackThinking(part)

	// Append into the preceding part when it is a text part of the same
	// thought flavor; a function call in between is a merge barrier.
	if n := len(a.parts); n > 0 {
		last := a.parts[n-1]
		if last.Kind == types.PartText && last.Thought == part.Thought {
			last.Text += part.Text
			return
		}
	}
	a.parts = append(a.parts, types.NewTextPart(part.Text, part.Thought))
}

// trackThinking maintains the thinking-duration latch: it starts when the
// first thought part arrives and freezes the first time normal text follows.
func (a *Accumulator) trackThinking(part *types.ContentPart) {
	if part.Thought {
		if a.thinkingStart.IsZero() {
			a.thinkingStart = a.now()
		}
		return
	}
	if !a.hasReceivedNormalText && !a.thinkingStart.IsZero() {
		a.thinkingDuration = a.now().Sub(a.thinkingStart)
	}
	a.hasReceivedNormalText = true
}

// addFunctionCall merges a fragment into an existing call or starts a new
// one. Candidates are searched in reverse; for each, index equality wins
// over id equality, and a fragment with neither identifier but with partial
// args only continues the most recently added part.
func (a *Accumulator) addFunctionCall(part *types.ContentPart) {
	lastIdx := len(a.parts) - 1
	for i := lastIdx; i >= 0; i-- {
		cand := a.parts[i]
		if cand.Kind != types.PartFunctionCall {
			continue
		}
		switch {
		case part.Index != nil && cand.Index != nil && *part.Index == *cand.Index:
		case part.CallID != "" && cand.CallID != "" && part.CallID == cand.CallID:
		case part.Index == nil && part.CallID == "" && part.PartialArgs != "" && i == lastIdx:
		default:
			continue
		}
		mergeFunctionCall(cand, part)
		return
	}

	fresh := part.Clone()
	if fresh.Args == nil && fresh.PartialArgs != "" {
		var args map[string]any
		if err := json.Unmarshal([]byte(fresh.PartialArgs), &args); err == nil {
			fresh.Args = args
		}
	}
	a.parts = append(a.parts, fresh)
}

// mergeFunctionCall folds an incoming fragment into an existing call part.
// Identifiers are filled in only when missing, never overwritten.
func mergeFunctionCall(existing, incoming *types.ContentPart) {
	if existing.Name == "" {
		existing.Name = incoming.Name
	}
	if existing.CallID == "" {
		existing.CallID = incoming.CallID
	}
	if existing.Index == nil && incoming.Index != nil {
		idx := *incoming.Index
		existing.Index = &idx
	}
	if len(incoming.ThoughtSignatures) > 0 {
		if existing.ThoughtSignatures == nil {
			existing.ThoughtSignatures = make(map[string]string)
		}
		for format, sig := range incoming.ThoughtSignatures {
			existing.ThoughtSignatures[format] = sig
		}
	}
	if incoming.Args != nil {
		existing.Args = incoming.Args
	}
	if incoming.PartialArgs != "" {
		existing.PartialArgs += incoming.PartialArgs
		// Incomplete JSON is expected mid-stream; parse failures are
		// swallowed and retried on the next fragment.
		var args map[string]any
		if err := json.Unmarshal([]byte(existing.PartialArgs), &args); err == nil {
			existing.Args = args
		}
	}
}

// Content extracts the terminal answer: streaming-only fields are stripped,
// empty non-thought text parts dropped, pending partial args given a final
// parse, and the accumulated thought signatures attached.
func (a *Accumulator) Content() *types.Content {
	parts := make([]*types.ContentPart, 0, len(a.parts))
	carriesSignatures := false

	for _, p := range a.parts {
		cp := p.Clone()
		if cp.Kind == types.PartFunctionCall {
			if cp.Args == nil && cp.PartialArgs != "" {
				var args map[string]any
				if err := json.Unmarshal([]byte(cp.PartialArgs), &args); err == nil {
					cp.Args = args
				}
			}
			cp.Index = nil
			cp.PartialArgs = ""
		}
		if cp.Kind == types.PartText && cp.Text == "" && !cp.Thought {
			continue
		}
		if len(cp.ThoughtSignatures) > 0 {
			carriesSignatures = true
		}
		parts = append(parts, cp)
	}

	if len(a.thoughtSignatures) > 0 && !carriesSignatures {
		sigs := make(map[string]string, len(a.thoughtSignatures))
		for format, sig := range a.thoughtSignatures {
			sigs[format] = sig
		}
		parts = append(parts, &types.ContentPart{
			Kind:              types.PartThoughtSignature,
			ThoughtSignatures: sigs,
		})
	}

	responseEnd := a.lastChunkTime
	if responseEnd.IsZero() {
		responseEnd = a.now()
	}

	content := &types.Content{
		Role:               "assistant",
		Parts:              parts,
		Usage:              a.usage,
		FinishReason:       a.finishReason,
		ModelVersion:       a.modelVersion,
		ChunkCount:         a.chunkCount,
		ThinkingDurationMs: a.thinkingDuration.Milliseconds(),
		ResponseDurationMs: responseEnd.Sub(a.requestStart).Milliseconds(),
	}
	if !a.firstChunkTime.IsZero() {
		content.StreamDurationMs = a.lastChunkTime.Sub(a.firstChunkTime).Milliseconds()
	}
	return content
}
