package types

// Usage holds token accounting reported by a provider. Streaming providers
// may report it piecemeal; Merge folds a later report into an earlier one.
type Usage struct {
	PromptTokens   int `json:"promptTokens,omitempty"`
	ThoughtsTokens int `json:"thoughtsTokens,omitempty"`
	OutputTokens   int `json:"outputTokens,omitempty"`
	TotalTokens    int `json:"totalTokens,omitempty"`
}

// Merge overwrites fields with any non-zero values from other.
func (u *Usage) Merge(other *Usage) {
	if other == nil {
		return
	}
	if other.PromptTokens > 0 {
		u.PromptTokens = other.PromptTokens
	}
	if other.ThoughtsTokens > 0 {
		u.ThoughtsTokens = other.ThoughtsTokens
	}
	if other.OutputTokens > 0 {
		u.OutputTokens = other.OutputTokens
	}
	if other.TotalTokens > 0 {
		u.TotalTokens = other.TotalTokens
	}
}

// StreamChunk is one decoded, provider-normalized streaming event. It is
// ephemeral: the accumulator consumes it immediately.
type StreamChunk struct {
	Delta        []*ContentPart `json:"delta,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
	ModelVersion string         `json:"modelVersion,omitempty"`
	Done         bool           `json:"done,omitempty"`
}

// Content is the terminal answer of one generation: the merged parts plus
// usage and timing metadata.
type Content struct {
	Role         string         `json:"role"`
	Parts        []*ContentPart `json:"parts"`
	Usage        *Usage         `json:"usage,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
	ModelVersion string         `json:"modelVersion,omitempty"`

	// Timing metrics, all in milliseconds.
	ThinkingDurationMs int64 `json:"thinkingDurationMs,omitempty"`
	ResponseDurationMs int64 `json:"responseDurationMs,omitempty"`
	StreamDurationMs   int64 `json:"streamDurationMs,omitempty"`

	ChunkCount int `json:"chunkCount,omitempty"`
}

// Message is one turn of conversation history.
type Message struct {
	Role  string         `json:"role"` // "user" | "assistant" | "system" | "tool"
	Parts []*ContentPart `json:"parts"`
}
