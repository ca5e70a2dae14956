// Package provider binds each channel type to a Formatter that speaks the
// vendor's wire protocol: building HTTP requests, parsing blocking
// responses, and normalizing streaming events into StreamChunks. The
// dispatcher and accumulator depend only on this contract plus the
// normalized shapes in pkg/types.
package provider

import (
	"encoding/json"

	"github.com/modelrelay/modelrelay/pkg/types"
)

// BuildInput is everything a formatter needs to build one request.
type BuildInput struct {
	Config  *types.ChannelConfig
	History []types.Message
	Tools   []types.Declaration
	Stream  bool
}

// Formatter adapts the uniform generate contract to one provider's API.
//
// Error mapping: BuildRequest failures surface as validation errors,
// ParseResponse/ParseStreamChunk failures as parse errors. A stream-chunk
// parse failure does not invalidate chunks already yielded.
type Formatter interface {
	// Type returns the channel type this formatter serves.
	Type() types.ChannelType

	// ValidateConfig checks the channel config carries what this provider
	// needs (credential, model).
	ValidateConfig(cfg *types.ChannelConfig) error

	// BuildRequest builds the provider-specific HTTP request. The result is
	// reused verbatim across retry attempts.
	BuildRequest(in *BuildInput) (*types.HTTPRequest, error)

	// ParseResponse decodes a blocking response body into a Content.
	ParseResponse(body []byte) (*types.Content, error)

	// ParseStreamChunk normalizes one decoded wire event into a StreamChunk.
	ParseStreamChunk(raw json.RawMessage) (*types.StreamChunk, error)
}

// nativeTools reports whether the channel offers tools through the
// provider's function-calling API. In xml/json tool modes the declarations
// ride in the prompt instead and the wire request carries none.
func nativeTools(cfg *types.ChannelConfig) bool {
	return cfg.EffectiveToolMode() == types.ToolModeFunctionCall
}

// validateCommon covers the fields every provider requires.
func validateCommon(cfg *types.ChannelConfig) error {
	if cfg.APIKey == "" {
		return types.NewRequestError(types.ErrValidation, "channel %s: missing API key", cfg.ID)
	}
	if cfg.Model == "" {
		return types.NewRequestError(types.ErrValidation, "channel %s: missing model", cfg.ID)
	}
	return nil
}

func parseErr(err error, what string) error {
	return types.WrapError(types.ErrParse, err, "decoding %s", what)
}
