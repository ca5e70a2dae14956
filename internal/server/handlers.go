package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/modelrelay/modelrelay/internal/accumulator"
	"github.com/modelrelay/modelrelay/pkg/types"
)

// ChannelSummary is the public view of a channel, credentials omitted.
type ChannelSummary struct {
	ID           string            `json:"id"`
	Type         types.ChannelType `json:"type"`
	Model        string            `json:"model"`
	Enabled      bool              `json:"enabled"`
	PreferStream bool              `json:"preferStream"`
	ToolMode     types.ToolMode    `json:"toolMode"`
}

// listChannels returns the configured channels.
func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	channels := s.store.Channels()
	out := make([]ChannelSummary, 0, len(channels))
	for _, ch := range channels {
		out = append(out, ChannelSummary{
			ID:           ch.ID,
			Type:         ch.Type,
			Model:        ch.Model,
			Enabled:      ch.Enabled,
			PreferStream: ch.PreferStream,
			ToolMode:     ch.EffectiveToolMode(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}

// generate runs a generation request, blocking or streaming depending on
// the request flag and the channel's preference.
func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(types.ErrValidation), "invalid request body: "+err.Error())
		return
	}
	if req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, string(types.ErrValidation), "channelID is required")
		return
	}

	stream, err := s.dispatcher.StreamEnabled(&req)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	if stream {
		s.generateStream(w, r, &req)
		return
	}

	content, err := s.dispatcher.Generate(r.Context(), &req)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

// generateStream relays stream chunks as SSE and finishes with the
// accumulated message.
func (s *Server) generateStream(w http.ResponseWriter, r *http.Request, req *types.GenerateRequest) {
	cfg, ok := s.store.Channel(req.ChannelID)
	if !ok {
		writeError(w, http.StatusBadRequest, string(types.ErrConfig), "unknown channel: "+req.ChannelID)
		return
	}

	result, err := s.dispatcher.GenerateStream(r.Context(), req)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	acc := accumulator.New(cfg.EffectiveToolMode())
	attempt := 0
	for ev := range result.Events() {
		if ev.Attempt > attempt {
			// A retried stream replays from its first byte.
			attempt = ev.Attempt
			acc.Reset()
		}
		acc.Add(ev.Chunk)
		if err := sse.writeEvent("chunk", ev); err != nil {
			s.logger.Debug().Err(err).Msg("client dropped stream")
			return
		}
	}

	if err := result.Err(); err != nil {
		sse.writeEvent("error", ErrorDetail{Code: string(types.KindOf(err)), Message: err.Error()})
		return
	}
	sse.writeEvent("message", acc.Content())
	sse.writeEvent("done", map[string]bool{"done": true})
}

// retryEvents streams dispatcher retry events over SSE.
func (s *Server) retryEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.bus.Subscribe(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := sse.writeHeartbeat(); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.writeEvent(string(ev.Type), ev); err != nil {
				return
			}
		}
	}
}
