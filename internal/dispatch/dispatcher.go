// Package dispatch turns one logical generate call into zero or more HTTP
// attempts against the selected channel: it resolves configuration fresh per
// call, selects the channel's formatter, assembles tool declarations, and
// runs a retry state machine around the transport with cooperative
// cancellation threaded through attempts, delays and notifications.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/modelrelay/modelrelay/internal/event"
	"github.com/modelrelay/modelrelay/internal/provider"
	"github.com/modelrelay/modelrelay/pkg/types"
)

// ConfigSource resolves channel configuration. Implementations must return
// a fresh snapshot on every call; the dispatcher never caches configs across
// calls.
type ConfigSource interface {
	Channel(id string) (*types.ChannelConfig, bool)
}

// ToolSource contributes tool declarations for a channel.
type ToolSource interface {
	DeclarationsFor(channelID string) []types.Declaration
}

// Dispatcher is the request dispatch and retry engine.
type Dispatcher struct {
	store     ConfigSource
	registry  *provider.Registry
	transport Transport
	tools     []ToolSource
	bus       *event.Bus
	logger    zerolog.Logger
}

// New creates a dispatcher. tools may be empty; bus may be nil when no one
// listens for retry progress.
func New(store ConfigSource, registry *provider.Registry, tr Transport, bus *event.Bus, logger zerolog.Logger, tools ...ToolSource) *Dispatcher {
	return &Dispatcher{
		store:     store,
		registry:  registry,
		transport: tr,
		tools:     tools,
		bus:       bus,
		logger:    logger,
	}
}

// preparedCall is the immutable per-call state shared by every attempt.
type preparedCall struct {
	cfg       *types.ChannelConfig
	formatter provider.Formatter
	request   *types.HTTPRequest
	attempts  int
}

// StreamEnabled resolves the streaming mode for a request: the request flag
// wins, then the channel preference, defaulting to blocking.
func (d *Dispatcher) StreamEnabled(req *types.GenerateRequest) (bool, error) {
	cfg, ok := d.store.Channel(req.ChannelID)
	if !ok || !cfg.Enabled {
		return false, types.NewRequestError(types.ErrConfig, "channel %s not found or disabled", req.ChannelID)
	}
	if req.Stream != nil {
		return *req.Stream, nil
	}
	return cfg.PreferStream, nil
}

// prepare runs the shared configuration/validation/build steps. The built
// request is reused verbatim across retry attempts.
func (d *Dispatcher) prepare(req *types.GenerateRequest, stream bool) (*preparedCall, error) {
	cfg, ok := d.store.Channel(req.ChannelID)
	if !ok || !cfg.Enabled {
		return nil, types.NewRequestError(types.ErrConfig, "channel %s not found or disabled", req.ChannelID)
	}

	if req.ModelOverride != "" {
		cfg = cfg.Clone()
		cfg.Model = req.ModelOverride
	}

	formatter, err := d.registry.Get(cfg.Type)
	if err != nil {
		return nil, err
	}
	if err := formatter.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	var tools []types.Declaration
	if !req.SkipTools {
		for _, src := range d.tools {
			tools = append(tools, src.DeclarationsFor(cfg.ID)...)
		}
	}

	httpReq, err := formatter.BuildRequest(&provider.BuildInput{
		Config:  cfg,
		History: req.History,
		Tools:   tools,
		Stream:  stream,
	})
	if err != nil {
		if types.KindOf(err) == "" {
			err = types.WrapError(types.ErrValidation, err, "building request for channel %s", cfg.ID)
		}
		return nil, err
	}

	return &preparedCall{
		cfg:       cfg,
		formatter: formatter,
		request:   httpReq,
		attempts:  cfg.MaxAttempts(req.SkipRetry),
	}, nil
}

// Generate runs the blocking path: at most attempts HTTP calls, one parsed
// Content on success.
func (d *Dispatcher) Generate(ctx context.Context, req *types.GenerateRequest) (*types.Content, error) {
	call, err := d.prepare(req, false)
	if err != nil {
		return nil, err
	}

	bo := newRetrySchedule(call.cfg)
	var lastErr error

	for attempt := 1; attempt <= call.attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}

		resp, err := d.transport.Execute(ctx, call.request)
		if err == nil && resp.Status != 200 {
			err = types.NewAPIError(resp.Status, string(resp.Body))
		}

		if err == nil {
			if attempt > 1 {
				d.publish(call.cfg, event.RetryEvent{Type: event.RetrySuccess, Attempt: attempt, MaxAttempts: call.attempts})
			}
			content, perr := call.formatter.ParseResponse(resp.Body)
			if perr != nil {
				// A parse failure terminates the call even when retry
				// attempts remain.
				return nil, perr
			}
			return content, nil
		}

		lastErr = err
		next, retry := d.nextAttempt(ctx, call, attempt, err, bo)
		if !retry {
			if next != nil {
				return nil, next
			}
			break
		}
	}

	return nil, terminalError(lastErr)
}

// nextAttempt applies the post-failure bookkeeping shared by both paths.
// It returns retry=true when the loop should continue; otherwise a non-nil
// error is an immediate terminal result (cancellation) and nil means fall
// through to the classified last error.
func (d *Dispatcher) nextAttempt(ctx context.Context, call *preparedCall, attempt int, attemptErr error, bo backoff.BackOff) (error, bool) {
	// Cancellation short-circuits all retry bookkeeping: no timer, no
	// notification.
	if types.KindOf(attemptErr) == types.ErrCancelled {
		return attemptErr, false
	}

	if !types.IsRetryable(attemptErr) || attempt == call.attempts {
		if attempt > 1 {
			d.publish(call.cfg, event.RetryEvent{
				Type:         event.RetryFailed,
				Attempt:      attempt,
				MaxAttempts:  call.attempts,
				Error:        attemptErr.Error(),
				ErrorDetails: errorDetails(attemptErr),
			})
		}
		return nil, false
	}

	if ctx.Err() != nil {
		return cancelled(ctx), false
	}

	delay := bo.NextBackOff()
	d.logger.Warn().
		Str("channel", call.cfg.ID).
		Int("attempt", attempt).
		Int("maxAttempts", call.attempts).
		Dur("nextRetryIn", delay).
		Err(attemptErr).
		Msg("attempt failed, retrying")

	d.publish(call.cfg, event.RetryEvent{
		Type:         event.RetryAttempt,
		Attempt:      attempt + 1,
		MaxAttempts:  call.attempts,
		Error:        attemptErr.Error(),
		ErrorDetails: errorDetails(attemptErr),
		NextRetryIn:  delay,
	})

	if err := sleep(ctx, delay); err != nil {
		return cancelled(ctx), false
	}
	return nil, true
}

func (d *Dispatcher) publish(cfg *types.ChannelConfig, ev event.RetryEvent) {
	if d.bus == nil {
		return
	}
	ev.ChannelID = cfg.ID
	d.bus.Publish(ev)
}

// newRetrySchedule builds the delay schedule between attempts: jittered
// exponential backoff seeded with the channel's configured interval. The
// attempt counter bounds the loop, not elapsed time.
func newRetrySchedule(cfg *types.ChannelConfig) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.Retry.Interval()
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0.5
	bo.Multiplier = 2.0
	bo.Reset()
	return bo
}

// sleep waits for the delay or the context, whichever fires first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cancelled(ctx context.Context) error {
	return types.WrapError(types.ErrCancelled, context.Cause(ctx), "generation cancelled")
}

// terminalError surfaces the last attempt's error, wrapping anything that is
// not already a domain error as a connectivity fault.
func terminalError(err error) error {
	if err == nil {
		return types.NewRequestError(types.ErrNetwork, "no attempt was made")
	}
	var re *types.RequestError
	if errors.As(err, &re) {
		return err
	}
	return types.WrapError(types.ErrNetwork, err, "request failed")
}

func errorDetails(err error) string {
	var re *types.RequestError
	if errors.As(err, &re) {
		return re.Details
	}
	return ""
}
