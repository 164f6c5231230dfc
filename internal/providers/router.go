// Package providers wires the vendor adapters behind a single routing
// surface with deterministic provider selection, retry, and fallback.
package providers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"modelrelay/internal/core"
	"modelrelay/internal/registry"
)

const (
	// DefaultRetryAttempts is the total number of invokes per model.
	DefaultRetryAttempts = 3
	// DefaultRetryBaseDelay is multiplied by the attempt number between
	// retries (linear backoff).
	DefaultRetryBaseDelay = 500 * time.Millisecond
)

// Config tunes the routing engine.
type Config struct {
	// RetryAttempts is the total invokes per model before giving up on it.
	RetryAttempts int
	// RetryBaseDelay is the backoff unit; the delay before attempt n+1 is
	// RetryBaseDelay * n.
	RetryBaseDelay time.Duration
	// FallbackModels are tried in order when the requested model is
	// unavailable or its retry budget is exhausted.
	FallbackModels []string
}

func (c Config) withDefaults() Config {
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	return c
}

// Hooks receives routing events. The metrics package implements it;
// a nil Hooks disables observation.
type Hooks interface {
	// ObserveAttempt is called after every adapter invoke, err nil on success.
	ObserveAttempt(vendor core.Vendor, model string, err error)
	// ObserveFallback is called when routing moves to a fallback model.
	ObserveFallback(from, to string)
}

// Result describes a completed routed call.
type Result struct {
	Response *core.ChatResponse
	// Attempts is the total number of adapter invokes, across all models.
	Attempts int
	// Model is the model that produced the response; differs from the
	// requested model when a fallback served it.
	Model  string
	Vendor core.Vendor
}

// Router selects an adapter for each request and drives retry and
// fallback. Selection is deterministic: adapters are consulted in the
// order they were registered, and the first one that supports the model
// wins. Safe for concurrent use.
type Router struct {
	registry *registry.Registry
	adapters []core.Adapter
	cfg      Config
	hooks    Hooks
	logger   *slog.Logger

	// sleep is replaced in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRouter builds a router over the given adapters. Adapter order is
// the provider priority order.
func NewRouter(reg *registry.Registry, adapters []core.Adapter, cfg Config, hooks Hooks) *Router {
	return &Router{
		registry: reg,
		adapters: adapters,
		cfg:      cfg.withDefaults(),
		hooks:    hooks,
		logger:   slog.Default().With("component", "router"),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs a synchronous generation through the routing engine.
func (r *Router) Execute(ctx context.Context, req *core.ChatRequest) (*Result, error) {
	var resp *core.ChatResponse
	res, err := r.route(ctx, req, func(ctx context.Context, a core.Adapter, mreq *core.ChatRequest) error {
		var ierr error
		resp, ierr = a.Generate(ctx, mreq)
		return ierr
	})
	if err != nil {
		return nil, err
	}
	res.Response = resp
	return res, nil
}

// Generate implements core.Generator.
func (r *Router) Generate(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	res, err := r.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Response, nil
}

// StreamGenerate implements core.Generator. Retry and fallback apply to
// establishing the stream; once the first chunk can flow, failures
// surface on the stream itself and are not re-routed.
func (r *Router) StreamGenerate(ctx context.Context, req *core.ChatRequest) (*core.Stream, error) {
	var stream *core.Stream
	_, err := r.route(ctx, req, func(ctx context.Context, a core.Adapter, mreq *core.ChatRequest) error {
		var ierr error
		stream, ierr = a.StreamGenerate(ctx, mreq)
		return ierr
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

type invokeFunc func(ctx context.Context, a core.Adapter, req *core.ChatRequest) error

func (r *Router) route(ctx context.Context, req *core.ChatRequest, invoke invokeFunc) (*Result, error) {
	if err := r.registry.ValidateRequest(req); err != nil {
		return nil, err
	}

	primary := req.Options.Model
	attempts := 0
	tried := make(map[string]bool)
	var lastErr error

	for _, model := range r.candidates(primary) {
		if tried[model] {
			continue
		}
		tried[model] = true

		desc, err := r.registry.Describe(model)
		if err != nil {
			if model == primary {
				return nil, err
			}
			r.logger.Warn("skipping unknown fallback model", "model", model)
			continue
		}

		adapter := r.selectAdapter(desc)
		if adapter == nil {
			if model == primary {
				return nil, core.Errorf(core.CodeNoProviderConfigured,
					"no provider configured for model %s", model)
			}
			r.logger.Warn("no provider for fallback model", "model", model)
			continue
		}

		if model != primary {
			r.logger.Info("falling back", "from", primary, "to", model, "vendor", adapter.Vendor())
			if r.hooks != nil {
				r.hooks.ObserveFallback(primary, model)
			}
		}

		err = r.invokeWithRetry(ctx, adapter, req.WithModel(model), &attempts, invoke)
		if err == nil {
			return &Result{Attempts: attempts, Model: model, Vendor: adapter.Vendor()}, nil
		}
		lastErr = err

		// Unavailable models and exhausted retryable errors both move on
		// to the next candidate; terminal errors surface immediately.
		var ge *core.Error
		if !errors.As(err, &ge) || !(ge.TriggersFallback() || ge.Retryable()) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// candidates returns the requested model followed by the configured
// fallback chain.
func (r *Router) candidates(primary string) []string {
	out := make([]string, 0, 1+len(r.cfg.FallbackModels))
	out = append(out, primary)
	out = append(out, r.cfg.FallbackModels...)
	return out
}

// selectAdapter returns the first registered adapter that supports the
// model, or nil.
func (r *Router) selectAdapter(desc core.ModelDescriptor) core.Adapter {
	for _, a := range r.adapters {
		if a.Supports(desc) {
			return a
		}
	}
	return nil
}

// invokeWithRetry invokes the adapter up to RetryAttempts times total,
// backing off linearly between retries. Only retryable errors re-invoke;
// everything else surfaces immediately.
func (r *Router) invokeWithRetry(ctx context.Context, adapter core.Adapter, req *core.ChatRequest, attempts *int, invoke invokeFunc) error {
	for attempt := 1; ; attempt++ {
		*attempts++
		err := invoke(ctx, adapter, req)
		if r.hooks != nil {
			r.hooks.ObserveAttempt(adapter.Vendor(), req.Options.Model, err)
		}
		if err == nil {
			return nil
		}

		ge := core.AsError(err)
		if !ge.Retryable() || attempt >= r.cfg.RetryAttempts {
			return ge
		}

		delay := r.cfg.RetryBaseDelay * time.Duration(attempt)
		r.logger.Warn("retrying upstream call",
			"vendor", adapter.Vendor(), "model", req.Options.Model,
			"attempt", attempt, "delay", delay, "error", ge)
		if serr := r.sleep(ctx, delay); serr != nil {
			return core.AsError(serr)
		}
	}
}
