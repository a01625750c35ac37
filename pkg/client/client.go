// Package client is the high-level entry point: one Client wraps a backend
// and offers every operation in a blocking and a non-blocking form. Both
// forms run on the same execution engine, so Get and GetAsync share
// semantics exactly; the async twin just hands back a pending handle.
package client

import (
	"context"
	"log/slog"
	"time"

	"objstack/pkg/engine"
	"objstack/pkg/metrics"
	"objstack/pkg/store"
)

// Client wraps a store.Backend with the execution engine, logging and
// optional instrumentation.
type Client struct {
	backend store.Backend
	engine  *engine.Engine
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option customizes a Client.
type Option func(*Client)

// WithEngine runs operations on a dedicated engine instead of the shared
// default.
func WithEngine(e *engine.Engine) Option {
	return func(c *Client) { c.engine = e }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New wraps a backend.
func New(backend store.Backend, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		engine:  engine.Default(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the wrapped backend.
func (c *Client) Backend() store.Backend { return c.backend }

// run executes op on the engine and blocks for its result.
func run[T any](c *Client, ctx context.Context, name string, op func(context.Context) (T, error)) (T, error) {
	return engine.Run(c.engine, ctx, instrumented(c, name, op))
}

// submit hands op to the engine and returns the pending handle.
func submit[T any](c *Client, ctx context.Context, name string, op func(context.Context) (T, error)) *engine.Pending[T] {
	return engine.Go(c.engine, ctx, instrumented(c, name, op))
}

func instrumented[T any](c *Client, name string, op func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		start := time.Now()
		done := c.metrics.TrackInFlight()
		v, err := op(ctx)
		done()
		c.metrics.Observe(name, c.backend.Scheme(), start, err)
		if err != nil {
			c.log.Debug("operation failed", "op", name, "scheme", c.backend.Scheme(), "error", err)
		}
		return v, err
	}
}
