package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/civa-shell/irfc/pkg/locator"
)

// Evaluator dispatches sources to frontends by extension.
type Evaluator struct {
	registry *Registry
	timeout  time.Duration
	logger   zerolog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRegistry replaces the default frontend registry.
func WithRegistry(r *Registry) Option {
	return func(e *Evaluator) {
		e.registry = r
	}
}

// WithTimeout bounds the evaluation of a single source.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		e.timeout = d
	}
}

// WithLogger sets the logger used for per-source debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = l
	}
}

// New creates an evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		registry: DefaultRegistry(),
		timeout:  30 * time.Second, // Default timeout
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the frontend registry.
func (e *Evaluator) Registry() *Registry {
	return e.registry
}

// Evaluate turns a single source into a tree. It never reads anything but
// src.Content.
func (e *Evaluator) Evaluate(ctx context.Context, src locator.ConfigSource) (*Tree, error) {
	frontend, ok := e.registry.Lookup(src.Ext)
	if !ok {
		return nil, &Error{
			Kind:    SyntaxError,
			Source:  src.Rel,
			Message: fmt.Sprintf("no frontend for extension %q", src.Ext),
		}
	}

	evalCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	tree, err := frontend.Evaluate(evalCtx, src)
	e.logger.Debug().
		Str("source", src.Rel).
		Str("format", frontend.Name()).
		Dur("duration", time.Since(start)).
		Bool("ok", err == nil).
		Msg("Evaluated source")

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if evalCtx.Err() != nil {
			return nil, &Error{
				Kind:    ForbiddenOperation,
				Source:  src.Rel,
				Message: fmt.Sprintf("evaluation timeout after %v", e.timeout),
			}
		}
		return nil, err
	}
	return tree, nil
}
