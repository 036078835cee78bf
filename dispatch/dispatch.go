// Package dispatch routes inbound page actions ("applyCleanPreset",
// "startTweakMode", ...) to their handlers. Handlers are transport-agnostic
// byte functions, so the same registry serves the HTTP surface, the MCP tools
// and the browser binding without knowing which one called.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler is a transport-agnostic action function: JSON bytes in, JSON bytes
// out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// ErrActionNotFound is returned when Call targets an unregistered action.
type ErrActionNotFound struct {
	Action string
}

func (e *ErrActionNotFound) Error() string {
	return fmt.Sprintf("dispatch: unknown action: %s", e.Action)
}

// Registry maps action names to handlers. Thread-safe: registration usually
// happens at startup, but the page binding may call concurrently.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	mw       HandlerMiddleware
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMiddleware wraps every registered handler with the given middleware
// chain at call time.
func WithMiddleware(mw HandlerMiddleware) Option {
	return func(r *Registry) { r.mw = mw }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register binds an action name to a handler. Re-registering replaces the
// previous handler.
func (r *Registry) Register(action string, h Handler) {
	r.mu.Lock()
	r.handlers[action] = h
	r.mu.Unlock()
}

// Actions returns the registered action names, for introspection surfaces.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}

// Call dispatches one action. Unknown actions return ErrActionNotFound; the
// caller decides whether that is fatal (HTTP 404) or ignorable.
func (r *Registry) Call(ctx context.Context, action string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	h, ok := r.handlers[action]
	mw := r.mw
	r.mu.RUnlock()

	if !ok {
		return nil, &ErrActionNotFound{Action: action}
	}
	if mw != nil {
		h = mw(h)
	}
	r.logger.DebugContext(ctx, "dispatch: action", "action", action, "payload_bytes", len(payload))
	return h(ctx, payload)
}
