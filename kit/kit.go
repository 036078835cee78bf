// Package kit holds the small cross-transport plumbing shared by quell's
// serving surfaces: the Endpoint shape, middleware chaining, request-scoped
// context values and the MCP tool adapter.
package kit

import "context"

// Endpoint is a typed request/response function, the unit every transport
// (HTTP, MCP) adapts to.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares left-to-right: the first middleware is the
// outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
