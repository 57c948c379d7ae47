package lsptypes

import (
	"context"
	"log/slog"

	slogctx "github.com/veqryn/slog-context"
)

// Dispatcher is the outgoing half of a connection: the generic primitives
// the typed request/notification surface is built on.
type Dispatcher interface {
	Call(ctx context.Context, method string, params, result any) error
	Notify(ctx context.Context, method string, params any) error
}

// Middleware wraps a Dispatcher, typically to add logging or tracing.
type Middleware func(next Dispatcher) Dispatcher

type dispatcherFuncs struct {
	call   func(ctx context.Context, method string, params, result any) error
	notify func(ctx context.Context, method string, params any) error
}

func (d dispatcherFuncs) Call(ctx context.Context, method string, params, result any) error {
	return d.call(ctx, method, params, result)
}

func (d dispatcherFuncs) Notify(ctx context.Context, method string, params any) error {
	return d.notify(ctx, method, params)
}

// ContextLogMiddleware tags the context with the server name and logs every
// outgoing request and notification.
func ContextLogMiddleware(name string) Middleware {
	return func(next Dispatcher) Dispatcher {
		return dispatcherFuncs{
			call: func(ctx context.Context, method string, params, result any) error {
				ctx = slogctx.Append(ctx, "server", name, "method", method)
				slog.DebugContext(ctx, "send request")
				return next.Call(ctx, method, params, result)
			},
			notify: func(ctx context.Context, method string, params any) error {
				ctx = slogctx.Append(ctx, "server", name, "method", method)
				slog.DebugContext(ctx, "send notification")
				return next.Notify(ctx, method, params)
			},
		}
	}
}

func chainMiddleware(d Dispatcher, mws ...Middleware) Dispatcher {
	for i := len(mws) - 1; i >= 0; i-- {
		d = mws[i](d)
	}
	return d
}
