// Package logging defines the structured logger the substrate components
// share. The store, session manager, sync engine and gateway all log
// through this interface, so the binary decides the backend once.
package logging

import "context"

// Logger logs structured key-value pairs with a context:
//
//	log.Info(ctx, "sync completed", "synced", n, "remaining", left)
type Logger interface {
	// Info logs routine lifecycle messages.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs unusual but recoverable conditions.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that carries the given key-value pairs
	// on every message.
	With(args ...any) Logger
}
