// Package logging is the structured logger every component receives at
// construction.
package logging

import "context"

// Logger takes key/value pairs after the message:
//
//	log.Info(ctx, "sweep finished", "inserted", n, "date", day)
type Logger interface {
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}
