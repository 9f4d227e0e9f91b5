// Package iocontext threads the command's stdio through the context, so
// tests can capture what a command prints without touching os.Stdout.
package iocontext

import (
	"context"
	"io"
	"os"
)

// IO is the stream set a command reads from and writes to.
type IO struct {
	Out    io.Writer // stdout
	ErrOut io.Writer // stderr
	In     io.Reader // stdin
}

// DefaultIO wires the process streams.
func DefaultIO() *IO {
	return &IO{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
		In:     os.Stdin,
	}
}

type ioKey struct{}

// WithIO attaches a stream set to the context.
func WithIO(ctx context.Context, io *IO) context.Context {
	return context.WithValue(ctx, ioKey{}, io)
}

// GetIO returns the context's stream set, falling back to the process
// streams when none was attached.
func GetIO(ctx context.Context) *IO {
	if io, ok := ctx.Value(ioKey{}).(*IO); ok && io != nil {
		return io
	}
	return DefaultIO()
}
