package tether

import (
	"context"
	"time"
)

// Clock supplies the current time for created_at/updated_at stamping.
type Clock interface {
	Now() time.Time
}

type clockKey struct{}

// WithClock returns a context that makes the engine stamp timestamps from c.
// Tests use this to pin time.
func WithClock(ctx context.Context, c Clock) context.Context {
	return context.WithValue(ctx, clockKey{}, c)
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// now returns the context clock's time, falling back to the wall clock.
func now(ctx context.Context) time.Time {
	if c, ok := ctx.Value(clockKey{}).(Clock); ok {
		return c.Now()
	}
	return time.Now()
}
