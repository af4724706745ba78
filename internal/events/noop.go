package events

import "context"

// NoopPublisher discards events. Servers without a NATS URL use it, so
// live updates reach only the local SSE hub.
type NoopPublisher struct{}

// Publish reports only whether ctx is still live.
func (NoopPublisher) Publish(ctx context.Context, _ string, _ any) error { return ctx.Err() }

func (NoopPublisher) Close() error { return nil }
