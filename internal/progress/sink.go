package progress

import "context"

// Sink receives batches in emission order. The hub calls Consume from a single
// goroutine under its SinkTimeout and calls Close once during shutdown.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}
