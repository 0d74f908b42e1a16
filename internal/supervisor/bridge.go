package supervisor

import (
	"context"

	"overseerd/internal/fsm"
	"overseerd/internal/subscriber"
)

// Bridge is the thin request/response adapter RPC handlers use: it turns
// a blocking method call into a Command submitted to the tick loop and
// waits for the loop's Reply, and it exposes the Subscriber registry
// directly for streaming status.
type Bridge struct {
	loop     *Loop
	registry *subscriber.Registry
}

// NewBridge constructs a Bridge over loop and registry.
func NewBridge(loop *Loop, registry *subscriber.Registry) *Bridge {
	return &Bridge{loop: loop, registry: registry}
}

// Control submits (ev, expr) to the tick loop and waits for its reply,
// respecting ctx cancellation both while enqueueing and while waiting.
func (b *Bridge) Control(ctx context.Context, ev fsm.Event, expr string) (map[string]fsm.Result, error) {
	reply := make(chan Reply, 1)
	cmd := Command{Event: ev, Expr: expr, Reply: reply}

	if err := b.loop.Submit(ctx, cmd); err != nil {
		return nil, err
	}

	select {
	case r := <-reply:
		return r.Results, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers a new status-stream subscriber.
func (b *Bridge) Subscribe() *subscriber.Subscriber {
	return b.registry.Register()
}

// Unsubscribe removes s, e.g. once its RPC handler observes the client
// disconnecting.
func (b *Bridge) Unsubscribe(s *subscriber.Subscriber) {
	b.registry.Unregister(s)
}
