package notify

import "context"

// NopPublisher discards every event. It is the default publisher so
// embedders without a broker run with zero fan-out overhead.
type NopPublisher struct{}

func (NopPublisher) Publish(_ context.Context, _ Event) error { return nil }

func (NopPublisher) Close() error { return nil }
