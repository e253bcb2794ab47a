package rtm

import "context"

// Bus carries events between nodes so a broadcast on one instance reaches
// clients connected anywhere. The forwarder feeds received events into the
// local hub.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	StartForwarder(ctx context.Context, onEvent func(Event)) error
	Close() error
}
