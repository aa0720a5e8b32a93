// Package eventbus publishes domain events to a message broker. The
// scheduler only produces events; downstream consumers (notifications,
// analytics) live in other services.
package eventbus

import (
	"context"
)

// Publisher sends raw payloads to the broker under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}
