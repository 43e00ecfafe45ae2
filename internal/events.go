package internal

import (
	"context"
	"time"

	"github.com/crux-protocol/forkUniswapV3-EVM/eventbus"
)

// SetPublisher on the context
func SetPublisher(ctx context.Context, pub eventbus.EventBus) context.Context {
	return context.WithValue(ctx, PublisherKey, pub)
}

// GetPublisher from the context
func GetPublisher(ctx context.Context) eventbus.EventBus {
	pub, ok := ctx.Value(PublisherKey).(eventbus.EventBus)
	if !ok {
		return eventbus.NopBus
	}
	return pub
}

// PublishEvent publishes an event to the bus carried by the context
func PublishEvent(ctx context.Context, name string, args interface{}) {
	GetPublisher(ctx).Publish(eventbus.Event{
		Name: name,
		At:   time.Now(),
		Args: args,
	})
}

// SetRunID on the context
func SetRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

// GetRunID from the context, empty when no run is active
func GetRunID(ctx context.Context) string {
	id, _ := ctx.Value(RunIDKey).(string)
	return id
}
