package ports

import (
	"context"
	"errors"

	"canvassync/domain/events"
)

// ErrQuotaExceeded is returned by Storage.Set when the medium is full
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Storage is a durable string key-value medium that survives restarts
type Storage interface {
	// Get returns the stored value and whether it was present
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores the value; it returns an error wrapping ErrQuotaExceeded when full
	Set(ctx context.Context, key, value string) error

	// Remove deletes the key; removing a missing key is not an error
	Remove(ctx context.Context, key string) error
}

// EventPublisher delivers domain events to observers
type EventPublisher interface {
	Publish(ctx context.Context, event events.DomainEvent) error
}
