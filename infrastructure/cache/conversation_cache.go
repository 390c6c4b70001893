package cache

import (
	"context"
	"time"

	"canvassync/application/ports"
	"canvassync/domain/core/entities"
	"canvassync/pkg/errors"
)

// ConversationCache keeps chat transcripts by chat id so reopening a chat is instant
type ConversationCache struct {
	cache  *KeyedCache[[]entities.Message]
	reader ports.ConversationReader
	ttl    time.Duration
}

// NewConversationCache creates a transcript cache; a ttl of zero keeps transcripts until invalidated
func NewConversationCache(reader ports.ConversationReader, ttl time.Duration, opts ...Option) *ConversationCache {
	return &ConversationCache{
		cache:  NewKeyedCache[[]entities.Message]("conversations", opts...),
		reader: reader,
		ttl:    ttl,
	}
}

// Get returns the cached transcript
func (c *ConversationCache) Get(chatID string) ([]entities.Message, bool) {
	msgs, ok := c.cache.Get(chatID)
	if !ok {
		return nil, false
	}
	return copyMessages(msgs), true
}

// Has reports whether a transcript is cached
func (c *ConversationCache) Has(chatID string) bool {
	_, ok := c.cache.Entry(chatID)
	return ok
}

// Set replaces a cached transcript
func (c *ConversationCache) Set(chatID string, msgs []entities.Message) {
	c.cache.Set(chatID, copyMessages(msgs))
}

// Append adds messages to a cached transcript. Nothing is cached for a chat that was never loaded.
func (c *ConversationCache) Append(chatID string, msgs ...entities.Message) bool {
	current, ok := c.cache.Get(chatID)
	if !ok {
		return false
	}
	next := make([]entities.Message, 0, len(current)+len(msgs))
	next = append(next, current...)
	next = append(next, msgs...)
	c.cache.Set(chatID, next)
	return true
}

// Messages returns the transcript, fetching it once for concurrent callers
func (c *ConversationCache) Messages(ctx context.Context, chatID string) ([]entities.Message, error) {
	if chatID == "" {
		return nil, errors.NewValidationError("chat id is required")
	}
	msgs, err := c.cache.GetOrFetch(ctx, chatID, c.ttl, func(ctx context.Context, key string) ([]entities.Message, error) {
		return c.reader.GetMessages(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return copyMessages(msgs), nil
}

// Prefetch loads a transcript in the background unless it is already cached.
// The returned channel closes when the fetch, if any, has finished.
func (c *ConversationCache) Prefetch(ctx context.Context, chatID string) <-chan struct{} {
	if chatID == "" || c.Has(chatID) {
		return closedChan()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Messages(ctx, chatID)
	}()
	return done
}

// Invalidate drops one transcript
func (c *ConversationCache) Invalidate(chatID string) {
	c.cache.Delete(chatID)
}

// Clear drops every transcript
func (c *ConversationCache) Clear() {
	c.cache.Clear()
}

func copyMessages(msgs []entities.Message) []entities.Message {
	if msgs == nil {
		return nil
	}
	out := make([]entities.Message, len(msgs))
	copy(out, msgs)
	return out
}
