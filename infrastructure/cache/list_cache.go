package cache

import (
	"context"
	"sync"
	"time"

	"canvassync/application/ports"
	"canvassync/domain/core/entities"
	"canvassync/pkg/errors"
	"canvassync/pkg/utils"
)

// ListQueryCache caches pages of a user's chat list under "<user>-<limit>" keys
type ListQueryCache struct {
	cache  *KeyedCache[entities.ChatPage]
	reader ports.ConversationReader
	ttl    time.Duration

	// user ids may contain "-", so keys are tracked per user instead of matched by prefix
	mu     sync.Mutex
	byUser map[string]map[string]struct{}
}

// NewListQueryCache creates a chat list cache
func NewListQueryCache(reader ports.ConversationReader, ttl time.Duration, opts ...Option) *ListQueryCache {
	return &ListQueryCache{
		cache:  NewKeyedCache[entities.ChatPage]("chat_lists", opts...),
		reader: reader,
		ttl:    ttl,
		byUser: make(map[string]map[string]struct{}),
	}
}

// ListChats returns one page, consolidating concurrent requests for the same page
func (c *ListQueryCache) ListChats(ctx context.Context, query ports.ListChatsQuery) (entities.ChatPage, error) {
	if err := utils.ValidateStruct(query); err != nil {
		return entities.ChatPage{}, errors.NewValidationError(err.Error())
	}
	key := query.CacheKey()
	c.track(query.UserID, key)
	page, err := c.cache.GetOrFetch(ctx, key, c.ttl, func(ctx context.Context, _ string) (entities.ChatPage, error) {
		return c.reader.ListChats(ctx, query)
	})
	if err != nil {
		return entities.ChatPage{}, err
	}
	page.Chats = append([]entities.Chat(nil), page.Chats...)
	return page, nil
}

func (c *ListQueryCache) track(userID, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.byUser[userID]
	if !ok {
		keys = make(map[string]struct{})
		c.byUser[userID] = keys
	}
	keys[key] = struct{}{}
}

// InvalidateUser drops every cached page of a user, e.g. after a chat is created or deleted
func (c *ListQueryCache) InvalidateUser(userID string) {
	c.mu.Lock()
	keys := c.byUser[userID]
	delete(c.byUser, userID)
	c.mu.Unlock()

	for key := range keys {
		c.cache.Delete(key)
	}
}

// Clear drops every cached page
func (c *ListQueryCache) Clear() {
	c.mu.Lock()
	c.byUser = make(map[string]map[string]struct{})
	c.mu.Unlock()
	c.cache.Clear()
}
