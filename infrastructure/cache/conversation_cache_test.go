package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"canvassync/application/ports"
	"canvassync/domain/core/entities"
	pkgerrors "canvassync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConversations struct {
	messageCalls atomic.Int32
	listCalls    atomic.Int32
	messages     map[string][]entities.Message
}

func (f *fakeConversations) GetMessages(ctx context.Context, chatID string) ([]entities.Message, error) {
	f.messageCalls.Add(1)
	time.Sleep(5 * time.Millisecond)
	return f.messages[chatID], nil
}

func (f *fakeConversations) ListChats(ctx context.Context, query ports.ListChatsQuery) (entities.ChatPage, error) {
	f.listCalls.Add(1)
	chats := make([]entities.Chat, query.Limit)
	for i := range chats {
		chats[i] = entities.Chat{ID: query.CacheKey(), UserID: query.UserID}
	}
	return entities.ChatPage{Chats: chats, HasMore: true}, nil
}

func TestConversationCache_Messages(t *testing.T) {
	reader := &fakeConversations{messages: map[string][]entities.Message{
		"c1": {{ID: "m1", ChatID: "c1", Role: entities.RoleUser, Content: "hi"}},
	}}
	c := NewConversationCache(reader, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msgs, err := c.Messages(context.Background(), "c1")
			assert.NoError(t, err)
			assert.Len(t, msgs, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), reader.messageCalls.Load())

	require.True(t, c.Append("c1", entities.Message{ID: "m2", ChatID: "c1", Role: entities.RoleAssistant}))
	msgs, ok := c.Get("c1")
	require.True(t, ok)
	assert.Len(t, msgs, 2)

	msgs[0].Content = "mutated"
	again, _ := c.Get("c1")
	assert.Equal(t, "hi", again[0].Content, "callers get copies")

	assert.False(t, c.Append("unknown", entities.Message{ID: "x"}))

	c.Invalidate("c1")
	assert.False(t, c.Has("c1"))

	_, err := c.Messages(context.Background(), "")
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestConversationCache_Prefetch(t *testing.T) {
	reader := &fakeConversations{messages: map[string][]entities.Message{"c1": {{ID: "m1"}}}}
	c := NewConversationCache(reader, 0)

	<-c.Prefetch(context.Background(), "c1")
	<-c.Prefetch(context.Background(), "c1")

	assert.True(t, c.Has("c1"))
	assert.Equal(t, int32(1), reader.messageCalls.Load())
}

func TestListQueryCache_ListChats(t *testing.T) {
	clock := newFakeClock()
	reader := &fakeConversations{}
	c := NewListQueryCache(reader, 10*time.Second, WithClock(clock.Now))
	ctx := context.Background()
	query := ports.ListChatsQuery{UserID: "alice", Limit: 3}

	page, err := c.ListChats(ctx, query)
	require.NoError(t, err)
	assert.Len(t, page.Chats, 3)
	assert.Equal(t, "alice-3", page.Chats[0].ID)

	_, err = c.ListChats(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, int32(1), reader.listCalls.Load())

	clock.Advance(11 * time.Second)
	_, err = c.ListChats(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, int32(2), reader.listCalls.Load())

	c.InvalidateUser("alice")
	_, err = c.ListChats(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, int32(3), reader.listCalls.Load())
}

func TestListQueryCache_InvalidateUserKeepsOtherUsers(t *testing.T) {
	reader := &fakeConversations{}
	c := NewListQueryCache(reader, time.Minute)
	ctx := context.Background()
	alice := ports.ListChatsQuery{UserID: "alice", Limit: 2}
	alice2 := ports.ListChatsQuery{UserID: "alice-2", Limit: 2}

	_, err := c.ListChats(ctx, alice)
	require.NoError(t, err)
	_, err = c.ListChats(ctx, alice2)
	require.NoError(t, err)
	require.Equal(t, int32(2), reader.listCalls.Load())

	c.InvalidateUser("alice")

	page, err := c.ListChats(ctx, alice2)
	require.NoError(t, err)
	assert.Equal(t, "alice-2", page.Chats[0].UserID)
	assert.Equal(t, int32(2), reader.listCalls.Load(), "alice-2 pages stay cached")

	_, err = c.ListChats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int32(3), reader.listCalls.Load())

	c.Clear()
	_, err = c.ListChats(ctx, alice2)
	require.NoError(t, err)
	assert.Equal(t, int32(4), reader.listCalls.Load())
}

func TestListQueryCache_RejectsInvalidQuery(t *testing.T) {
	c := NewListQueryCache(&fakeConversations{}, time.Second)

	tests := []struct {
		name  string
		query ports.ListChatsQuery
	}{
		{"missing user", ports.ListChatsQuery{Limit: 10}},
		{"zero limit", ports.ListChatsQuery{UserID: "u"}},
		{"limit too large", ports.ListChatsQuery{UserID: "u", Limit: 500}},
		{"both cursors", ports.ListChatsQuery{UserID: "u", Limit: 5, StartingAfter: "a", EndingBefore: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ListChats(context.Background(), tt.query)
			assert.True(t, pkgerrors.IsValidation(err))
		})
	}
}
