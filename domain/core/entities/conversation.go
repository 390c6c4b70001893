package entities

import "time"

// MessageRole identifies the author of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a single chat transcript entry
type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chatId"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Chat is a conversation header as listed in the sidebar
type Chat struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Title      string    `json:"title"`
	Visibility string    `json:"visibility,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ChatPage is one page of the chat list
type ChatPage struct {
	Chats   []Chat `json:"chats"`
	HasMore bool   `json:"hasMore"`
}
