package models

import "time"

// DefaultChatTitle is assigned to chats created without a title.
const DefaultChatTitle = "New Chat"

// Chat groups an ordered sequence of messages.
type Chat struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	AutoTitled bool      `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
