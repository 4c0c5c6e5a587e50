package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Metadata keys written on assistant messages.
const (
	MetaModel          = "model"
	MetaTokensUsed     = "tokens_used"
	MetaPromptTokens   = "prompt_tokens"
	MetaOutputTokens   = "completion_tokens"
	MetaProcessingTime = "processing_time"
	MetaPartial        = "partial"
)

// Message is one turn in a chat.
type Message struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chat_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	FileName  string         `json:"file_name,omitempty"`
	FileURL   string         `json:"file_url,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}
