package models

import "time"

const (
	ServiceChat  = "chat"
	ServiceTitle = "title"
)

// AIUsage is an append-only accounting row for one model call.
type AIUsage struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	ChatID           *string   `json:"chat_id"`
	MessageID        *string   `json:"message_id"`
	ServiceType      string    `json:"service_type"`
	ModelName        string    `json:"model_name"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostEstimate     float64   `json:"cost_estimate"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageSummary aggregates a user's usage rows.
type UsageSummary struct {
	Requests         int     `json:"requests"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostEstimate     float64 `json:"cost_estimate"`
}
