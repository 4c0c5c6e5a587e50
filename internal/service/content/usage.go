package content

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"lexchat/internal/models"
)

const usageColumns = `id, user_id, chat_id, message_id, service_type, model_name, prompt_tokens, completion_tokens, total_tokens, cost_estimate, created_at`

// RecordUsage appends an accounting row. TotalTokens is derived when unset.
func (s *Service) RecordUsage(ctx context.Context, usage models.AIUsage) (*models.AIUsage, error) {
	if usage.UserID == "" {
		return nil, invalid("user_id is required")
	}
	switch usage.ServiceType {
	case models.ServiceChat, models.ServiceTitle:
	default:
		return nil, invalid("unknown service type %q", usage.ServiceType)
	}
	if usage.PromptTokens < 0 || usage.CompletionTokens < 0 {
		return nil, invalid("token counts cannot be negative")
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	usage.ID = uuid.NewString()
	usage.CreatedAt = now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_usage (`+usageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		usage.ID, usage.UserID, nullPtr(usage.ChatID), nullPtr(usage.MessageID), usage.ServiceType, usage.ModelName,
		usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, usage.CostEstimate, usage.CreatedAt,
	)
	if err != nil {
		return nil, internal("record usage", err)
	}
	return &usage, nil
}

// ListUsage returns a user's usage rows, newest first.
func (s *Service) ListUsage(ctx context.Context, userID string, limit, offset int) ([]models.AIUsage, error) {
	limit, offset = pageBounds(limit, offset, 100)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+usageColumns+` FROM ai_usage WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, internal("list usage", err)
	}
	defer rows.Close()

	out := make([]models.AIUsage, 0)
	for rows.Next() {
		var (
			u         models.AIUsage
			chatID    sql.NullString
			messageID sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.UserID, &chatID, &messageID, &u.ServiceType, &u.ModelName,
			&u.PromptTokens, &u.CompletionTokens, &u.TotalTokens, &u.CostEstimate, &u.CreatedAt); err != nil {
			return nil, internal("scan usage", err)
		}
		if chatID.Valid {
			u.ChatID = &chatID.String
		}
		if messageID.Valid {
			u.MessageID = &messageID.String
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, internal("list usage", err)
	}
	return out, nil
}

// UsageSummary aggregates every usage row of a user.
func (s *Service) UsageSummary(ctx context.Context, userID string) (models.UsageSummary, error) {
	var (
		summary    models.UsageSummary
		prompt     sql.NullInt64
		completion sql.NullInt64
		total      sql.NullInt64
		cost       sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens), SUM(cost_estimate)
		 FROM ai_usage WHERE user_id = ?`, userID,
	).Scan(&summary.Requests, &prompt, &completion, &total, &cost)
	if err != nil {
		return summary, internal("usage summary", err)
	}
	summary.PromptTokens = int(prompt.Int64)
	summary.CompletionTokens = int(completion.Int64)
	summary.TotalTokens = int(total.Int64)
	summary.CostEstimate = cost.Float64
	return summary, nil
}
