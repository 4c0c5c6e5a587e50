package content

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"lexchat/internal/models"
)

const messageColumns = `id, chat_id, role, content, file_name, file_url, metadata, created_at`

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m        models.Message
		fileName sql.NullString
		fileURL  sql.NullString
		meta     string
	)
	if err := row.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &fileName, &fileURL, &meta, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.FileName = fileName.String
	m.FileURL = fileURL.String
	m.Metadata = map[string]any{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func encodeMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// CreateMessage appends msg to its chat and touches the chat's updated_at.
// The ID is a UUIDv7 so ID order follows insertion order.
func (s *Service) CreateMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if msg.ChatID == "" {
		return nil, invalid("chat_id is required")
	}
	switch msg.Role {
	case models.RoleUser, models.RoleAssistant, models.RoleSystem:
	default:
		return nil, invalid("unknown role %q", msg.Role)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, internal("message id", err)
	}
	meta, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return nil, invalid("metadata: %v", err)
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	msg.ID = id.String()
	msg.CreatedAt = now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.Role, msg.Content, nullString(msg.FileName), nullString(msg.FileURL), meta, msg.CreatedAt,
	)
	if err != nil {
		return nil, internal("insert message", err)
	}
	if err := s.touchChat(ctx, msg.ChatID); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessage loads one message of a chat.
func (s *Service) GetMessage(ctx context.Context, chatID, messageID string) (*models.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ? AND chat_id = ?`, messageID, chatID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("message")
		}
		return nil, internal("get message", err)
	}
	return msg, nil
}

// ListMessages returns a page of a chat's messages, oldest first.
func (s *Service) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]models.Message, error) {
	limit, offset = pageBounds(limit, offset, 100)
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		chatID, limit, offset,
	)
}

// RecentMessages returns the last limit messages of a chat, oldest first.
func (s *Service) RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}
	msgs, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Service) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internal("list messages", err)
	}
	defer rows.Close()

	msgs := make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, internal("scan message", err)
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, internal("list messages", err)
	}
	return msgs, nil
}

// UpdateMessageContent replaces a message's content and merges meta into its metadata.
func (s *Service) UpdateMessageContent(ctx context.Context, chatID, messageID, content string, meta map[string]any) (*models.Message, error) {
	msg, err := s.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	for k, v := range meta {
		msg.Metadata[k] = v
	}
	encoded, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return nil, invalid("metadata: %v", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, metadata = ? WHERE id = ? AND chat_id = ?`,
		content, encoded, messageID, chatID,
	)
	if err != nil {
		return nil, internal("update message", err)
	}
	if err := expectAffected(res, "message"); err != nil {
		return nil, err
	}
	if err := s.touchChat(ctx, chatID); err != nil {
		return nil, err
	}
	msg.Content = content
	return msg, nil
}

// DeleteMessage removes a single message.
func (s *Service) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ? AND chat_id = ?`, messageID, chatID)
	if err != nil {
		return internal("delete message", err)
	}
	return expectAffected(res, "message")
}

