package content

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"lexchat/internal/models"
)

const chatColumns = `id, user_id, title, auto_titled, created_at, updated_at`

func scanChat(row rowScanner) (*models.Chat, error) {
	var c models.Chat
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.AutoTitled, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func validTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", invalid("title cannot be empty")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", invalid("title must be at most %d characters", maxTitleLength)
	}
	return title, nil
}

// CreateChat inserts a chat for userID. A blank title becomes the default.
func (s *Service) CreateChat(ctx context.Context, userID, title string) (*models.Chat, error) {
	if userID == "" {
		return nil, invalid("user_id is required")
	}
	if strings.TrimSpace(title) == "" {
		title = models.DefaultChatTitle
	}
	title, err := validTitle(title)
	if err != nil {
		return nil, err
	}
	ts := now()
	chat := &models.Chat{ID: uuid.NewString(), UserID: userID, Title: title, CreatedAt: ts, UpdatedAt: ts}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats (`+chatColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		chat.ID, chat.UserID, chat.Title, chat.AutoTitled, chat.CreatedAt, chat.UpdatedAt,
	)
	if err != nil {
		return nil, internal("create chat", err)
	}
	return chat, nil
}

// GetChat returns the chat if it exists and belongs to userID.
func (s *Service) GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error) {
	chat, err := scanChat(s.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE id = ? AND user_id = ?`, chatID, userID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("chat")
		}
		return nil, internal("get chat", err)
	}
	return chat, nil
}

// ListChats returns a user's chats ordered by last activity.
func (s *Service) ListChats(ctx context.Context, userID string, limit, offset int) ([]models.Chat, error) {
	limit, offset = pageBounds(limit, offset, 50)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE user_id = ? ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, internal("list chats", err)
	}
	defer rows.Close()

	chats := make([]models.Chat, 0)
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, internal("scan chat", err)
		}
		chats = append(chats, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, internal("list chats", err)
	}
	return chats, nil
}

// RenameChat sets a user-chosen title. The chat is no longer eligible for auto-titling.
func (s *Service) RenameChat(ctx context.Context, userID, chatID, title string) (*models.Chat, error) {
	title, err := validTitle(title)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, auto_titled = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		title, true, now(), chatID, userID,
	)
	if err != nil {
		return nil, internal("rename chat", err)
	}
	if err := expectAffected(res, "chat"); err != nil {
		return nil, err
	}
	return s.GetChat(ctx, userID, chatID)
}

// ClaimAutoTitle applies title only if the chat has never been titled
// automatically or renamed. It reports whether this call won the claim.
func (s *Service) ClaimAutoTitle(ctx context.Context, chatID, title string) (bool, error) {
	title, err := validTitle(title)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, auto_titled = ? WHERE id = ? AND auto_titled = ?`,
		title, true, chatID, false,
	)
	if err != nil {
		return false, internal("claim auto title", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, internal("rows affected", err)
	}
	return affected == 1, nil
}

// DeleteChat removes a chat and its messages for the owner.
func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return internal("begin tx", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM messages WHERE chat_id IN (SELECT id FROM chats WHERE id = ? AND user_id = ?)`,
		chatID, userID,
	); err != nil {
		return internal("delete messages", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		return internal("delete chat", err)
	}
	if err = expectAffected(res, "chat"); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return internal("commit delete chat", err)
	}
	return nil
}

func (s *Service) touchChat(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, now(), chatID); err != nil {
		return internal("touch chat", err)
	}
	return nil
}
