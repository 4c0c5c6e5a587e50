// Package conversation turns one inbound user message into a persisted
// exchange: the user message, the assistant reply, usage accounting and, on a
// chat's first exchange, an automatic title.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"lexchat/internal/apperr"
	"lexchat/internal/metrics"
	"lexchat/internal/models"
	"lexchat/internal/service/ai"
)

const (
	// contextWindow is how many recent messages are loaded, the new one included.
	contextWindow = 10
	// fileScanLimit bounds the lookup of an attached file by URL.
	fileScanLimit = 100
)

// Store is the part of the content store the orchestrator needs.
type Store interface {
	GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error)
	CreateMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error)
	ListFiles(ctx context.Context, userID string, limit, offset int) ([]models.File, error)
	UpdateMessageContent(ctx context.Context, chatID, messageID, content string, meta map[string]any) (*models.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID string) error
	RecordUsage(ctx context.Context, usage models.AIUsage) (*models.AIUsage, error)
	ClaimAutoTitle(ctx context.Context, chatID, title string) (bool, error)
}

// Gateway produces replies and titles.
type Gateway interface {
	GenerateReply(ctx context.Context, req ai.ReplyRequest) (*ai.Reply, error)
	StreamReply(ctx context.Context, req ai.ReplyRequest, onDelta func(string) error) (*ai.Reply, error)
	SuggestTitle(ctx context.Context, req ai.TitleRequest) ai.TitleSuggestion
	ModelName() string
}

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Service struct {
	store   Store
	gateway Gateway
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(store Store, gateway Gateway, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		gateway: gateway,
		logger:  logger.With("component", "conversation"),
		metrics: opts.Metrics,
	}
}

// SendRequest is one inbound user message. FileURL, when set, refers to a
// file previously uploaded by the same user.
type SendRequest struct {
	UserID   string
	ChatID   string
	Content  string
	FileName string
	FileURL  string
	Metadata map[string]any
}

// SendResult is the outcome of a buffered send. Title is empty unless the
// chat was titled by this exchange.
type SendResult struct {
	UserMessage *models.Message `json:"user_message"`
	AIMessage   *models.Message `json:"ai_message"`
	Title       string          `json:"chat_name,omitempty"`
}

// turn is the state shared by both send variants once the user message is durable.
type turn struct {
	req      SendRequest
	chat     *models.Chat
	userMsg  *models.Message
	history  []models.Message
	prompt   string
	fileText string
}

// prepare runs the steps every send shares: validate, locate the chat,
// persist the user message, load the context window and resolve file text.
func (s *Service) prepare(ctx context.Context, req SendRequest) (*turn, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: message content cannot be empty", apperr.ErrValidation)
	}
	chat, err := s.store.GetChat(ctx, req.UserID, req.ChatID)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.store.CreateMessage(ctx, models.Message{
		ChatID:   chat.ID,
		Role:     models.RoleUser,
		Content:  req.Content,
		FileName: req.FileName,
		FileURL:  req.FileURL,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.logger.Error("persist user message", "chat_id", chat.ID, "error", err)
		return nil, asInternal("persist user message", err)
	}

	recent, err := s.store.RecentMessages(ctx, chat.ID, contextWindow)
	if err != nil {
		s.logger.Error("load context window", "chat_id", chat.ID, "error", err)
		return nil, asInternal("load context window", err)
	}
	history := make([]models.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID == userMsg.ID {
			continue
		}
		history = append(history, m)
	}

	t := &turn{req: req, chat: chat, userMsg: userMsg, history: history, prompt: req.Content}
	if req.FileURL != "" {
		if file := s.attachedFile(ctx, req.UserID, req.FileURL); file != nil {
			t.fileText = file.Text()
			t.prompt = fmt.Sprintf("%s\n\nFile content from %s:\n%s", req.Content, file.OriginalName, t.fileText)
		}
	}
	return t, nil
}

// attachedFile finds the user's processed file stored at url. A failed
// lookup only loses the file context.
func (s *Service) attachedFile(ctx context.Context, userID, url string) *models.File {
	files, err := s.store.ListFiles(ctx, userID, fileScanLimit, 0)
	if err != nil {
		s.logger.Warn("file lookup failed", "user_id", userID, "error", err)
		s.metrics.BestEffortFailure("file_lookup")
		return nil
	}
	for i := range files {
		if files[i].FileURL == url && strings.TrimSpace(files[i].Text()) != "" {
			return &files[i]
		}
	}
	return nil
}

func replyMetadata(reply *ai.Reply) map[string]any {
	return map[string]any{
		models.MetaModel:          reply.Model,
		models.MetaTokensUsed:     reply.TotalTokens(),
		models.MetaPromptTokens:   reply.PromptTokens,
		models.MetaOutputTokens:   reply.CompletionTokens,
		models.MetaProcessingTime: reply.Duration.Seconds(),
	}
}

// recordUsage writes the chat usage row for an assistant message. Best-effort.
func (s *Service) recordUsage(ctx context.Context, t *turn, aiMsg *models.Message, reply *ai.Reply) {
	chatID, messageID := t.chat.ID, aiMsg.ID
	_, err := s.store.RecordUsage(ctx, models.AIUsage{
		UserID:           t.req.UserID,
		ChatID:           &chatID,
		MessageID:        &messageID,
		ServiceType:      models.ServiceChat,
		ModelName:        reply.Model,
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
		CostEstimate:     reply.CostEstimate,
	})
	if err != nil {
		s.logger.Warn("record usage failed", "chat_id", chatID, "message_id", messageID, "error", err)
		s.metrics.BestEffortFailure("usage")
	}
}

// autoTitle titles the chat on its first exchange. It returns the applied
// title, or "" when the chat was not eligible or another request won the claim.
func (s *Service) autoTitle(ctx context.Context, t *turn) string {
	if len(t.history) > 1 || t.chat.AutoTitled {
		return ""
	}
	req := ai.TitleRequest{Message: t.req.Content, FileExcerpt: t.fileText}
	if t.req.FileName != "" {
		req.FileNames = []string{t.req.FileName}
	}
	suggestion := s.gateway.SuggestTitle(ctx, req)

	won, err := s.store.ClaimAutoTitle(ctx, t.chat.ID, suggestion.Title)
	if err != nil {
		s.logger.Warn("apply title failed", "chat_id", t.chat.ID, "error", err)
		s.metrics.BestEffortFailure("title")
		return ""
	}
	if !won {
		return ""
	}
	t.chat.Title = suggestion.Title
	t.chat.AutoTitled = true

	if !suggestion.Fallback {
		chatID := t.chat.ID
		if _, err := s.store.RecordUsage(ctx, models.AIUsage{
			UserID:           t.req.UserID,
			ChatID:           &chatID,
			ServiceType:      models.ServiceTitle,
			ModelName:        suggestion.Model,
			PromptTokens:     suggestion.PromptTokens,
			CompletionTokens: suggestion.CompletionTokens,
			CostEstimate:     suggestion.CostEstimate,
		}); err != nil {
			s.logger.Warn("record title usage failed", "chat_id", chatID, "error", err)
			s.metrics.BestEffortFailure("usage")
		}
	}
	s.logger.Info("chat titled", "chat_id", t.chat.ID, "title", suggestion.Title, "fallback", suggestion.Fallback)
	return suggestion.Title
}

// asInternal keeps known kinds and wraps anything else as apperr.ErrInternal.
func asInternal(op string, err error) error {
	if errors.Is(err, apperr.ErrInternal) || apperr.Kind(err) != apperr.ErrInternal {
		return err
	}
	return fmt.Errorf("%w: %s: %w", apperr.ErrInternal, op, err)
}
