package conversation

import (
	"context"

	"lexchat/internal/models"
	"lexchat/internal/service/ai"
)

// Send runs a buffered exchange. A failed reply leaves the user message in
// place and returns the generation error; usage and titling never fail the call.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	t, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	reply, err := s.gateway.GenerateReply(ctx, ai.ReplyRequest{
		UserID:  req.UserID,
		Message: t.prompt,
		History: t.history,
	})
	if err != nil {
		s.logger.Error("reply failed", "chat_id", t.chat.ID, "user_message_id", t.userMsg.ID, "error", err)
		return nil, err
	}

	aiMsg, err := s.store.CreateMessage(ctx, models.Message{
		ChatID:   t.chat.ID,
		Role:     models.RoleAssistant,
		Content:  reply.Content,
		Metadata: replyMetadata(reply),
	})
	if err != nil {
		s.logger.Error("persist assistant message", "chat_id", t.chat.ID, "error", err)
		return nil, asInternal("persist assistant message", err)
	}

	s.recordUsage(ctx, t, aiMsg, reply)
	title := s.autoTitle(ctx, t)

	return &SendResult{UserMessage: t.userMsg, AIMessage: aiMsg, Title: title}, nil
}
