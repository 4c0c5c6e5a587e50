package conversation

import (
	"context"
	"time"

	"lexchat/internal/models"
	"lexchat/internal/service/ai"
)

// partialSaveTimeout bounds the write of a cut-off reply after the caller is gone.
const partialSaveTimeout = 10 * time.Second

// Stream runs an exchange and reports it through emit as it happens.
//
// Failures before the user message is stored and its context loaded are
// returned without emitting anything. After that the sequence is
// user_message, ai_message_start, content_delta..., ai_message_complete,
// an optional chat_name and stream_complete, or an error event that ends it.
// When the consumer goes away or ctx ends, the deltas already delivered are
// saved as a partial reply.
func (s *Service) Stream(ctx context.Context, req SendRequest, emit Emitter) error {
	t, err := s.prepare(ctx, req)
	if err != nil {
		return err
	}
	defer s.metrics.StreamStarted()()

	if err := emit(Event{Type: EventUserMessage, Message: t.userMsg}); err != nil {
		s.metrics.StreamDisconnected()
		return err
	}

	placeholder, err := s.store.CreateMessage(ctx, models.Message{
		ChatID: t.chat.ID,
		Role:   models.RoleAssistant,
	})
	if err != nil {
		s.logger.Error("persist placeholder", "chat_id", t.chat.ID, "error", err)
		err = asInternal("persist assistant message", err)
		s.emitError(emit, err)
		return err
	}
	if err := emit(Event{Type: EventAIMessageStart, MessageID: placeholder.ID}); err != nil {
		s.metrics.StreamDisconnected()
		s.savePartial(ctx, placeholder, "")
		return err
	}

	var emitErr error
	reply, err := s.gateway.StreamReply(ctx, ai.ReplyRequest{
		UserID:  req.UserID,
		Message: t.prompt,
		History: t.history,
	}, func(delta string) error {
		if err := emit(Event{Type: EventContentDelta, Content: delta}); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	switch {
	case emitErr != nil:
		s.metrics.StreamDisconnected()
		s.savePartial(ctx, placeholder, reply.Content)
		return emitErr
	case ctx.Err() != nil:
		s.metrics.StreamDisconnected()
		s.savePartial(ctx, placeholder, reply.Content)
		return ctx.Err()
	case err != nil:
		s.logger.Error("stream reply failed", "chat_id", t.chat.ID, "message_id", placeholder.ID, "error", err)
		s.savePartial(ctx, placeholder, reply.Content)
		s.emitError(emit, err)
		return err
	}

	aiMsg, err := s.store.UpdateMessageContent(ctx, t.chat.ID, placeholder.ID, reply.Content, replyMetadata(reply))
	if err != nil {
		s.logger.Error("persist streamed reply", "chat_id", t.chat.ID, "message_id", placeholder.ID, "error", err)
		err = asInternal("persist assistant message", err)
		s.emitError(emit, err)
		return err
	}
	// the reply is stored, so usage is owed even if the client is gone
	completeErr := emit(Event{Type: EventAIMessageComplete, Message: aiMsg})
	s.recordUsage(context.WithoutCancel(ctx), t, aiMsg, reply)
	if completeErr != nil {
		s.metrics.StreamDisconnected()
		return completeErr
	}
	if title := s.autoTitle(ctx, t); title != "" {
		if err := emit(Event{Type: EventChatName, ChatName: title}); err != nil {
			s.metrics.StreamDisconnected()
			return err
		}
	}
	if err := emit(Event{Type: EventStreamComplete}); err != nil {
		s.metrics.StreamDisconnected()
		return err
	}
	return nil
}

// savePartial stores content as a cut-off reply, or drops the placeholder
// when nothing was delivered. It runs detached from ctx since ctx is usually
// the reason the stream ended.
func (s *Service) savePartial(ctx context.Context, placeholder *models.Message, content string) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), partialSaveTimeout)
	defer cancel()

	if content == "" {
		if err := s.store.DeleteMessage(saveCtx, placeholder.ChatID, placeholder.ID); err != nil {
			s.logger.Warn("drop empty placeholder failed", "message_id", placeholder.ID, "error", err)
			s.metrics.BestEffortFailure("partial_save")
		}
		return
	}
	meta := map[string]any{
		models.MetaModel:   s.gateway.ModelName(),
		models.MetaPartial: true,
	}
	if _, err := s.store.UpdateMessageContent(saveCtx, placeholder.ChatID, placeholder.ID, content, meta); err != nil {
		s.logger.Warn("save partial reply failed", "message_id", placeholder.ID, "error", err)
		s.metrics.BestEffortFailure("partial_save")
		return
	}
	s.logger.Info("partial reply saved", "message_id", placeholder.ID, "bytes", len(content))
}

func (s *Service) emitError(emit Emitter, err error) {
	if emitErr := emit(Event{Type: EventError, Error: publicError(err)}); emitErr != nil {
		s.logger.Debug("error event not delivered", "error", emitErr)
	}
}
