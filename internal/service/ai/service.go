// Package ai talks to the hosted chat model: replies, streamed replies and
// chat titles, with token accounting and cost estimates.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"lexchat/internal/apperr"
	"lexchat/internal/config"
	"lexchat/internal/metrics"
	"lexchat/internal/models"
)

const defaultTimeout = 120 * time.Second

// Options tunes a Service.
type Options struct {
	ChatModelName  string
	TitleModelName string
	Timeout        time.Duration
	// RequestsPerSec bounds calls across the whole process; zero disables the limit.
	RequestsPerSec float64
	Pricing        map[string]config.ModelPrice
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// ReplyRequest is one user turn with its prior conversation, oldest first.
type ReplyRequest struct {
	UserID  string
	Message string
	History []models.Message
}

// Reply is a generated assistant answer with its accounting.
type Reply struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostEstimate     float64
	Duration         time.Duration
}

// TotalTokens is prompt plus completion tokens.
func (r *Reply) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// TitleRequest carries what a new chat is about.
type TitleRequest struct {
	Message     string
	FileExcerpt string
	FileNames   []string
}

// TitleSuggestion is a chat title. Fallback is set when no model produced it,
// in which case no tokens were spent.
type TitleSuggestion struct {
	Title            string
	Reasoning        string
	Fallback         bool
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostEstimate     float64
}

// Service is the AI gateway.
type Service struct {
	chat      model.BaseChatModel
	titler    model.BaseChatModel
	chatName  string
	titleName string
	timeout   time.Duration
	limiter   *rate.Limiter
	pricing   map[string]config.ModelPrice
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New wraps already constructed models. titler defaults to chat.
func New(chat, titler model.BaseChatModel, opts Options) *Service {
	if titler == nil {
		titler = chat
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
		burst = int(opts.RequestsPerSec)
		if burst < 1 {
			burst = 1
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	titleName := opts.TitleModelName
	if titleName == "" {
		titleName = opts.ChatModelName
	}
	return &Service{
		chat:      chat,
		titler:    titler,
		chatName:  opts.ChatModelName,
		titleName: titleName,
		timeout:   timeout,
		limiter:   rate.NewLimiter(limit, burst),
		pricing:   opts.Pricing,
		logger:    logger.With("component", "ai"),
		metrics:   opts.Metrics,
	}
}

// ModelName reports the chat model used for replies.
func (s *Service) ModelName() string {
	return s.chatName
}

func replyOptions() []model.Option {
	return []model.Option{
		model.WithTemperature(0.7),
		model.WithTopP(0.9),
		model.WithMaxTokens(4000),
	}
}

func titleOptions() []model.Option {
	return []model.Option{
		model.WithTemperature(0.3),
		model.WithTopP(0.8),
		model.WithMaxTokens(100),
	}
}

// GenerateReply produces a full answer for req. Every failure wraps apperr.ErrGeneration.
func (s *Service) GenerateReply(ctx context.Context, req ReplyRequest) (*Reply, error) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.generate(callCtx, s.chat, replyMessages(req.History, req.Message), replyOptions())
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = errors.New("empty response from model")
	}
	s.metrics.ObserveAI("reply", err, time.Since(start))
	if err != nil {
		s.logger.Error("generate reply", "user_id", req.UserID, "error", err)
		return nil, fmt.Errorf("%w: %w", apperr.ErrGeneration, err)
	}

	reply := s.newReply(s.chatName, resp.Content, usageOf(resp), start)
	s.logger.Info("reply generated", "user_id", req.UserID, "model", reply.Model,
		"tokens", reply.TotalTokens(), "duration", reply.Duration)
	return reply, nil
}

// StreamReply streams the answer through onDelta, one non-empty chunk at a time.
// The returned Reply always holds what was delivered, even alongside an error.
// An onDelta failure is returned unwrapped; model failures wrap apperr.ErrGeneration.
func (s *Service) StreamReply(ctx context.Context, req ReplyRequest, onDelta func(string) error) (*Reply, error) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		content strings.Builder
		usage   *schema.TokenUsage
	)
	finish := func(err error) (*Reply, error) {
		s.metrics.ObserveAI("stream", err, time.Since(start))
		return s.newReply(s.chatName, content.String(), usage, start), err
	}

	if err := s.limiter.Wait(callCtx); err != nil {
		return finish(fmt.Errorf("%w: rate limit: %w", apperr.ErrGeneration, err))
	}
	stream, err := s.chat.Stream(callCtx, replyMessages(req.History, req.Message), replyOptions()...)
	if err != nil {
		return finish(fmt.Errorf("%w: open stream: %w", apperr.ErrGeneration, err))
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return finish(fmt.Errorf("%w: receive: %w", apperr.ErrGeneration, err))
		}
		if chunk == nil {
			continue
		}
		if chunk.ResponseMeta != nil && chunk.ResponseMeta.Usage != nil {
			usage = chunk.ResponseMeta.Usage
		}
		if chunk.Content == "" {
			continue
		}
		if err := onDelta(chunk.Content); err != nil {
			return finish(err)
		}
		content.WriteString(chunk.Content)
	}
	if strings.TrimSpace(content.String()) == "" {
		return finish(fmt.Errorf("%w: empty response from model", apperr.ErrGeneration))
	}
	return finish(nil)
}

// SuggestTitle asks the title model for a chat title. It never fails: any
// error or empty answer yields FallbackTitle.
func (s *Service) SuggestTitle(ctx context.Context, req TitleRequest) TitleSuggestion {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.generate(callCtx, s.titler, titleMessages(req), titleOptions())
	var title string
	if err == nil {
		title = cleanTitle(resp.Content)
		if title == "" {
			err = errors.New("empty title from model")
		}
	}
	s.metrics.ObserveAI("title", err, time.Since(start))
	if err != nil {
		s.logger.Warn("title generation failed, using fallback", "error", err)
		return TitleSuggestion{
			Title:     FallbackTitle(req.Message, req.FileNames),
			Reasoning: fallbackReasoning,
			Fallback:  true,
		}
	}

	reply := s.newReply(s.titleName, title, usageOf(resp), start)
	return TitleSuggestion{
		Title:            title,
		Reasoning:        fmt.Sprintf("Generated based on: %s...", truncateRunes(req.Message, 100)),
		Model:            reply.Model,
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
		CostEstimate:     reply.CostEstimate,
	}
}

func (s *Service) generate(ctx context.Context, m model.BaseChatModel, msgs []*schema.Message, opts []model.Option) (*schema.Message, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	resp, err := m.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("nil response from model")
	}
	return resp, nil
}

func usageOf(msg *schema.Message) *schema.TokenUsage {
	if msg == nil || msg.ResponseMeta == nil {
		return nil
	}
	return msg.ResponseMeta.Usage
}

func (s *Service) newReply(modelName, content string, usage *schema.TokenUsage, start time.Time) *Reply {
	reply := &Reply{Content: content, Model: modelName, Duration: time.Since(start)}
	if usage != nil {
		reply.PromptTokens = usage.PromptTokens
		reply.CompletionTokens = usage.CompletionTokens
	}
	reply.CostEstimate = s.estimateCost(modelName, reply.PromptTokens, reply.CompletionTokens)
	s.metrics.AddTokens(modelName, reply.PromptTokens, reply.CompletionTokens)
	return reply
}

// estimateCost prices tokens from the per-1K table; unknown models cost 0.
func (s *Service) estimateCost(modelName string, prompt, completion int) float64 {
	price, ok := s.pricing[modelName]
	if !ok {
		return 0
	}
	return float64(prompt)/1000*price.PromptPer1K + float64(completion)/1000*price.CompletionPer1K
}
