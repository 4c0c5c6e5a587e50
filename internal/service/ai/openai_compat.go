package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	goopenai "github.com/sashabaranov/go-openai"
)

// compatModel adapts any OpenAI-compatible endpoint (vLLM, Ollama, LocalAI)
// to eino's BaseChatModel.
type compatModel struct {
	client *goopenai.Client
	model  string
}

func newCompatModel(baseURL, apiKey, modelName string, timeout time.Duration) (*compatModel, error) {
	if baseURL == "" {
		return nil, errors.New("openai_compatible provider requires base_url")
	}
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &compatModel{client: goopenai.NewClientWithConfig(cfg), model: modelName}, nil
}

func (m *compatModel) request(input []*schema.Message, opts []model.Option) goopenai.ChatCompletionRequest {
	options := model.GetCommonOptions(&model.Options{Model: &m.model}, opts...)
	req := goopenai.ChatCompletionRequest{Model: m.model}
	if options.Model != nil && *options.Model != "" {
		req.Model = *options.Model
	}
	if options.Temperature != nil {
		req.Temperature = *options.Temperature
	}
	if options.TopP != nil {
		req.TopP = *options.TopP
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	req.Stop = options.Stop
	req.Messages = make([]goopenai.ChatCompletionMessage, 0, len(input))
	for _, msg := range input {
		req.Messages = append(req.Messages, goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return req
}

func (m *compatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	resp, err := m.client.CreateChatCompletion(ctx, m.request(input, opts))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	choice := resp.Choices[0]
	return &schema.Message{
		Role:    schema.Assistant,
		Content: choice.Message.Content,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: string(choice.FinishReason),
			Usage: &schema.TokenUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		},
	}, nil
}

func (m *compatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	req := m.request(input, opts)
	req.Stream = true
	req.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}
	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}

	sr, sw := schema.Pipe[*schema.Message](8)
	go func() {
		defer stream.Close()
		defer sw.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				sw.Send(nil, err)
				return
			}
			chunk := &schema.Message{Role: schema.Assistant}
			if len(resp.Choices) > 0 {
				chunk.Content = resp.Choices[0].Delta.Content
			}
			if resp.Usage != nil {
				chunk.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}}
			}
			if closed := sw.Send(chunk, nil); closed {
				return
			}
		}
	}()
	return sr, nil
}
