package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"ShopScout/server/internal/config"
	"ShopScout/server/internal/interfaces"
)

const retryDelay = 1 * time.Second

// OpenAIProvider implements interfaces.Provider against any OpenAI-compatible
// chat completion endpoint. Transient failures (rate limits, 5xx, timeouts)
// are retried with bounded backoff before surfacing.
type OpenAIProvider struct {
	client *openai.Client
	cfg    config.ProviderConfig
	log    *zap.Logger
}

func NewOpenAIProvider(cfg config.ProviderConfig, log *zap.Logger) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		log:    log,
	}
}

// Generate sends a blocking completion request.
func (p *OpenAIProvider) Generate(ctx context.Context, req interfaces.GenerateRequest) (string, error) {
	chatReq := p.buildRequest(req, false)

	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("no choices returned from model")
			}
			return resp.Choices[0].Message.Content, nil
		}

		lastErr = err
		if !isTransient(err) {
			break
		}
		p.log.Warn("provider call failed, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return "", fmt.Errorf("provider call failed after retries: %w", lastErr)
}

// GenerateStream streams a completion, forwarding each partial to onChunk and
// returning the accumulated text. Only stream creation is retried; a failure
// mid-stream surfaces immediately because partials were already delivered.
func (p *OpenAIProvider) GenerateStream(ctx context.Context, req interfaces.GenerateRequest, onChunk interfaces.ChunkFunc) (string, error) {
	chatReq := p.buildRequest(req, true)

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		s, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err == nil {
			stream = s
			break
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
		p.log.Warn("provider stream open failed, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	if stream == nil {
		return "", fmt.Errorf("provider stream failed after retries: %w", lastErr)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("provider stream interrupted: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		if onChunk != nil {
			if err := onChunk(delta); err != nil {
				return "", err
			}
		}
	}
	return b.String(), nil
}

func (p *OpenAIProvider) buildRequest(req interfaces.GenerateRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	if len(req.ImageURLs) > 0 && p.cfg.VisionModel != "" {
		model = p.cfg.VisionModel
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	if len(req.ImageURLs) > 0 {
		parts := []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
		}
		for _, url := range req.ImageURLs {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url},
			})
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		})
	} else {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		})
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
}

// isTransient reports whether the error is worth a retry.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "rate limit")
}
