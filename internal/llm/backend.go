package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

// Request is one chat completion call
type Request struct {
	Model       string
	Messages    []domain.Message
	MaxTokens   int
	Temperature float32
	Stop        []string
}

// Response is the generated text plus token usage (zeros when the backend omits it)
type Response struct {
	Content string
	Usage   domain.Usage
}

// Completer performs a single chat completion without retries
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ErrEmptyChoices is returned when the backend answers without any choice
var ErrEmptyChoices = errors.New("backend returned no choices")

// OpenAIBackend talks to any OpenAI-compatible chat endpoint (OpenRouter, vLLM, ...)
type OpenAIBackend struct {
	client *openai.Client
}

// NewOpenAIBackend creates a backend for the given base URL
func NewOpenAIBackend(baseURL, apiKey string, timeout time.Duration) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg)}
}

// Complete implements Completer
func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (Response, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	temperature := req.Temperature
	if temperature == 0 {
		// temperature is omitempty in the client; a literal 0 would fall back to the server default
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
		Stop:        req.Stop,
	})
	if err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, ErrEmptyChoices
	}

	return Response{
		Content: resp.Choices[0].Message.Content,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// ErrorKind buckets backend failures for the retry policy
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindRateLimit
	KindTimeout
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	default:
		return "other"
	}
}

// Classify maps an error from a Completer onto an ErrorKind
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var stErr *StatusError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	case errors.As(err, &stErr):
		status = stErr.Code
	}

	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindServer
	}
	return KindOther
}

// StatusError is a minimal error carrying an HTTP status, for Completers that are not go-openai based
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}
