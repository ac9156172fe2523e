package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

var tracer = otel.Tracer("swe-orch.llm")

// ErrExhaustedRetries is returned once every attempt allowed by MaxRetries has failed
var ErrExhaustedRetries = errors.New("llm: retries exhausted")

// Sender is what strategies need from a chat client
type Sender interface {
	Send(ctx context.Context, msgs []domain.Message, maxTokens int, temperature float32, stop ...string) (string, domain.Usage, error)
}

// Options configures a Client
type Options struct {
	Model             string
	MaxRetries        int
	RetryDelay        time.Duration
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Logger            *slog.Logger
}

// Client wraps a Completer with retry/backoff and cumulative usage accounting.
// Safe for concurrent use.
type Client struct {
	backend Completer
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	stats domain.UsageStats
}

// NewClient creates a Client
func NewClient(backend Completer, opts Options) *Client {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		backend: backend,
		opts:    opts,
		log:     logger.With("component", "llm"),
		sleep:   sleepCtx,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c
}

// Model returns the configured model id
func (c *Client) Model() string {
	return c.opts.Model
}

// Send issues one chat completion, retrying per the failure class:
// rate limits back off exponentially, timeouts retry after the base delay,
// 5xx back off linearly and anything else retries after the base delay
// until the budget runs out.
func (c *Client) Send(ctx context.Context, msgs []domain.Message, maxTokens int, temperature float32, stop ...string) (string, domain.Usage, error) {
	ctx, span := tracer.Start(ctx, "llm.Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", c.opts.Model),
			attribute.Int("llm.messages", len(msgs)),
			attribute.Int("llm.max_tokens", maxTokens),
		),
	)
	defer span.End()

	req := Request{
		Model:       c.opts.Model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stop:        stop,
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				span.SetStatus(codes.Error, err.Error())
				return "", domain.Usage{}, err
			}
		}

		start := time.Now()
		resp, err := c.complete(ctx, req)
		requestDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			c.record(resp.Usage)
			requestsTotal.WithLabelValues("ok").Inc()
			span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens), attribute.Int("llm.attempts", attempt+1))
			span.SetStatus(codes.Ok, "")
			return resp.Content, resp.Usage, nil
		}

		lastErr = err
		kind := Classify(err)
		requestsTotal.WithLabelValues(kind.String()).Inc()

		if ctx.Err() != nil {
			span.SetStatus(codes.Error, ctx.Err().Error())
			return "", domain.Usage{}, ctx.Err()
		}
		if attempt == c.opts.MaxRetries-1 {
			break
		}

		wait := c.backoff(kind, attempt)
		c.log.Warn("chat call failed, retrying",
			"kind", kind.String(), "attempt", attempt+1, "max", c.opts.MaxRetries, "wait", wait, "error", err)
		if err := c.sleep(ctx, wait); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return "", domain.Usage{}, err
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "retries exhausted")
	return "", domain.Usage{}, fmt.Errorf("%w after %d attempts: %v", ErrExhaustedRetries, c.opts.MaxRetries, lastErr)
}

func (c *Client) complete(ctx context.Context, req Request) (Response, error) {
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}
	return c.backend.Complete(ctx, req)
}

func (c *Client) backoff(kind ErrorKind, attempt int) time.Duration {
	base := c.opts.RetryDelay
	switch kind {
	case KindRateLimit:
		return base * time.Duration(1<<attempt)
	case KindServer:
		return base * time.Duration(attempt+1)
	default:
		return base
	}
}

func (c *Client) record(u domain.Usage) {
	c.mu.Lock()
	c.stats.TotalCalls++
	c.stats.TotalPromptTokens += u.PromptTokens
	c.stats.TotalCompletionTokens += u.CompletionTokens
	c.stats.TotalTokens += u.TotalTokens
	c.mu.Unlock()

	tokensTotal.WithLabelValues("prompt").Add(float64(u.PromptTokens))
	tokensTotal.WithLabelValues("completion").Add(float64(u.CompletionTokens))
}

// Stats returns a snapshot of the cumulative usage counters
func (c *Client) Stats() domain.UsageStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// EstimateCost returns the spend in USD for a flat per-million-token price
func (c *Client) EstimateCost(pricePerMillion float64) float64 {
	return EstimateCost(c.Stats(), pricePerMillion)
}

// EstimateCost computes USD spend for usage at a flat per-million-token price
func EstimateCost(s domain.UsageStats, pricePerMillion float64) float64 {
	return float64(s.TotalTokens) / 1_000_000 * pricePerMillion
}

// Ping sends a tiny request to verify credentials and connectivity
func (c *Client) Ping(ctx context.Context) (string, error) {
	text, _, err := c.Send(ctx, []domain.Message{domain.UserMessage("Reply with the single word: pong")}, 5, 0)
	return text, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
