package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

// scriptedCompleter returns the queued errors first, then succeeds
type scriptedCompleter struct {
	mu    sync.Mutex
	errs  []error
	calls int
	usage domain.Usage
	reply string
}

func (s *scriptedCompleter) Complete(_ context.Context, _ Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return Response{}, err
	}
	return Response{Content: s.reply, Usage: s.usage}, nil
}

func newTestClient(backend Completer, retries int) (*Client, *[]time.Duration) {
	waits := &[]time.Duration{}
	c := NewClient(backend, Options{Model: "test", MaxRetries: retries, RetryDelay: time.Second})
	c.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return c, waits
}

func TestSend_SuccessAccumulatesUsage(t *testing.T) {
	backend := &scriptedCompleter{reply: "hello", usage: domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	c, _ := newTestClient(backend, 3)

	text, usage, err := c.Send(context.Background(), []domain.Message{domain.UserMessage("hi")}, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 15, usage.TotalTokens)

	_, _, err = c.Send(context.Background(), []domain.Message{domain.UserMessage("again")}, 100, 0)
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalCalls)
	assert.Equal(t, 20, stats.TotalPromptTokens)
	assert.Equal(t, 10, stats.TotalCompletionTokens)
	assert.Equal(t, 30, stats.TotalTokens)
}

func TestSend_MissingUsageCountsAsZero(t *testing.T) {
	c, _ := newTestClient(&scriptedCompleter{reply: "ok"}, 1)

	_, usage, err := c.Send(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, usage.TotalTokens)
	assert.Equal(t, 1, c.Stats().TotalCalls)
}

func TestSend_BackoffByKind(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		waits []time.Duration
	}{
		{"rate limit exponential", &openai.APIError{HTTPStatusCode: 429}, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
		{"server linear", &openai.APIError{HTTPStatusCode: 502}, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}},
		{"timeout fixed", context.DeadlineExceeded, []time.Duration{time.Second, time.Second, time.Second}},
		{"other fixed", errors.New("boom"), []time.Duration{time.Second, time.Second, time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &scriptedCompleter{errs: []error{tt.err, tt.err, tt.err}, reply: "done"}
			c, waits := newTestClient(backend, 4)

			text, _, err := c.Send(context.Background(), nil, 10, 0)
			require.NoError(t, err)
			assert.Equal(t, "done", text)
			assert.Equal(t, tt.waits, *waits)
			assert.Equal(t, 4, backend.calls)
		})
	}
}

func TestSend_ExhaustedRetries(t *testing.T) {
	boom := &openai.APIError{HTTPStatusCode: 500, Message: "upstream down"}
	backend := &scriptedCompleter{errs: []error{boom, boom, boom}}
	c, waits := newTestClient(backend, 3)

	_, _, err := c.Send(context.Background(), nil, 10, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhaustedRetries)
	assert.Equal(t, 3, backend.calls)
	// no wait after the final attempt
	assert.Len(t, *waits, 2)
	assert.Zero(t, c.Stats().TotalCalls)
}

func TestSend_CanceledContext(t *testing.T) {
	backend := &scriptedCompleter{errs: []error{context.Canceled}}
	c, _ := newTestClient(backend, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := c.Send(ctx, nil, 10, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, backend.calls)
}

func TestSend_ConcurrentCounters(t *testing.T) {
	backend := &scriptedCompleter{reply: "x", usage: domain.Usage{TotalTokens: 3}}
	c, _ := newTestClient(backend, 1)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = c.Send(context.Background(), nil, 10, 0)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, c.Stats().TotalCalls)
	assert.Equal(t, 150, c.Stats().TotalTokens)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{&openai.APIError{HTTPStatusCode: 429}, KindRateLimit},
		{&openai.RequestError{HTTPStatusCode: 503}, KindServer},
		{&openai.APIError{HTTPStatusCode: 504}, KindTimeout},
		{&openai.APIError{HTTPStatusCode: 400}, KindOther},
		{&StatusError{Code: 429}, KindRateLimit},
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("plain"), KindOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestEstimateCost(t *testing.T) {
	cost := EstimateCost(domain.UsageStats{TotalTokens: 2_000_000}, 0.14)
	assert.InDelta(t, 0.28, cost, 1e-9)
}

func TestOpenAIBackend_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"patched"},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`))
	}))
	defer srv.Close()

	backend := NewOpenAIBackend(srv.URL, "sk-test", 5*time.Second)
	resp, err := backend.Complete(context.Background(), Request{
		Model:    "m",
		Messages: []domain.Message{domain.SystemMessage("sys"), domain.UserMessage("fix it")},
	})
	require.NoError(t, err)
	assert.Equal(t, "patched", resp.Content)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestOpenAIBackend_ServerErrorIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	backend := NewOpenAIBackend(srv.URL, "sk-test", 5*time.Second)
	_, err := backend.Complete(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, KindServer, Classify(err))
}

func TestMeter(t *testing.T) {
	backend := &scriptedCompleter{reply: "x", usage: domain.Usage{PromptTokens: 2, CompletionTokens: 1, TotalTokens: 3}}
	c, _ := newTestClient(backend, 1)

	a, b := NewMeter(c), NewMeter(c)
	_, _, _ = a.Send(context.Background(), nil, 10, 0)
	_, _, _ = a.Send(context.Background(), nil, 10, 0)
	_, _, _ = b.Send(context.Background(), nil, 10, 0)

	assert.Equal(t, 6, a.Usage().TotalTokens)
	assert.Equal(t, 2, a.Calls())
	assert.Equal(t, 3, b.Usage().TotalTokens)
	assert.Equal(t, 9, c.Stats().TotalTokens)
}
