package llm

import (
	"context"
	"sync"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

// Meter counts the tokens spent through one Sender, so a single attempt's
// usage can be reported while the shared Client keeps global totals.
type Meter struct {
	next Sender

	mu    sync.Mutex
	usage domain.Usage
	calls int
}

// NewMeter wraps next
func NewMeter(next Sender) *Meter {
	return &Meter{next: next}
}

// Send implements Sender
func (m *Meter) Send(ctx context.Context, msgs []domain.Message, maxTokens int, temperature float32, stop ...string) (string, domain.Usage, error) {
	text, u, err := m.next.Send(ctx, msgs, maxTokens, temperature, stop...)
	if err == nil {
		m.mu.Lock()
		m.calls++
		m.usage.PromptTokens += u.PromptTokens
		m.usage.CompletionTokens += u.CompletionTokens
		m.usage.TotalTokens += u.TotalTokens
		m.mu.Unlock()
	}
	return text, u, err
}

// Usage returns the tokens counted so far
func (m *Meter) Usage() domain.Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// Calls returns the number of successful calls
func (m *Meter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
